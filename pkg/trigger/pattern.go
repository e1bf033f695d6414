// Package trigger decides whether an incoming chat message satisfies a
// registered pattern and scope.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

type patternKind int

const (
	kindEmpty patternKind = iota
	kindLiteral
	kindRegex
)

// Pattern is one textual trigger. It is either Empty (any non-empty text),
// a Literal set of alternatives, or a compiled Regex.
type Pattern struct {
	kind     patternKind
	literals []string
	re       *regexp.Regexp
}

// Match is the result of a successful pattern evaluation.
type Match struct {
	// Pattern is the source form of the pattern that matched.
	Pattern string
	// Groups holds the whole match at index 0 followed by any submatches.
	Groups []string
}

// Group returns submatch i, or "" when the pattern captured fewer groups.
func (m Match) Group(i int) string {
	if i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// Empty matches any message with non-blank text.
func Empty() Pattern {
	return Pattern{kind: kindEmpty}
}

// Literal matches when the text contains any of the alternatives, ignoring
// case. Blank alternatives are dropped; a Literal with none left behaves as
// Empty.
func Literal(alternatives ...string) Pattern {
	clean := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		if strings.TrimSpace(alt) == "" {
			continue
		}
		clean = append(clean, alt)
	}
	if len(clean) == 0 {
		return Empty()
	}
	return Pattern{kind: kindLiteral, literals: clean}
}

// Regex compiles expr. The expression is applied to the full message text;
// prefix it with (?i) for case-insensitive matching.
func Regex(expr string) (Pattern, error) {
	if expr == "" {
		return Empty(), nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Pattern{kind: kindRegex, re: re}, nil
}

// MustRegex is Regex for static rule tables.
func MustRegex(expr string) Pattern {
	p, err := Regex(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Match evaluates the pattern against text.
func (p Pattern) Match(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}

	switch p.kind {
	case kindLiteral:
		lower := strings.ToLower(text)
		for _, alt := range p.literals {
			needle := strings.ToLower(alt)
			idx := strings.Index(lower, needle)
			if idx < 0 {
				continue
			}
			// Lowercasing can change byte lengths for some scripts, so only
			// slice the original text when the offsets still line up.
			whole := alt
			if len(lower) == len(text) {
				whole = text[idx : idx+len(needle)]
			}
			return Match{Pattern: alt, Groups: []string{whole}}, true
		}
		return Match{}, false

	case kindRegex:
		groups := p.re.FindStringSubmatch(text)
		if groups == nil {
			return Match{}, false
		}
		return Match{Pattern: p.re.String(), Groups: groups}, true

	default:
		return Match{Pattern: "", Groups: []string{text}}, true
	}
}

// IsEmpty reports whether p is the catch-all pattern.
func (p Pattern) IsEmpty() bool {
	return p.kind == kindEmpty
}

func (p Pattern) String() string {
	switch p.kind {
	case kindLiteral:
		return strings.Join(p.literals, "|")
	case kindRegex:
		return p.re.String()
	default:
		return ""
	}
}
