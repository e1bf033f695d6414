package trigger

// Rule pairs an ordered set of alternative patterns with the scopes in which
// they may fire.
type Rule struct {
	Name     string
	Patterns []Pattern
	Scope    Scope
}

// Matches evaluates the rule for a message. The scope check comes first: a
// text match in a scope the rule does not accept is not a match. Patterns
// are tried in declaration order and the first hit wins.
func (r Rule) Matches(text string, scope Scope) (Match, bool) {
	if !r.Scope.Allows(scope) {
		return Match{}, false
	}

	for _, pattern := range r.Patterns {
		if m, ok := pattern.Match(text); ok {
			return m, true
		}
	}

	return Match{}, false
}

// Hears builds a rule from regular expressions, the way most chat handlers
// declare their triggers. An empty expression becomes the catch-all pattern.
func Hears(name string, scope Scope, exprs ...string) Rule {
	patterns := make([]Pattern, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, MustRegex(expr))
	}
	return Rule{Name: name, Patterns: patterns, Scope: scope}
}
