package trigger

import (
	"fmt"
	"strings"
)

// Scope is the addressing context of a message. Rules declare the set of
// scopes they accept; messages carry the scope they arrived with.
type Scope uint8

const (
	// Ambient is a message that neither addresses nor mentions the bot.
	Ambient Scope = 0

	DirectMessage Scope = 1 << iota
	DirectMention
	Mention
)

// AnyAddressed accepts every scope in which the bot was addressed.
const AnyAddressed = DirectMessage | DirectMention | Mention

var scopeNames = []struct {
	scope Scope
	name  string
}{
	{DirectMessage, "direct_message"},
	{DirectMention, "direct_mention"},
	{Mention, "mention"},
}

// ParseScope parses a comma-separated scope list such as
// "direct_message,direct_mention,mention".
func ParseScope(input string) (Scope, error) {
	var scope Scope
	for _, part := range strings.Split(input, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}

		found := false
		for _, candidate := range scopeNames {
			if candidate.name == name {
				scope |= candidate.scope
				found = true
				break
			}
		}
		if !found {
			return Ambient, fmt.Errorf("unknown scope %q", name)
		}
	}

	return scope, nil
}

// MustParseScope is ParseScope for static rule tables.
func MustParseScope(input string) Scope {
	scope, err := ParseScope(input)
	if err != nil {
		panic(err)
	}
	return scope
}

// Allows reports whether a message arriving in scope other satisfies s.
func (s Scope) Allows(other Scope) bool {
	return s&other != 0
}

func (s Scope) String() string {
	if s == Ambient {
		return "ambient"
	}

	names := make([]string, 0, len(scopeNames))
	for _, candidate := range scopeNames {
		if s&candidate.scope != 0 {
			names = append(names, candidate.name)
		}
	}
	return strings.Join(names, ",")
}
