package naming

import (
	"fmt"
	"strings"
)

// AliasCounter hands out query aliases of the form <prefix>_<Name>_<n>.
// The occurrence index is tracked per name, so two prefixes used for the same
// class never produce the same alias. A counter belongs to one build session.
type AliasCounter struct {
	counts map[string]int
}

// NewAliasCounter creates an empty counter.
func NewAliasCounter() *AliasCounter {
	return &AliasCounter{counts: make(map[string]int)}
}

// Next returns the next alias for name and advances its occurrence index.
func (a *AliasCounter) Next(prefix, name string) string {
	name = sanitize(name)
	n := a.counts[name]
	a.counts[name] = n + 1
	return fmt.Sprintf("%s_%s_%d", prefix, name, n)
}

// Uses reports how many aliases were handed out for name.
func (a *AliasCounter) Uses(name string) int {
	return a.counts[sanitize(name)]
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
