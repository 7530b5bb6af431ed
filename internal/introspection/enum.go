package introspection

import (
	"errors"
	"fmt"
	"strings"
)

var errBadEnum = errors.New("invalid enum definition")

// parseEnumValues reads the members of an enum(...) COLUMN_TYPE. Members are
// single-quoted; quotes are escaped by doubling or with a backslash.
func parseEnumValues(columnType string) ([]string, error) {
	def := strings.TrimSpace(columnType)
	if !strings.HasPrefix(strings.ToLower(def), "enum(") || !strings.HasSuffix(def, ")") {
		return nil, fmt.Errorf("%w: %q", errBadEnum, columnType)
	}
	body := def[len("enum(") : len(def)-1]

	var (
		values  []string
		current strings.Builder
		inQuote bool
		pending bool
	)
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if !inQuote {
			switch ch {
			case ' ', '\t':
			case ',':
				if !pending {
					return nil, fmt.Errorf("%w: unexpected comma at %d", errBadEnum, i)
				}
				pending = false
			case '\'':
				if pending {
					return nil, fmt.Errorf("%w: missing comma at %d", errBadEnum, i)
				}
				inQuote = true
			default:
				return nil, fmt.Errorf("%w: unexpected %q at %d", errBadEnum, ch, i)
			}
			continue
		}
		switch {
		case ch == '\\':
			if i+1 == len(body) {
				return nil, fmt.Errorf("%w: unterminated escape", errBadEnum)
			}
			i++
			current.WriteByte(body[i])
		case ch == '\'' && i+1 < len(body) && body[i+1] == '\'':
			i++
			current.WriteByte('\'')
		case ch == '\'':
			values = append(values, current.String())
			current.Reset()
			inQuote = false
			pending = true
		default:
			current.WriteByte(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated value", errBadEnum)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", errBadEnum)
	}
	return values, nil
}
