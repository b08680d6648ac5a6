package script

import (
	"fmt"
	"regexp"
	"strings"
)

// Quote renders s as a double-quoted R string literal. It is the only way
// values reach a composed script, so paths, variable names and the
// snippet itself can never terminate the literal they sit in.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0:
			// R strings cannot contain NUL.
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteAll renders a comma separated list of R string literals, suitable
// for the body of c(...).
func QuoteAll(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, Quote(v))
	}
	return strings.Join(quoted, ", ")
}

var identPattern = regexp.MustCompile(`^(?:[A-Za-z]|\.[A-Za-z_.])[A-Za-z0-9._]*$`)

var reservedWords = map[string]bool{
	"if": true, "else": true, "repeat": true, "while": true, "function": true,
	"for": true, "next": true, "break": true, "TRUE": true, "FALSE": true,
	"NULL": true, "Inf": true, "NaN": true, "NA": true, "NA_integer_": true,
	"NA_real_": true, "NA_character_": true, "in": true,
}

// IsIdentifier reports whether name is a syntactic R variable name.
func IsIdentifier(name string) bool {
	return identPattern.MatchString(name) && !reservedWords[name]
}
