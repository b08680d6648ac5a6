package schema

import (
	"fmt"
	"regexp"

	"github.com/sakif/rstats-playground/internal/executor"
)

var dollarRef = regexp.MustCompile("([A-Za-z.][A-Za-z0-9._]*)\\$(?:([A-Za-z.][A-Za-z0-9._]*)|`([^`]+)`)")

// MissingColumns returns the columns code references as variable$col that
// the schema does not have, in order of first reference. It reports
// nothing for schemas without columns.
func MissingColumns(code string, s *executor.Schema) []string {
	if s == nil || !s.Exists || len(s.Columns) == 0 {
		return nil
	}
	known := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		known[c.Name] = true
	}

	clean := stripComments(code)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range dollarRef.FindAllStringSubmatch(clean, -1) {
		if m[1] != s.Variable {
			continue
		}
		col := m[2]
		if col == "" {
			col = m[3]
		}
		if known[col] || seen[col] {
			continue
		}
		seen[col] = true
		missing = append(missing, col)
	}
	return missing
}

// MissingColumnWarnings formats MissingColumns for an execution result.
func MissingColumnWarnings(code string, s *executor.Schema) []string {
	var out []string
	for _, col := range MissingColumns(code, s) {
		out = append(out, fmt.Sprintf("column %q is referenced but does not exist in %s", col, s.Variable))
	}
	return out
}

// stripComments blanks comments outside string literals.
func stripComments(code string) string {
	b := []byte(code)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '#':
			for i < len(b) && b[i] != '\n' {
				b[i] = ' '
				i++
			}
		}
	}
	return string(b)
}
