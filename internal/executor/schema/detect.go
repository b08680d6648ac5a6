// Package schema describes workspace variables for downstream consumers.
//
// Two halves: a text layer that guesses which variable a snippet produced,
// and a structured layer that runs the introspection script and turns its
// JSON into an executor.Schema.
package schema

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sakif/rstats-playground/internal/executor/script"
)

// TidySuffix marks a variable as the new active dataset.
const TidySuffix = "_tidy"

var (
	// name <- value, name <<- value, at the start of a statement.
	leftAssign = regexp.MustCompile(`(?m)(?:^|[;{])[ \t]*([A-Za-z.][A-Za-z0-9._]*)[ \t]*<<?-`)
	// value -> name, value ->> name, at the end of a statement.
	rightAssign = regexp.MustCompile(`(?m)->>?[ \t]*([A-Za-z.][A-Za-z0-9._]*)[ \t]*(?:$|[;}])`)
	// name = value, at the start of a statement. Only counted outside
	// parentheses and brackets, where it would be a named argument.
	equalsAssign = regexp.MustCompile(`(?m)(?:^|[;{])[ \t]*([A-Za-z.][A-Za-z0-9._]*)[ \t]*=(?:[^=]|$)`)
)

// Assignment is one top-level binding found in a snippet.
type Assignment struct {
	Name   string
	Offset int
}

// Assignments lists the bindings in code in source order. Comments and
// string literals are ignored.
func Assignments(code string) []Assignment {
	clean := stripCommentsAndStrings(code)

	depth := nesting(clean)

	var out []Assignment
	for _, re := range []*regexp.Regexp{leftAssign, rightAssign, equalsAssign} {
		for _, m := range re.FindAllStringSubmatchIndex(clean, -1) {
			name := clean[m[2]:m[3]]
			if !script.IsIdentifier(name) {
				continue
			}
			if re == equalsAssign && depth[m[2]] > 0 {
				continue
			}
			out = append(out, Assignment{Name: name, Offset: m[2]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Rule picks a variable from a snippet.
type Rule interface {
	Detect(code string) (string, bool)
}

// RuleFunc adapts a function to a Rule.
type RuleFunc func(code string) (string, bool)

func (f RuleFunc) Detect(code string) (string, bool) { return f(code) }

// AssignmentRule picks the last variable the snippet assigns.
type AssignmentRule struct{}

func (AssignmentRule) Detect(code string) (string, bool) {
	as := Assignments(code)
	if len(as) == 0 {
		return "", false
	}
	return as[len(as)-1].Name, true
}

// TidySuffixRule picks the last assigned variable whose name ends in
// TidySuffix.
type TidySuffixRule struct{}

func (TidySuffixRule) Detect(code string) (string, bool) {
	as := Assignments(code)
	for i := len(as) - 1; i >= 0; i-- {
		if IsActive(as[i].Name) {
			return as[i].Name, true
		}
	}
	return "", false
}

// Detector applies rules in order; the first match wins.
type Detector struct {
	rules []Rule
}

// NewDetector creates a Detector. Without rules it uses
// TidySuffixRule then AssignmentRule.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = []Rule{TidySuffixRule{}, AssignmentRule{}}
	}
	return &Detector{rules: rules}
}

// Detect returns the variable the snippet most likely produced, or
// fallback when no rule matches.
func (d *Detector) Detect(code, fallback string) string {
	for _, r := range d.rules {
		if name, ok := r.Detect(code); ok && script.IsIdentifier(name) {
			return name
		}
	}
	return fallback
}

// IsActive reports whether variable follows the tidy naming convention.
func IsActive(variable string) bool {
	return strings.HasSuffix(variable, TidySuffix) && len(variable) > len(TidySuffix)
}

// nesting returns, for every byte of code, how many parentheses and
// brackets are open before it. code must already be stripped of comments
// and strings.
func nesting(code string) []int {
	depth := make([]int, len(code)+1)
	d := 0
	for i := 0; i < len(code); i++ {
		depth[i] = d
		switch code[i] {
		case '(', '[':
			d++
		case ')', ']':
			if d > 0 {
				d--
			}
		}
	}
	depth[len(code)] = d
	return depth
}

// stripCommentsAndStrings blanks comments and the contents of string
// literals, keeping offsets and newlines intact.
func stripCommentsAndStrings(code string) string {
	b := []byte(code)
	var quote byte
	inComment := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			} else {
				b[i] = ' '
			}
		case quote != 0:
			if c == '\\' && i+1 < len(b) {
				b[i] = ' '
				if b[i+1] != '\n' {
					b[i+1] = ' '
				}
				i++
				continue
			}
			if c == quote {
				quote = 0
			} else if c != '\n' {
				b[i] = ' '
			}
		case c == '#':
			inComment = true
			b[i] = ' '
		case c == '"' || c == '\'' || c == '`':
			quote = c
		}
	}
	return string(b)
}
