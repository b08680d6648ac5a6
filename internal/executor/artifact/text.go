package artifact

import (
	"regexp"
	"strings"

	"github.com/sakif/rstats-playground/internal/executor/script"
)

// benignLines are interpreter chatter that is not worth showing: package
// attach banners, masking notices and dplyr grouping hints.
var benignLines = []*regexp.Regexp{
	regexp.MustCompile(`^Attaching package:`),
	regexp.MustCompile(`^Loading required package:`),
	regexp.MustCompile(`^The following objects? (is|are) masked`),
	regexp.MustCompile("^`summarise\\(\\)` has grouped output"),
	regexp.MustCompile(`^Registered S3 methods? overwritten by`),
	regexp.MustCompile(`^── Attaching`),
	regexp.MustCompile(`^── Conflicts`),
	regexp.MustCompile(`^[✔✖ℹ] `),
	regexp.MustCompile(`^Rows: \d+ Columns: \d+`),
	regexp.MustCompile(`^Column specification`),
	regexp.MustCompile(`^Delimiter: `),
	regexp.MustCompile(`^(chr|dbl|lgl|int|date|dttm) \(\d+\): `),
}

// masking notices are followed by indented name lists, e.g.
//
//	The following objects are masked from 'package:stats':
//
//	    filter, lag
var maskedContinuation = regexp.MustCompile(`^\s+\S`)

// CleanText builds the user-visible text: stdout without harness markers,
// then stderr when it holds anything besides benign chatter.
func CleanText(stdout, stderr string) string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		before, _, found := cutMarker(line, script.DocumentMarker)
		if found {
			if strings.TrimSpace(before) == "" {
				continue
			}
			line = before
		}
		out = append(out, line)
	}
	text := strings.TrimRight(strings.Join(out, "\n"), "\n")

	extra := meaningfulStderr(stderr)
	if len(extra) == 0 {
		return text
	}
	if text != "" {
		text += "\n"
	}
	return text + strings.Join(extra, "\n")
}

// ErrorDetail extracts the condition messages a failed script reported.
// Without any, it falls back to the meaningful stderr lines.
func ErrorDetail(stderr string) string {
	var msgs []string
	for _, line := range strings.Split(stderr, "\n") {
		if _, rest, ok := cutMarker(line, script.ErrorMarker); ok {
			if msg := strings.TrimSpace(rest); msg != "" {
				msgs = append(msgs, msg)
			}
		}
	}
	if len(msgs) > 0 {
		return strings.Join(msgs, "\n")
	}
	return strings.Join(meaningfulStderr(stderr), "\n")
}

// HasErrorMarker reports whether the script reported a caught failure.
func HasErrorMarker(stderr string) bool {
	return strings.Contains(stderr, script.ErrorMarker)
}

// IsBenign reports whether stderr holds nothing worth showing.
func IsBenign(stderr string) bool {
	return len(meaningfulStderr(stderr)) == 0
}

func meaningfulStderr(stderr string) []string {
	var keep []string
	inMasked := false
	for _, line := range strings.Split(stderr, "\n") {
		if before, _, found := cutMarker(line, script.ErrorMarker); found {
			inMasked = false
			line = before
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if inMasked && maskedContinuation.MatchString(line) {
			continue
		}
		inMasked = false
		if matchesAny(trimmed) {
			inMasked = strings.Contains(trimmed, "masked")
			continue
		}
		keep = append(keep, line)
	}
	return keep
}

// cutMarker splits line around the first occurrence of marker. Output
// printed without a trailing newline puts the marker mid-line.
func cutMarker(line, marker string) (before, after string, found bool) {
	i := strings.Index(line, marker)
	if i < 0 {
		return line, "", false
	}
	return line[:i], line[i+len(marker):], true
}

func matchesAny(line string) bool {
	for _, re := range benignLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
