package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sakif/rstats-playground/internal/executor"
)

// maxShownValues caps the categorical values printed per column.
const maxShownValues = 8

var (
	// titleStyle for bold headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	// boxStyle for the schema summary
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Padding(0, 1)
)

// writeResult prints an execution: text output first, then problems,
// saved files, the schema and a one-line footer.
func writeResult(w io.Writer, r *executor.ExecutionResult, files []string) {
	if r.TextOutput != "" {
		fmt.Fprintln(w, r.TextOutput)
	}
	if r.ErrorMessage != nil {
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error:"), *r.ErrorMessage)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("Warning:"), warning)
	}
	for _, f := range files {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render("Saved:"), f)
	}
	if r.UpdatedSchema != nil {
		writeSchema(w, r.UpdatedSchema)
	}

	status := successStyle.Render("OK")
	if r.ErrorMessage != nil {
		status = errorStyle.Render("FAILED")
	}
	fmt.Fprintf(w, "%s %s  %s %.2fs  %s\n",
		dimStyle.Render("Session:"), r.SessionID,
		dimStyle.Render("Duration:"), r.Duration.Seconds(),
		status,
	)
}

// writeSchema prints a variable description as a bordered box.
func writeSchema(w io.Writer, s *executor.Schema) {
	if !s.Exists {
		fmt.Fprintf(w, "%s %s does not exist in the workspace\n", warnStyle.Render("Schema:"), s.Variable)
		return
	}

	header := fmt.Sprintf("%s  %s", titleStyle.Render(s.Variable), dimStyle.Render(strconv.Itoa(s.Rows)+" rows"))
	if s.Active {
		header += "  " + successStyle.Render("active")
	}

	lines := []string{header}
	width := 0
	for _, c := range s.Columns {
		width = max(width, len(c.Name))
	}
	for _, c := range s.Columns {
		lines = append(lines, fmt.Sprintf("%-*s  %-11s  %s", width, c.Name, c.Kind, columnDetail(c)))
	}
	if len(s.Columns) == 0 {
		lines = append(lines, dimStyle.Render("no columns"))
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func columnDetail(c executor.ColumnDescriptor) string {
	switch c.Kind {
	case executor.ColumnNumeric:
		if c.Min == nil || c.Max == nil {
			return dimStyle.Render("all missing")
		}
		return fmt.Sprintf("%s .. %s", formatNumber(*c.Min), formatNumber(*c.Max))
	case executor.ColumnCategorical:
		shown := c.Values
		more := ""
		if len(shown) > maxShownValues {
			more = dimStyle.Render(fmt.Sprintf(" (+%d more)", len(shown)-maxShownValues))
			shown = shown[:maxShownValues]
		}
		return strings.Join(shown, ", ") + more
	}
	return ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func writeReset(w io.Writer, sessionID string) {
	fmt.Fprintf(w, "%s workspace of session %s discarded\n", successStyle.Render("Reset:"), sessionID)
}

// saveArtifacts writes inlined plots into dir, named after the execution,
// and returns every artifact's location. Documents already live on disk;
// their path is returned as is.
func saveArtifacts(r *executor.ExecutionResult, dir string) ([]string, error) {
	var files []string
	write := func(name string, data []byte) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		files = append(files, path)
		return nil
	}

	for i, a := range r.Artifacts {
		base := fmt.Sprintf("%s_%d", r.ExecutionID, i+1)
		switch v := a.(type) {
		case executor.VectorImage:
			if err := write(base+".svg", []byte(v.Markup)); err != nil {
				return files, err
			}
			if len(v.Raster) > 0 {
				if err := write(base+".png", v.Raster); err != nil {
					return files, err
				}
			}
		case executor.RasterImage:
			if err := write(base+".png", v.Data); err != nil {
				return files, err
			}
		case executor.InteractiveDocument:
			files = append(files, v.Path)
		}
	}
	return files, nil
}
