// Package script composes the R programs the harness runs: the wrapped
// user snippet and the schema introspection script.
//
// Composition never fails. The templates are fixed at build time and every
// value is injected as an escaped R literal, so the only inputs are strings
// and numbers.
package script

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sakif/rstats-playground/internal/executor"
)

// Markers written by composed scripts. Consumers strip them from the text
// shown to users. Scripts emit them after a newline; consumers still look
// for them anywhere in a line.
const (
	// DocumentMarker precedes the file name of a saved interactive document
	// on stdout.
	DocumentMarker = "##HARNESS_DOCUMENT##"
	// ErrorMarker precedes the condition message of a failed snippet on
	// stderr.
	ErrorMarker = "##HARNESS_ERROR##"
)

// DefaultPackages are preloaded before every snippet when no list is
// configured. A missing package is skipped.
var DefaultPackages = []string{"dplyr", "tidyr", "ggplot2", "readr", "knitr"}

// Options holds composer settings that do not change per request.
type Options struct {
	// DataRoot is the interpreter working directory.
	DataRoot string
	// Packages are attached before the snippet runs.
	Packages []string
	// PlotWidth and PlotHeight are device dimensions in inches.
	PlotWidth  float64
	PlotHeight float64
	// TableRows caps the rows rendered for tabular values.
	TableRows int
	// ValueCap caps the distinct values reported per categorical column.
	// It must exceed executor.MaxCategoricalValues so over-limit columns
	// are recognisable.
	ValueCap int
}

// DefaultOptions returns composer defaults for dataRoot.
func DefaultOptions(dataRoot string) Options {
	return Options{
		DataRoot:   dataRoot,
		Packages:   DefaultPackages,
		PlotWidth:  8,
		PlotHeight: 6,
		TableRows:  50,
		ValueCap:   executor.MaxCategoricalValues + 1,
	}
}

// Job is everything that varies between two executions.
type Job struct {
	Snippet       string
	Mode          executor.OutputMode
	FormatTabular bool

	// SnapshotPath is loaded (when LoadSnapshot is set) and always saved.
	SnapshotPath string
	LoadSnapshot bool

	// Artifact destinations allocated for this execution.
	VectorPath   string
	RasterPath   string
	DocumentPath string
}

// Composer renders Jobs into R source.
type Composer struct {
	opts Options
	tmpl *template.Template
}

// New creates a Composer. Zero-valued options fall back to
// DefaultOptions.
func New(opts Options) *Composer {
	def := DefaultOptions(opts.DataRoot)
	if opts.Packages == nil {
		opts.Packages = def.Packages
	}
	if opts.PlotWidth <= 0 {
		opts.PlotWidth = def.PlotWidth
	}
	if opts.PlotHeight <= 0 {
		opts.PlotHeight = def.PlotHeight
	}
	if opts.TableRows <= 0 {
		opts.TableRows = def.TableRows
	}
	if opts.ValueCap <= executor.MaxCategoricalValues {
		opts.ValueCap = def.ValueCap
	}

	tmpl := template.New("r").Funcs(template.FuncMap{
		"r":     Quote,
		"rlist": QuoteAll,
	})
	for _, src := range []string{preambleTemplate, epilogueTemplate, plainTemplate, plotTemplate, introspectTemplate} {
		tmpl = template.Must(tmpl.Parse(src))
	}

	return &Composer{opts: opts, tmpl: tmpl}
}

// Options returns the effective options.
func (c *Composer) Options() Options {
	return c.opts
}

type jobData struct {
	Job
	DataRoot       string
	Packages       []string
	PlotWidth      float64
	PlotHeight     float64
	TableRows      int
	DocumentMarker string
	ErrorMarker    string
}

// Compose renders the full script for job.
func (c *Composer) Compose(job Job) string {
	name := "plain"
	if job.Mode == executor.ModePlot {
		name = "plot"
	}
	return c.render(name, jobData{
		Job:            job,
		DataRoot:       c.opts.DataRoot,
		Packages:       c.opts.Packages,
		PlotWidth:      c.opts.PlotWidth,
		PlotHeight:     c.opts.PlotHeight,
		TableRows:      c.opts.TableRows,
		DocumentMarker: DocumentMarker,
		ErrorMarker:    ErrorMarker,
	})
}

// ComposeIntrospection renders the read-only script describing variable
// as stored in the snapshot at snapshotPath. The script prints one JSON
// object to stdout.
func (c *Composer) ComposeIntrospection(snapshotPath, variable string) string {
	return c.render("introspect", struct {
		DataRoot     string
		SnapshotPath string
		Variable     string
		ValueCap     int
	}{
		DataRoot:     c.opts.DataRoot,
		SnapshotPath: snapshotPath,
		Variable:     variable,
		ValueCap:     c.opts.ValueCap,
	})
}

func (c *Composer) render(name string, data any) string {
	var b strings.Builder
	if err := c.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		// Only reachable if the built-in templates are broken.
		panic(fmt.Sprintf("script: rendering %s: %v", name, err))
	}
	return b.String()
}
