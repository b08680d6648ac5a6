// Package artifact turns the side effects of a script run into the
// uniform artifact list of an execution result.
//
// Every execution gets its own file names inside the session's artifact
// directory. Plots are read, inlined and removed at once. Interactive
// documents stay on disk and are served by reference until the next
// execution of the same session sweeps them.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/xid"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/executor/script"
	"github.com/sakif/rstats-playground/internal/executor/workspace"
)

// MinPlotBytes is the smallest plot file accepted as a rendered image.
// Anything smaller is an aborted render, not an empty plot.
const MinPlotBytes = 100

// sweepPatterns match artifacts a previous execution may have left.
var sweepPatterns = []string{"plot_*", "widget_*"}

// DocumentPattern matches a servable document path relative to Root:
// the session key directory, then the document file.
const DocumentPattern = "*/widget_*.html"

// DependencyPattern matches the scripts and stylesheets a document loads
// when it could not be saved self-contained (no pandoc): saveWidget writes
// them to widget_<id>_files next to the document. Sweep removes them with
// the document.
const DependencyPattern = "*/widget_*_files/**"

// Plan holds the artifact paths allocated for one execution.
type Plan struct {
	SessionKey   string
	Dir          string
	VectorPath   string
	RasterPath   string
	DocumentPath string
}

// Extractor collects artifacts below root and exposes documents under
// urlPrefix.
type Extractor struct {
	root       string
	urlPrefix  string
	rasterizer Rasterizer
	logger     *slog.Logger
}

// New creates an Extractor. rasterizer may be nil to skip rasterization.
func New(root, urlPrefix string, rasterizer Rasterizer, logger *slog.Logger) *Extractor {
	return &Extractor{
		root:       root,
		urlPrefix:  strings.TrimRight(urlPrefix, "/"),
		rasterizer: rasterizer,
		logger:     logger,
	}
}

// Root returns the directory holding all session artifact directories.
func (e *Extractor) Root() string {
	return e.root
}

// Dir returns the artifact directory of a session.
func (e *Extractor) Dir(sessionID string) string {
	return filepath.Join(e.root, workspace.Key(sessionID))
}

// Plan allocates fresh artifact paths for the next execution of a
// session.
func (e *Extractor) Plan(sessionID string) (Plan, error) {
	key := workspace.Key(sessionID)
	dir := filepath.Join(e.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Plan{}, fmt.Errorf("artifact: creating dir: %w", err)
	}
	id := xid.New().String()
	return Plan{
		SessionKey:   key,
		Dir:          dir,
		VectorPath:   filepath.Join(dir, "plot_"+id+".svg"),
		RasterPath:   filepath.Join(dir, "plot_"+id+".png"),
		DocumentPath: filepath.Join(dir, "widget_"+id+".html"),
	}, nil
}

// Sweep removes the artifacts earlier executions of a session left
// behind. It returns the number of entries removed.
func (e *Extractor) Sweep(sessionID string) (int, error) {
	dir := e.Dir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	removed := 0
	fsys := os.DirFS(dir)
	for _, pattern := range sweepPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return removed, fmt.Errorf("artifact: sweeping %s: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.RemoveAll(filepath.Join(dir, filepath.FromSlash(m))); err != nil {
				return removed, fmt.Errorf("artifact: removing %s: %w", m, err)
			}
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("swept stale artifacts", slog.String("dir", dir), slog.Int("removed", removed))
	}
	return removed, nil
}

// RemoveAll deletes every artifact of a session.
func (e *Extractor) RemoveAll(sessionID string) error {
	if err := os.RemoveAll(e.Dir(sessionID)); err != nil {
		return fmt.Errorf("artifact: removing session artifacts: %w", err)
	}
	return nil
}

// Extract collects the artifacts of a finished run. Problems with
// individual artifacts are returned as ErrArtifactMissing errors next to
// whatever could be collected; they never discard the other artifacts.
func (e *Extractor) Extract(plan Plan, mode executor.OutputMode, stdout string) (executor.Artifacts, []error) {
	var (
		artifacts executor.Artifacts
		problems  []error
	)

	doc, err := e.document(plan, stdout)
	if err != nil {
		problems = append(problems, err)
	}

	if mode == executor.ModePlot {
		plot, err := e.plot(plan, doc != nil)
		if err != nil {
			problems = append(problems, err)
		}
		if plot != nil {
			artifacts = append(artifacts, plot)
		}
	}

	if doc != nil {
		artifacts = append(artifacts, *doc)
	}
	return artifacts, problems
}

// plot reads the vector output, or the raster fallback, of a plot run.
// When the run produced a document instead, a missing plot is expected.
func (e *Extractor) plot(plan Plan, haveDocument bool) (executor.Artifact, error) {
	if art, err, found := e.vector(plan.VectorPath); found {
		return art, err
	}
	if art, err, found := e.raster(plan.RasterPath); found {
		return art, err
	}
	if haveDocument {
		return nil, nil
	}
	return nil, apperror.ArtifactMissing("plot", "plot generation failed: no plot was produced")
}

func (e *Extractor) vector(p string) (executor.Artifact, error, bool) {
	data, found, err := readPlotFile(p)
	if !found {
		return nil, nil, false
	}
	if err != nil {
		return nil, err, true
	}

	markup := string(data)
	vec := executor.VectorImage{Markup: Responsive(markup)}
	if e.rasterizer != nil {
		png, err := e.rasterizer.Rasterize(data)
		if err != nil {
			w, h := svgSize(markup)
			e.logger.Warn("plot rasterization failed",
				slog.String("error", err.Error()),
				slog.Float64("width", w),
				slog.Float64("height", h),
			)
		} else {
			vec.Raster = png
		}
	}
	return vec, nil, true
}

func (e *Extractor) raster(p string) (executor.Artifact, error, bool) {
	data, found, err := readPlotFile(p)
	if !found {
		return nil, nil, false
	}
	if err != nil {
		return nil, err, true
	}
	return executor.RasterImage{Data: data, MIMEType: "image/png"}, nil, true
}

// readPlotFile reads and removes a plot file. Files below MinPlotBytes
// are removed and reported as failed renders.
func readPlotFile(p string) ([]byte, bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, false, nil
	}
	defer os.Remove(p)

	if info.Size() < MinPlotBytes {
		return nil, true, apperror.ArtifactMissing("plot",
			fmt.Sprintf("plot generation failed: output was only %d bytes", info.Size()))
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, true, apperror.ArtifactMissing("plot", "plot generation failed: output unreadable")
	}
	return data, true, nil
}

// document resolves the document marker in stdout. Only the file planned
// for this execution is accepted.
func (e *Extractor) document(plan Plan, stdout string) (*executor.InteractiveDocument, error) {
	want := filepath.Base(plan.DocumentPath)
	for _, line := range strings.Split(stdout, "\n") {
		_, rest, ok := cutMarker(line, script.DocumentMarker)
		if !ok {
			continue
		}
		name := strings.TrimSpace(rest)
		if name != want {
			e.logger.Warn("ignoring unexpected document marker", slog.String("name", name))
			continue
		}
		info, err := os.Stat(plan.DocumentPath)
		if err != nil || info.Size() == 0 {
			return nil, apperror.ArtifactMissing("document", "interactive output was announced but not written")
		}
		return &executor.InteractiveDocument{
			Reference: e.urlPrefix + "/" + path.Join(plan.SessionKey, name),
			Path:      plan.DocumentPath,
		}, nil
	}
	return nil, nil
}
