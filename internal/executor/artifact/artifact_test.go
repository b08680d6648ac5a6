package artifact

import (
	"bytes"
	"errors"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/executor/script"
)

const testSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="40pt" height="30pt" viewBox="0 0 40 30" version="1.1">
<rect x="0" y="0" width="40" height="30" style="fill:rgb(255,255,255);stroke:none;"/>
<rect x="5" y="5" width="20" height="10" style="fill:rgb(0,0,255);stroke:none;"/>
</svg>
`

func newTestExtractor(t *testing.T, r Rasterizer) *Extractor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(t.TempDir(), "/artifacts/", r, logger)
}

type failingRasterizer struct{}

func (failingRasterizer) Rasterize([]byte) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestResponsive(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips size keeps viewBox",
			in:   `<svg xmlns="x" width="504pt" height="360pt" viewBox="0 0 504 360"><g/></svg>`,
			want: `<svg xmlns="x" viewBox="0 0 504 360"><g/></svg>`,
		},
		{
			name: "adds viewBox from size",
			in:   `<svg width="200" height="100"><g/></svg>`,
			want: `<svg viewBox="0 0 200 100"><g/></svg>`,
		},
		{
			name: "nested elements untouched",
			in:   `<svg width="1" height="1" viewBox="0 0 1 1"><rect width="5" height="5"/></svg>`,
			want: `<svg viewBox="0 0 1 1"><rect width="5" height="5"/></svg>`,
		},
		{
			name: "not svg",
			in:   `plain text`,
			want: `plain text`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Responsive(tt.in))
		})
	}
}

func TestSVGRasterizer(t *testing.T) {
	out, err := NewSVGRasterizer().Rasterize([]byte(testSVG))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestSVGRasterizer_TooLarge(t *testing.T) {
	r := &SVGRasterizer{Scale: 1, MaxPixels: 100}
	_, err := r.Rasterize([]byte(testSVG))
	assert.Error(t, err)
}

func TestPlan_UniquePerExecution(t *testing.T) {
	e := newTestExtractor(t, nil)

	a, err := e.Plan("s1")
	require.NoError(t, err)
	b, err := e.Plan("s1")
	require.NoError(t, err)

	assert.NotEqual(t, a.VectorPath, b.VectorPath)
	assert.Equal(t, a.Dir, b.Dir)
	assert.DirExists(t, a.Dir)
	assert.True(t, strings.HasPrefix(filepath.Base(a.DocumentPath), "widget_"))
}

func TestExtract_VectorPlot(t *testing.T) {
	e := newTestExtractor(t, NewSVGRasterizer())
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.VectorPath, []byte(testSVG), 0o644))

	arts, problems := e.Extract(plan, executor.ModePlot, "")

	assert.Empty(t, problems)
	require.Len(t, arts, 1)
	vec, ok := arts[0].(executor.VectorImage)
	require.True(t, ok)
	assert.NotContains(t, vec.Markup, `width="40pt"`)
	assert.Contains(t, vec.Markup, `viewBox="0 0 40 30"`)
	assert.NotEmpty(t, vec.Raster)
	assert.NoFileExists(t, plan.VectorPath)
}

func TestExtract_RasterizeFailureKeepsVector(t *testing.T) {
	e := newTestExtractor(t, failingRasterizer{})
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.VectorPath, []byte(testSVG), 0o644))

	arts, problems := e.Extract(plan, executor.ModePlot, "")

	assert.Empty(t, problems)
	require.Len(t, arts, 1)
	vec := arts[0].(executor.VectorImage)
	assert.Nil(t, vec.Raster)
}

func TestExtract_SizeThreshold(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantArt bool
	}{
		{name: "truncated render", size: 50, wantArt: false},
		{name: "just below", size: MinPlotBytes - 1, wantArt: false},
		{name: "at threshold", size: MinPlotBytes, wantArt: true},
		{name: "full render", size: 5000, wantArt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(t, nil)
			plan, err := e.Plan("s1")
			require.NoError(t, err)
			body := "<svg>" + strings.Repeat(" ", tt.size-len("<svg></svg>")) + "</svg>"
			require.Len(t, body, tt.size)
			require.NoError(t, os.WriteFile(plan.VectorPath, []byte(body), 0o644))

			arts, problems := e.Extract(plan, executor.ModePlot, "")

			assert.NoFileExists(t, plan.VectorPath)
			if tt.wantArt {
				assert.Len(t, arts, 1)
				assert.Empty(t, problems)
				return
			}
			assert.Empty(t, arts)
			require.Len(t, problems, 1)
			assert.True(t, errors.Is(problems[0], apperror.ErrArtifactMissing))
			assert.Contains(t, problems[0].Error(), "plot generation failed")
		})
	}
}

func TestExtract_NoPlotProduced(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)

	arts, problems := e.Extract(plan, executor.ModePlot, "")

	assert.Empty(t, arts)
	require.Len(t, problems, 1)
	assert.True(t, errors.Is(problems[0], apperror.ErrArtifactMissing))
}

func TestExtract_PlainModeIgnoresPlotFiles(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)

	arts, problems := e.Extract(plan, executor.ModePlain, "[1] 2")

	assert.Empty(t, arts)
	assert.Empty(t, problems)
}

func TestExtract_RasterFallback(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	pngBytes, err := NewSVGRasterizer().Rasterize([]byte(testSVG))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.RasterPath, pngBytes, 0o644))

	arts, problems := e.Extract(plan, executor.ModePlot, "")

	assert.Empty(t, problems)
	require.Len(t, arts, 1)
	img, ok := arts[0].(executor.RasterImage)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, pngBytes, img.Data)
}

func TestExtract_Document(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.DocumentPath, []byte("<html></html>"), 0o644))
	name := filepath.Base(plan.DocumentPath)
	stdout := "hello\n" + script.DocumentMarker + " " + name + "\n"

	arts, problems := e.Extract(plan, executor.ModePlot, stdout)

	assert.Empty(t, problems, "a document stands in for the plot")
	require.Len(t, arts, 1)
	doc, ok := arts[0].(executor.InteractiveDocument)
	require.True(t, ok)
	assert.Equal(t, "/artifacts/"+plan.SessionKey+"/"+name, doc.Reference)
	assert.FileExists(t, plan.DocumentPath, "documents are served by reference")
}

func TestExtract_DocumentMarkerMidLine(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.DocumentPath, []byte("<html></html>"), 0o644))
	// cat("done") leaves no newline before the marker.
	stdout := "done" + script.DocumentMarker + " " + filepath.Base(plan.DocumentPath) + " \n"

	arts, problems := e.Extract(plan, executor.ModePlain, stdout)

	assert.Empty(t, problems)
	require.Len(t, arts, 1)
	assert.IsType(t, executor.InteractiveDocument{}, arts[0])
	assert.Equal(t, "done", CleanText(stdout, ""))
}

func TestExtract_DocumentMarkerForOtherFileIgnored(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	stdout := script.DocumentMarker + " ../../etc/passwd\n"

	arts, problems := e.Extract(plan, executor.ModePlain, stdout)

	assert.Empty(t, arts)
	assert.Empty(t, problems)
}

func TestExtract_DocumentAnnouncedButMissing(t *testing.T) {
	e := newTestExtractor(t, nil)
	plan, err := e.Plan("s1")
	require.NoError(t, err)
	stdout := script.DocumentMarker + " " + filepath.Base(plan.DocumentPath) + "\n"

	arts, problems := e.Extract(plan, executor.ModePlain, stdout)

	assert.Empty(t, arts)
	require.Len(t, problems, 1)
	assert.True(t, errors.Is(problems[0], apperror.ErrArtifactMissing))
}

func TestSweep(t *testing.T) {
	e := newTestExtractor(t, nil)

	n, err := e.Sweep("never-ran")
	require.NoError(t, err)
	assert.Zero(t, n)

	plan, err := e.Plan("s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(plan.DocumentPath, []byte("<html/>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(plan.Dir, "widget_old_files", "lib"), 0o755))
	require.NoError(t, os.WriteFile(plan.VectorPath, []byte("<svg/>"), 0o644))
	keep := filepath.Join(plan.Dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	n, err = e.Sweep("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoFileExists(t, plan.DocumentPath)
	assert.NoDirExists(t, filepath.Join(plan.Dir, "widget_old_files"))
	assert.FileExists(t, keep)
}

func TestSweep_OnlyOwnSession(t *testing.T) {
	e := newTestExtractor(t, nil)
	a, err := e.Plan("a")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.DocumentPath, []byte("<html/>"), 0o644))

	_, err = e.Sweep("b")
	require.NoError(t, err)

	assert.FileExists(t, a.DocumentPath)
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   string
	}{
		{
			name:   "stdout only",
			stdout: "[1] 3\n",
			want:   "[1] 3",
		},
		{
			name:   "document marker stripped",
			stdout: "a\n" + script.DocumentMarker + " widget_x.html\nb\n",
			want:   "a\nb",
		},
		{
			name:   "document marker after unterminated output",
			stdout: "done" + script.DocumentMarker + " widget_x.html \n",
			want:   "done",
		},
		{
			name:   "document marker on its own line after a blank",
			stdout: "[1] 1\n\n" + script.DocumentMarker + " widget_x.html\n",
			want:   "[1] 1",
		},
		{
			name:   "benign stderr dropped",
			stdout: "[1] 3\n",
			stderr: "\nAttaching package: 'dplyr'\n\nThe following objects are masked from 'package:stats':\n\n    filter, lag\n\n`summarise()` has grouped output by 'g'. You can override using the `.groups` argument.\n",
			want:   "[1] 3",
		},
		{
			name:   "warning appended",
			stdout: "[1] 3\n",
			stderr: "Warning message:\nNAs introduced by coercion\n",
			want:   "[1] 3\nWarning message:\nNAs introduced by coercion",
		},
		{
			name:   "error marker after unterminated stderr",
			stdout: "",
			stderr: "partial" + script.ErrorMarker + " object 'x' not found\n",
			want:   "partial",
		},
		{
			name:   "error marker not repeated in text",
			stdout: "",
			stderr: script.ErrorMarker + " object 'x' not found\n",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.stdout, tt.stderr))
		})
	}
}

func TestErrorDetail(t *testing.T) {
	stderr := "Loading required package: ggplot2\n" + script.ErrorMarker + " object 'sales' not found\n"
	assert.Equal(t, "object 'sales' not found", ErrorDetail(stderr))
	assert.True(t, HasErrorMarker(stderr))

	assert.Equal(t, "boom", ErrorDetail("progress..."+script.ErrorMarker+" boom\n"))

	assert.Equal(t, "Execution halted", ErrorDetail("Error in f(): boom\nExecution halted\n")[len("Error in f(): boom\n"):])
	assert.False(t, HasErrorMarker("Execution halted"))
}

func TestIsBenign(t *testing.T) {
	assert.True(t, IsBenign(""))
	assert.True(t, IsBenign("Loading required package: knitr\n"))
	assert.False(t, IsBenign("Warning message:\nsomething odd\n"))
}
