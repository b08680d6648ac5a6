package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/rstats-playground/internal/executor"
)

func TestReadSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snippet.R")
	require.NoError(t, os.WriteFile(path, []byte("x <- 1"), 0o644))

	code, err := readSource(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "x <- 1", code)

	code, err = readSource("-", strings.NewReader("summary(cars)"))
	require.NoError(t, err)
	assert.Equal(t, "summary(cars)", code)

	_, err = readSource(filepath.Join(t.TempDir(), "missing.R"), nil)
	assert.ErrorContains(t, err, "reading snippet")
}

func TestWriteResult(t *testing.T) {
	msg := "object 'y' not found"
	var buf bytes.Buffer

	writeResult(&buf, &executor.ExecutionResult{
		SessionID:    "s1",
		TextOutput:   "[1] 5",
		ErrorMessage: &msg,
		Warnings:     []string{`column "prce" is referenced but does not exist in df`},
		Duration:     1500 * time.Millisecond,
	}, []string{"out/abc_1.svg"})

	out := buf.String()
	assert.Contains(t, out, "[1] 5")
	assert.Contains(t, out, msg)
	assert.Contains(t, out, `"prce"`)
	assert.Contains(t, out, "out/abc_1.svg")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "1.50s")
}

func TestWriteSchema(t *testing.T) {
	lo, hi := 1.5, 42.0
	values := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	var buf bytes.Buffer

	writeSchema(&buf, &executor.Schema{
		Variable: "sales_tidy",
		Exists:   true,
		Active:   true,
		Rows:     120,
		Columns: []executor.ColumnDescriptor{
			{Name: "price", Kind: executor.ColumnNumeric, Min: &lo, Max: &hi},
			{Name: "region", Kind: executor.ColumnCategorical, Values: values},
			{Name: "note", Kind: executor.ColumnOther},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "sales_tidy")
	assert.Contains(t, out, "120 rows")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "1.5 .. 42")
	assert.Contains(t, out, "a, b, c, d, e, f, g, h")
	assert.Contains(t, out, "(+2 more)")
	assert.NotContains(t, out, "i, j")

	buf.Reset()
	writeSchema(&buf, &executor.Schema{Variable: "ghost", Columns: []executor.ColumnDescriptor{}})
	assert.Contains(t, buf.String(), "ghost does not exist")
}

func TestSaveArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	r := &executor.ExecutionResult{
		ExecutionID: "exec1",
		Artifacts: executor.Artifacts{
			executor.VectorImage{Markup: "<svg/>", Raster: []byte("png-bytes")},
			executor.RasterImage{Data: []byte("raw"), MIMEType: "image/png"},
			executor.InteractiveDocument{Reference: "/artifacts/k/widget_x.html", Path: "/data/artifacts/k/widget_x.html"},
		},
	}

	files, err := saveArtifacts(r, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "exec1_1.svg"),
		filepath.Join(dir, "exec1_1.png"),
		filepath.Join(dir, "exec1_2.png"),
		"/data/artifacts/k/widget_x.html",
	}, files)

	svg, err := os.ReadFile(filepath.Join(dir, "exec1_1.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(svg))
}

func TestSaveArtifacts_NoPlotsNoDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")

	files, err := saveArtifacts(&executor.ExecutionResult{Artifacts: executor.Artifacts{}}, dir)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "output dir should only be created for plots")
}

// fakeInterpreter writes a shell script standing in for Rscript.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-rscript")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	fake := fakeInterpreter(t, `echo '[1] 2'`)
	root := t.TempDir()

	out, err := runCLI(t, "1 + 1",
		"run", "-",
		"--r-binary", fake,
		"--runner", "local",
		"--data-root", root,
		"--session", "cli",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "[1] 2")
	assert.Contains(t, out, "OK")
}

func TestRunCommand_SnippetFailure(t *testing.T) {
	fake := fakeInterpreter(t, `echo "Error: object 'y' not found" >&2; exit 1`)
	root := t.TempDir()

	out, err := runCLI(t, "y",
		"run", "-",
		"--r-binary", fake,
		"--runner", "local",
		"--data-root", root,
		"--session", "cli",
	)

	assert.ErrorIs(t, err, errSnippetFailed)
	assert.Contains(t, out, "FAILED")
}

func TestResetCommand(t *testing.T) {
	root := t.TempDir()

	out, err := runCLI(t, "",
		"reset",
		"--runner", "local",
		"--data-root", root,
		"--session", "fresh",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "session fresh discarded")
}
