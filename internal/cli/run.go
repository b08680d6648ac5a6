package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/rstats-playground/internal/executor"
)

var plotMode bool
var tableMode bool
var refreshSchema bool
var targetVar string
var outDir string

// errSnippetFailed is returned after a failed snippet has been printed, so
// the process exits non-zero.
var errSnippetFailed = errors.New("snippet failed")

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Run an R snippet in a session",
	Long: `Run an R snippet in a session. The snippet is read from the file argument,
or from stdin when the argument is "-" or missing.

Plots are written to --out; interactive documents are left in the data root
and their path is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "-"
		if len(args) == 1 {
			name = args[0]
		}
		code, err := readSource(name, cmd.InOrStdin())
		if err != nil {
			return err
		}

		h, err := openHarness(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer h.cleanup()

		mode := executor.ModePlain
		if plotMode {
			mode = executor.ModePlot
		}

		result, err := h.svc.Execute(cmd.Context(), executor.ExecutionRequest{
			SessionID:      session,
			SourceCode:     code,
			OutputMode:     mode,
			FormatTabular:  tableMode,
			RefreshSchema:  refreshSchema,
			TargetVariable: targetVar,
		})
		if err != nil {
			return err
		}

		files, err := saveArtifacts(result, outDir)
		if err != nil {
			return err
		}
		writeResult(cmd.OutOrStdout(), result, files)

		if result.ErrorMessage != nil {
			return errSnippetFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&plotMode, "plot", "p", false, "Capture graphics output")
	runCmd.Flags().BoolVarP(&tableMode, "table", "t", false, "Render tabular values as markdown tables")
	runCmd.Flags().BoolVar(&refreshSchema, "schema", false, "Describe the assigned data frame afterwards")
	runCmd.Flags().StringVar(&targetVar, "var", "", "Variable to describe when it cannot be inferred")
	runCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory plots are written to")

	rootCmd.AddCommand(runCmd)
}

// readSource reads a snippet from a file, or from stdin for "-".
func readSource(name string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if name == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("reading snippet: %w", err)
	}
	return string(b), nil
}
