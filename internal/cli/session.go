package cli

import (
	"github.com/spf13/cobra"
)

var schemaVar string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard a session's workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHarness(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer h.cleanup()

		if err := h.svc.Reset(cmd.Context(), session); err != nil {
			return err
		}
		writeReset(cmd.OutOrStdout(), session)
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Describe a workspace variable without running code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHarness(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer h.cleanup()

		s, err := h.svc.Schema(cmd.Context(), session, schemaVar)
		if err != nil {
			return err
		}
		writeSchema(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaVar, "var", "", "Variable to describe (default: --default-var)")

	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(schemaCmd)
}
