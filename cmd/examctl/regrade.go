package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var regradeCmd = &cobra.Command{
	Use:   "regrade <session-id>",
	Short: "Recompute a submitted session's grade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}

		e, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		outcome, err := e.grading.GradeSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}

		pct := "n/a"
		if outcome.Percentage != nil {
			pct = fmt.Sprintf("%.2f%%", *outcome.Percentage)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  status=%s  score=%g  percentage=%s\n",
			sessionID, outcome.Status, outcome.Score, pct)
		return nil
	},
}
