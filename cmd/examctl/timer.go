package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/service"
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Control a session's countdown",
}

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "List active countdowns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		ids, err := e.store.ActiveSessionIDs(cmd.Context())
		if err != nil {
			return err
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tREMAINING\tSTATE")
		for _, id := range ids {
			remaining, state, err := e.store.Remaining(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t%v\n", id, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%ds\t%s\n", id, remaining, state)
		}
		return w.Flush()
	},
}

func init() {
	timerCmd.AddCommand(
		timerAction("pause", "Freeze the countdown", func(ctx context.Context, s *service.SessionService, id uuid.UUID) (string, error) {
			left, err := s.Pause(ctx, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("paused at %ds", left.Seconds), nil
		}),
		timerAction("resume", "Restart a paused countdown", func(ctx context.Context, s *service.SessionService, id uuid.UUID) (string, error) {
			left, err := s.Resume(ctx, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("resumed with %ds", left.Seconds), nil
		}),
		timerAction("stop", "Remove the countdown without submitting", func(ctx context.Context, s *service.SessionService, id uuid.UUID) (string, error) {
			if err := s.StopTimer(ctx, id); err != nil {
				return "", err
			}
			return "stopped", nil
		}),
	)
}

func timerAction(name, short string, fn func(context.Context, *service.SessionService, uuid.UUID) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <session-id>",
		Short: short,
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

			msg, err := fn(cmd.Context(), e.sessions, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sessionID, msg)
			return nil
		},
	}
}
