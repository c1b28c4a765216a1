package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

type decisionRecorder interface {
	RecordDecision(ctx context.Context, warningID string, decision duplicate.Decision, userID, reason string) (*duplicate.AuditLogEntry, error)
}

var decideCmd = &cobra.Command{
	Use:   "decide <warning-id>",
	Short: "Record a decision on a duplicate warning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "decide")
		if err != nil {
			return err
		}
		defer env.Close()

		decision, _ := cmd.Flags().GetString("decision")
		user, _ := cmd.Flags().GetString("user")
		reason, _ := cmd.Flags().GetString("reason")

		return runDecide(ctx, env.Recorder, os.Stdout, args[0], duplicate.Decision(strings.ToUpper(decision)), user, reason)
	},
}

func runDecide(ctx context.Context, r decisionRecorder, w io.Writer, warningID string, decision duplicate.Decision, user, reason string) error {
	entry, err := r.RecordDecision(ctx, warningID, decision, user, reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Recorded %s on warning %s (audit entry %s)\n", entry.Decision, entry.WarningID, entry.ID)
	return nil
}

func init() {
	decideCmd.Flags().String("decision", "", "PROCEEDED, CANCELLED, or MERGED")
	decideCmd.Flags().String("user", "", "ID of the deciding user")
	decideCmd.Flags().String("reason", "", "optional justification")
	_ = decideCmd.MarkFlagRequired("decision")
	_ = decideCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(decideCmd)
}
