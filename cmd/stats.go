package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

type statistics interface {
	GetDuplicateStatistics(ctx context.Context, r duplicate.DateRange) (*duplicate.Statistics, error)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show duplicate warning and decision statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rng, err := rangeFlags(cmd, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "stats")
		if err != nil {
			return err
		}
		defer env.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		return runStats(ctx, env.Aggregator, os.Stdout, rng, asJSON)
	},
}

func runStats(ctx context.Context, s statistics, w io.Writer, rng duplicate.DateRange, asJSON bool) error {
	stats, err := s.GetDuplicateStatistics(ctx, rng)
	if err != nil {
		return eris.Wrap(err, "stats")
	}
	if asJSON {
		return writeJSON(w, stats)
	}
	formatStats(w, stats)
	return nil
}

func formatStats(w io.Writer, s *duplicate.Statistics) {
	fmt.Fprintf(w, "Duplicate warnings %s to %s\n\n", s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total\t%d\n", s.TotalWarnings)
	fmt.Fprintf(tw, "Proceeded\t%d\n", s.ProceedCount)
	fmt.Fprintf(tw, "Cancelled\t%d\n", s.CancelledCount)
	fmt.Fprintf(tw, "Merged\t%d\n", s.MergedCount)
	fmt.Fprintf(tw, "Pending\t%d\n", s.PendingCount)
	fmt.Fprintf(tw, "Proceed rate\t%.1f%%\n", s.ProceedRate)
	fmt.Fprintln(tw)
	for _, sev := range duplicate.Severities {
		fmt.Fprintf(tw, "%s\t%d\n", sev, s.SeverityBreakdown[sev])
	}
	tw.Flush()
}

// rangeFlags reads --from and --to, falling back to --since before now.
func rangeFlags(cmd *cobra.Command, now time.Time) (duplicate.DateRange, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	since, _ := cmd.Flags().GetDuration("since")

	rng := duplicate.DateRange{To: now.UTC()}
	if toStr != "" {
		t, err := parseTimeFlag(toStr)
		if err != nil {
			return rng, eris.Wrap(err, "--to")
		}
		rng.To = t
	}
	rng.From = rng.To.Add(-since)
	if fromStr != "" {
		t, err := parseTimeFlag(fromStr)
		if err != nil {
			return rng, eris.Wrap(err, "--from")
		}
		rng.From = t
	}
	return rng, nil
}

// parseTimeFlag accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "start of range, inclusive (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().String("to", "", "end of range, exclusive (default now)")
	cmd.Flags().Duration("since", 30*24*time.Hour, "range length when --from is not set")
}

func init() {
	addRangeFlags(statsCmd)
	statsCmd.Flags().Bool("json", false, "print statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}
