package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/intake"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Check every candidate in a CSV file for duplicates",
	Long: `Reads candidates from a CSV with a header row and runs one duplicate check per row.

Recognized columns: name, email, phone, company, title (plus common aliases
such as "Email Address" or "Company Name"). Rows that fail validation are
reported and do not stop the batch.

Examples:
  dupcheck batch --csv import.csv --user U-123
  dupcheck batch --csv import.csv --user U-123 --action CONTACT_CREATE --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		path, _ := f.GetString("csv")
		user, _ := f.GetString("user")
		action, _ := f.GetString("action")
		concurrency, _ := f.GetInt("concurrency")
		delimiter, _ := f.GetString("delimiter")
		asJSON, _ := f.GetBool("json")

		opts := intake.CSVOptions{}
		if delimiter != "" {
			opts.Delimiter = []rune(delimiter)[0]
		}

		file, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", path)
		}
		defer file.Close() //nolint:errcheck

		rows, err := intake.ReadCandidates(ctx, file, opts)
		if err != nil {
			return eris.Wrap(err, "batch: parse csv")
		}
		zap.L().Info("parsed csv", zap.String("path", path), zap.Int("rows", len(rows)))

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes, summary := runBatch(ctx, env.Engine, rows, user, duplicate.Action(strings.ToUpper(action)), concurrency)
		if asJSON {
			return writeBatchJSON(os.Stdout, outcomes)
		}
		formatBatch(os.Stdout, outcomes, summary)
		return nil
	},
}

// batchOutcome is the result of checking one CSV row.
type batchOutcome struct {
	Line      int                      `json:"line"`
	Candidate duplicate.CandidateInput `json:"candidate"`
	Result    *duplicate.CheckResult   `json:"result,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

type batchSummary struct {
	Total  int
	Warned int64
	Clean  int64
	Failed int64
}

// runBatch checks rows with at most concurrency checks in flight. Outcomes are
// returned in input order. A failed row is recorded and does not abort the
// batch.
func runBatch(ctx context.Context, c checker, rows []intake.Row, user string, action duplicate.Action, concurrency int) ([]batchOutcome, batchSummary) {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	outcomes := make([]batchOutcome, len(rows))
	var warned, clean, failed atomic.Int64

	for i, row := range rows {
		g.Go(func() error {
			out := batchOutcome{Line: row.Line, Candidate: row.Candidate}
			res, err := c.CheckForDuplicates(gCtx, row.Candidate, user, action)
			switch {
			case err != nil:
				failed.Add(1)
				out.Error = err.Error()
				zap.L().Warn("batch: row failed", zap.Int("line", row.Line), zap.Error(err))
			case res.HasWarning:
				warned.Add(1)
				out.Result = res
			default:
				clean.Add(1)
				out.Result = res
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	summary := batchSummary{
		Total:  len(rows),
		Warned: warned.Load(),
		Clean:  clean.Load(),
		Failed: failed.Load(),
	}
	zap.L().Info("batch: complete",
		zap.Int("total", summary.Total),
		zap.Int64("warned", summary.Warned),
		zap.Int64("clean", summary.Clean),
		zap.Int64("failed", summary.Failed),
	)
	return outcomes, summary
}

// writeBatchJSON writes one compact JSON object per line.
func writeBatchJSON(w io.Writer, outcomes []batchOutcome) error {
	for _, o := range outcomes {
		b, err := json.Marshal(o)
		if err != nil {
			return eris.Wrap(err, "batch: marshal outcome")
		}
		if _, err := fmt.Fprintf(w, "%s\n", b); err != nil {
			return err
		}
	}
	return nil
}

func formatBatch(w io.Writer, outcomes []batchOutcome, s batchSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tCANDIDATE\tSEVERITY\tMATCHES\tWARNING")
	for _, o := range outcomes {
		label := candidateLabel(o.Candidate)
		switch {
		case o.Error != "":
			fmt.Fprintf(tw, "%d\t%s\tERROR\t-\t%s\n", o.Line, label, o.Error)
		case o.Result.HasWarning:
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", o.Line, label, o.Result.Severity, len(o.Result.Matches), o.Result.WarningID)
		default:
			fmt.Fprintf(tw, "%d\t%s\t-\t0\t-\n", o.Line, label)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d rows: %d with warnings, %d clean, %d failed\n", s.Total, s.Warned, s.Clean, s.Failed)
}

func candidateLabel(c duplicate.CandidateInput) string {
	for _, v := range []string{c.Email, c.Name, c.Company, c.Phone} {
		if v != "" {
			return v
		}
	}
	return "-"
}

func init() {
	f := batchCmd.Flags()
	f.String("csv", "", "path to the candidate CSV file")
	f.String("user", "", "ID of the user performing the import")
	f.String("action", string(duplicate.ActionLeadCreate), "triggering action applied to every row")
	f.Int("concurrency", 4, "number of concurrent checks")
	f.String("delimiter", "", "field delimiter (default ',')")
	f.Bool("json", false, "print one JSON object per row")
	_ = batchCmd.MarkFlagRequired("csv")
	_ = batchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(batchCmd)
}
