package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/report"
)

const exportPageSize = 500

type warningLister interface {
	ListWarnings(ctx context.Context, f duplicate.WarningFilter) ([]duplicate.Warning, error)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export duplicate warnings and decisions to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rng, err := rangeFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		severity, _ := cmd.Flags().GetString("severity")
		pending, _ := cmd.Flags().GetBool("pending")

		filter := duplicate.WarningFilter{
			From:     rng.From,
			To:       rng.To,
			Severity: duplicate.Severity(strings.ToUpper(severity)),
			Pending:  pending,
		}
		if filter.Severity != "" && !filter.Severity.Valid() {
			return eris.Errorf("unknown severity %q", severity)
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := runExport(ctx, env.Store, out, filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d warnings to %s\n", n, out)
		return nil
	},
}

func runExport(ctx context.Context, l warningLister, path string, filter duplicate.WarningFilter) (int, error) {
	warnings, err := collectWarnings(ctx, l, filter)
	if err != nil {
		return 0, err
	}
	if err := report.SaveWarnings(path, warnings); err != nil {
		return 0, err
	}
	zap.L().Info("exported warnings", zap.Int("count", len(warnings)), zap.String("path", path))
	return len(warnings), nil
}

// collectWarnings pages through ListWarnings until a short page.
func collectWarnings(ctx context.Context, l warningLister, filter duplicate.WarningFilter) ([]duplicate.Warning, error) {
	var all []duplicate.Warning
	filter.Limit = exportPageSize
	for {
		page, err := l.ListWarnings(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "export: list warnings")
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

func init() {
	addRangeFlags(exportCmd)
	exportCmd.Flags().String("out", "duplicate-warnings.xlsx", "output workbook path")
	exportCmd.Flags().String("severity", "", "only export warnings of this severity")
	exportCmd.Flags().Bool("pending", false, "only export warnings without a decision")
	rootCmd.AddCommand(exportCmd)
}
