package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dupcheck",
	Short: "Duplicate detection for CRM leads and pipeline items",
	Long:  "Checks contacts, leads, and pipeline items against existing CRM records before they are written, grades the risk, and records what users decide.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
