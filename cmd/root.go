package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "viurl-engine",
	Short: "Verification and token economy engine",
	Long:  "Accepts crowd verdicts on posts, resolves consensus, settles token and trust consequences, awards daily bonuses and serves leaderboards.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
