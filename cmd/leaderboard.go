package main

import (
	"github.com/spf13/cobra"

	"github.com/viurl/verification-engine/internal/model"
)

var (
	leaderboardPeriod string
	leaderboardMetric string
	leaderboardLimit  int
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print a ranked leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		board, err := eng.Leaderboard.GetLeaderboard(ctx,
			model.Period(leaderboardPeriod), model.Metric(leaderboardMetric), leaderboardLimit)
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), map[string]any{
			"period":  leaderboardPeriod,
			"metric":  leaderboardMetric,
			"entries": board,
		})
	},
}

func init() {
	leaderboardCmd.Flags().StringVar(&leaderboardPeriod, "period", string(model.PeriodAllTime), "daily, weekly, monthly or allTime")
	leaderboardCmd.Flags().StringVar(&leaderboardMetric, "metric", string(model.MetricTokensEarned), "tokensEarned or trustScore")
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 0, "number of entries (default from config)")
	rootCmd.AddCommand(leaderboardCmd)
}
