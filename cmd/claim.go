package main

import (
	"time"

	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim <user-id>",
	Short: "Claim today's daily bonus for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		res, err := eng.Tracker.ClaimDailyBonus(ctx, args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), map[string]any{
			"user_id":        args[0],
			"claim_date":     res.ClaimDate.Format(time.DateOnly),
			"amount_awarded": res.AmountAwarded,
			"new_streak":     res.NewStreak,
			"new_balance":    res.NewBalance,
		})
	},
}

func init() {
	rootCmd.AddCommand(claimCmd)
}
