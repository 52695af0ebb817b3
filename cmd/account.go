package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/viurl/verification-engine/internal/model"
)

var accountHistory int

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and open user accounts",
}

var accountShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show balance, trust score and badge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		u, err := eng.Ledger.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		out := accountView(u)
		if accountHistory > 0 {
			entries, err := eng.Ledger.History(ctx, args[0], accountHistory)
			if err != nil {
				return err
			}
			rows := make([]map[string]any, len(entries))
			for i, e := range entries {
				rows[i] = map[string]any{
					"token_delta": e.TokenDelta,
					"trust_delta": e.TrustDelta,
					"reason":      e.Reason,
					"created_at":  e.CreatedAt.Format(time.RFC3339),
				}
			}
			out["history"] = rows
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

var accountOpenCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Register a user with default balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		u, err := eng.Ledger.OpenAccount(ctx, args[0])
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), accountView(u))
	},
}

func accountView(u *model.User) map[string]any {
	out := map[string]any{
		"user_id":                u.ID,
		"token_balance":          u.TokenBalance,
		"trust_score":            u.TrustScore,
		"verification_badge":     string(u.Badge),
		"login_streak":           u.LoginStreak,
		"total_verifications":    u.TotalVerifications,
		"accurate_verifications": u.AccurateVerifications,
	}
	if u.LastDailyClaimDate != nil {
		out["last_daily_claim_date"] = u.LastDailyClaimDate.Format(time.DateOnly)
	}
	return out
}

func init() {
	accountShowCmd.Flags().IntVar(&accountHistory, "history", 0, "include this many recent ledger entries")
	accountCmd.AddCommand(accountShowCmd, accountOpenCmd)
	rootCmd.AddCommand(accountCmd)
}
