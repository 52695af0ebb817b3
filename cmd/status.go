package main

import (
	"github.com/spf13/cobra"
)

var statusVerdicts bool

var statusCmd = &cobra.Command{
	Use:   "status <post-id>",
	Short: "Show a post's verification status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		st, err := eng.Workflow.GetVerificationStatus(ctx, args[0])
		if err != nil {
			return err
		}
		out := map[string]any{
			"post_id":            st.PostID,
			"aggregate_status":   string(st.AggregateStatus),
			"verification_count": st.VerificationCount,
			"consensus_score":    st.ConsensusScore,
		}
		if statusVerdicts {
			verdicts, err := eng.Workflow.ListVerdicts(ctx, args[0])
			if err != nil {
				return err
			}
			rows := make([]map[string]any, len(verdicts))
			for i, v := range verdicts {
				rows[i] = map[string]any{
					"verifier_id": v.VerifierID,
					"verdict":     string(v.Verdict),
					"sources":     v.Sources,
					"settled":     v.Settled,
				}
			}
			out["verdicts"] = rows
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusVerdicts, "verdicts", false, "include individual verdicts")
	rootCmd.AddCommand(statusCmd)
}
