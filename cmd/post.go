package main

import (
	"github.com/spf13/cobra"

	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/verification"
)

var (
	postAuthor        string
	verifyVerifier    string
	verifyVerdict     string
	verifySources     []string
	verifyExplanation string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Register posts and submit verdicts",
}

var postCreateCmd = &cobra.Command{
	Use:   "create <post-id>",
	Short: "Register a post so it can collect verdicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		p, err := eng.Workflow.CreatePost(ctx, args[0], postAuthor)
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), map[string]any{
			"post_id":          p.ID,
			"author_id":        p.AuthorID,
			"aggregate_status": string(p.AggregateStatus),
		})
	},
}

var postVerifyCmd = &cobra.Command{
	Use:   "verify <post-id>",
	Short: "Submit a verdict on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := openEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		receipt, err := eng.Workflow.SubmitVerdict(ctx, verification.Submission{
			VerifierID:  verifyVerifier,
			PostID:      args[0],
			Verdict:     model.VerdictKind(verifyVerdict),
			Sources:     verifySources,
			Explanation: verifyExplanation,
		})
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), map[string]any{
			"status":             "accepted",
			"aggregate_status":   string(receipt.AggregateStatus),
			"verification_count": receipt.VerificationCount,
			"tokens_awarded":     receipt.TokensAwarded,
			"verifier_balance":   receipt.VerifierBalance,
		})
	},
}

func init() {
	postCreateCmd.Flags().StringVar(&postAuthor, "author", "", "author user id")
	_ = postCreateCmd.MarkFlagRequired("author")

	postVerifyCmd.Flags().StringVar(&verifyVerifier, "verifier", "", "verifier user id")
	postVerifyCmd.Flags().StringVar(&verifyVerdict, "verdict", "", "true, false, misleading or partially_true")
	postVerifyCmd.Flags().StringSliceVar(&verifySources, "source", nil, "source URL (repeatable)")
	postVerifyCmd.Flags().StringVar(&verifyExplanation, "explanation", "", "why the verdict holds")
	_ = postVerifyCmd.MarkFlagRequired("verifier")
	_ = postVerifyCmd.MarkFlagRequired("verdict")

	postCmd.AddCommand(postCreateCmd, postVerifyCmd)
	rootCmd.AddCommand(postCmd)
}
