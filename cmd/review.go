package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/trueup-cli/internal/gate"
	"github.com/sells-group/trueup-cli/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending mapping suggestions",
}

var (
	reviewScope string
	reviewYear  string
)

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List suggestions awaiting a decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pending, err := env.gate.Pending(ctx, model.Scope(reviewScope), reviewYear)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			fmt.Println("no pending suggestions")
			return nil
		}
		for _, sg := range pending {
			fmt.Printf("%s  %-6s %-10s %-24s -> %s/%s (%.2f)\n",
				sg.ID, sg.Scope, sg.FiscalYear, sg.SourceField,
				sg.SuggestedHead, sg.SuggestedClass, sg.Confidence)
		}
		return nil
	},
}

var (
	decideStatus        string
	decideComment       string
	decideActor         string
	decideOverrideHead  string
	decideOverrideClass string
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <suggestion-id>",
	Short: "Confirm, override or reject a suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sg, err := env.gate.Decide(ctx, gate.DecisionRequest{
			SuggestionID:  args[0],
			Decision:      model.MappingStatus(decideStatus),
			OverrideHead:  decideOverrideHead,
			OverrideClass: decideOverrideClass,
			Comment:       decideComment,
			ActorID:       decideActor,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s is now %s\n", sg.ID, sg.Status)
		return nil
	},
}

var reviewLogCmd = &cobra.Command{
	Use:   "log <suggestion-id>",
	Short: "Show the decision history of a suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.gate.Decisions(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	reviewPendingCmd.Flags().StringVar(&reviewScope, "scope", "", "filter by SBU scope (SBU-G, SBU-T, SBU-D)")
	reviewPendingCmd.Flags().StringVar(&reviewYear, "year", "", "filter by fiscal year (e.g. 2022-23)")

	reviewDecideCmd.Flags().StringVar(&decideStatus, "status", "", "decision: Confirmed, Overridden or Rejected")
	reviewDecideCmd.Flags().StringVar(&decideComment, "comment", "", "officer comment (mandatory for override and reject)")
	reviewDecideCmd.Flags().StringVar(&decideActor, "actor", "", "deciding officer id")
	reviewDecideCmd.Flags().StringVar(&decideOverrideHead, "override-head", "", "replacement cost head when overriding")
	reviewDecideCmd.Flags().StringVar(&decideOverrideClass, "override-class", "", "replacement variance class when overriding")
	reviewDecideCmd.MarkFlagRequired("status") //nolint:errcheck
	reviewDecideCmd.MarkFlagRequired("actor")  //nolint:errcheck

	reviewCmd.AddCommand(reviewPendingCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	reviewCmd.AddCommand(reviewLogCmd)
	rootCmd.AddCommand(reviewCmd)
}
