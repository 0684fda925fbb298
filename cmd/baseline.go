package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/model"
)

// baselineEntry is one (scope, head) history in the load file.
type baselineEntry struct {
	Scope   model.Scope       `json:"scope"`
	Head    model.CostHead    `json:"cost_head"`
	Samples []decimal.Decimal `json:"samples"`
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage historical baselines for anomaly scoring",
}

var baselineLoadCmd = &cobra.Command{
	Use:   "load <file.json>",
	Short: "Load historical samples per scope and cost head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var entries []baselineEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		for _, e := range entries {
			if !e.Scope.Valid() {
				return eris.Wrapf(model.ErrUnknownScope, "%q", string(e.Scope))
			}
			if !e.Head.Valid() {
				return eris.Wrapf(model.ErrUnknownHead, "%q", string(e.Head))
			}
			if err := env.store.PutBaselineSamples(ctx, e.Scope, e.Head, e.Samples); err != nil {
				return err
			}
			zap.L().Info("baseline loaded",
				zap.String("scope", string(e.Scope)),
				zap.String("head", string(e.Head)),
				zap.Int("samples", len(e.Samples)),
			)
		}

		fmt.Printf("loaded %d baselines\n", len(entries))
		return nil
	},
}

var (
	baselineShowScope string
	baselineShowHead  string
)

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored samples for one scope and cost head",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		samples, err := env.store.GetBaselineSamples(ctx, model.Scope(baselineShowScope), model.CostHead(baselineShowHead))
		if err != nil {
			return err
		}

		for _, s := range samples {
			fmt.Println(s.String())
		}
		fmt.Printf("%d samples\n", len(samples))
		return nil
	},
}

func init() {
	baselineShowCmd.Flags().StringVar(&baselineShowScope, "scope", "", "SBU scope (SBU-G, SBU-T, SBU-D)")
	baselineShowCmd.Flags().StringVar(&baselineShowHead, "head", "", "cost head (e.g. O&M)")
	baselineShowCmd.MarkFlagRequired("scope") //nolint:errcheck
	baselineShowCmd.MarkFlagRequired("head")  //nolint:errcheck

	baselineCmd.AddCommand(baselineLoadCmd)
	baselineCmd.AddCommand(baselineShowCmd)
	rootCmd.AddCommand(baselineCmd)
}
