package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/anomaly"
	"github.com/sells-group/trueup-cli/internal/batch"
	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/store"
)

var (
	computeScope   string
	computeYear    string
	computeNoScore bool
	computeJSON    bool
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Run the truing-up computation over verified inputs",
	Long:  "Loads every human-verified cost input for the scope and fiscal year, applies the effective sharing rules, and emits one checksummed audit record per line. Inputs that fail validation are reported and skipped; the rest of the petition still completes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.engineFor(computeYear)
		if err != nil {
			return err
		}

		inputs, err := env.store.ListVerifiedInputs(ctx, model.Scope(computeScope), computeYear)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			fmt.Println("no verified inputs for this scope and year")
			return nil
		}

		baselines, err := loadBaselines(ctx, env.store, inputs)
		if err != nil {
			return err
		}

		proc := &batch.Processor{
			Engine:      eng,
			Emitter:     env.emitter,
			Concurrency: cfg.Batch.Concurrency,
		}
		if !computeNoScore {
			proc.Scorer = anomaly.NewScorer(cfg.Anomaly.Threshold, cfg.Anomaly.MinSamples)
		}

		report, err := proc.ProcessPetition(ctx, inputs, baselines)
		if err != nil {
			return err
		}

		if computeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printReport(report)
		return nil
	},
}

// loadBaselines fetches historical samples for every (scope, head) pair
// present in the petition. Missing baselines are fine; scoring degrades to
// the insufficient-history path.
func loadBaselines(ctx context.Context, st store.Store, inputs []model.CostInput) (batch.BaselineSet, error) {
	set := batch.BaselineSet{}
	for _, in := range inputs {
		key := batch.Key(in.Scope, in.Head)
		if _, ok := set[key]; ok {
			continue
		}
		samples, err := st.GetBaselineSamples(ctx, in.Scope, in.Head)
		if err != nil {
			return nil, err
		}
		set[key] = anomaly.Baseline{Scope: in.Scope, Head: in.Head, Samples: samples}
	}
	return set, nil
}

func printReport(report *batch.PetitionReport) {
	fmt.Printf("rule version: %s\n", report.RuleVersion)
	for _, line := range report.Lines {
		if line.Err != "" {
			fmt.Printf("  %s  REJECTED: %s\n", line.InputID, line.Err)
			continue
		}
		r := line.Record.Result
		fmt.Printf("  %s  %-18s %-14s variance=%s utility=%s consumer=%s\n",
			line.InputID, r.Head, r.Class,
			r.Variance.StringFixed(2), r.UtilityImpact.StringFixed(2), r.ConsumerImpact.StringFixed(2))
	}
	t := report.Totals
	fmt.Printf("totals: approved=%s actual=%s gap=%s disallowed=%s passed_through=%s (items=%d rejected=%d)\n",
		t.Approved.StringFixed(2), t.Actual.StringFixed(2), t.RevenueGap.StringFixed(2),
		t.Disallowed.StringFixed(2), t.PassedThrough.StringFixed(2),
		t.Items, report.Rejected)
	if report.Rejected > 0 {
		zap.L().Warn("petition completed with rejected lines", zap.Int("rejected", report.Rejected))
	}
}

func init() {
	computeCmd.Flags().StringVar(&computeScope, "scope", "", "SBU scope (SBU-G, SBU-T, SBU-D)")
	computeCmd.Flags().StringVar(&computeYear, "year", "", "fiscal year (e.g. 2022-23)")
	computeCmd.Flags().BoolVar(&computeNoScore, "no-score", false, "skip advisory anomaly scoring")
	computeCmd.Flags().BoolVar(&computeJSON, "json", false, "print the full report as JSON")
	computeCmd.MarkFlagRequired("scope") //nolint:errcheck
	computeCmd.MarkFlagRequired("year")  //nolint:errcheck
	rootCmd.AddCommand(computeCmd)
}
