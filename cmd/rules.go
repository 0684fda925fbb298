package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/trueup-cli/internal/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the loaded regulatory rule sets",
}

var rulesVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List loaded rule set versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		for _, v := range env.registry.Versions() {
			fmt.Println(v)
		}
		return nil
	},
}

var normativeYear string

var normativeCmd = &cobra.Command{
	Use:   "normative",
	Short: "Normative computations under the effective rule set",
}

var (
	escalateBase string
	escalateCPI  string
	escalateWPI  string
)

var normativeEscalateCmd = &cobra.Command{
	Use:   "escalate-om",
	Short: "Escalate an O&M base by the blended CPI:WPI change",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.engineFor(normativeYear)
		if err != nil {
			return err
		}

		base, err := decimal.NewFromString(escalateBase)
		if err != nil {
			return fmt.Errorf("parse base: %w", err)
		}
		cpi, err := decimal.NewFromString(escalateCPI)
		if err != nil {
			return fmt.Errorf("parse cpi: %w", err)
		}
		wpi, err := decimal.NewFromString(escalateWPI)
		if err != nil {
			return fmt.Errorf("parse wpi: %w", err)
		}

		out, err := eng.EscalateOM(base, cpi, wpi)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", out.Formula, out.Escalated.StringFixed(2))
		return nil
	},
}

var interestOutstanding string

var normativeInterestCmd = &cobra.Command{
	Use:   "interest",
	Short: "Compute normative carrying cost on an outstanding amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.engineFor(normativeYear)
		if err != nil {
			return err
		}

		outstanding, err := decimal.NewFromString(interestOutstanding)
		if err != nil {
			return fmt.Errorf("parse outstanding: %w", err)
		}

		out, err := eng.NormativeInterest(outstanding)
		if err != nil {
			return err
		}
		fmt.Printf("rate=%s interest=%s\n", out.Rate.String(), out.Interest.StringFixed(2))
		return nil
	},
}

var lossTargetScope string

var normativeLossTargetCmd = &cobra.Command{
	Use:   "loss-target",
	Short: "Show the T&D loss trajectory target for a scope and year",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.engineFor(normativeYear)
		if err != nil {
			return err
		}

		target, err := eng.LossTarget(model.Scope(lossTargetScope), normativeYear)
		if err != nil {
			return err
		}
		fmt.Println(target.String())
		return nil
	},
}

func init() {
	normativeCmd.PersistentFlags().StringVar(&normativeYear, "year", "", "fiscal year (e.g. 2022-23)")
	normativeCmd.MarkPersistentFlagRequired("year") //nolint:errcheck

	normativeEscalateCmd.Flags().StringVar(&escalateBase, "base", "", "approved O&M base amount")
	normativeEscalateCmd.Flags().StringVar(&escalateCPI, "cpi", "", "fractional CPI change (e.g. 0.05)")
	normativeEscalateCmd.Flags().StringVar(&escalateWPI, "wpi", "", "fractional WPI change (e.g. 0.04)")
	normativeEscalateCmd.MarkFlagRequired("base") //nolint:errcheck
	normativeEscalateCmd.MarkFlagRequired("cpi")  //nolint:errcheck
	normativeEscalateCmd.MarkFlagRequired("wpi")  //nolint:errcheck

	normativeInterestCmd.Flags().StringVar(&interestOutstanding, "outstanding", "", "outstanding principal amount")
	normativeInterestCmd.MarkFlagRequired("outstanding") //nolint:errcheck

	normativeLossTargetCmd.Flags().StringVar(&lossTargetScope, "scope", "SBU-D", "SBU scope")

	normativeCmd.AddCommand(normativeEscalateCmd)
	normativeCmd.AddCommand(normativeInterestCmd)
	normativeCmd.AddCommand(normativeLossTargetCmd)

	rulesCmd.AddCommand(rulesVersionsCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(normativeCmd)
}
