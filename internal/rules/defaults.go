package rules

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the KSERC MYT 2022-27 control period rule set per the
// 30.06.2025 Order: controllable gains shared 2/3 utility, 1/3 consumer;
// controllable losses fully borne by the utility; uncontrollable variances
// fully passed through. Used when no rules document is configured.
func Default() *RuleSet {
	return &RuleSet{
		Version:       "KSERC-MYT-2022-27-v1.0",
		OrderDate:     "30.06.2025",
		EffectiveFrom: "2022-23",
		EffectiveTo:   "2026-27",
		Escalation: EscalationWeights{
			CPI: d("0.70"),
			WPI: d("0.30"),
		},
		Sharing: SharingMechanism{
			ControllableGains: SharePair{
				Utility:  d("0.6666666667"),
				Consumer: d("0.3333333333"),
			},
			ControllableLosses: SharePair{
				Utility:  d("1.0"),
				Consumer: d("0"),
			},
			UncontrollableVariance: SharePair{
				Utility:  d("0"),
				Consumer: d("1.0"),
			},
		},
		LossTargets: map[string]LossTrajectory{
			string(model.ScopeDistribution): {
				Default: d("0.140"),
				ByYear: map[string]decimal.Decimal{
					"2022-23": d("0.155"),
					"2023-24": d("0.150"),
					"2024-25": d("0.145"),
					"2025-26": d("0.140"),
					"2026-27": d("0.135"),
				},
			},
			string(model.ScopeTransmission): {
				Default: d("0.040"),
			},
			string(model.ScopeGeneration): {
				Default: d("0.010"),
			},
		},
		Interest: InterestRules{
			Benchmark: d("0.0850"),
			Spread:    d("0.02"),
		},
		ROERate: d("0.155"),
	}
}

// DefaultRegistry wraps Default in a single-version registry.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry([]*RuleSet{Default()})
	if err != nil {
		// Default values are compile-time constants; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return reg
}
