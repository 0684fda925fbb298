// Package engine is the single source of financial truth for truing-up
// computations. Compute is a pure function of a verified cost input and a
// versioned rule set: no I/O, no randomness, no clock in numeric fields.
// Every failure here is a caller bug, surfaced immediately and never retried.
package engine

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/rules"
)

// ErrNotVerified is the hard boundary enforcing human authority: an input
// that never passed the verification gate cannot be computed.
var ErrNotVerified = eris.New("engine: input not human-verified")

// HighAnomalyFlag marks results whose input carried an anomaly score above
// the engine threshold. Advisory only; it never alters the arithmetic.
const HighAnomalyFlag = "HIGH_ANOMALY_FLAG"

// minorUnitPlaces is the currency's minor unit. Rounding is half-away-from-
// zero and applied once, at result assembly, to amounts produced by share
// multiplication; copied exact values are never re-rounded.
const minorUnitPlaces = 2

// defaultAnomalyThreshold matches the regulatory reference value.
const defaultAnomalyThreshold = 0.8

// Engine computes variance decompositions under one rule set. Stateless
// after construction and safe for concurrent use.
type Engine struct {
	rs               *rules.RuleSet
	anomalyThreshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnomalyThreshold overrides the score above which results are flagged.
func WithAnomalyThreshold(t float64) Option {
	return func(e *Engine) { e.anomalyThreshold = t }
}

// New validates the rule set and constructs an Engine. An invalid sharing
// configuration is rejected here, before any record is computed.
func New(rs *rules.RuleSet, opts ...Option) (*Engine, error) {
	if rs == nil {
		return nil, eris.New("engine: nil rule set")
	}
	if err := rs.Validate(); err != nil {
		return nil, eris.Wrap(err, "engine: rule set")
	}
	e := &Engine{rs: rs, anomalyThreshold: defaultAnomalyThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RuleVersion returns the version of the active rule set.
func (e *Engine) RuleVersion() string { return e.rs.Version }

// Compute applies the gain/loss sharing rules to one verified cost input.
//
// Controllable gains are shared per the controllable_gains pair; controllable
// losses are fully disallowed per the controllable_losses pair; uncontrollable
// variances pass through to the consumer in either direction.
func (e *Engine) Compute(in model.CostInput) (model.VarianceResult, error) {
	if !in.HumanVerified {
		return model.VarianceResult{}, eris.Wrapf(ErrNotVerified,
			"input %s: head %s actual %s", in.ID, in.Head, in.Actual)
	}
	if err := in.Validate(); err != nil {
		return model.VarianceResult{}, err
	}

	variance := in.Approved.Sub(in.Actual)
	isGain := !variance.IsNegative()
	magnitude := variance.Abs()

	pair := e.rs.PairFor(in.Class, isGain)
	utilityImpact := magnitude.Mul(pair.Utility).Round(minorUnitPlaces)
	consumerImpact := magnitude.Mul(pair.Consumer).Round(minorUnitPlaces)

	var (
		disallowed     = decimal.Zero
		passedThrough  = decimal.Zero
		disallowReason string
		logic          string
		clause         string
	)

	switch {
	case in.Class == model.ClassUncontrollable:
		// Full pass-through, gain or loss; the signed variance itself is the
		// consumer-side amount, copied exact.
		passedThrough = variance
		logic = fmt.Sprintf("Uncontrollable Variance: %s fully passed through to Consumer (100%% recovery).", variance)
		clause = "Regulation 9.4 - Uncontrollable Pass-Through"
	case isGain:
		passedThrough = consumerImpact
		logic = fmt.Sprintf("Controllable Gain: Savings of %s shared %s to Utility, %s to Consumer.",
			magnitude, utilityImpact, consumerImpact)
		clause = "Regulation 9.2 - Controllable Gains Sharing"
	default:
		disallowed = magnitude
		disallowReason = fmt.Sprintf("Controllable Loss of %s fully disallowed per Regulation 9.3; 100%% borne by Utility. No pass-through to consumers.", magnitude)
		logic = fmt.Sprintf("Controllable Loss: Excess of %s fully disallowed (100%% borne by Utility).", magnitude)
		clause = "Regulation 9.3 - Controllable Loss Disallowance"
	}

	scenario := fmt.Sprintf("%s Loss Sharing", in.Head)
	if isGain {
		scenario = fmt.Sprintf("%s Gain Sharing", in.Head)
	}

	var flags []string
	if in.AnomalyScore != nil && *in.AnomalyScore > e.anomalyThreshold {
		flags = append(flags, HighAnomalyFlag)
	}

	return model.VarianceResult{
		Scope:          in.Scope,
		FiscalYear:     in.FiscalYear,
		Head:           in.Head,
		Class:          in.Class,
		Scenario:       scenario,
		Approved:       in.Approved,
		Actual:         in.Actual,
		Variance:       variance,
		UtilityImpact:  utilityImpact,
		ConsumerImpact: consumerImpact,
		Disallowed:     disallowed,
		PassedThrough:  passedThrough,
		DisallowReason: disallowReason,
		LogicApplied:   logic,
		Reference: model.RegulatoryRef{
			Clause:      clause,
			Description: fmt.Sprintf("KSERC MYT Framework: %s %s", in.Class, in.Head),
			OrderDate:   e.rs.OrderDate,
			RuleVersion: e.rs.Version,
		},
		Flags:         flags,
		InputSnapshot: in.Clone(),
	}, nil
}
