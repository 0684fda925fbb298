// Package anomaly flags statistically unusual actual values against a frozen
// historical baseline. Scores are advisory metadata: they attach to inputs
// and results but never block a computation.
package anomaly

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/model"
)

// BaselineInsufficientTag marks assessments made without enough history to
// say anything. The score is neutral, never an error.
const BaselineInsufficientTag = "BASELINE_INSUFFICIENT"

// DefaultMinSamples is the smallest baseline the scorer will trust.
const DefaultMinSamples = 5

// scoreScale converts a robust z-score to [0,1]: six robust deviations from
// the baseline median saturate the scale. A score of 0.8 (the flag reference
// value) therefore corresponds to z = 4.8.
var scoreScale = decimal.RequireFromString("6")

// madConsistency rescales MAD to the standard deviation of a normal
// distribution (1/0.6745).
var madConsistency = decimal.RequireFromString("1.4826")

// Baseline is an immutable per-(scope, head) snapshot of historical actuals.
// It is fixed for the duration of a batch so assessments stay reproducible.
type Baseline struct {
	Scope   model.Scope
	Head    model.CostHead
	Samples []decimal.Decimal
}

// Assessment is the advisory outcome of scoring one value.
type Assessment struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Scorer assigns outlier scores from a robust median/MAD measure.
// Deterministic: the same value and baseline snapshot always produce the
// same assessment.
type Scorer struct {
	Threshold  float64
	MinSamples int
}

// NewScorer builds a Scorer with the given flag threshold.
func NewScorer(threshold float64, minSamples int) *Scorer {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Scorer{Threshold: threshold, MinSamples: minSamples}
}

// Score places value within the baseline distribution and maps the robust
// z-score onto [0,1]. Below MinSamples it returns a neutral zero score with
// the BASELINE_INSUFFICIENT tag.
func (s *Scorer) Score(value decimal.Decimal, baseline Baseline) Assessment {
	if len(baseline.Samples) < s.MinSamples {
		return Assessment{
			Score: 0,
			Reasoning: fmt.Sprintf("%s: %d samples for %s/%s, need %d",
				BaselineInsufficientTag, len(baseline.Samples), baseline.Scope, baseline.Head, s.MinSamples),
		}
	}

	med := median(baseline.Samples)
	dev := value.Sub(med).Abs()

	spread := mad(baseline.Samples, med).Mul(madConsistency)
	if spread.IsZero() {
		// Degenerate baseline: every sample identical. Any deviation at all
		// is maximally surprising.
		if dev.IsZero() {
			return Assessment{Score: 0}
		}
		return Assessment{
			Score: 1,
			Reasoning: fmt.Sprintf("value %s deviates from a constant baseline of %s for %s/%s",
				value, med, baseline.Scope, baseline.Head),
		}
	}

	z := dev.Div(spread)
	score := clampScore(z.Div(scoreScale))

	a := Assessment{Score: score}
	if score > s.Threshold {
		z4 := z.Round(4)
		a.Reasoning = fmt.Sprintf("value %s is %s robust deviations from the %s/%s baseline median %s (n=%d)",
			value, z4, baseline.Scope, baseline.Head, med, len(baseline.Samples))
	}
	return a
}

func clampScore(d decimal.Decimal) float64 {
	one := decimal.New(1, 0)
	if d.GreaterThan(one) {
		return 1
	}
	// Fixed precision keeps the float conversion stable across runs.
	f, _ := d.Round(4).Float64()
	return f
}

func median(samples []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.New(2, 0))
}

// mad is the median absolute deviation around center.
func mad(samples []decimal.Decimal, center decimal.Decimal) decimal.Decimal {
	devs := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		devs[i] = s.Sub(center).Abs()
	}
	return median(devs)
}
