package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/rules"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(rules.Default(), opts...)
	require.NoError(t, err)
	return eng
}

func verifiedInput(head model.CostHead, class model.VarianceClass, approved, actual string) model.CostInput {
	return model.CostInput{
		ID:            "in-1",
		Head:          head,
		Class:         class,
		Scope:         model.ScopeDistribution,
		FiscalYear:    "2022-23",
		Approved:      decimal.RequireFromString(approved),
		Actual:        decimal.RequireFromString(actual),
		HumanVerified: true,
		VerifiedBy:    "officer-7",
	}
}

func TestCompute_ControllableGainSharing(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	res, err := eng.Compute(in)
	require.NoError(t, err)

	assert.Equal(t, "30", res.Variance.String())
	assert.Equal(t, "20", res.UtilityImpact.String())
	assert.Equal(t, "10", res.ConsumerImpact.String())
	assert.Equal(t, "10", res.PassedThrough.String())
	assert.True(t, res.Disallowed.IsZero())
	assert.Empty(t, res.DisallowReason)
	assert.Equal(t, "O&M Gain Sharing", res.Scenario)
	assert.Equal(t, "Regulation 9.2 - Controllable Gains Sharing", res.Reference.Clause)
}

func TestCompute_ControllableLossDisallowed(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "130")
	res, err := eng.Compute(in)
	require.NoError(t, err)

	assert.Equal(t, "-30", res.Variance.String())
	assert.Equal(t, "30", res.Disallowed.String())
	assert.Equal(t, "30", res.UtilityImpact.String())
	assert.True(t, res.ConsumerImpact.IsZero())
	assert.True(t, res.PassedThrough.IsZero())
	assert.NotEmpty(t, res.DisallowReason)
	assert.Equal(t, "O&M Loss Sharing", res.Scenario)
	assert.Equal(t, "Regulation 9.3 - Controllable Loss Disallowance", res.Reference.Clause)
}

func TestCompute_UncontrollablePassThrough(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	t.Run("loss passes through signed", func(t *testing.T) {
		t.Parallel()
		in := verifiedInput(model.HeadPowerPurchase, model.ClassUncontrollable, "100", "180")
		res, err := eng.Compute(in)
		require.NoError(t, err)

		assert.Equal(t, "-80", res.Variance.String())
		assert.True(t, res.PassedThrough.Equal(res.Variance))
		assert.True(t, res.Disallowed.IsZero())
		assert.Equal(t, "Regulation 9.4 - Uncontrollable Pass-Through", res.Reference.Clause)
	})

	t.Run("sub-minor-unit variance keeps exact value", func(t *testing.T) {
		t.Parallel()
		in := verifiedInput(model.HeadPowerPurchase, model.ClassUncontrollable, "100.55", "100.56")
		res, err := eng.Compute(in)
		require.NoError(t, err)

		assert.Equal(t, "-0.01", res.Variance.String())
		assert.True(t, res.PassedThrough.Equal(res.Variance))
	})
}

func TestCompute_ZeroVarianceIsGainPath(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	in := verifiedInput(model.HeadDepreciation, model.ClassControllable, "50", "50")
	res, err := eng.Compute(in)
	require.NoError(t, err)

	assert.True(t, res.Variance.IsZero())
	assert.True(t, res.UtilityImpact.IsZero())
	assert.True(t, res.ConsumerImpact.IsZero())
	assert.True(t, res.Disallowed.IsZero())
	assert.Equal(t, "Depreciation Gain Sharing", res.Scenario)
}

func TestCompute_RejectsUnverifiedInput(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	in.HumanVerified = false

	_, err := eng.Compute(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotVerified)
}

func TestCompute_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		mutate  func(*model.CostInput)
		wantErr error
	}{
		{"unknown head", func(in *model.CostInput) { in.Head = "Fuel" }, model.ErrUnknownHead},
		{"unknown class", func(in *model.CostInput) { in.Class = "Mixed" }, model.ErrUnknownClass},
		{"unknown scope", func(in *model.CostInput) { in.Scope = "SBU-X" }, model.ErrUnknownScope},
		{"negative approved", func(in *model.CostInput) { in.Approved = decimal.RequireFromString("-1") }, model.ErrNegativeAmount},
		{"negative actual", func(in *model.CostInput) { in.Actual = decimal.RequireFromString("-1") }, model.ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
			tt.mutate(&in)

			_, err := eng.Compute(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompute_AnomalyFlagIsAdvisory(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	high := 0.95
	flagged := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	flagged.AnomalyScore = &high

	res, err := eng.Compute(flagged)
	require.NoError(t, err)
	assert.Contains(t, res.Flags, HighAnomalyFlag)

	// Identical arithmetic with and without the flag.
	plain, err := eng.Compute(verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70"))
	require.NoError(t, err)
	assert.True(t, res.UtilityImpact.Equal(plain.UtilityImpact))
	assert.True(t, res.ConsumerImpact.Equal(plain.ConsumerImpact))

	low := 0.5
	unflagged := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	unflagged.AnomalyScore = &low
	res, err = eng.Compute(unflagged)
	require.NoError(t, err)
	assert.Empty(t, res.Flags)
}

func TestCompute_ThresholdOption(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t, WithAnomalyThreshold(0.5))

	score := 0.6
	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	in.AnomalyScore = &score

	res, err := eng.Compute(in)
	require.NoError(t, err)
	assert.Contains(t, res.Flags, HighAnomalyFlag)
}

func TestCompute_Idempotent(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	in := verifiedInput(model.HeadInterest, model.ClassControllable, "1234.56", "1100.01")
	first, err := eng.Compute(in)
	require.NoError(t, err)
	second, err := eng.Compute(in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompute_SnapshotIsIsolated(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	score := 0.3
	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	in.AnomalyScore = &score

	res, err := eng.Compute(in)
	require.NoError(t, err)

	score = 0.99
	assert.Equal(t, 0.3, *res.InputSnapshot.AnomalyScore)
}

func TestCompute_FractionalShareRounding(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	// 10 / 3 = 3.333... rounds half away from zero at two places.
	in := verifiedInput(model.HeadOperations, model.ClassControllable, "110", "100")
	res, err := eng.Compute(in)
	require.NoError(t, err)

	assert.Equal(t, "6.67", res.UtilityImpact.StringFixed(2))
	assert.Equal(t, "3.33", res.ConsumerImpact.StringFixed(2))
}

func TestNew_RejectsInvalidRuleSet(t *testing.T) {
	t.Parallel()

	rs := rules.Default()
	rs.Sharing.ControllableGains.Utility = decimal.RequireFromString("0.5")

	_, err := New(rs)
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrInvalidShareConfig)

	_, err = New(nil)
	require.Error(t, err)
}
