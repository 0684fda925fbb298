package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trueup-cli/internal/model"
)

func TestEscalateOM(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	// 0.70 x 0.05 + 0.30 x 0.04 = 0.047
	out, err := eng.EscalateOM(
		decimal.RequireFromString("1000"),
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("0.04"),
	)
	require.NoError(t, err)

	assert.Equal(t, "0.047", out.BlendedRate.String())
	assert.Equal(t, "1047.00", out.Escalated.StringFixed(2))
	assert.Contains(t, out.Formula, "1000")
	assert.Equal(t, "Regulation 5.1 - O&M Escalation (CPI:WPI blend)", out.Clause)
}

func TestEscalateOM_NegativeIndexMovement(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	out, err := eng.EscalateOM(
		decimal.RequireFromString("1000"),
		decimal.RequireFromString("-0.02"),
		decimal.RequireFromString("-0.01"),
	)
	require.NoError(t, err)
	assert.Equal(t, "983.00", out.Escalated.StringFixed(2))
}

func TestEscalateOM_RejectsNegativeBase(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	_, err := eng.EscalateOM(decimal.RequireFromString("-1"), decimal.Zero, decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNegativeAmount)
}

func TestNormativeInterest(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	out, err := eng.NormativeInterest(decimal.RequireFromString("10000"))
	require.NoError(t, err)

	// 0.0850 + 0.02 = 0.105
	assert.Equal(t, "0.105", out.Rate.String())
	assert.Equal(t, "1050.00", out.Interest.StringFixed(2))
	assert.Equal(t, "Regulation 6.3 - Normative Interest (benchmark + spread)", out.Clause)
}

func TestNormativeInterest_RejectsNegative(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	_, err := eng.NormativeInterest(decimal.RequireFromString("-100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNegativeAmount)
}

func TestLossTarget(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	tests := []struct {
		scope model.Scope
		fy    string
		want  string
	}{
		{model.ScopeDistribution, "2022-23", "0.155"},
		{model.ScopeDistribution, "2026-27", "0.135"},
		{model.ScopeDistribution, "FY_2026-27", "0.135"},
		{model.ScopeDistribution, "2030-31", "0.14"},
		{model.ScopeTransmission, "2022-23", "0.04"},
	}
	for _, tt := range tests {
		got, err := eng.LossTarget(tt.scope, tt.fy)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "%s %s", tt.scope, tt.fy)
	}

	_, err := eng.LossTarget("SBU-X", "2022-23")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownScope)
}
