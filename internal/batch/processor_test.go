package batch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trueup-cli/internal/anomaly"
	"github.com/sells-group/trueup-cli/internal/audit"
	"github.com/sells-group/trueup-cli/internal/engine"
	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/rules"
	"github.com/sells-group/trueup-cli/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	eng, err := engine.New(rules.Default())
	require.NoError(t, err)

	return &Processor{
		Engine:  eng,
		Scorer:  anomaly.NewScorer(0.8, anomaly.DefaultMinSamples),
		Emitter: audit.NewEmitter(st),
	}, st
}

func verifiedInput(head model.CostHead, class model.VarianceClass, approved, actual string) model.CostInput {
	return model.CostInput{
		ID:            uuid.New().String(),
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

func TestProcessPetition(t *testing.T) {
	t.Parallel()
	p, st := newTestProcessor(t)
	ctx := context.Background()

	inputs := []model.CostInput{
		verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70"),
		verifiedInput(model.HeadOperations, model.ClassControllable, "100", "130"),
		verifiedInput(model.HeadPowerPurchase, model.ClassUncontrollable, "200", "250"),
	}

	report, err := p.ProcessPetition(ctx, inputs, BaselineSet{})
	require.NoError(t, err)
	assert.Equal(t, "KSERC-MYT-2022-27-v1.0", report.RuleVersion)
	require.Len(t, report.Lines, 3)
	assert.Zero(t, report.Rejected)

	assert.Equal(t, 3, report.Totals.Items)
	assert.Equal(t, "400", report.Totals.Approved.String())
	assert.Equal(t, "450", report.Totals.Actual.String())
	assert.Equal(t, "-50", report.Totals.RevenueGap.String())
	assert.Equal(t, "30", report.Totals.Disallowed.String())
	assert.Equal(t, "-40", report.Totals.PassedThrough.String())

	// Every line landed in the audit trail.
	records, err := st.ListAuditRecords(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestProcessPetition_RejectsBadLinesOnly(t *testing.T) {
	t.Parallel()
	p, st := newTestProcessor(t)
	ctx := context.Background()

	good := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	unverified := verifiedInput(model.HeadInterest, model.ClassControllable, "50", "40")
	unverified.HumanVerified = false
	badHead := verifiedInput("Fuel", model.ClassControllable, "10", "9")

	report, err := p.ProcessPetition(ctx, []model.CostInput{good, unverified, badHead}, BaselineSet{})
	require.NoError(t, err, "domain errors never abort the run")
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.Totals.Items)

	byID := map[string]LineOutcome{}
	for _, line := range report.Lines {
		byID[line.InputID] = line
	}
	assert.NotNil(t, byID[good.ID].Record)
	assert.Empty(t, byID[good.ID].Err)
	assert.Nil(t, byID[unverified.ID].Record)
	assert.NotEmpty(t, byID[unverified.ID].Err)
	assert.NotEmpty(t, byID[badHead.ID].Err)

	records, err := st.ListAuditRecords(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1, "only the good line is emitted")
}

func TestProcessPetition_ScoresAgainstBaseline(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "100000")
	baselines := BaselineSet{
		Key(model.ScopeDistribution, model.HeadOperations): {
			Scope: model.ScopeDistribution,
			Head:  model.HeadOperations,
			Samples: []decimal.Decimal{
				decimal.RequireFromString("98"),
				decimal.RequireFromString("99"),
				decimal.RequireFromString("100"),
				decimal.RequireFromString("101"),
				decimal.RequireFromString("102"),
			},
		},
	}

	report, err := p.ProcessPetition(ctx, []model.CostInput{in}, baselines)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	require.NotNil(t, report.Lines[0].Record)

	res := report.Lines[0].Record.Result
	assert.Contains(t, res.Flags, engine.HighAnomalyFlag)
	require.NotNil(t, res.InputSnapshot.AnomalyScore)
	assert.Equal(t, 1.0, *res.InputSnapshot.AnomalyScore)
	assert.NotEmpty(t, res.InputSnapshot.AnomalyReason)
}

func TestProcessPetition_MissingBaselineIsFine(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	report, err := p.ProcessPetition(context.Background(), []model.CostInput{in}, BaselineSet{})
	require.NoError(t, err)
	require.NotNil(t, report.Lines[0].Record)
	assert.Nil(t, report.Lines[0].Record.Result.InputSnapshot.AnomalyScore)
}

func TestProcessPetition_NoScorer(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)
	p.Scorer = nil

	in := verifiedInput(model.HeadOperations, model.ClassControllable, "100", "70")
	report, err := p.ProcessPetition(context.Background(), []model.CostInput{in}, nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.NotNil(t, report.Lines[0].Record)
}

func TestProcessPetition_Empty(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)

	report, err := p.ProcessPetition(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Lines)
	assert.Zero(t, report.Totals.Items)
}

func TestBaselineSet_Lookup(t *testing.T) {
	t.Parallel()

	set := BaselineSet{
		Key(model.ScopeDistribution, model.HeadOperations): {Scope: model.ScopeDistribution, Head: model.HeadOperations},
	}

	_, ok := set.Lookup(model.ScopeDistribution, model.HeadOperations)
	assert.True(t, ok)

	_, ok = set.Lookup(model.ScopeGeneration, model.HeadOperations)
	assert.False(t, ok)
}
