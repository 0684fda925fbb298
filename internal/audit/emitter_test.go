package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/store"
)

func newTestEmitter(t *testing.T) (*Emitter, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewEmitter(st), st
}

func sampleResult(head model.CostHead, approved, actual, variance string) model.VarianceResult {
	return model.VarianceResult{
		Scope:      model.ScopeDistribution,
		FiscalYear: "2022-23",
		Head:       head,
		Class:      model.ClassControllable,
		Scenario:   "O&M Gain Sharing",
		Approved:   decimal.RequireFromString(approved),
		Actual:     decimal.RequireFromString(actual),
		Variance:   decimal.RequireFromString(variance),
		Reference: model.RegulatoryRef{
			Clause:      "Regulation 9.2 - Controllable Gains Sharing",
			RuleVersion: "KSERC-MYT-2022-27-v1.0",
		},
	}
}

func TestChecksum_Reproducible(t *testing.T) {
	t.Parallel()

	res := sampleResult(model.HeadOperations, "100", "70", "30")
	first, err := Checksum(model.AuditSchemaVersion, "", res)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Checksum(model.AuditSchemaVersion, "", res)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Len(t, first, 64)
}

func TestChecksum_SensitiveToContent(t *testing.T) {
	t.Parallel()

	base := sampleResult(model.HeadOperations, "100", "70", "30")
	baseSum, err := Checksum(model.AuditSchemaVersion, "", base)
	require.NoError(t, err)

	changed := sampleResult(model.HeadOperations, "100", "70.01", "29.99")
	changedSum, err := Checksum(model.AuditSchemaVersion, "", changed)
	require.NoError(t, err)
	assert.NotEqual(t, baseSum, changedSum)

	linked, err := Checksum(model.AuditSchemaVersion, "some-record-id", base)
	require.NoError(t, err)
	assert.NotEqual(t, baseSum, linked, "the supersession link is part of the hashed content")

	bumped, err := Checksum("v2", "", base)
	require.NoError(t, err)
	assert.NotEqual(t, baseSum, bumped, "the schema version is part of the hashed content")
}

func TestEmit(t *testing.T) {
	t.Parallel()
	em, st := newTestEmitter(t)
	ctx := context.Background()

	rec, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "70", "30"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.AuditSchemaVersion, rec.SchemaVersion)
	assert.Positive(t, rec.Sequence)
	assert.False(t, rec.EmittedAt.IsZero())

	stored, err := st.GetAuditRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Checksum, stored.Checksum)
	require.NoError(t, em.Verify(ctx, rec.ID))
}

func TestEmit_SequenceIsMonotonic(t *testing.T) {
	t.Parallel()
	em, _ := newTestEmitter(t)
	ctx := context.Background()

	first, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "70", "30"))
	require.NoError(t, err)
	second, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "71", "29"))
	require.NoError(t, err)
	assert.Greater(t, second.Sequence, first.Sequence)
}

func TestSupersede(t *testing.T) {
	t.Parallel()
	em, st := newTestEmitter(t)
	ctx := context.Background()

	original, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "70", "30"))
	require.NoError(t, err)

	corrected, err := em.Supersede(ctx, original.ID, sampleResult(model.HeadOperations, "100", "75", "25"))
	require.NoError(t, err)
	assert.Equal(t, original.ID, corrected.SupersedesID)
	assert.NotEqual(t, original.Checksum, corrected.Checksum)

	// The superseded record is untouched.
	stored, err := st.GetAuditRecord(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.Checksum, stored.Checksum)
	require.NoError(t, em.Verify(ctx, original.ID))
	require.NoError(t, em.Verify(ctx, corrected.ID))

	// Superseding a nonexistent record fails without emitting anything.
	_, err = em.Supersede(ctx, "no-such-id", sampleResult(model.HeadInterest, "10", "9", "1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerifyAll(t *testing.T) {
	t.Parallel()
	em, _ := newTestEmitter(t)
	ctx := context.Background()

	heads := []model.CostHead{model.HeadOperations, model.HeadInterest, model.HeadDepreciation}
	for i, head := range heads {
		_, err := em.Emit(ctx, sampleResult(head, "100", decimal.NewFromInt(int64(70+i)).String(), "30"))
		require.NoError(t, err)
	}

	checked, corrupted, err := em.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(heads), checked)
	assert.Empty(t, corrupted)
}

func TestVerify_DetectsTamper(t *testing.T) {
	t.Parallel()
	em, st := newTestEmitter(t)
	ctx := context.Background()

	rec, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "70", "30"))
	require.NoError(t, err)

	// A record whose stored checksum does not match its content.
	forged := *rec
	forged.ID = "forged-record"
	forged.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"
	forged.Sequence = 0
	_, err = st.AppendAuditRecord(ctx, &forged)
	require.NoError(t, err)

	err = em.Verify(ctx, "forged-record")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	checked, corrupted, err := em.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	assert.Equal(t, []string{"forged-record"}, corrupted)
}

func TestSummary_SkipsSuperseded(t *testing.T) {
	t.Parallel()
	em, _ := newTestEmitter(t)
	ctx := context.Background()

	original, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", "70", "30"))
	require.NoError(t, err)

	_, err = em.Supersede(ctx, original.ID, sampleResult(model.HeadOperations, "100", "75", "25"))
	require.NoError(t, err)

	_, err = em.Emit(ctx, sampleResult(model.HeadInterest, "50", "45", "5"))
	require.NoError(t, err)

	totals, err := em.Summary(ctx, model.ScopeDistribution, "2022-23")
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Items, "the superseded record is excluded")
	assert.Equal(t, "150", totals.Approved.String())
	assert.Equal(t, "120", totals.Actual.String())
	assert.Equal(t, "30", totals.RevenueGap.String())

	// Other scopes and years stay empty.
	empty, err := em.Summary(ctx, model.ScopeGeneration, "2022-23")
	require.NoError(t, err)
	assert.Zero(t, empty.Items)
}

func TestRecords_Pagination(t *testing.T) {
	t.Parallel()
	em, _ := newTestEmitter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := em.Emit(ctx, sampleResult(model.HeadOperations, "100", decimal.NewFromInt(int64(60+i)).String(), "30"))
		require.NoError(t, err)
	}

	page, err := em.Records(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	next, err := em.Records(ctx, page[1].Sequence+1, 10)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Greater(t, next[0].Sequence, page[1].Sequence)
}
