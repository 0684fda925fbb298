// Package audit wraps engine results into a tamper-evident, write-once
// trail. Records are never updated or deleted; a correction is a new record
// referencing the superseded one.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/store"
)

// ErrChecksumMismatch reports a stored record whose recomputed checksum
// differs from the persisted one.
var ErrChecksumMismatch = eris.New("audit: checksum mismatch")

// Emitter appends engine results to the audit store.
type Emitter struct {
	store store.Store
}

// NewEmitter creates an Emitter over the given store.
func NewEmitter(st store.Store) *Emitter {
	return &Emitter{store: st}
}

// checksumPayload is the canonical serialization the checksum covers.
// Volatile fields (id, sequence, emission time) are excluded so that
// identical computation inputs always hash identically; the schema version
// and supersession link are part of the hashed content.
type checksumPayload struct {
	SchemaVersion string               `json:"schema_version"`
	SupersedesID  string               `json:"supersedes_id,omitempty"`
	Result        model.VarianceResult `json:"result"`
}

// Checksum computes the SHA-256 content hash of a record's canonical form.
// The payload is a closed struct, so encoding/json field order is fixed at
// compile time and the serialization is canonical by construction.
func Checksum(schemaVersion, supersedesID string, result model.VarianceResult) (string, error) {
	payload, err := json.Marshal(checksumPayload{
		SchemaVersion: schemaVersion,
		SupersedesID:  supersedesID,
		Result:        result,
	})
	if err != nil {
		return "", eris.Wrap(err, "audit: marshal checksum payload")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Emit appends one result to the trail. The input snapshot inside the result
// was deep-copied by the engine; re-running the engine on that snapshot under
// the same rule version reproduces the result and the checksum.
func (e *Emitter) Emit(ctx context.Context, result model.VarianceResult) (*model.AuditRecord, error) {
	return e.emit(ctx, result, "")
}

// Supersede appends a corrected record referencing the one it replaces.
// The superseded record stays in the store untouched.
func (e *Emitter) Supersede(ctx context.Context, supersededID string, result model.VarianceResult) (*model.AuditRecord, error) {
	if _, err := e.store.GetAuditRecord(ctx, supersededID); err != nil {
		return nil, err
	}
	return e.emit(ctx, result, supersededID)
}

func (e *Emitter) emit(ctx context.Context, result model.VarianceResult, supersedesID string) (*model.AuditRecord, error) {
	checksum, err := Checksum(model.AuditSchemaVersion, supersedesID, result)
	if err != nil {
		return nil, err
	}

	rec := &model.AuditRecord{
		ID:            uuid.New().String(),
		SchemaVersion: model.AuditSchemaVersion,
		Result:        result,
		Checksum:      checksum,
		SupersedesID:  supersedesID,
		EmittedAt:     time.Now().UTC(),
	}
	if _, err := e.store.AppendAuditRecord(ctx, rec); err != nil {
		return nil, err
	}

	zap.L().Info("audit: record emitted",
		zap.Int64("seq", rec.Sequence),
		zap.String("record_id", rec.ID),
		zap.String("scope", string(result.Scope)),
		zap.String("head", string(result.Head)),
		zap.String("checksum", rec.Checksum[:8]),
	)
	return rec, nil
}

// Verify recomputes a stored record's checksum and compares.
func (e *Emitter) Verify(ctx context.Context, id string) error {
	rec, err := e.store.GetAuditRecord(ctx, id)
	if err != nil {
		return err
	}
	return verifyRecord(rec)
}

// VerifyAll walks the whole trail and returns the ids of corrupted records.
func (e *Emitter) VerifyAll(ctx context.Context) (checked int, corrupted []string, err error) {
	const page = 500
	fromSeq := int64(0)
	for {
		recs, err := e.store.ListAuditRecords(ctx, store.AuditFilter{FromSeq: fromSeq, Limit: page})
		if err != nil {
			return checked, corrupted, err
		}
		if len(recs) == 0 {
			return checked, corrupted, nil
		}
		for _, rec := range recs {
			checked++
			if err := verifyRecord(&rec); err != nil {
				corrupted = append(corrupted, rec.ID)
			}
		}
		fromSeq = recs[len(recs)-1].Sequence + 1
	}
}

func verifyRecord(rec *model.AuditRecord) error {
	want, err := Checksum(rec.SchemaVersion, rec.SupersedesID, rec.Result)
	if err != nil {
		return err
	}
	if want != rec.Checksum {
		return eris.Wrapf(ErrChecksumMismatch, "record %s: stored %s computed %s", rec.ID, rec.Checksum, want)
	}
	return nil
}

// Records returns an ordered, restartable slice of the trail from a
// sequence onward.
func (e *Emitter) Records(ctx context.Context, fromSeq int64, limit int) ([]model.AuditRecord, error) {
	return e.store.ListAuditRecords(ctx, store.AuditFilter{FromSeq: fromSeq, Limit: limit})
}

// Summary sums the current (non-superseded) records for a scope and year.
// Aggregation is plain summation of already-validated results; no other
// aggregation logic exists in the system.
func (e *Emitter) Summary(ctx context.Context, scope model.Scope, fiscalYear string) (model.PetitionTotals, error) {
	recs, err := e.store.ListAuditRecords(ctx, store.AuditFilter{Scope: scope, FiscalYear: fiscalYear})
	if err != nil {
		return model.PetitionTotals{}, err
	}

	superseded := make(map[string]bool)
	for _, rec := range recs {
		if rec.SupersedesID != "" {
			superseded[rec.SupersedesID] = true
		}
	}

	var totals model.PetitionTotals
	for _, rec := range recs {
		if superseded[rec.ID] {
			continue
		}
		totals.Add(rec.Result)
	}
	return totals, nil
}
