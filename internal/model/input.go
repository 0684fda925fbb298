package model

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ErrNegativeAmount rejects inputs whose approved or actual amount is below zero.
var ErrNegativeAmount = eris.New("model: amount must be non-negative")

// CostInput is one verified cost component for one scope and fiscal year:
// the unit of work the engine computes over. Amounts are exact decimals;
// binary floats never enter the arithmetic.
type CostInput struct {
	ID            string          `json:"id"`
	Head          CostHead        `json:"head"`
	Class         VarianceClass   `json:"variance_class"`
	Scope         Scope           `json:"scope"`
	FiscalYear    string          `json:"fiscal_year"`
	Approved      decimal.Decimal `json:"approved_amount"`
	Actual        decimal.Decimal `json:"actual_amount"`
	AnomalyScore  *float64        `json:"anomaly_score,omitempty"`
	AnomalyReason string          `json:"anomaly_reason,omitempty"`
	EvidencePage  int             `json:"evidence_page,omitempty"`
	HumanVerified bool            `json:"is_human_verified"`
	VerifiedBy    string          `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	SuggestionID  string          `json:"suggestion_id,omitempty"`
}

// Validate checks closed-set membership and amount invariants. The variance
// class is immutable once verified; a reclassification goes through a fresh
// suggestion, never a mutation, so no setter exists.
func (c CostInput) Validate() error {
	if !c.Head.Valid() {
		return eris.Wrapf(ErrUnknownHead, "input %s: %q", c.ID, string(c.Head))
	}
	if !c.Class.Valid() {
		return eris.Wrapf(ErrUnknownClass, "input %s: %q", c.ID, string(c.Class))
	}
	if !c.Scope.Valid() {
		return eris.Wrapf(ErrUnknownScope, "input %s: %q", c.ID, string(c.Scope))
	}
	if c.Approved.IsNegative() {
		return eris.Wrapf(ErrNegativeAmount, "input %s: approved %s", c.ID, c.Approved)
	}
	if c.Actual.IsNegative() {
		return eris.Wrapf(ErrNegativeAmount, "input %s: actual %s", c.ID, c.Actual)
	}
	return nil
}

// Clone returns a deep copy for audit snapshots, so later mutations of the
// source can never reach an emitted record.
func (c CostInput) Clone() CostInput {
	out := c
	if c.AnomalyScore != nil {
		s := *c.AnomalyScore
		out.AnomalyScore = &s
	}
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		out.VerifiedAt = &t
	}
	return out
}
