package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditSchemaVersion identifies the AuditRecord wire schema. Evolution is
// additive only; a bump here never invalidates stored checksums because the
// version participates in the hashed payload.
const AuditSchemaVersion = "v1"

// RegulatoryRef cites the clause a computation applied.
type RegulatoryRef struct {
	Clause      string `json:"clause"`
	Description string `json:"description"`
	OrderDate   string `json:"order_date"`
	RuleVersion string `json:"rule_version"`
}

// VarianceResult is the output of one engine invocation: the variance
// decomposition plus the rule citation and advisory flags. Numeric fields
// depend only on the input and the rule set, never on wall-clock state.
type VarianceResult struct {
	Scope          Scope           `json:"scope"`
	FiscalYear     string          `json:"fiscal_year"`
	Head           CostHead        `json:"cost_head"`
	Class          VarianceClass   `json:"variance_class"`
	Scenario       string          `json:"scenario"`
	Approved       decimal.Decimal `json:"approved_amount"`
	Actual         decimal.Decimal `json:"actual_amount"`
	Variance       decimal.Decimal `json:"variance_amount"`
	UtilityImpact  decimal.Decimal `json:"utility_impact"`
	ConsumerImpact decimal.Decimal `json:"consumer_impact"`
	Disallowed     decimal.Decimal `json:"disallowed_amount"`
	PassedThrough  decimal.Decimal `json:"passed_through_amount"`
	DisallowReason string          `json:"disallowance_reason,omitempty"`
	LogicApplied   string          `json:"logic_applied"`
	Reference      RegulatoryRef   `json:"regulatory_reference"`
	Flags          []string        `json:"flags"`
	InputSnapshot  CostInput       `json:"input_snapshot"`
}

// AuditRecord wraps a VarianceResult into the write-once audit trail.
// Sequence is store-assigned and monotonic; Checksum covers the canonical
// serialization with EmittedAt excluded, so identical computations always
// hash identically. A correction is a new record whose SupersedesID points
// at the replaced one.
type AuditRecord struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	SchemaVersion string         `json:"schema_version"`
	Result        VarianceResult `json:"result"`
	Checksum      string         `json:"checksum"`
	SupersedesID  string         `json:"supersedes_id,omitempty"`
	EmittedAt     time.Time      `json:"emitted_at"`
}

// PetitionTotals aggregates already-validated results by plain summation;
// no other aggregation logic exists.
type PetitionTotals struct {
	Items         int             `json:"items"`
	Approved      decimal.Decimal `json:"total_approved"`
	Actual        decimal.Decimal `json:"total_actual"`
	RevenueGap    decimal.Decimal `json:"total_revenue_gap"`
	Disallowed    decimal.Decimal `json:"total_disallowed"`
	PassedThrough decimal.Decimal `json:"total_passed_through"`
}

// Add folds one result into the totals.
func (t *PetitionTotals) Add(r VarianceResult) {
	t.Items++
	t.Approved = t.Approved.Add(r.Approved)
	t.Actual = t.Actual.Add(r.Actual)
	t.RevenueGap = t.RevenueGap.Add(r.Variance)
	t.Disallowed = t.Disallowed.Add(r.Disallowed)
	t.PassedThrough = t.PassedThrough.Add(r.PassedThrough)
}
