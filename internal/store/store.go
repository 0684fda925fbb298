package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// AuditFilter narrows audit record listings. FromSeq makes the stream
// restartable: records are immutable and append-only, so a consumer may
// re-read from any sequence.
type AuditFilter struct {
	Scope      model.Scope `json:"scope,omitempty"`
	FiscalYear string      `json:"fiscal_year,omitempty"`
	FromSeq    int64       `json:"from_seq,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Store defines persistence for the truing-up core.
//
// Audit records are write-once, read-many: the interface deliberately has no
// update or delete for them. DecideSuggestion is an atomic check-then-set;
// of two concurrent decisions on one Pending suggestion exactly one reports
// decided=true.
type Store interface {
	// Mapping suggestions
	CreateSuggestion(ctx context.Context, s *model.MappingSuggestion) error
	GetSuggestion(ctx context.Context, id string) (*model.MappingSuggestion, error)
	ListPendingSuggestions(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.MappingSuggestion, error)
	// DecideSuggestion transitions a Pending suggestion to the terminal
	// status in d. decided=false with a nil error means the row exists but
	// was not Pending (the caller lost the race or the suggestion was
	// already decided).
	DecideSuggestion(ctx context.Context, id string, d model.Decision) (decided bool, err error)

	// Decision log (append-only, consumed by the audit trail)
	AppendDecision(ctx context.Context, e model.DecisionLogEntry) error
	ListDecisions(ctx context.Context, suggestionID string) ([]model.DecisionLogEntry, error)

	// Verified cost inputs
	PutCostInput(ctx context.Context, in model.CostInput) error
	GetCostInput(ctx context.Context, id string) (*model.CostInput, error)
	ListVerifiedInputs(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.CostInput, error)

	// Audit trail (append-only)
	AppendAuditRecord(ctx context.Context, rec *model.AuditRecord) (int64, error)
	GetAuditRecord(ctx context.Context, id string) (*model.AuditRecord, error)
	ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error)

	// Historical baseline samples for anomaly scoring
	PutBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead, samples []decimal.Decimal) error
	GetBaselineSamples(ctx context.Context, scope model.Scope, head model.CostHead) ([]decimal.Decimal, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
