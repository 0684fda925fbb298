package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MappingSuggestion is a proposed classification of one raw extracted field.
// The extraction collaborator creates it Pending; a human decision moves it
// exactly once into a terminal status. Confidence and reasoning are opaque
// inputs and carry no authority over the outcome.
type MappingSuggestion struct {
	ID             string          `json:"id"`
	Scope          Scope           `json:"scope"`
	FiscalYear     string          `json:"fiscal_year"`
	SourceField    string          `json:"source_field"`
	SuggestedHead  string          `json:"suggested_head"`
	SuggestedClass string          `json:"suggested_class"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	RawPageRef     int             `json:"raw_page_ref,omitempty"`
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Status         MappingStatus   `json:"status"`
	Decision       *Decision       `json:"decision,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Decision records the officer action that terminated a suggestion.
type Decision struct {
	Status        MappingStatus `json:"status"`
	ActorID       string        `json:"actor_id"`
	Comment       string        `json:"comment"`
	OverrideHead  string        `json:"override_head,omitempty"`
	OverrideClass string        `json:"override_class,omitempty"`
	DecidedAt     time.Time     `json:"decided_at"`
}

// FinalHead returns the classification that survives the decision:
// the override for Overridden, the suggestion for Confirmed.
func (s MappingSuggestion) FinalHead() string {
	if s.Decision != nil && s.Decision.Status == StatusOverridden && s.Decision.OverrideHead != "" {
		return s.Decision.OverrideHead
	}
	return s.SuggestedHead
}

// FinalClass returns the variance class that survives the decision.
func (s MappingSuggestion) FinalClass() string {
	if s.Decision != nil && s.Decision.Status == StatusOverridden && s.Decision.OverrideClass != "" {
		return s.Decision.OverrideClass
	}
	return s.SuggestedClass
}

// DecisionLogEntry is the immutable trace of one gate transition. The audit
// trail reads these; nothing updates them.
type DecisionLogEntry struct {
	ID           string        `json:"id"`
	SuggestionID string        `json:"suggestion_id"`
	ActorID      string        `json:"actor_id"`
	FromStatus   MappingStatus `json:"from_status"`
	ToStatus     MappingStatus `json:"to_status"`
	Comment      string        `json:"comment"`
	DecidedAt    time.Time     `json:"decided_at"`
}
