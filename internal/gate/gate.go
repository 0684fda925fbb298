// Package gate enforces the zero-hallucination contract: no extracted value
// reaches the engine without an explicit human decision. Suggestions are
// decided exactly once; the losing side of a concurrent decision observes
// ErrInvalidTransition.
package gate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/store"
)

var (
	// ErrInvalidTransition rejects any decision on a non-Pending suggestion.
	ErrInvalidTransition = eris.New("gate: suggestion is not pending")
	// ErrMissingComment rejects Overridden/Rejected decisions without a comment.
	ErrMissingComment = eris.New("gate: comment is mandatory for override and reject")
	// ErrMissingOverride rejects Overridden decisions without an override head.
	ErrMissingOverride = eris.New("gate: override head is required when overriding")
	// ErrInvalidDecision rejects decisions that are not a terminal status.
	ErrInvalidDecision = eris.New("gate: decision must be Confirmed, Overridden or Rejected")
	// ErrInvalidConfidence rejects submissions with confidence outside [0,1].
	ErrInvalidConfidence = eris.New("gate: confidence must be within [0,1]")
	// ErrMissingActor rejects decisions without an identified officer.
	ErrMissingActor = eris.New("gate: actor id is required")
)

// Submission is the extraction collaborator's input: a candidate
// classification of one raw field. Confidence and reasoning are opaque and
// carry no authority; even a 0.99 suggestion waits for a human.
type Submission struct {
	Scope          model.Scope     `json:"scope"`
	FiscalYear     string          `json:"fiscal_year"`
	SourceField    string          `json:"source_field"`
	SuggestedHead  string          `json:"suggested_head"`
	SuggestedClass string          `json:"suggested_class"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	RawPageRef     int             `json:"raw_page_ref,omitempty"`
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
}

// DecisionRequest is the human-review collaborator's input.
type DecisionRequest struct {
	SuggestionID  string              `json:"suggestion_id"`
	Decision      model.MappingStatus `json:"decision"`
	OverrideHead  string              `json:"override_head,omitempty"`
	OverrideClass string              `json:"override_class,omitempty"`
	Comment       string              `json:"comment"`
	ActorID       string              `json:"actor_id"`
}

// Gate tracks suggestions from Pending to a terminal status and converts
// accepted ones into verified cost inputs.
type Gate struct {
	store store.Store
}

// New creates a Gate over the given store.
func New(st store.Store) *Gate {
	return &Gate{store: st}
}

// Submit creates a Pending suggestion from an extraction candidate.
func (g *Gate) Submit(ctx context.Context, sub Submission) (*model.MappingSuggestion, error) {
	if sub.Confidence < 0 || sub.Confidence > 1 {
		return nil, eris.Wrapf(ErrInvalidConfidence, "%f", sub.Confidence)
	}
	if !sub.Scope.Valid() {
		return nil, eris.Wrapf(model.ErrUnknownScope, "%q", string(sub.Scope))
	}
	if strings.TrimSpace(sub.SourceField) == "" {
		return nil, eris.New("gate: source field is required")
	}
	if sub.ApprovedAmount.IsNegative() || sub.ActualAmount.IsNegative() {
		return nil, eris.Wrap(model.ErrNegativeAmount, "gate: submission")
	}

	sg := &model.MappingSuggestion{
		ID:             uuid.New().String(),
		Scope:          sub.Scope,
		FiscalYear:     sub.FiscalYear,
		SourceField:    sub.SourceField,
		SuggestedHead:  sub.SuggestedHead,
		SuggestedClass: sub.SuggestedClass,
		Confidence:     sub.Confidence,
		Reasoning:      sub.Reasoning,
		RawPageRef:     sub.RawPageRef,
		ApprovedAmount: sub.ApprovedAmount,
		ActualAmount:   sub.ActualAmount,
		Status:         model.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.store.CreateSuggestion(ctx, sg); err != nil {
		return nil, err
	}

	zap.L().Info("gate: suggestion submitted",
		zap.String("suggestion_id", sg.ID),
		zap.String("scope", string(sg.Scope)),
		zap.String("source_field", sg.SourceField),
		zap.Float64("confidence", sg.Confidence),
	)
	return sg, nil
}

// Decide applies an officer decision to a Pending suggestion. On Confirm or
// Override the suggestion becomes a human-verified CostInput; on Reject no
// input is ever produced. The transition is atomic: of two concurrent
// decisions exactly one succeeds.
func (g *Gate) Decide(ctx context.Context, req DecisionRequest) (*model.MappingSuggestion, error) {
	if !req.Decision.Terminal() {
		return nil, eris.Wrapf(ErrInvalidDecision, "%q", string(req.Decision))
	}
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, eris.Wrapf(ErrMissingActor, "suggestion %s", req.SuggestionID)
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" && (req.Decision == model.StatusOverridden || req.Decision == model.StatusRejected) {
		return nil, eris.Wrapf(ErrMissingComment, "suggestion %s: %s", req.SuggestionID, req.Decision)
	}

	sg, err := g.store.GetSuggestion(ctx, req.SuggestionID)
	if err != nil {
		return nil, err
	}

	// Resolve the final classification before touching any state, so a bad
	// head or class leaves the suggestion Pending and correctable.
	var head model.CostHead
	var class model.VarianceClass
	switch req.Decision {
	case model.StatusConfirmed:
		if head, err = model.ParseCostHead(sg.SuggestedHead); err != nil {
			return nil, err
		}
		if class, err = model.ParseVarianceClass(sg.SuggestedClass); err != nil {
			return nil, err
		}
	case model.StatusOverridden:
		if req.OverrideHead == "" {
			return nil, eris.Wrapf(ErrMissingOverride, "suggestion %s", req.SuggestionID)
		}
		if head, err = model.ParseCostHead(req.OverrideHead); err != nil {
			return nil, err
		}
		overrideClass := req.OverrideClass
		if overrideClass == "" {
			overrideClass = sg.SuggestedClass
		}
		if class, err = model.ParseVarianceClass(overrideClass); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	decision := model.Decision{
		Status:        req.Decision,
		ActorID:       req.ActorID,
		Comment:       comment,
		OverrideHead:  req.OverrideHead,
		OverrideClass: req.OverrideClass,
		DecidedAt:     now,
	}

	decided, err := g.store.DecideSuggestion(ctx, req.SuggestionID, decision)
	if err != nil {
		return nil, err
	}
	if !decided {
		return nil, eris.Wrapf(ErrInvalidTransition, "suggestion %s", req.SuggestionID)
	}

	sg.Status = req.Decision
	sg.Decision = &decision

	if err := g.store.AppendDecision(ctx, model.DecisionLogEntry{
		ID:           uuid.New().String(),
		SuggestionID: sg.ID,
		ActorID:      req.ActorID,
		FromStatus:   model.StatusPending,
		ToStatus:     req.Decision,
		Comment:      comment,
		DecidedAt:    now,
	}); err != nil {
		return nil, err
	}

	if req.Decision == model.StatusConfirmed || req.Decision == model.StatusOverridden {
		input := model.CostInput{
			ID:            uuid.New().String(),
			Head:          head,
			Class:         class,
			Scope:         sg.Scope,
			FiscalYear:    sg.FiscalYear,
			Approved:      sg.ApprovedAmount,
			Actual:        sg.ActualAmount,
			EvidencePage:  sg.RawPageRef,
			HumanVerified: true,
			VerifiedBy:    req.ActorID,
			VerifiedAt:    &now,
			SuggestionID:  sg.ID,
		}
		if err := g.store.PutCostInput(ctx, input); err != nil {
			return nil, err
		}
	}

	zap.L().Info("gate: suggestion decided",
		zap.String("suggestion_id", sg.ID),
		zap.String("decision", string(req.Decision)),
		zap.String("actor", req.ActorID),
	)
	return sg, nil
}

// Decisions returns the immutable transition log for one suggestion.
func (g *Gate) Decisions(ctx context.Context, suggestionID string) ([]model.DecisionLogEntry, error) {
	return g.store.ListDecisions(ctx, suggestionID)
}

// Pending lists suggestions awaiting review, optionally filtered.
func (g *Gate) Pending(ctx context.Context, scope model.Scope, fiscalYear string) ([]model.MappingSuggestion, error) {
	return g.store.ListPendingSuggestions(ctx, scope, fiscalYear)
}
