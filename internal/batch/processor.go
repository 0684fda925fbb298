// Package batch evaluates all cost inputs of a petition concurrently and
// aggregates the results. Inputs are independent; no ordering is guaranteed
// between them.
package batch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trueup-cli/internal/anomaly"
	"github.com/sells-group/trueup-cli/internal/audit"
	"github.com/sells-group/trueup-cli/internal/engine"
	"github.com/sells-group/trueup-cli/internal/model"
)

// DefaultConcurrency bounds the petition fan-out.
const DefaultConcurrency = 8

// BaselineSet holds the frozen baseline snapshots for one batch, keyed by
// scope and head. Fixed for the batch duration to keep scoring
// deterministic.
type BaselineSet map[string]anomaly.Baseline

// Key builds the lookup key for a scope/head pair.
func Key(scope model.Scope, head model.CostHead) string {
	return string(scope) + "/" + string(head)
}

// Lookup returns the baseline for an input, if one was loaded.
func (b BaselineSet) Lookup(scope model.Scope, head model.CostHead) (anomaly.Baseline, bool) {
	bl, ok := b[Key(scope, head)]
	return bl, ok
}

// LineOutcome is the per-record result of a petition run. Exactly one of
// Record and Err is set: a record whose head or verification fails is
// rejected individually without aborting the rest.
type LineOutcome struct {
	InputID string             `json:"input_id"`
	Record  *model.AuditRecord `json:"record,omitempty"`
	Err     string             `json:"error,omitempty"`
}

// PetitionReport is the consolidated outcome of one petition run.
type PetitionReport struct {
	RuleVersion string               `json:"rule_version"`
	Lines       []LineOutcome        `json:"lines"`
	Totals      model.PetitionTotals `json:"totals"`
	Rejected    int                  `json:"rejected"`
}

// Processor runs petitions through scoring, computation and emission.
type Processor struct {
	Engine      *engine.Engine
	Scorer      *anomaly.Scorer
	Emitter     *audit.Emitter
	Concurrency int
}

// ProcessPetition evaluates every input concurrently. Verification and
// domain errors are attributed to their line; store failures abort the run.
func (p *Processor) ProcessPetition(ctx context.Context, inputs []model.CostInput, baselines BaselineSet) (*PetitionReport, error) {
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	lines := make([]LineOutcome, len(inputs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, in := range inputs {
		g.Go(func() error {
			lines[i] = LineOutcome{InputID: in.ID}

			// Advisory scoring; a missing or thin baseline never blocks.
			if p.Scorer != nil {
				if bl, ok := baselines.Lookup(in.Scope, in.Head); ok {
					a := p.Scorer.Score(in.Actual, bl)
					in.AnomalyScore = &a.Score
					in.AnomalyReason = a.Reasoning
				}
			}

			result, err := p.Engine.Compute(in)
			if err != nil {
				// Caller bug on this record only; keep the batch going.
				lines[i].Err = eris.ToString(err, false)
				zap.L().Warn("batch: record rejected",
					zap.String("input_id", in.ID),
					zap.String("head", string(in.Head)),
					zap.Error(err),
				)
				return nil
			}

			rec, err := p.Emitter.Emit(gCtx, result)
			if err != nil {
				return eris.Wrapf(err, "batch: emit for input %s", in.ID)
			}
			lines[i].Record = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &PetitionReport{
		RuleVersion: p.Engine.RuleVersion(),
		Lines:       lines,
	}
	for _, line := range lines {
		if line.Record == nil {
			report.Rejected++
			continue
		}
		report.Totals.Add(line.Record.Result)
	}
	return report, nil
}
