package engine

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/trueup-cli/internal/model"
)

// OMEscalation is the normative O&M escalation for one year.
type OMEscalation struct {
	Base        decimal.Decimal `json:"base_om"`
	CPIChange   decimal.Decimal `json:"cpi_change"`
	WPIChange   decimal.Decimal `json:"wpi_change"`
	BlendedRate decimal.Decimal `json:"blended_escalation"`
	Escalated   decimal.Decimal `json:"escalated_om"`
	Formula     string          `json:"formula"`
	Clause      string          `json:"regulatory_clause"`
}

// EscalateOM computes the normative O&M escalation from actual index
// movements: Escalated = Base x (1 + (cpiWeight x dCPI + wpiWeight x dWPI)).
func (e *Engine) EscalateOM(base, cpiChange, wpiChange decimal.Decimal) (OMEscalation, error) {
	if base.IsNegative() {
		return OMEscalation{}, eris.Wrapf(model.ErrNegativeAmount, "base O&M %s", base)
	}
	blended := e.rs.Escalation.CPI.Mul(cpiChange).Add(e.rs.Escalation.WPI.Mul(wpiChange))
	escalated := base.Mul(decimal.New(1, 0).Add(blended)).Round(minorUnitPlaces)

	return OMEscalation{
		Base:        base,
		CPIChange:   cpiChange,
		WPIChange:   wpiChange,
		BlendedRate: blended,
		Escalated:   escalated,
		Formula: fmt.Sprintf("%s x (1 + (%s x %s + %s x %s))",
			base, e.rs.Escalation.CPI, cpiChange, e.rs.Escalation.WPI, wpiChange),
		Clause: "Regulation 5.1 - O&M Escalation (CPI:WPI blend)",
	}, nil
}

// NormativeInterestResult is the allowable interest on outstanding loans.
type NormativeInterestResult struct {
	Outstanding decimal.Decimal `json:"outstanding_loan"`
	Benchmark   decimal.Decimal `json:"benchmark_rate"`
	Spread      decimal.Decimal `json:"spread"`
	Rate        decimal.Decimal `json:"normative_rate"`
	Interest    decimal.Decimal `json:"normative_interest"`
	Formula     string          `json:"formula"`
	Clause      string          `json:"regulatory_clause"`
}

// NormativeInterest computes interest at the benchmark lending rate plus the
// normative spread.
func (e *Engine) NormativeInterest(outstanding decimal.Decimal) (NormativeInterestResult, error) {
	if outstanding.IsNegative() {
		return NormativeInterestResult{}, eris.Wrapf(model.ErrNegativeAmount, "outstanding loan %s", outstanding)
	}
	rate := e.rs.Interest.Rate()
	interest := outstanding.Mul(rate).Round(minorUnitPlaces)

	return NormativeInterestResult{
		Outstanding: outstanding,
		Benchmark:   e.rs.Interest.Benchmark,
		Spread:      e.rs.Interest.Spread,
		Rate:        rate,
		Interest:    interest,
		Formula:     fmt.Sprintf("%s x (%s + %s)", outstanding, e.rs.Interest.Benchmark, e.rs.Interest.Spread),
		Clause:      "Regulation 6.3 - Normative Interest (benchmark + spread)",
	}, nil
}

// LossTarget returns the normative loss ceiling for a scope and fiscal year
// from the active trajectory.
func (e *Engine) LossTarget(scope model.Scope, fy string) (decimal.Decimal, error) {
	if !scope.Valid() {
		return decimal.Zero, eris.Wrapf(model.ErrUnknownScope, "%q", string(scope))
	}
	return e.rs.LossTarget(scope, fy), nil
}
