package model

import (
	"github.com/rotisserie/eris"
)

// Domain errors for values outside the closed enumerations. A record carrying
// an unknown value is rejected individually; it never aborts a batch.
var (
	ErrUnknownHead  = eris.New("model: unknown cost head")
	ErrUnknownClass = eris.New("model: unknown variance class")
	ErrUnknownScope = eris.New("model: unknown scope")
)

// CostHead is a closed set of ARR cost components. The string values match
// the regulatory filing vocabulary and are stable across schema versions.
type CostHead string

const (
	HeadOperations     CostHead = "O&M"
	HeadPowerPurchase  CostHead = "Power_Purchase"
	HeadInterest       CostHead = "Interest"
	HeadDepreciation   CostHead = "Depreciation"
	HeadReturnOnEquity CostHead = "Return_on_Equity"
	HeadOther          CostHead = "Other"
)

var costHeads = map[CostHead]bool{
	HeadOperations:     true,
	HeadPowerPurchase:  true,
	HeadInterest:       true,
	HeadDepreciation:   true,
	HeadReturnOnEquity: true,
	HeadOther:          true,
}

// ParseCostHead validates a raw head value against the closed set.
func ParseCostHead(s string) (CostHead, error) {
	h := CostHead(s)
	if !costHeads[h] {
		return "", eris.Wrapf(ErrUnknownHead, "%q", s)
	}
	return h, nil
}

// Valid reports whether the head is a member of the closed set.
func (h CostHead) Valid() bool { return costHeads[h] }

// VarianceClass determines which sharing pair applies to a variance.
type VarianceClass string

const (
	ClassControllable   VarianceClass = "Controllable"
	ClassUncontrollable VarianceClass = "Uncontrollable"
)

// ParseVarianceClass validates a raw class value.
func ParseVarianceClass(s string) (VarianceClass, error) {
	c := VarianceClass(s)
	if c != ClassControllable && c != ClassUncontrollable {
		return "", eris.Wrapf(ErrUnknownClass, "%q", s)
	}
	return c, nil
}

// Valid reports whether the class is Controllable or Uncontrollable.
func (c VarianceClass) Valid() bool {
	return c == ClassControllable || c == ClassUncontrollable
}

// Scope is the strategic business unit partition a cost belongs to.
// Baselines, rule targets and audit queries are all scope-isolated.
type Scope string

const (
	ScopeGeneration   Scope = "SBU-G"
	ScopeTransmission Scope = "SBU-T"
	ScopeDistribution Scope = "SBU-D"
)

var scopes = map[Scope]bool{
	ScopeGeneration:   true,
	ScopeTransmission: true,
	ScopeDistribution: true,
}

// ParseScope validates a raw scope value.
func ParseScope(s string) (Scope, error) {
	sc := Scope(s)
	if !scopes[sc] {
		return "", eris.Wrapf(ErrUnknownScope, "%q", s)
	}
	return sc, nil
}

// Valid reports whether the scope is a known SBU.
func (s Scope) Valid() bool { return scopes[s] }

// MappingStatus is the lifecycle state of a mapping suggestion.
// Pending is the only non-terminal state; terminal suggestions never reopen.
type MappingStatus string

const (
	StatusPending    MappingStatus = "Pending"
	StatusConfirmed  MappingStatus = "Confirmed"
	StatusOverridden MappingStatus = "Overridden"
	StatusRejected   MappingStatus = "Rejected"
)

// Terminal reports whether the status ends the suggestion lifecycle.
func (s MappingStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusOverridden || s == StatusRejected
}
