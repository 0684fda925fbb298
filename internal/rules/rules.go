package rules

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trueup-cli/internal/model"
)

// Configuration errors are fatal at load time; no computation starts on a
// malformed rule document.
var (
	ErrInvalidShareConfig = eris.New("rules: sharing pair does not sum to 1.0")
	ErrInvalidWeights     = eris.New("rules: escalation weights do not sum to 1.0")
	ErrMissingPair        = eris.New("rules: missing sharing pair")
	ErrNoRuleSet          = eris.New("rules: no rule set effective for year")
	ErrOverlappingRange   = eris.New("rules: overlapping effective ranges")
)

// shareEpsilon tolerates representation error in decimal expansions of
// fractional shares (e.g. 1/3 written to ten places).
var shareEpsilon = decimal.New(1, -9)

// SharePair splits a variance between the utility and its consumers.
type SharePair struct {
	Utility  decimal.Decimal `yaml:"utility" json:"utility"`
	Consumer decimal.Decimal `yaml:"consumer" json:"consumer"`
}

func (p SharePair) sumsToOne() bool {
	return p.Utility.Add(p.Consumer).Sub(decimal.New(1, 0)).Abs().LessThanOrEqual(shareEpsilon)
}

// SharingMechanism holds the three normative pairs the engine selects from.
type SharingMechanism struct {
	ControllableGains      SharePair `yaml:"controllable_gains" json:"controllable_gains"`
	ControllableLosses     SharePair `yaml:"controllable_losses" json:"controllable_losses"`
	UncontrollableVariance SharePair `yaml:"uncontrollable_variances" json:"uncontrollable_variances"`
}

// EscalationWeights blends CPI and WPI index movements for normative O&M.
type EscalationWeights struct {
	CPI decimal.Decimal `yaml:"cpi" json:"cpi"`
	WPI decimal.Decimal `yaml:"wpi" json:"wpi"`
}

// LossTrajectory is the normative loss ceiling per fiscal year for one scope,
// with a default cap for years outside the trajectory.
type LossTrajectory struct {
	Default decimal.Decimal            `yaml:"default" json:"default"`
	ByYear  map[string]decimal.Decimal `yaml:"by_year" json:"by_year"`
}

// InterestRules holds the normative interest parameters (benchmark + spread).
type InterestRules struct {
	Benchmark decimal.Decimal `yaml:"benchmark" json:"benchmark"`
	Spread    decimal.Decimal `yaml:"spread" json:"spread"`
}

// Rate is the derived normative lending rate.
func (i InterestRules) Rate() decimal.Decimal {
	return i.Benchmark.Add(i.Spread)
}

// RuleSet is one immutable, versioned regulatory configuration. It is loaded
// once, validated once, and passed by reference into the engine; nothing
// reads regulatory constants from ambient state.
type RuleSet struct {
	Version       string                    `yaml:"version" json:"version"`
	OrderDate     string                    `yaml:"order_date" json:"order_date"`
	EffectiveFrom string                    `yaml:"effective_from" json:"effective_from"`
	EffectiveTo   string                    `yaml:"effective_to" json:"effective_to"`
	Escalation    EscalationWeights         `yaml:"escalation_weights" json:"escalation_weights"`
	Sharing       SharingMechanism          `yaml:"sharing_mechanism" json:"sharing_mechanism"`
	LossTargets   map[string]LossTrajectory `yaml:"loss_targets" json:"loss_targets"`
	Interest      InterestRules             `yaml:"interest" json:"interest"`
	ROERate       decimal.Decimal           `yaml:"roe_rate" json:"roe_rate"`
}

// Validate enforces the load-time invariants: every pair present and
// summing to one, weights summing to one, and a parseable effective range.
func (r *RuleSet) Validate() error {
	pairs := []struct {
		name string
		pair SharePair
	}{
		{"controllable_gains", r.Sharing.ControllableGains},
		{"controllable_losses", r.Sharing.ControllableLosses},
		{"uncontrollable_variances", r.Sharing.UncontrollableVariance},
	}
	for _, p := range pairs {
		if p.pair.Utility.IsZero() && p.pair.Consumer.IsZero() {
			return eris.Wrapf(ErrMissingPair, "%s: %s", r.Version, p.name)
		}
		if p.pair.Utility.IsNegative() || p.pair.Consumer.IsNegative() {
			return eris.Wrapf(ErrInvalidShareConfig, "%s: %s: negative share", r.Version, p.name)
		}
		if !p.pair.sumsToOne() {
			return eris.Wrapf(ErrInvalidShareConfig, "%s: %s: utility %s + consumer %s",
				r.Version, p.name, p.pair.Utility, p.pair.Consumer)
		}
	}
	if !(SharePair{Utility: r.Escalation.CPI, Consumer: r.Escalation.WPI}).sumsToOne() {
		return eris.Wrapf(ErrInvalidWeights, "%s: cpi %s + wpi %s",
			r.Version, r.Escalation.CPI, r.Escalation.WPI)
	}
	if _, err := startYear(r.EffectiveFrom); err != nil {
		return eris.Wrapf(err, "%s: effective_from", r.Version)
	}
	if _, err := startYear(r.EffectiveTo); err != nil {
		return eris.Wrapf(err, "%s: effective_to", r.Version)
	}
	return nil
}

// PairFor selects the sharing pair by variance class and sign.
func (r *RuleSet) PairFor(class model.VarianceClass, isGain bool) SharePair {
	if class == model.ClassUncontrollable {
		return r.Sharing.UncontrollableVariance
	}
	if isGain {
		return r.Sharing.ControllableGains
	}
	return r.Sharing.ControllableLosses
}

// LossTarget returns the normative loss ceiling for a scope and year,
// falling back to the scope's default cap outside the trajectory.
func (r *RuleSet) LossTarget(scope model.Scope, fy string) decimal.Decimal {
	traj, ok := r.LossTargets[string(scope)]
	if !ok {
		return decimal.Zero
	}
	if t, ok := traj.ByYear[NormalizeYear(fy)]; ok {
		return t
	}
	return traj.Default
}

// Registry holds every loaded rule version keyed by effective range.
type Registry struct {
	sets []*RuleSet
}

// document is the on-disk shape of a multi-version rules file.
type document struct {
	RuleSets []*RuleSet `yaml:"rule_sets" json:"rule_sets"`
}

// Load reads and validates a versioned rules document. Any inconsistency is
// fatal: a partially valid registry is never returned.
//
// The YAML tree is re-encoded through JSON because decimal fields only
// implement the JSON interfaces.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}
	buf, err := json.Marshal(tree)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: encode %s", path)
	}
	var doc document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, eris.Wrapf(err, "rules: decode %s", path)
	}
	return NewRegistry(doc.RuleSets)
}

// NewRegistry validates each set and the ranges between them.
func NewRegistry(sets []*RuleSet) (*Registry, error) {
	if len(sets) == 0 {
		return nil, eris.New("rules: empty registry")
	}
	for _, rs := range sets {
		if err := rs.Validate(); err != nil {
			return nil, err
		}
	}
	for i, a := range sets {
		aFrom, _ := startYear(a.EffectiveFrom)
		aTo, _ := startYear(a.EffectiveTo)
		for _, b := range sets[i+1:] {
			bFrom, _ := startYear(b.EffectiveFrom)
			bTo, _ := startYear(b.EffectiveTo)
			if aFrom <= bTo && bFrom <= aTo {
				return nil, eris.Wrapf(ErrOverlappingRange, "%s and %s", a.Version, b.Version)
			}
		}
	}
	return &Registry{sets: sets}, nil
}

// ForYear selects the rule set whose effective range contains the fiscal
// year, so historical computations stay reproducible as rules evolve.
func (g *Registry) ForYear(fy string) (*RuleSet, error) {
	y, err := startYear(fy)
	if err != nil {
		return nil, err
	}
	for _, rs := range g.sets {
		from, _ := startYear(rs.EffectiveFrom)
		to, _ := startYear(rs.EffectiveTo)
		if y >= from && y <= to {
			return rs, nil
		}
	}
	return nil, eris.Wrapf(ErrNoRuleSet, "%s", fy)
}

// Versions lists the loaded rule versions in document order.
func (g *Registry) Versions() []string {
	out := make([]string, 0, len(g.sets))
	for _, rs := range g.sets {
		out = append(out, rs.Version)
	}
	return out
}

// NormalizeYear strips the optional FY_ prefix: "FY_2024-25" -> "2024-25".
func NormalizeYear(fy string) string {
	return strings.TrimPrefix(strings.TrimSpace(fy), "FY_")
}

func startYear(fy string) (int, error) {
	s := NormalizeYear(fy)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1990 || y > 2100 {
		return 0, eris.Errorf("rules: malformed fiscal year %q", fy)
	}
	return y, nil
}
