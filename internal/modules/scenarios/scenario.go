// Package scenarios stresses a portfolio under shocked, dependency-aware
// synthetic return samples.
package scenarios

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/sampling"
	"github.com/aristath/riskengine/pkg/formulas"
)

// Wildcard applies a shock or correlation change to every asset.
const Wildcard = "*"

// Scenario is an immutable stress definition.
type Scenario struct {
	Name               string                       `json:"name" yaml:"name"`
	Description        string                       `json:"description" yaml:"description"`
	Shocks             map[string]float64           `json:"shocks,omitempty" yaml:"shocks"`
	VolatilityChanges  map[string]float64           `json:"volatility_changes,omitempty" yaml:"volatility_changes"`
	CorrelationChanges []sampling.CorrelationChange `json:"correlation_changes,omitempty" yaml:"correlation_changes"`
	Probability        float64                      `json:"probability" yaml:"probability"`
}

// State is the evaluation stage a scenario has reached.
type State string

const (
	StateDefined State = "defined"
	StateShocked State = "shocked"
	StateSampled State = "sampled"
	StateScored  State = "scored"
)

// Validate checks the static parts of the scenario.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: scenario without name", domain.ErrInvalidConfiguration)
	}
	if s.Probability < 0 || math.IsNaN(s.Probability) {
		return fmt.Errorf("%w: scenario %q has negative probability", domain.ErrInvalidConfiguration, s.Name)
	}
	for asset, change := range s.VolatilityChanges {
		if change <= -1 {
			return fmt.Errorf("%w: scenario %q volatility change %v for %q would remove all variance",
				domain.ErrInvalidConfiguration, s.Name, change, asset)
		}
	}
	return nil
}

func lookup(m map[string]float64, asset string) (float64, bool) {
	if v, ok := m[asset]; ok {
		return v, true
	}
	v, ok := m[Wildcard]
	return v, ok
}

// shock applies additive shocks then volatility rescaling to every asset.
// Rescaling multiplies each observation by newVol/currentVol = 1+change and
// is skipped for zero-volatility assets.
func (s Scenario) shock(returns domain.ReturnMatrix) (domain.ReturnMatrix, error) {
	for asset := range s.Shocks {
		if asset != Wildcard && !returns.Has(asset) {
			return domain.ReturnMatrix{}, fmt.Errorf("%w: scenario %q shocks unknown asset %q",
				domain.ErrInvalidConfiguration, s.Name, asset)
		}
	}
	for asset := range s.VolatilityChanges {
		if asset != Wildcard && !returns.Has(asset) {
			return domain.ReturnMatrix{}, fmt.Errorf("%w: scenario %q rescales unknown asset %q",
				domain.ErrInvalidConfiguration, s.Name, asset)
		}
	}

	return returns.MapColumns(func(asset string, values []float64) []float64 {
		if shock, ok := lookup(s.Shocks, asset); ok {
			for i := range values {
				values[i] += shock
			}
		}
		if change, ok := lookup(s.VolatilityChanges, asset); ok && formulas.StdDev(values) > 0 {
			factor := 1 + change
			for i := range values {
				values[i] *= factor
			}
		}
		return values
	}), nil
}

// expandCorrelationChanges resolves wildcard pairs against assets. Later
// entries add to earlier ones for the same pair.
func (s Scenario) expandCorrelationChanges(assets []string) []sampling.CorrelationChange {
	if len(s.CorrelationChanges) == 0 {
		return nil
	}

	type pair struct{ a, b string }
	deltas := make(map[pair]float64)
	var order []pair
	add := func(a, b string, d float64) {
		if a == b {
			return
		}
		if b < a {
			a, b = b, a
		}
		p := pair{a, b}
		if _, ok := deltas[p]; !ok {
			order = append(order, p)
		}
		deltas[p] += d
	}

	for _, ch := range s.CorrelationChanges {
		as := []string{ch.AssetA}
		if ch.AssetA == Wildcard {
			as = assets
		}
		bs := []string{ch.AssetB}
		if ch.AssetB == Wildcard {
			bs = assets
		}
		seen := make(map[pair]bool)
		for _, a := range as {
			for _, b := range bs {
				x, y := a, b
				if y < x {
					x, y = y, x
				}
				if seen[pair{x, y}] {
					continue
				}
				seen[pair{x, y}] = true
				add(a, b, ch.Delta)
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].a != order[j].a {
			return order[i].a < order[j].a
		}
		return order[i].b < order[j].b
	})
	out := make([]sampling.CorrelationChange, 0, len(order))
	for _, p := range order {
		out = append(out, sampling.CorrelationChange{AssetA: p.a, AssetB: p.b, Delta: deltas[p]})
	}
	return out
}
