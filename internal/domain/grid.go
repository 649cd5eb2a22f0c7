package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultWeight applies to indicators whose definition carries no "poids".
const DefaultWeight = 1.0

// ID identifies a domain or an indicator inside a grid.
// The web application emits ids either as JSON numbers or as strings.
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as used for map keys in score payloads.
func (id ID) String() string {
	return string(id)
}

// Grid is the scoring schema used for one session: an ordered list of
// domains, each holding weighted indicators.
type Grid struct {
	ID          int64       `json:"id"`
	Name        string      `json:"nom,omitempty"`
	Description string      `json:"description,omitempty"`
	Domains     []DomainDef `json:"domaines"`
}

// DomainDef groups related indicators within a grid.
type DomainDef struct {
	ID          ID             `json:"id"`
	Name        string         `json:"nom"`
	Description string         `json:"description,omitempty"`
	Indicators  []IndicatorDef `json:"indicateurs"`
}

// IndicatorDef is a single rated criterion.
type IndicatorDef struct {
	ID          ID       `json:"id"`
	Name        string   `json:"nom"`
	Description string   `json:"description,omitempty"`
	Weight      *float64 `json:"poids,omitempty"`
}

// EffectiveWeight returns the configured weight, or DefaultWeight when unset.
func (i IndicatorDef) EffectiveWeight() float64 {
	if i.Weight == nil {
		return DefaultWeight
	}
	return *i.Weight
}

// IndicatorCount returns the number of indicators across all domains.
func (g *Grid) IndicatorCount() int {
	total := 0
	for _, d := range g.Domains {
		total += len(d.Indicators)
	}
	return total
}

// Indicator finds an indicator definition by domain and indicator id.
func (g *Grid) Indicator(domainID, indicatorID string) (IndicatorDef, bool) {
	for _, d := range g.Domains {
		if string(d.ID) != domainID {
			continue
		}
		for _, ind := range d.Indicators {
			if string(ind.ID) == indicatorID {
				return ind, true
			}
		}
		return IndicatorDef{}, false
	}
	return IndicatorDef{}, false
}

// ResolveWeight returns the weight a rating is recorded with: an explicit
// weight wins, then the indicator definition, then DefaultWeight.
func (g *Grid) ResolveWeight(domainID, indicatorID string, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	if g != nil {
		if ind, ok := g.Indicator(domainID, indicatorID); ok {
			return ind.EffectiveWeight()
		}
	}
	return DefaultWeight
}

// Domain finds a domain definition by id.
func (g *Grid) Domain(domainID string) (DomainDef, bool) {
	for _, d := range g.Domains {
		if string(d.ID) == domainID {
			return d, true
		}
	}
	return DomainDef{}, false
}

// Validate enforces the grid contract: at least one domain, at least one
// indicator per domain, non-empty unique ids and non-negative weights.
func (g *Grid) Validate() error {
	if len(g.Domains) == 0 {
		return &SchemaError{GridID: g.ID, Reason: "grid has no domain"}
	}

	seenDomains := make(map[ID]bool, len(g.Domains))
	for i, d := range g.Domains {
		if strings.TrimSpace(string(d.ID)) == "" {
			return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("domain #%d has no id", i)}
		}
		if seenDomains[d.ID] {
			return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("duplicate domain id %q", d.ID)}
		}
		seenDomains[d.ID] = true

		if len(d.Indicators) == 0 {
			return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("domain %q has no indicator", d.ID)}
		}

		seenIndicators := make(map[ID]bool, len(d.Indicators))
		for j, ind := range d.Indicators {
			if strings.TrimSpace(string(ind.ID)) == "" {
				return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("indicator #%d of domain %q has no id", j, d.ID)}
			}
			if seenIndicators[ind.ID] {
				return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("duplicate indicator id %q in domain %q", ind.ID, d.ID)}
			}
			seenIndicators[ind.ID] = true

			if ind.EffectiveWeight() < 0 {
				return &SchemaError{GridID: g.ID, Reason: fmt.Sprintf("indicator %q has a negative weight", ind.ID)}
			}
		}
	}

	return nil
}
