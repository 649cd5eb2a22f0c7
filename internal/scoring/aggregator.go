// Package scoring aggregates weighted indicator ratings into domain and
// global percentages for one cotation session.
package scoring

import (
	"fmt"
	"math"

	"github.com/synchronie/cotation/internal/domain"
)

// Aggregator owns the score state of a single scoring session.
//
// It is not safe for concurrent use: a session is driven by one sequence of
// rating events at a time, and callers serialise access.
type Aggregator struct {
	state domain.SessionState

	// domain order as declared by the grid, then first-seen order for
	// domains only known through ratings
	order []string

	// domain id -> indicator id -> entry
	entries map[string]map[string]domain.ScoreEntry

	rated int
	total int

	// lazily computed percentages, invalidated on each mutation
	domainPct map[string]int
	globalPct *int
}

// NewAggregator returns an uninitialized aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Initialize starts a new session over the given domains.
// Entries start empty; the total indicator count is fixed from the schema.
func (a *Aggregator) Initialize(domains []domain.DomainDef) error {
	if len(domains) == 0 {
		return &domain.SchemaError{Reason: "a scoring session requires at least one domain"}
	}

	total := 0
	order := make([]string, 0, len(domains))
	for _, d := range domains {
		order = append(order, string(d.ID))
		total += len(d.Indicators)
	}

	a.order = order
	a.total = total
	a.clear()
	a.state = domain.StateLoaded
	return nil
}

// RecordRating stores the latest rating of an indicator.
// Ratings outside [MinRating, MaxRating] are refused, never clamped.
func (a *Aggregator) RecordRating(domainID, indicatorID string, rating int, weight float64) error {
	if a.state != domain.StateLoaded {
		return fmt.Errorf("record rating in %s session: %w", a.state, domain.ErrSessionState)
	}
	if rating < domain.MinRating || rating > domain.MaxRating || weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return &domain.RangeError{DomainID: domainID, IndicatorID: indicatorID, Rating: rating, Weight: weight}
	}

	dom, ok := a.entries[domainID]
	if !ok {
		dom = make(map[string]domain.ScoreEntry)
		a.entries[domainID] = dom
		if !a.knowsDomain(domainID) {
			a.order = append(a.order, domainID)
		}
	}

	prev := dom[indicatorID]

	switch {
	case prev.Value == 0 && rating > 0:
		a.rated++
	case prev.Value > 0 && rating == 0:
		a.rated--
	}

	dom[indicatorID] = domain.ScoreEntry{Value: rating, Weight: weight}

	delete(a.domainPct, domainID)
	a.globalPct = nil
	return nil
}

// DomainPercentage returns round(100 × Σ(rating×weight) / Σ(weight×5)) over
// the recorded indicators of a domain, or 0 when that mass is zero.
func (a *Aggregator) DomainPercentage(domainID string) int {
	if pct, ok := a.domainPct[domainID]; ok {
		return pct
	}

	score, mass := sums(a.entries[domainID])
	pct := percent(score, mass)
	if a.domainPct != nil {
		a.domainPct[domainID] = pct
	}
	return pct
}

// GlobalPercentage applies the domain formula to every recorded indicator of
// every domain at once. Heavier or larger domains weigh more; the result is
// not the mean of the domain percentages.
func (a *Aggregator) GlobalPercentage() int {
	if a.globalPct != nil {
		return *a.globalPct
	}

	var score, mass float64
	for _, dom := range a.entries {
		s, m := sums(dom)
		score += s
		mass += m
	}
	pct := percent(score, mass)
	if a.state != domain.StateUninitialized {
		a.globalPct = &pct
	}
	return pct
}

// Completion reports the rated and total indicator counts.
func (a *Aggregator) Completion() domain.Completion {
	return domain.Completion{Rated: a.rated, Total: a.total}
}

// BuildSavePayload projects the recorded entries into a save payload.
// It does not change the session state.
func (a *Aggregator) BuildSavePayload(seanceID, grilleID int64, observations string) (*domain.SavePayload, error) {
	if a.state == domain.StateUninitialized {
		return nil, fmt.Errorf("build payload: %w", domain.ErrSessionState)
	}
	if a.rated == 0 {
		return nil, domain.ErrEmptyScore
	}

	return &domain.SavePayload{
		SeanceID:     seanceID,
		GrilleID:     grilleID,
		Scores:       a.Scores(),
		Observations: observations,
	}, nil
}

// Scores returns a deep copy of the recorded entries.
func (a *Aggregator) Scores() domain.Scores {
	out := make(domain.Scores, len(a.entries))
	for domID, dom := range a.entries {
		cp := make(map[string]domain.ScoreEntry, len(dom))
		for indID, e := range dom {
			cp[indID] = e
		}
		out[domID] = cp
	}
	return out
}

// Reset clears every recorded rating. The schema stays loaded, so the total
// indicator count is preserved.
func (a *Aggregator) Reset() error {
	if a.state != domain.StateLoaded {
		return fmt.Errorf("reset %s session: %w", a.state, domain.ErrSessionState)
	}
	a.clear()
	return nil
}

// MarkSaved closes the session after the persistence backend confirmed it.
func (a *Aggregator) MarkSaved() error {
	if a.state != domain.StateLoaded {
		return fmt.Errorf("mark %s session saved: %w", a.state, domain.ErrSessionState)
	}
	a.state = domain.StateSaved
	return nil
}

// State returns the lifecycle state of the session.
func (a *Aggregator) State() domain.SessionState {
	return a.state
}

// Domains returns domain ids in grid order followed by ad-hoc domains.
func (a *Aggregator) Domains() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Entry returns the recorded entry of an indicator, if any.
func (a *Aggregator) Entry(domainID, indicatorID string) (domain.ScoreEntry, bool) {
	e, ok := a.entries[domainID][indicatorID]
	return e, ok
}

// DomainCompletion counts positively rated entries of a domain.
func (a *Aggregator) DomainCompletion(domainID string) int {
	n := 0
	for _, e := range a.entries[domainID] {
		if e.Value > 0 {
			n++
		}
	}
	return n
}

func (a *Aggregator) clear() {
	a.entries = make(map[string]map[string]domain.ScoreEntry)
	a.domainPct = make(map[string]int)
	a.globalPct = nil
	a.rated = 0
}

func (a *Aggregator) knowsDomain(domainID string) bool {
	for _, id := range a.order {
		if id == domainID {
			return true
		}
	}
	return false
}

func sums(entries map[string]domain.ScoreEntry) (score, mass float64) {
	for _, e := range entries {
		if e.Weight <= 0 {
			continue
		}
		score += float64(e.Value) * e.Weight
		mass += e.Weight * domain.MaxRating
	}
	return score, mass
}

// percent rounds half-up, matching how the scoring screen displays values.
func percent(score, mass float64) int {
	if mass <= 0 {
		return 0
	}
	return int(math.Floor(100*score/mass + 0.5))
}
