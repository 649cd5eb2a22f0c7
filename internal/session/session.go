// Package session keeps the live scoring sessions of practitioners.
package session

import (
	"sync"
	"time"

	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/scoring"
)

// Session is one practitioner scoring one seance on one grid.
// Exported fields are fixed at creation.
type Session struct {
	ID             string
	PractitionerID string
	SeanceID       int64
	GrilleID       int64
	Grid           *domain.Grid
	CreatedAt      time.Time

	// ResumedFrom is the ledger id of the confirmed save the session was
	// reloaded from, empty for a fresh session.
	ResumedFrom string

	mu           sync.Mutex
	agg          *scoring.Aggregator
	observations string
	saving       bool
	lastSeen     time.Time
}

// Preview is the payload a save would send, with display labels.
type Preview struct {
	Payload *domain.SavePayload          `json:"payload"`
	Labels  map[string]map[string]string `json:"labels"`
	Summary *domain.Summary              `json:"summary"`
}

// SaveResult is the outcome of a save attempt.
type SaveResult struct {
	Response *domain.SaveResponse `json:"response,omitempty"`
	Record   *domain.SaveRecord   `json:"record,omitempty"`
	Summary  *domain.Summary      `json:"summary"`
}

func (s *Session) weightFor(domainID, indicatorID string, explicit *float64) float64 {
	return s.Grid.ResolveWeight(domainID, indicatorID, explicit)
}

// Caller holds s.mu.
func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(s.lastSeen)
}

func labelsFor(scores domain.Scores) map[string]map[string]string {
	out := make(map[string]map[string]string, len(scores))
	for domID, dom := range scores {
		m := make(map[string]string, len(dom))
		for indID, e := range dom {
			m[indID] = scoring.RatingLabel(e.Value)
		}
		out[domID] = m
	}
	return out
}
