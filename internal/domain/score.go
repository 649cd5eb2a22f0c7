package domain

import (
	"context"
	"fmt"
	"time"
)

// Rating bounds. 0 means "not rated".
const (
	MinRating = 0
	MaxRating = 5
)

// ScoreEntry is the recorded rating of one indicator.
type ScoreEntry struct {
	Value  int     `json:"value"`
	Weight float64 `json:"poids"`
}

// Scores maps domain id -> indicator id -> entry.
type Scores map[string]map[string]ScoreEntry

// Count returns the number of entries across all domains.
func (s Scores) Count() int {
	n := 0
	for _, d := range s {
		n += len(d)
	}
	return n
}

// SavePayload is the body posted to the cotation save endpoint.
type SavePayload struct {
	SeanceID     int64  `json:"seance_id"`
	GrilleID     int64  `json:"grille_id"`
	Scores       Scores `json:"scores"`
	Observations string `json:"observations"`
}

// SaveResponse is the answer of the cotation save endpoint.
// Some upstream routes report failures under "error" instead of "message".
type SaveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reason returns the operator-facing message of the response.
func (r *SaveResponse) Reason() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// Completion reports how many indicators have a positive rating.
type Completion struct {
	Rated int `json:"rated"`
	Total int `json:"total"`
}

// Percent returns the share of rated indicators, rounded half-up.
func (c Completion) Percent() int {
	if c.Total <= 0 {
		return 0
	}
	return (c.Rated*200 + c.Total) / (c.Total * 2)
}

// SessionState is the lifecycle of one scoring session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateLoaded
	StateSaved
)

func (s SessionState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSaved:
		return "saved"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the state by name in JSON documents.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *SessionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "loaded":
		*s = StateLoaded
	case "saved":
		*s = StateSaved
	case "uninitialized":
		*s = StateUninitialized
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// DomainScore is the derived score of one domain.
type DomainScore struct {
	ID      string `json:"id"`
	Name    string `json:"nom,omitempty"`
	Percent int    `json:"percent"`
	Band    string `json:"band,omitempty"`
	Rated   int    `json:"rated"`
	Total   int    `json:"total"`
}

// Summary is a read-only projection of a session for display.
type Summary struct {
	SessionID     string        `json:"sessionId,omitempty"`
	SeanceID      int64         `json:"seanceId,omitempty"`
	GrilleID      int64         `json:"grilleId,omitempty"`
	State         SessionState  `json:"state"`
	Domains       []DomainScore `json:"domains"`
	GlobalPercent int           `json:"globalPercent"`
	GlobalBand    string        `json:"globalBand,omitempty"`
	Completion    Completion    `json:"completion"`
	CompletionPct int           `json:"completionPercent"`
	CanSave       bool          `json:"canSave"`
}

// RatingEvent is emitted by a rating widget when a slider value changes.
type RatingEvent struct {
	SessionID      string   `json:"session_id"`
	PractitionerID string   `json:"practitioner_id,omitempty"`
	DomainID       ID       `json:"domaine_id"`
	IndicatorID    ID       `json:"indicateur_id"`
	Value          int      `json:"value"`
	Weight         *float64 `json:"poids,omitempty"`
}

// SchemaLoader fetches grid definitions.
type SchemaLoader interface {
	LoadGrid(ctx context.Context, gridID int64) (*Grid, error)
}

// PersistenceClient transmits save payloads and reports the outcome.
// A response with Success=false must be returned as a *PersistenceError.
type PersistenceClient interface {
	Save(ctx context.Context, payload *SavePayload) (*SaveResponse, error)
}

// Save attempt statuses recorded in the ledger.
const (
	SaveStatusSaved  = "saved"
	SaveStatusFailed = "failed"
)

// SaveRecord is one save attempt kept in the local ledger.
type SaveRecord struct {
	ID             string       `json:"id"`
	PractitionerID string       `json:"practitionerId"`
	SessionID      string       `json:"sessionId"`
	SeanceID       int64        `json:"seanceId"`
	GrilleID       int64        `json:"grilleId"`
	Status         string       `json:"status"`
	GlobalPercent  int          `json:"globalPercent"`
	Rated          int          `json:"rated"`
	Total          int          `json:"total"`
	Payload        *SavePayload `json:"payload"`
	Message        string       `json:"message,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}
