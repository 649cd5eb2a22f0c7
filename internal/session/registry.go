package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/scoring"
)

var (
	// ErrRegistryFull is returned when every slot holds an active session.
	ErrRegistryFull = errors.New("too many open scoring sessions")

	// ErrPractitionerRequired is returned when no practitioner id is given.
	ErrPractitionerRequired = errors.New("practitioner id is required")
)

// Observer receives registry events, typically to feed metrics.
type Observer interface {
	RatingRecorded()
	RatingRejected()
	SaveCompleted(status string)
	SessionsActive(n int)
}

// Deps are the collaborators of a Registry. Ledger, Bus, Summarizer and
// Observer are optional.
type Deps struct {
	Loader     domain.SchemaLoader
	Persister  domain.PersistenceClient
	Ledger     domain.Repository
	Bus        domain.EventBus
	Summarizer *scoring.Summarizer
	Observer   Observer
}

// Registry holds open sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	deps        Deps
	maxSessions int
	idleTTL     time.Duration
	sweepEvery  time.Duration
	now         func() time.Time
}

// NewRegistry creates a session registry.
func NewRegistry(cfg domain.SessionConfig, deps Deps) (*Registry, error) {
	if deps.Loader == nil {
		return nil, fmt.Errorf("schema loader is required")
	}
	if deps.Persister == nil {
		return nil, fmt.Errorf("persistence client is required")
	}
	if deps.Summarizer == nil {
		deps.Summarizer = scoring.NewSummarizer(nil)
	}

	r := &Registry{
		sessions:    make(map[string]*Session),
		deps:        deps,
		maxSessions: cfg.MaxSessions,
		idleTTL:     cfg.IdleTTL,
		sweepEvery:  cfg.SweepInterval,
		now:         time.Now,
	}
	if r.maxSessions <= 0 {
		r.maxSessions = 1000
	}
	if r.idleTTL <= 0 {
		r.idleTTL = 2 * time.Hour
	}
	if r.sweepEvery <= 0 {
		r.sweepEvery = time.Minute
	}
	return r, nil
}

// Open loads a grid and starts a new session on it.
func (r *Registry) Open(ctx context.Context, practitionerID string, seanceID, grilleID int64) (*Session, error) {
	if practitionerID == "" {
		return nil, ErrPractitionerRequired
	}
	if seanceID <= 0 {
		return nil, fmt.Errorf("%w: seance id must be positive", domain.ErrSchema)
	}

	grid, err := r.deps.Loader.LoadGrid(ctx, grilleID)
	if err != nil {
		return nil, err
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	agg := scoring.NewAggregator()
	if err := agg.Initialize(grid.Domains); err != nil {
		return nil, err
	}

	now := r.now()
	s := &Session{
		ID:             uuid.New().String(),
		PractitionerID: practitionerID,
		SeanceID:       seanceID,
		GrilleID:       grilleID,
		Grid:           grid,
		CreatedAt:      now,
		agg:            agg,
		lastSeen:       now,
	}
	r.resume(ctx, s)

	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions && !r.evictOldestLocked() {
		r.mu.Unlock()
		return nil, ErrRegistryFull
	}
	r.sessions[s.ID] = s
	active := len(r.sessions)
	r.mu.Unlock()

	r.observeActive(active)

	slog.Info("scoring session opened",
		"session_id", s.ID,
		"practitioner_id", practitionerID,
		"seance_id", seanceID,
		"grille_id", grilleID,
		"indicators", grid.IndicatorCount(),
		"resumed_from", s.ResumedFrom,
	)

	return s, nil
}

// resume reloads the practitioner's last confirmed save of the same seance
// and grid into a new session, so that a saved cotation can be amended.
// Ledger failures only cost the resume.
func (r *Registry) resume(ctx context.Context, s *Session) {
	if r.deps.Ledger == nil {
		return
	}

	rec, err := r.deps.Ledger.LatestSuccess(ctx, s.PractitionerID, s.SeanceID, s.GrilleID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("failed to look up previous cotation",
				"seance_id", s.SeanceID,
				"grille_id", s.GrilleID,
				"error", err,
			)
		}
		return
	}
	if rec.Payload == nil {
		return
	}

	replayed := 0
	for _, domID := range slices.Sorted(maps.Keys(rec.Payload.Scores)) {
		dom := rec.Payload.Scores[domID]
		for _, indID := range slices.Sorted(maps.Keys(dom)) {
			e := dom[indID]
			if err := s.agg.RecordRating(domID, indID, e.Value, e.Weight); err != nil {
				slog.Warn("stored rating skipped", "record_id", rec.ID, "error", err)
				continue
			}
			replayed++
		}
	}

	s.observations = rec.Payload.Observations
	s.ResumedFrom = rec.ID

	slog.Info("previous cotation reloaded",
		"record_id", rec.ID,
		"seance_id", s.SeanceID,
		"grille_id", s.GrilleID,
		"ratings", replayed,
	)
}

// Get returns a session owned by the practitioner.
// Sessions of other practitioners are reported as not found.
func (r *Registry) Get(practitionerID, sessionID string) (*Session, error) {
	if practitionerID == "" {
		return nil, ErrPractitionerRequired
	}

	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok || s.PractitionerID != practitionerID {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return s, nil
}

// List returns the summaries of a practitioner's sessions.
func (r *Registry) List(practitionerID string) ([]*domain.Summary, error) {
	if practitionerID == "" {
		return nil, ErrPractitionerRequired
	}

	r.mu.RLock()
	owned := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.PractitionerID == practitionerID {
			owned = append(owned, s)
		}
	}
	r.mu.RUnlock()

	out := make([]*domain.Summary, 0, len(owned))
	for _, s := range owned {
		s.mu.Lock()
		out = append(out, r.summaryLocked(s))
		s.mu.Unlock()
	}
	return out, nil
}

// Rate records a rating and returns the updated summary.
// A nil weight resolves to the grid weight of the indicator.
func (r *Registry) Rate(ctx context.Context, practitionerID, sessionID, domainID, indicatorID string, value int, weight *float64) (*domain.Summary, error) {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil, domain.ErrSaveInFlight
	}
	w := s.weightFor(domainID, indicatorID, weight)
	if err := s.agg.RecordRating(domainID, indicatorID, value, w); err != nil {
		s.mu.Unlock()
		if errors.Is(err, domain.ErrRange) {
			r.observeRejected()
		}
		return nil, err
	}
	s.lastSeen = r.now()
	sum := r.summaryLocked(s)
	s.mu.Unlock()

	if r.deps.Observer != nil {
		r.deps.Observer.RatingRecorded()
	}

	slog.Debug("rating recorded",
		"session_id", sessionID,
		"domaine_id", domainID,
		"indicateur_id", indicatorID,
		"value", value,
		"poids", w,
		"global_percent", sum.GlobalPercent,
	)

	r.publish(ctx, domain.TopicScoreUpdated, sum)
	return sum, nil
}

// Reset clears all ratings and observations of a session.
func (r *Registry) Reset(ctx context.Context, practitionerID, sessionID string) (*domain.Summary, error) {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil, domain.ErrSaveInFlight
	}
	if err := s.agg.Reset(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.observations = ""
	s.lastSeen = r.now()
	sum := r.summaryLocked(s)
	s.mu.Unlock()

	slog.Info("scoring session reset", "session_id", sessionID)

	r.publish(ctx, domain.TopicScoreUpdated, sum)
	return sum, nil
}

// Summary returns the current scores of a session.
func (r *Registry) Summary(practitionerID, sessionID string) (*domain.Summary, error) {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = r.now()
	return r.summaryLocked(s), nil
}

// Preview builds the save payload without sending it.
func (r *Registry) Preview(practitionerID, sessionID, observations string) (*Preview, error) {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if observations == "" {
		observations = s.observations
	}
	payload, err := s.agg.BuildSavePayload(s.SeanceID, s.GrilleID, observations)
	if err != nil {
		return nil, err
	}

	return &Preview{
		Payload: payload,
		Labels:  labelsFor(payload.Scores),
		Summary: r.summaryLocked(s),
	}, nil
}

// Save sends the session to the persistence client. Empty observations keep
// the ones already held by the session. The session is marked saved only
// once the backend confirmed it; on failure it stays editable.
// Ratings, resets and other saves are refused while the call is in flight.
func (r *Registry) Save(ctx context.Context, practitionerID, sessionID, observations string) (*SaveResult, error) {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil, domain.ErrSaveInFlight
	}
	if state := s.agg.State(); state != domain.StateLoaded {
		s.mu.Unlock()
		return nil, fmt.Errorf("save %s session: %w", state, domain.ErrSessionState)
	}
	if observations == "" {
		observations = s.observations
	}
	payload, err := s.agg.BuildSavePayload(s.SeanceID, s.GrilleID, observations)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.observations = observations
	s.saving = true
	completion := s.agg.Completion()
	global := s.agg.GlobalPercentage()
	s.mu.Unlock()

	resp, saveErr := r.deps.Persister.Save(ctx, payload)

	rec := &domain.SaveRecord{
		PractitionerID: practitionerID,
		SessionID:      sessionID,
		SeanceID:       s.SeanceID,
		GrilleID:       s.GrilleID,
		Status:         domain.SaveStatusSaved,
		GlobalPercent:  global,
		Rated:          completion.Rated,
		Total:          completion.Total,
		Payload:        payload,
		CreatedAt:      r.now().UTC(),
	}
	if resp != nil {
		rec.Message = resp.Reason()
	}
	if saveErr != nil {
		rec.Status = domain.SaveStatusFailed
		var perr *domain.PersistenceError
		if errors.As(saveErr, &perr) && rec.Message == "" {
			rec.Message = perr.Error()
		}
	}
	r.record(context.WithoutCancel(ctx), rec)

	s.mu.Lock()
	s.saving = false
	s.lastSeen = r.now()
	if saveErr == nil {
		// only this call could have moved the session out of Loaded
		_ = s.agg.MarkSaved()
	}
	sum := r.summaryLocked(s)
	s.mu.Unlock()

	if r.deps.Observer != nil {
		r.deps.Observer.SaveCompleted(rec.Status)
	}

	if saveErr != nil {
		slog.Warn("cotation save failed",
			"session_id", sessionID,
			"seance_id", s.SeanceID,
			"grille_id", s.GrilleID,
			"error", saveErr,
		)
		if !errors.Is(saveErr, domain.ErrPersistence) {
			saveErr = &domain.PersistenceError{Err: saveErr}
		}
		return &SaveResult{Response: resp, Record: rec, Summary: sum}, saveErr
	}

	slog.Info("cotation saved",
		"session_id", sessionID,
		"seance_id", s.SeanceID,
		"grille_id", s.GrilleID,
		"global_percent", global,
		"rated", completion.Rated,
		"total", completion.Total,
	)

	r.publish(ctx, domain.TopicSessionSaved, rec)
	return &SaveResult{Response: resp, Record: rec, Summary: sum}, nil
}

// Discard drops a session. A session with a save in flight is kept.
func (r *Registry) Discard(practitionerID, sessionID string) error {
	s, err := r.Get(practitionerID, sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	saving := s.saving
	s.mu.Unlock()
	if saving {
		return domain.ErrSaveInFlight
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	active := len(r.sessions)
	r.mu.Unlock()

	r.observeActive(active)
	slog.Info("scoring session discarded", "session_id", sessionID)
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run sweeps idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("idle scoring sessions swept", "count", n)
			}
		}
	}
}

// Sweep removes sessions idle for longer than the idle TTL and returns
// how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	removed := 0
	for id, s := range r.sessions {
		s.mu.Lock()
		expired := !s.saving && s.idleSince(now) > r.idleTTL
		s.mu.Unlock()
		if expired {
			delete(r.sessions, id)
			removed++
		}
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		r.observeActive(active)
	}
	return removed
}

// evictOldestLocked makes room for one session. Saved sessions go first,
// least recently used first, then editable ones. Sessions with a save in
// flight are kept. Caller holds r.mu.
func (r *Registry) evictOldestLocked() bool {
	var (
		victim      string
		victimSeen  time.Time
		victimSaved bool
	)
	for id, s := range r.sessions {
		s.mu.Lock()
		seen, saving := s.lastSeen, s.saving
		saved := s.agg.State() == domain.StateSaved
		s.mu.Unlock()
		if saving {
			continue
		}

		switch {
		case victim == "",
			saved && !victimSaved,
			saved == victimSaved && seen.Before(victimSeen):
			victim, victimSeen, victimSaved = id, seen, saved
		}
	}
	if victim == "" {
		return false
	}
	delete(r.sessions, victim)
	slog.Warn("scoring session evicted",
		"session_id", victim,
		"saved", victimSaved,
		"last_seen", victimSeen,
	)
	return true
}

// Caller holds s.mu.
func (r *Registry) summaryLocked(s *Session) *domain.Summary {
	sum := r.deps.Summarizer.Summarize(s.agg, s.Grid)
	sum.SessionID = s.ID
	sum.SeanceID = s.SeanceID
	sum.GrilleID = s.GrilleID
	return sum
}

func (r *Registry) record(ctx context.Context, rec *domain.SaveRecord) {
	if r.deps.Ledger == nil {
		return
	}
	if err := r.deps.Ledger.SaveAttempt(ctx, rec); err != nil {
		slog.Error("failed to record save attempt",
			"session_id", rec.SessionID,
			"status", rec.Status,
			"error", err,
		)
	}
}

func (r *Registry) publish(ctx context.Context, topic string, v any) {
	if r.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := r.deps.Bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (r *Registry) observeActive(n int) {
	if r.deps.Observer != nil {
		r.deps.Observer.SessionsActive(n)
	}
}

func (r *Registry) observeRejected() {
	if r.deps.Observer != nil {
		r.deps.Observer.RatingRejected()
	}
}
