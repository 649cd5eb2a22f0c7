// Package worker applies rating events from the event bus to live sessions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synchronie/cotation/internal/domain"
)

// Rater applies one rating to a session.
type Rater interface {
	Rate(ctx context.Context, practitionerID, sessionID, domainID, indicatorID string, value int, weight *float64) (*domain.Summary, error)
}

// Worker consumes rating widget events from the EventBus.
type Worker struct {
	bus   domain.EventBus
	rater Rater

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	applied atomic.Int64
	dropped atomic.Int64
}

// NewWorker creates a rating event worker.
func NewWorker(bus domain.EventBus, rater Rater) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		rater:  rater,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to rating events.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRatingChanged, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", domain.TopicRatingChanged, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("rating worker started", "topic", domain.TopicRatingChanged)
	return nil
}

// handleMessage applies one event. Events that can never apply (out of
// range, unknown session, closed session) are logged and dropped; only
// undecodable payloads are reported as errors.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.RatingEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.dropped.Add(1)
		slog.Error("failed to parse rating event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	sum, err := w.rater.Rate(ctx, ev.PractitionerID, ev.SessionID, ev.DomainID.String(), ev.IndicatorID.String(), ev.Value, ev.Weight)
	if err != nil {
		w.dropped.Add(1)

		level := slog.LevelWarn
		if !errors.Is(err, domain.ErrRange) && !errors.Is(err, domain.ErrNotFound) &&
			!errors.Is(err, domain.ErrSessionState) && !errors.Is(err, domain.ErrSaveInFlight) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "rating event dropped",
			"message_id", msg.ID,
			"session_id", ev.SessionID,
			"domaine_id", ev.DomainID,
			"indicateur_id", ev.IndicatorID,
			"value", ev.Value,
			"error", err,
		)
		return nil
	}

	w.applied.Add(1)

	slog.Debug("rating event applied",
		"message_id", msg.ID,
		"session_id", ev.SessionID,
		"global_percent", sum.GlobalPercent,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("rating worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Applied           int64    `json:"applied"`
	Dropped           int64    `json:"dropped"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Applied:           w.applied.Load(),
		Dropped:           w.dropped.Load(),
	}
}
