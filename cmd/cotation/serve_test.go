package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/synchronie/cotation/internal/bus"
	"github.com/synchronie/cotation/internal/cache"
	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/metrics"
	"github.com/synchronie/cotation/internal/worker"
)

type refusingRater struct{}

func (refusingRater) Rate(ctx context.Context, practitionerID, sessionID, domainID, indicatorID string, value int, weight *float64) (*domain.Summary, error) {
	return nil, domain.ErrNotFound
}

func TestWatchRuntime(t *testing.T) {
	eventBus := bus.NewChannelBus(4)
	defer eventBus.Close()

	gridCache := cache.NewLRUCache(16)
	_ = gridCache.SetGrid(context.Background(), testGrid(), time.Minute)

	m := metrics.New()
	w := worker.NewWorker(eventBus, refusingRater{})
	if err := watchRuntime(m, w, eventBus, gridCache); err != nil {
		t.Fatalf("watchRuntime failed: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`cotation_bus_rating_events_total{outcome="applied"} 0`,
		`cotation_bus_rating_events_total{outcome="dropped"} 0`,
		`cotation_bus_deliveries_dropped_total 0`,
		`cotation_grid_cache_entries 1`,
		`cotation_grid_cache_capacity 16`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in scrape output:\n%s", want, body)
		}
	}

	if err := watchRuntime(m, w, eventBus, gridCache); err == nil {
		t.Error("expected a second registration to fail")
	}
}
