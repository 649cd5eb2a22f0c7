package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/synchronie/cotation/internal/cache"
	"github.com/synchronie/cotation/internal/domain"
)

const gridBody = `{
  "success": true,
  "domaines": [
    {"id": 12, "nom": "Communication", "indicateurs": [
      {"id": 31, "nom": "Contact visuel", "poids": 1},
      {"id": 32, "nom": "Imitation", "poids": 2}
    ]},
    {"id": "13", "nom": "Motricité", "indicateurs": [
      {"id": 40, "nom": "Coordination"}
    ]}
  ]
}`

func newTestClient(url string) *Client {
	return NewClient(domain.UpstreamConfig{
		BaseURL:   url + "/",
		Timeout:   2 * time.Second,
		CSRFToken: "csrf-123",
		Cookie:    "session=abc",
	})
}

func TestLoadGrid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/cotation/grille/4/domaines":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(gridBody))
		case "/cotation/grille/5/domaines":
			_, _ = w.Write([]byte(`{"success": false, "message": "Grille non trouvée"}`))
		case "/cotation/grille/6/domaines":
			_, _ = w.Write([]byte(`{"success": true, "domaines": []}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		grid, err := client.LoadGrid(ctx, 4)
		if err != nil {
			t.Fatalf("LoadGrid failed: %v", err)
		}
		if grid.ID != 4 {
			t.Errorf("expected grid 4, got %d", grid.ID)
		}
		if grid.IndicatorCount() != 3 {
			t.Errorf("expected 3 indicators, got %d", grid.IndicatorCount())
		}
		if grid.Domains[1].ID != "13" {
			t.Errorf("expected string id to be kept, got %q", grid.Domains[1].ID)
		}
		ind, ok := grid.Indicator("12", "32")
		if !ok || ind.EffectiveWeight() != 2 {
			t.Errorf("unexpected indicator %+v", ind)
		}
		ind, _ = grid.Indicator("13", "40")
		if ind.EffectiveWeight() != domain.DefaultWeight {
			t.Errorf("expected default weight, got %g", ind.EffectiveWeight())
		}
	})

	t.Run("Refused", func(t *testing.T) {
		_, err := client.LoadGrid(ctx, 5)
		if !errors.Is(err, domain.ErrSchema) {
			t.Fatalf("expected ErrSchema, got %v", err)
		}
	})

	t.Run("EmptyGrid", func(t *testing.T) {
		_, err := client.LoadGrid(ctx, 6)
		if !errors.Is(err, domain.ErrSchema) {
			t.Fatalf("expected ErrSchema, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := client.LoadGrid(ctx, 99)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidID", func(t *testing.T) {
		_, err := client.LoadGrid(ctx, 0)
		if !errors.Is(err, domain.ErrSchema) {
			t.Fatalf("expected ErrSchema, got %v", err)
		}
	})
}

func TestSave(t *testing.T) {
	var received domain.SavePayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cotation/api/cotation/save" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-CSRFToken") != "csrf-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("Cookie") != "session=abc" {
			t.Errorf("expected session cookie, got %q", r.Header.Get("Cookie"))
		}

		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")

		switch received.SeanceID {
		case 404:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success": false, "message": "Séance non trouvée ou accès refusé"}`))
		case 500:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`<html>oops</html>`))
		case 200:
			_, _ = w.Write([]byte(`{"success": false, "error": "Erreur lors de la sauvegarde"}`))
		default:
			_, _ = w.Write([]byte(`{"success": true, "message": "Cotation sauvegardée avec succès"}`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	payload := &domain.SavePayload{
		SeanceID:     10,
		GrilleID:     4,
		Scores:       domain.Scores{"12": {"31": {Value: 3, Weight: 1}}},
		Observations: "calme",
	}

	t.Run("Success", func(t *testing.T) {
		resp, err := client.Save(ctx, payload)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !resp.Success || resp.Message != "Cotation sauvegardée avec succès" {
			t.Errorf("unexpected response %+v", resp)
		}
		if diff := cmp.Diff(*payload, received); diff != "" {
			t.Errorf("posted payload mismatch (-want +got):\n%s", diff)
		}
	})

	tests := []struct {
		name       string
		seanceID   int64
		wantStatus int
		wantMsg    string
	}{
		{"RefusedWithStatus", 404, http.StatusNotFound, "Séance non trouvée ou accès refusé"},
		{"RefusedWithErrorKey", 200, http.StatusOK, "Erreur lors de la sauvegarde"},
		{"NonJSONFailure", 500, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *payload
			p.SeanceID = tt.seanceID

			_, err := client.Save(ctx, &p)
			if !errors.Is(err, domain.ErrPersistence) {
				t.Fatalf("expected ErrPersistence, got %v", err)
			}

			var perr *domain.PersistenceError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *PersistenceError, got %T", err)
			}
			if perr.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, perr.StatusCode)
			}
			if perr.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, perr.Message)
			}
		})
	}

	t.Run("Unreachable", func(t *testing.T) {
		dead := NewClient(domain.UpstreamConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
		_, err := dead.Save(ctx, payload)
		if !errors.Is(err, domain.ErrPersistence) {
			t.Fatalf("expected ErrPersistence, got %v", err)
		}
	})
}

type countingLoader struct {
	calls atomic.Int32
	grid  *domain.Grid
	err   error
}

func (l *countingLoader) LoadGrid(ctx context.Context, gridID int64) (*domain.Grid, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	g := *l.grid
	g.ID = gridID
	return &g, nil
}

func TestCachedLoader(t *testing.T) {
	ctx := context.Background()
	next := &countingLoader{grid: &domain.Grid{Domains: []domain.DomainDef{
		{ID: "1", Indicators: []domain.IndicatorDef{{ID: "a"}}},
	}}}

	var hits, misses int
	loader := NewCachedLoader(next, cache.NewLRUCache(10), time.Minute)
	loader.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}

	for i := 0; i < 3; i++ {
		grid, err := loader.LoadGrid(ctx, 4)
		if err != nil {
			t.Fatalf("LoadGrid failed: %v", err)
		}
		if grid.ID != 4 {
			t.Errorf("expected grid 4, got %d", grid.ID)
		}
	}

	if next.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", next.calls.Load())
	}
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}

	if err := loader.Invalidate(ctx, 4); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := loader.LoadGrid(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if next.calls.Load() != 2 {
		t.Errorf("expected reload after invalidate, got %d calls", next.calls.Load())
	}

	t.Run("ErrorsAreNotCached", func(t *testing.T) {
		failing := &countingLoader{err: domain.ErrNotFound}
		l := NewCachedLoader(failing, cache.NewLRUCache(10), time.Minute)

		for i := 0; i < 2; i++ {
			if _, err := l.LoadGrid(ctx, 8); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		}
		if failing.calls.Load() != 2 {
			t.Errorf("expected 2 upstream calls, got %d", failing.calls.Load())
		}
	})
}
