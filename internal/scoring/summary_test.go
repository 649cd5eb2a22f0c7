package scoring

import (
	"testing"

	"github.com/synchronie/cotation/internal/domain"
)

type thresholdBands struct{}

func (thresholdBands) Classify(percent, _ int) string {
	switch {
	case percent >= 80:
		return "high"
	case percent >= 60:
		return "medium"
	default:
		return "low"
	}
}

func TestSummarizer(t *testing.T) {
	grid := &domain.Grid{ID: 4, Domains: twoDomains()}

	t.Run("Fresh", func(t *testing.T) {
		agg := loaded(t)
		sum := NewSummarizer(thresholdBands{}).Summarize(agg, grid)

		if sum.CanSave {
			t.Error("an unrated session must not be saveable")
		}
		if len(sum.Domains) != 2 {
			t.Fatalf("expected 2 domains, got %d", len(sum.Domains))
		}
		if sum.Domains[0].Name != "Communication" || sum.Domains[0].Total != 2 {
			t.Errorf("unexpected first domain %+v", sum.Domains[0])
		}
		if sum.GlobalBand != "low" {
			t.Errorf("expected low band, got %s", sum.GlobalBand)
		}
	})

	t.Run("Rated", func(t *testing.T) {
		agg := loaded(t)
		mustRate(t, agg, "D1", "A", 3, 1)
		mustRate(t, agg, "D1", "B", 4, 2)
		mustRate(t, agg, "D2", "C", 5, 1)

		sum := NewSummarizer(thresholdBands{}).Summarize(agg, grid)

		if !sum.CanSave {
			t.Error("expected session to be saveable")
		}
		if sum.GlobalPercent != 80 || sum.GlobalBand != "high" {
			t.Errorf("expected 80/high, got %d/%s", sum.GlobalPercent, sum.GlobalBand)
		}
		if sum.CompletionPct != 100 {
			t.Errorf("expected completion 100, got %d", sum.CompletionPct)
		}

		d1 := sum.Domains[0]
		if d1.Percent != 73 || d1.Band != "medium" || d1.Rated != 2 {
			t.Errorf("unexpected D1 score %+v", d1)
		}
		d2 := sum.Domains[1]
		if d2.Percent != 100 || d2.Band != "high" || d2.Rated != 1 {
			t.Errorf("unexpected D2 score %+v", d2)
		}
	})

	t.Run("Saved", func(t *testing.T) {
		agg := loaded(t)
		mustRate(t, agg, "D1", "A", 3, 1)
		if err := agg.MarkSaved(); err != nil {
			t.Fatal(err)
		}

		sum := NewSummarizer(nil).Summarize(agg, nil)
		if sum.CanSave {
			t.Error("a saved session must not be saveable again")
		}
		if sum.State != domain.StateSaved {
			t.Errorf("expected saved state, got %s", sum.State)
		}
		if sum.GlobalBand != "" {
			t.Errorf("expected no band without classifier, got %s", sum.GlobalBand)
		}
		// without a grid the total falls back to recorded entries
		if sum.Domains[0].Total != 1 {
			t.Errorf("expected fallback total 1, got %d", sum.Domains[0].Total)
		}
	})
}
