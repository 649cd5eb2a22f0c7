package scoring

import (
	"github.com/synchronie/cotation/internal/domain"
)

// Classifier maps a percentage to a display band.
type Classifier interface {
	Classify(percent, completion int) string
}

// Summarizer projects an aggregator into a display summary.
type Summarizer struct {
	bands Classifier
}

// NewSummarizer creates a summarizer. A nil classifier leaves bands empty.
func NewSummarizer(bands Classifier) *Summarizer {
	return &Summarizer{bands: bands}
}

// Summarize builds the per-domain and global view of a session.
// Domain names and totals come from the grid when one is provided.
func (s *Summarizer) Summarize(agg *Aggregator, grid *domain.Grid) *domain.Summary {
	completion := agg.Completion()

	sum := &domain.Summary{
		State:         agg.State(),
		Domains:       make([]domain.DomainScore, 0, len(agg.order)),
		GlobalPercent: agg.GlobalPercentage(),
		Completion:    completion,
		CompletionPct: completion.Percent(),
		CanSave:       agg.State() == domain.StateLoaded && completion.Rated > 0,
	}

	for _, id := range agg.Domains() {
		ds := domain.DomainScore{
			ID:      id,
			Percent: agg.DomainPercentage(id),
			Rated:   agg.DomainCompletion(id),
		}

		if grid != nil {
			if def, ok := grid.Domain(id); ok {
				ds.Name = def.Name
				ds.Total = len(def.Indicators)
			}
		}
		if ds.Total == 0 {
			ds.Total = len(agg.entries[id])
		}

		ds.Band = s.classify(ds.Percent, completionOf(ds.Rated, ds.Total))
		sum.Domains = append(sum.Domains, ds)
	}

	sum.GlobalBand = s.classify(sum.GlobalPercent, sum.CompletionPct)
	return sum
}

func (s *Summarizer) classify(percent, completion int) string {
	if s == nil || s.bands == nil {
		return ""
	}
	return s.bands.Classify(percent, completion)
}

func completionOf(rated, total int) int {
	return domain.Completion{Rated: rated, Total: total}.Percent()
}
