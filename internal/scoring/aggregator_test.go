package scoring

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/synchronie/cotation/internal/domain"
)

func twoDomains() []domain.DomainDef {
	return []domain.DomainDef{
		{ID: "D1", Name: "Communication", Indicators: []domain.IndicatorDef{{ID: "A"}, {ID: "B"}}},
		{ID: "D2", Name: "Motricité", Indicators: []domain.IndicatorDef{{ID: "C"}}},
	}
}

func loaded(t *testing.T) *Aggregator {
	t.Helper()
	agg := NewAggregator()
	if err := agg.Initialize(twoDomains()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return agg
}

func mustRate(t *testing.T, agg *Aggregator, dom, ind string, rating int, weight float64) {
	t.Helper()
	if err := agg.RecordRating(dom, ind, rating, weight); err != nil {
		t.Fatalf("record %s/%s=%d: %v", dom, ind, rating, err)
	}
}

func TestInitialize(t *testing.T) {
	agg := loaded(t)

	if agg.State() != domain.StateLoaded {
		t.Errorf("expected loaded state, got %s", agg.State())
	}
	if c := agg.Completion(); c.Rated != 0 || c.Total != 3 {
		t.Errorf("expected 0/3, got %d/%d", c.Rated, c.Total)
	}
	if got := agg.GlobalPercentage(); got != 0 {
		t.Errorf("expected global 0, got %d", got)
	}
	if diff := cmp.Diff([]string{"D1", "D2"}, agg.Domains()); diff != "" {
		t.Errorf("domain order mismatch (-want +got):\n%s", diff)
	}
}

func TestInitializeEmptySchema(t *testing.T) {
	agg := NewAggregator()
	err := agg.Initialize(nil)
	if !errors.Is(err, domain.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if agg.State() != domain.StateUninitialized {
		t.Errorf("state changed on failed initialize: %s", agg.State())
	}
}

func TestDomainPercentage(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 3, 1)
	mustRate(t, agg, "D1", "B", 4, 2)

	// (3 + 8) / 15 = 73.33
	if got := agg.DomainPercentage("D1"); got != 73 {
		t.Errorf("expected 73, got %d", got)
	}
	if got := agg.DomainPercentage("D2"); got != 0 {
		t.Errorf("expected 0 for unrated domain, got %d", got)
	}
	if got := agg.DomainPercentage("unknown"); got != 0 {
		t.Errorf("expected 0 for unknown domain, got %d", got)
	}
	if c := agg.Completion(); c.Rated != 2 || c.Total != 3 {
		t.Errorf("expected 2/3, got %d/%d", c.Rated, c.Total)
	}
}

func TestGlobalPercentageUsesRawSums(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 3, 1)
	mustRate(t, agg, "D1", "B", 4, 2)
	mustRate(t, agg, "D2", "C", 5, 1)

	// (3 + 8 + 5) / 20 = 80, while the mean of 73 and 100 would be 87
	if got := agg.GlobalPercentage(); got != 80 {
		t.Errorf("expected 80, got %d", got)
	}
	if got := agg.DomainPercentage("D2"); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
	if c := agg.Completion(); c.Rated != 3 {
		t.Errorf("expected 3 rated, got %d", c.Rated)
	}
}

func TestRatedCountTransitions(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    int
	}{
		{"zero stays unrated", []int{0}, 0},
		{"positive counts once", []int{3}, 1},
		{"rerating positive does not double count", []int{3, 5, 2}, 1},
		{"back to zero decrements", []int{3, 0}, 0},
		{"zero then positive", []int{0, 0, 4}, 1},
		{"flapping", []int{1, 0, 2, 0, 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := loaded(t)
			for _, r := range tt.ratings {
				mustRate(t, agg, "D1", "A", r, 1)
			}
			if got := agg.Completion().Rated; got != tt.want {
				t.Errorf("expected %d rated, got %d", tt.want, got)
			}
		})
	}
}

func TestZeroRatingKeepsMass(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 3, 1)
	mustRate(t, agg, "D1", "B", 4, 2)
	mustRate(t, agg, "D1", "A", 0, 1)

	if c := agg.Completion(); c.Rated != 1 {
		t.Errorf("expected 1 rated, got %d", c.Rated)
	}
	// 8 / 15 = 53.33, the zero-rated entry still counts as potential mass
	if got := agg.DomainPercentage("D1"); got != 53 {
		t.Errorf("expected 53, got %d", got)
	}
}

func TestLastWriteWins(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 1, 1)
	mustRate(t, agg, "D1", "A", 5, 3)

	e, ok := agg.Entry("D1", "A")
	if !ok {
		t.Fatal("expected entry to be recorded")
	}
	if e.Value != 5 || e.Weight != 3 {
		t.Errorf("expected {5 3}, got %+v", e)
	}
	if got := agg.DomainPercentage("D1"); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestOrderIndependence(t *testing.T) {
	type rating struct {
		dom, ind string
		value    int
		weight   float64
	}
	events := []rating{
		{"D1", "A", 3, 1},
		{"D1", "B", 4, 2},
		{"D2", "C", 2, 1.5},
	}

	forward := loaded(t)
	for _, e := range events {
		mustRate(t, forward, e.dom, e.ind, e.value, e.weight)
	}

	backward := loaded(t)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		mustRate(t, backward, e.dom, e.ind, e.value, e.weight)
	}

	if forward.GlobalPercentage() != backward.GlobalPercentage() {
		t.Errorf("global differs: %d vs %d", forward.GlobalPercentage(), backward.GlobalPercentage())
	}
	for _, d := range []string{"D1", "D2"} {
		if forward.DomainPercentage(d) != backward.DomainPercentage(d) {
			t.Errorf("%s differs: %d vs %d", d, forward.DomainPercentage(d), backward.DomainPercentage(d))
		}
	}
	if diff := cmp.Diff(forward.Scores(), backward.Scores()); diff != "" {
		t.Errorf("scores differ (-forward +backward):\n%s", diff)
	}
}

func TestZeroWeight(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D2", "C", 5, 0)

	if got := agg.DomainPercentage("D2"); got != 0 {
		t.Errorf("expected 0 for zero mass, got %d", got)
	}
	if got := agg.GlobalPercentage(); got != 0 {
		t.Errorf("expected global 0, got %d", got)
	}
	// a zero-weight rating is still a rating
	if c := agg.Completion(); c.Rated != 1 {
		t.Errorf("expected 1 rated, got %d", c.Rated)
	}
}

func TestRecordRatingRange(t *testing.T) {
	tests := []struct {
		name   string
		rating int
		weight float64
	}{
		{"below scale", -1, 1},
		{"above scale", 6, 1},
		{"negative weight", 3, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := loaded(t)
			mustRate(t, agg, "D1", "A", 2, 1)

			err := agg.RecordRating("D1", "A", tt.rating, tt.weight)
			if !errors.Is(err, domain.ErrRange) {
				t.Fatalf("expected ErrRange, got %v", err)
			}

			var rangeErr *domain.RangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected *RangeError, got %T", err)
			}
			if rangeErr.DomainID != "D1" || rangeErr.IndicatorID != "A" {
				t.Errorf("unexpected error target %s/%s", rangeErr.DomainID, rangeErr.IndicatorID)
			}

			// state untouched
			if e, _ := agg.Entry("D1", "A"); e.Value != 2 {
				t.Errorf("entry changed to %d", e.Value)
			}
			if got := agg.Completion().Rated; got != 1 {
				t.Errorf("rated changed to %d", got)
			}
		})
	}
}

func TestUnknownDomainIsAppended(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D9", "Z", 4, 1)

	if diff := cmp.Diff([]string{"D1", "D2", "D9"}, agg.Domains()); diff != "" {
		t.Errorf("domain order mismatch (-want +got):\n%s", diff)
	}
	if got := agg.DomainPercentage("D9"); got != 80 {
		t.Errorf("expected 80, got %d", got)
	}
}

func TestBuildSavePayload(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 3, 1)
	mustRate(t, agg, "D1", "B", 0, 2)

	payload, err := agg.BuildSavePayload(12, 4, "calme")
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	want := &domain.SavePayload{
		SeanceID: 12,
		GrilleID: 4,
		Scores: domain.Scores{
			"D1": {
				"A": {Value: 3, Weight: 1},
				"B": {Value: 0, Weight: 2},
			},
		},
		Observations: "calme",
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	// the payload is a snapshot
	payload.Scores["D1"]["A"] = domain.ScoreEntry{Value: 5, Weight: 1}
	if e, _ := agg.Entry("D1", "A"); e.Value != 3 {
		t.Error("mutating payload leaked into aggregator")
	}

	if agg.State() != domain.StateLoaded {
		t.Errorf("building a payload must not change state, got %s", agg.State())
	}
}

func TestBuildSavePayloadEmpty(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 0, 1)

	_, err := agg.BuildSavePayload(1, 1, "")
	if !errors.Is(err, domain.ErrEmptyScore) {
		t.Fatalf("expected ErrEmptyScore, got %v", err)
	}
}

func TestReset(t *testing.T) {
	agg := loaded(t)
	mustRate(t, agg, "D1", "A", 3, 1)
	mustRate(t, agg, "D2", "C", 5, 1)

	if err := agg.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if c := agg.Completion(); c.Rated != 0 || c.Total != 3 {
		t.Errorf("expected 0/3 after reset, got %d/%d", c.Rated, c.Total)
	}
	if got := agg.GlobalPercentage(); got != 0 {
		t.Errorf("expected global 0 after reset, got %d", got)
	}
	if _, ok := agg.Entry("D1", "A"); ok {
		t.Error("entries survived reset")
	}
	if _, err := agg.BuildSavePayload(1, 1, ""); !errors.Is(err, domain.ErrEmptyScore) {
		t.Errorf("expected ErrEmptyScore after reset, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	agg := NewAggregator()

	if err := agg.RecordRating("D1", "A", 3, 1); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("record before initialize: expected ErrSessionState, got %v", err)
	}
	if _, err := agg.BuildSavePayload(1, 1, ""); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("payload before initialize: expected ErrSessionState, got %v", err)
	}
	if err := agg.Reset(); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("reset before initialize: expected ErrSessionState, got %v", err)
	}

	if err := agg.Initialize(twoDomains()); err != nil {
		t.Fatal(err)
	}
	mustRate(t, agg, "D1", "A", 3, 1)

	if err := agg.MarkSaved(); err != nil {
		t.Fatalf("mark saved: %v", err)
	}
	if agg.State() != domain.StateSaved {
		t.Errorf("expected saved, got %s", agg.State())
	}
	if err := agg.RecordRating("D1", "A", 4, 1); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("record after save: expected ErrSessionState, got %v", err)
	}
	if err := agg.MarkSaved(); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("double save: expected ErrSessionState, got %v", err)
	}

	// a saved session can be reopened on a new grid
	if err := agg.Initialize(twoDomains()); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	if agg.Completion().Rated != 0 {
		t.Error("reinitialize kept previous ratings")
	}
}

func TestPercentRounding(t *testing.T) {
	tests := []struct {
		score, mass float64
		want        int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 200, 1},  // 0.5 rounds up
		{1, 400, 0},  // 0.25 rounds down
		{11, 15, 73}, // 73.33
		{13, 15, 87}, // 86.67
		{15, 15, 100},
	}

	for _, tt := range tests {
		if got := percent(tt.score, tt.mass); got != tt.want {
			t.Errorf("percent(%g, %g) = %d, want %d", tt.score, tt.mass, got, tt.want)
		}
	}
}

func TestRatingLabel(t *testing.T) {
	if got := RatingLabel(0); got != "Non observé" {
		t.Errorf("unexpected label for 0: %q", got)
	}
	if got := RatingLabel(5); got != "Expert" {
		t.Errorf("unexpected label for 5: %q", got)
	}
	if got := RatingLabel(7); got != "7" {
		t.Errorf("unexpected label for 7: %q", got)
	}
}
