package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func weight(w float64) *float64 { return &w }

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`12`, "12"},
		{`"12"`, "12"},
		{`"A-1"`, "A-1"},
		{`null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if id != tt.want {
				t.Errorf("expected %q, got %q", tt.want, id)
			}
		})
	}

	var id ID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Error("expected error for a boolean id")
	}
}

func TestGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    Grid
		wantErr string
	}{
		{"Valid", Grid{Domains: []DomainDef{{ID: "1", Indicators: []IndicatorDef{{ID: "a"}}}}}, ""},
		{"NoDomain", Grid{}, "no domain"},
		{"EmptyDomain", Grid{Domains: []DomainDef{{ID: "1"}}}, "has no indicator"},
		{"DomainWithoutID", Grid{Domains: []DomainDef{{Indicators: []IndicatorDef{{ID: "a"}}}}}, "has no id"},
		{"DuplicateDomain", Grid{Domains: []DomainDef{
			{ID: "1", Indicators: []IndicatorDef{{ID: "a"}}},
			{ID: "1", Indicators: []IndicatorDef{{ID: "b"}}},
		}}, "duplicate domain"},
		{"DuplicateIndicator", Grid{Domains: []DomainDef{
			{ID: "1", Indicators: []IndicatorDef{{ID: "a"}, {ID: "a"}}},
		}}, "duplicate indicator"},
		{"NegativeWeight", Grid{Domains: []DomainDef{
			{ID: "1", Indicators: []IndicatorDef{{ID: "a", Weight: weight(-1)}}},
		}}, "negative weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrSchema) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected schema error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolveWeight(t *testing.T) {
	g := &Grid{Domains: []DomainDef{
		{ID: "1", Indicators: []IndicatorDef{
			{ID: "a", Weight: weight(2)},
			{ID: "b"},
			{ID: "c", Weight: weight(0)},
		}},
	}}

	tests := []struct {
		name      string
		indicator string
		explicit  *float64
		want      float64
	}{
		{"GridWeight", "a", nil, 2},
		{"Unset", "b", nil, DefaultWeight},
		{"ExplicitZeroInGrid", "c", nil, 0},
		{"ExplicitWins", "a", weight(0.5), 0.5},
		{"UnknownIndicator", "z", nil, DefaultWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ResolveWeight("1", tt.indicator, tt.explicit); got != tt.want {
				t.Errorf("expected %g, got %g", tt.want, got)
			}
		})
	}

	var none *Grid
	if got := none.ResolveWeight("1", "a", nil); got != DefaultWeight {
		t.Errorf("expected default weight without a grid, got %g", got)
	}
}

func TestCompletionPercent(t *testing.T) {
	tests := []struct {
		c    Completion
		want int
	}{
		{Completion{0, 0}, 0},
		{Completion{1, 3}, 33},
		{Completion{2, 3}, 67},
		{Completion{1, 2}, 50},
		{Completion{3, 3}, 100},
	}
	for _, tt := range tests {
		if got := tt.c.Percent(); got != tt.want {
			t.Errorf("%+v: expected %d, got %d", tt.c, tt.want, got)
		}
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&PersistenceError{Err: cause})

	if !errors.Is(err, ErrPersistence) || !errors.Is(err, cause) {
		t.Errorf("expected both kind and cause in chain, got %v", err)
	}
	if got := (&PersistenceError{Message: "Séance non trouvée"}).Error(); !strings.HasSuffix(got, "Séance non trouvée") {
		t.Errorf("expected upstream message, got %q", got)
	}
}

func TestRangeError(t *testing.T) {
	tests := []struct {
		name string
		err  *RangeError
		want string
	}{
		{"Rating", &RangeError{DomainID: "D1", IndicatorID: "A", Rating: 6, Weight: 1}, "D1/A rated 6, expected 0..5"},
		{"NegativeWeight", &RangeError{DomainID: "D1", IndicatorID: "A", Rating: 3, Weight: -2}, "D1/A has negative weight -2"},
		{"NaNWeight", &RangeError{DomainID: "D1", IndicatorID: "A", Rating: 3, Weight: math.NaN()}, "D1/A has invalid weight NaN"},
		{"InfWeight", &RangeError{DomainID: "D1", IndicatorID: "A", Rating: 3, Weight: math.Inf(1)}, "D1/A has invalid weight +Inf"},
		{"NegativeInfWeight", &RangeError{DomainID: "D1", IndicatorID: "A", Rating: 3, Weight: math.Inf(-1)}, "D1/A has invalid weight -Inf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); !strings.HasSuffix(got, tt.want) {
				t.Errorf("expected suffix %q, got %q", tt.want, got)
			}
			if !errors.Is(tt.err, ErrRange) {
				t.Error("expected ErrRange in chain")
			}
		})
	}
}
