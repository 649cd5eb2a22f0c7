package domain

import (
	"errors"
	"fmt"
	"math"
)

// Error kinds surfaced by a scoring session.
var (
	// ErrSchema marks an empty or malformed grid.
	ErrSchema = errors.New("invalid grid schema")

	// ErrRange marks a rating outside [0,5] or a negative weight.
	ErrRange = errors.New("rating out of range")

	// ErrEmptyScore is returned when a save is requested with no rated indicator.
	ErrEmptyScore = errors.New("at least one indicator must be rated before saving")

	// ErrPersistence marks a failure reported by the persistence client.
	ErrPersistence = errors.New("cotation could not be saved")

	// ErrSessionState is returned when an operation is not allowed in the
	// current session state (not loaded yet, or already saved).
	ErrSessionState = errors.New("operation not allowed in current session state")

	// ErrNotFound is returned for unknown sessions or grids.
	ErrNotFound = errors.New("not found")

	// ErrSaveInFlight is returned while a save for the same session is outstanding.
	ErrSaveInFlight = errors.New("a save is already in progress for this session")
)

// SchemaError describes why a grid cannot start a session.
type SchemaError struct {
	GridID int64
	Reason string
}

func (e *SchemaError) Error() string {
	if e.GridID != 0 {
		return fmt.Sprintf("grid %d: %s: %s", e.GridID, ErrSchema, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrSchema, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// RangeError reports a rating event the aggregator refused.
type RangeError struct {
	DomainID    string
	IndicatorID string
	Rating      int
	Weight      float64
}

func (e *RangeError) Error() string {
	if e.Rating < MinRating || e.Rating > MaxRating {
		return fmt.Sprintf("%s: %s/%s rated %d, expected %d..%d",
			ErrRange, e.DomainID, e.IndicatorID, e.Rating, MinRating, MaxRating)
	}
	if e.Weight < 0 && !math.IsInf(e.Weight, -1) {
		return fmt.Sprintf("%s: %s/%s has negative weight %g", ErrRange, e.DomainID, e.IndicatorID, e.Weight)
	}
	return fmt.Sprintf("%s: %s/%s has invalid weight %g", ErrRange, e.DomainID, e.IndicatorID, e.Weight)
}

func (e *RangeError) Unwrap() error { return ErrRange }

// PersistenceError carries the message returned by the persistence backend.
type PersistenceError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *PersistenceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return ErrPersistence.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPersistence, msg)
}

// Unwrap exposes both the ErrPersistence kind and the transport cause.
func (e *PersistenceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPersistence, e.Err}
	}
	return []error{ErrPersistence}
}
