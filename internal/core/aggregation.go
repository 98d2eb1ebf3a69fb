package core

import (
	"math"
	"time"
)

const (
	AggregationPending    AggregationStatus = "pending"
	AggregationProcessing AggregationStatus = "processing"
	AggregationCompleted  AggregationStatus = "completed"
	AggregationSkipped    AggregationStatus = "skipped"
	AggregationFailed     AggregationStatus = "failed"
	// AggregationCancelled marks an expense event dropped before it was
	// applied because its transaction was deleted.
	AggregationCancelled AggregationStatus = "cancelled"
	// AggregationReversed marks an applied expense event whose delta has
	// been taken back by a later delete.
	AggregationReversed AggregationStatus = "reversed"
)

type AggregationStatus string

// AggregationEvent is the outbox record tying a transaction mutation to the
// budget delta it implies.
type AggregationEvent struct {
	ID            string
	UserID        string
	TransactionID string // empty for direct recordings
	Category      string
	Delta         int64 // signed cents: +amount on create, -amount on delete
	Status        AggregationStatus
	Attempts      int
	LastError     string
	BudgetID      string // set once applied
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s AggregationStatus) Valid() bool {
	switch s {
	case AggregationPending, AggregationProcessing, AggregationCompleted, AggregationSkipped, AggregationFailed,
		AggregationCancelled, AggregationReversed:
		return true
	}
	return false
}

// Terminal reports whether the event needs no further processing.
func (s AggregationStatus) Terminal() bool {
	switch s {
	case AggregationCompleted, AggregationSkipped, AggregationCancelled, AggregationReversed:
		return true
	}
	return false
}

// Origin reports whether ev is the event a stored expense created, as opposed
// to its reversal or a direct recording.
func (ev AggregationEvent) Origin() bool {
	return ev.TransactionID != "" && ev.Delta > 0
}

// Reversal reports whether ev takes back a deleted expense.
func (ev AggregationEvent) Reversal() bool {
	return ev.TransactionID != "" && ev.Delta < 0
}

// Retained reports whether Cleanup must keep ev: an applied origin event is
// the only record of which budget its expense went to.
func (ev AggregationEvent) Retained() bool {
	return ev.Status == AggregationCompleted && ev.Origin()
}

// ApplyDelta adds delta to spent, clamping at zero and saturating at the
// int64 maximum.
func ApplyDelta(spent Money, delta int64) Money {
	next := spent.Cents + delta
	switch {
	case delta > 0 && next < spent.Cents:
		next = math.MaxInt64
	case next < 0:
		next = 0
	}
	return Money{Cents: next}
}
