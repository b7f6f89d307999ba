package storage

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRepo appends domain events and serves paginated reads (spec §3, §4.4,
// §6). Sequence allocation itself lives in internal/events; this repo only
// persists already-numbered events and offers the row-locking primitive
// multi-node mode uses to allocate them safely.
type EventRepo struct {
	db *gorm.DB
}

func NewEventRepo() *EventRepo {
	return &EventRepo{db: GetDB()}
}

// NewEventRepoForTest builds an EventRepo against a caller-supplied
// connection, for tests that use an isolated sqlite database rather than
// the process-wide handle.
func NewEventRepoForTest(db *gorm.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append inserts an event. Callers append within the same transaction as
// the triggering write so the event and its cause commit atomically
// (spec §4.4 step 4).
func (r *EventRepo) Append(tx *gorm.DB, e *Event) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	if err := db.Create(e).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// NextSequenceForUpdate locks the app's highest existing sequence and
// returns the next value, for use inside a caller-managed transaction.
// This is the multi-node allocation path (spec §9); single-node mode
// instead uses the in-process per-app actor in internal/events.
func (r *EventRepo) NextSequenceForUpdate(tx *gorm.DB, appID string) (int64, error) {
	var max struct{ Max int64 }
	err := tx.Model(&Event{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("COALESCE(MAX(sequence), 0) as max").
		Where("app_id = ?", appID).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("failed to lock event sequence: %w", err)
	}
	return max.Max + 1, nil
}

// MaxSequence returns the highest sequence recorded for an app, used to
// seed the in-process allocator on startup.
func (r *EventRepo) MaxSequence(appID string) (int64, error) {
	var max struct{ Max int64 }
	err := r.db.Model(&Event{}).
		Select("COALESCE(MAX(sequence), 0) as max").
		Where("app_id = ?", appID).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max.Max, nil
}

// ListByApp returns events with sequence greater than afterSeq, ascending,
// bounded by limit (spec §6 event pagination).
func (r *EventRepo) ListByApp(appID string, afterSeq int64, limit int) ([]Event, error) {
	var events []Event
	q := r.db.Where("app_id = ? AND sequence > ?", appID, afterSeq).Order("sequence asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
