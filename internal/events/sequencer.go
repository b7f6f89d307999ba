// Package events owns per-app Event.sequence allocation and append (spec
// §3 invariant 5, §4.4, §9). The single-node allocator generalizes the
// teacher's ReplayProtection — a single mutex-guarded map — into one
// serialized mailbox per app, so sequence allocation for app A never
// blocks on app B's in-flight write.
package events

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"opencat/internal/storage"
)

// Allocator appends an event to an app's log with an atomically assigned,
// gapless sequence number, within the caller's transaction.
type Allocator interface {
	Append(tx *gorm.DB, appID string, e *storage.Event) error
}

// Resynchronizer is implemented by allocators that cache sequence state
// in-process and so can drift from storage if the transaction an Append
// call participated in is later rolled back by the caller. Callers that
// may call Append more than once inside a single transaction should type
// assert for this and call Resync(appID) when that transaction fails.
type Resynchronizer interface {
	Resync(appID string)
}

// appActor is a serial mailbox: every closure submitted to it runs on its
// own goroutine, one at a time, so the embedded counter needs no lock.
type appActor struct {
	mailbox chan func()
	counter int64
	seeded  bool
}

func newAppActor() *appActor {
	a := &appActor{mailbox: make(chan func(), 64)}
	go a.run()
	return a
}

func (a *appActor) run() {
	for fn := range a.mailbox {
		fn()
	}
}

func (a *appActor) do(fn func()) {
	done := make(chan struct{})
	a.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// SingleNodeAllocator is the default allocator (spec §9: "preferred when
// the system is single-node"). One appActor per app_id is created lazily
// and kept for the process lifetime.
type SingleNodeAllocator struct {
	events *storage.EventRepo

	mu     sync.Mutex
	actors map[string]*appActor
}

func NewSingleNodeAllocator(events *storage.EventRepo) *SingleNodeAllocator {
	return &SingleNodeAllocator{
		events: events,
		actors: make(map[string]*appActor),
	}
}

func (s *SingleNodeAllocator) actorFor(appID string) *appActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[appID]
	if !ok {
		a = newAppActor()
		s.actors[appID] = a
	}
	return a
}

func (s *SingleNodeAllocator) Append(tx *gorm.DB, appID string, e *storage.Event) error {
	actor := s.actorFor(appID)

	var opErr error
	actor.do(func() {
		if !actor.seeded {
			max, err := s.events.MaxSequence(appID)
			if err != nil {
				opErr = fmt.Errorf("failed to seed sequence counter for app %s: %w", appID, err)
				return
			}
			actor.counter = max
			actor.seeded = true
		}

		e.AppID = appID
		e.Sequence = actor.counter + 1
		if err := s.events.Append(tx, e); err != nil {
			opErr = err
			return
		}
		actor.counter = e.Sequence
	})
	return opErr
}

// Resync forgets an app's cached counter, forcing the next Append to
// re-seed it from storage. Callers must invoke this when a transaction
// an Append call participated in is rolled back after Append itself
// returned success, since the INSERT that justified the in-memory bump
// never actually committed (spec §8 invariant 1: no gaps, no duplicates).
func (s *SingleNodeAllocator) Resync(appID string) {
	s.mu.Lock()
	a, ok := s.actors[appID]
	s.mu.Unlock()
	if !ok {
		return
	}
	a.do(func() {
		a.seeded = false
	})
}

// MultiNodeAllocator allocates sequences via a row-level lock on the app's
// highest existing event (spec §9: "mandatory for multi-node"), so
// concurrent processes racing to append for the same app serialize at the
// database rather than in any one process's memory.
type MultiNodeAllocator struct {
	events *storage.EventRepo
}

func NewMultiNodeAllocator(events *storage.EventRepo) *MultiNodeAllocator {
	return &MultiNodeAllocator{events: events}
}

func (m *MultiNodeAllocator) Append(tx *gorm.DB, appID string, e *storage.Event) error {
	if tx == nil {
		return fmt.Errorf("multi-node sequence allocation requires a transaction")
	}
	seq, err := m.events.NextSequenceForUpdate(tx, appID)
	if err != nil {
		return err
	}
	e.AppID = appID
	e.Sequence = seq
	return m.events.Append(tx, e)
}
