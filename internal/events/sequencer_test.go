package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"opencat/internal/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))
	return db
}

func TestSingleNodeAllocator_SequenceIsGaplessUnderConcurrency(t *testing.T) {
	db := newTestDB(t)
	repo := storage.NewEventRepoForTest(db)
	alloc := NewSingleNodeAllocator(repo)

	const appID = "app-1"
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := alloc.Append(db, appID, &storage.Event{EventType: storage.EventTransactionCreated})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := repo.ListByApp(appID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, n)

	seen := make(map[int64]bool)
	for _, e := range events {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

func TestSingleNodeAllocator_SeparateAppsAreIndependent(t *testing.T) {
	db := newTestDB(t)
	repo := storage.NewEventRepoForTest(db)
	alloc := NewSingleNodeAllocator(repo)

	require.NoError(t, alloc.Append(db, "app-a", &storage.Event{EventType: storage.EventTransactionCreated}))
	require.NoError(t, alloc.Append(db, "app-b", &storage.Event{EventType: storage.EventTransactionCreated}))
	require.NoError(t, alloc.Append(db, "app-a", &storage.Event{EventType: storage.EventTransactionCreated}))

	aEvents, err := repo.ListByApp("app-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, aEvents, 2)
	assert.Equal(t, int64(1), aEvents[0].Sequence)
	assert.Equal(t, int64(2), aEvents[1].Sequence)

	bEvents, err := repo.ListByApp("app-b", 0, 0)
	require.NoError(t, err)
	require.Len(t, bEvents, 1)
	assert.Equal(t, int64(1), bEvents[0].Sequence)
}
