package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberRepo_GetOrCreateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := &SubscriberRepo{db: db}

	first, err := repo.GetOrCreate(nil, "app-1", "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := repo.GetOrCreate(nil, "app-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubscriberRepo_ScopedPerApp(t *testing.T) {
	db := newTestDB(t)
	repo := &SubscriberRepo{db: db}

	a, err := repo.GetOrCreate(nil, "app-1", "user-1")
	require.NoError(t, err)
	b, err := repo.GetOrCreate(nil, "app-2", "user-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "same app_user_id in different apps must resolve to distinct subscribers")
}

func TestSubscriberRepo_GetByID(t *testing.T) {
	db := newTestDB(t)
	repo := &SubscriberRepo{db: db}

	sub, err := repo.GetOrCreate(nil, "app-1", "user-1")
	require.NoError(t, err)

	fetched, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", fetched.AppUserID)
}
