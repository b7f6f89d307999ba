package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRepo_ListActiveOnlyReturnsActiveEndpoints(t *testing.T) {
	db := newTestDB(t)
	repo := &WebhookRepo{db: db}

	require.NoError(t, repo.Create(&WebhookEndpoint{AppID: "app-1", URL: "https://active.example.com", Active: true}))
	require.NoError(t, repo.Create(&WebhookEndpoint{AppID: "app-1", URL: "https://inactive.example.com", Active: false}))

	active, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "https://active.example.com", active[0].URL)
}

func TestWebhookRepo_AdvanceCursorPersists(t *testing.T) {
	db := newTestDB(t)
	repo := &WebhookRepo{db: db}

	ep := &WebhookEndpoint{AppID: "app-1", URL: "https://example.com", Active: true}
	require.NoError(t, repo.Create(ep))

	require.NoError(t, repo.AdvanceCursor(ep.ID, 42))

	fetched, err := repo.GetByID(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), fetched.DeliveryCursor)
}

func TestWebhookRepo_RecordAndListDeadLetters(t *testing.T) {
	db := newTestDB(t)
	repo := &WebhookRepo{db: db}

	ep := &WebhookEndpoint{AppID: "app-1", URL: "https://example.com", Active: true}
	require.NoError(t, repo.Create(ep))

	require.NoError(t, repo.RecordDeadLetter(&WebhookDeadLetter{
		EndpointID: ep.ID,
		EventID:    "evt-1",
		Sequence:   7,
		LastError:  "timeout",
		Attempts:   10,
	}))

	dls, err := repo.ListDeadLetters(ep.ID)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, 10, dls[0].Attempts)
}

func TestWebhookRepo_GetByIDNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := &WebhookRepo{db: db}

	_, err := repo.GetByID("missing")
	assert.Error(t, err)
}
