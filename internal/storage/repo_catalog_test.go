package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementRepo_CreateAndListByApp(t *testing.T) {
	db := newTestDB(t)
	repo := &EntitlementRepo{db: db}

	require.NoError(t, repo.Create(&Entitlement{AppID: "app-1", Name: "premium"}))
	require.NoError(t, repo.Create(&Entitlement{AppID: "app-1", Name: "pro"}))
	require.NoError(t, repo.Create(&Entitlement{AppID: "app-2", Name: "premium"}))

	ents, err := repo.ListByApp("app-1")
	require.NoError(t, err)
	assert.Len(t, ents, 2)
}

func TestEntitlementRepo_DuplicateNameWithinAppConflicts(t *testing.T) {
	db := newTestDB(t)
	repo := &EntitlementRepo{db: db}

	require.NoError(t, repo.Create(&Entitlement{AppID: "app-1", Name: "premium"}))
	err := repo.Create(&Entitlement{AppID: "app-1", Name: "premium"})
	assert.Error(t, err)
}

func TestProductRepo_CreateLinksEntitlements(t *testing.T) {
	db := newTestDB(t)
	entitlements := &EntitlementRepo{db: db}
	products := &ProductRepo{db: db}

	ent := &Entitlement{AppID: "app-1", Name: "premium"}
	require.NoError(t, entitlements.Create(ent))

	product := &Product{AppID: "app-1", StoreProductID: "monthly", ProductType: ProductTypeSubscription}
	require.NoError(t, products.Create(product, []string{ent.ID}))

	fetched, err := products.ListByApp("app-1")
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	require.Len(t, fetched[0].Entitlements, 1)
	assert.Equal(t, "premium", fetched[0].Entitlements[0].Name)
}

func TestProductRepo_UpsertFromSyncUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	products := &ProductRepo{db: db}

	require.NoError(t, products.Create(&Product{AppID: "app-1", StoreProductID: "monthly", ProductType: ProductTypeSubscription, DisplayName: "Old Name"}, nil))

	require.NoError(t, products.UpsertFromSync(&Product{AppID: "app-1", StoreProductID: "monthly", ProductType: ProductTypeSubscription, DisplayName: "New Name"}))

	fetched, err := products.ListByApp("app-1")
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "New Name", fetched[0].DisplayName)
}
