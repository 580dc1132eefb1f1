package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crmstore/model"
	"crmstore/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openFileStore(t *testing.T, path string, options Options) *Store {
	t.Helper()

	backing, err := memory.OpenFile(log.NewNopLogger(), prometheus.NewRegistry(), path, false)
	require.NoError(t, err)

	s, err := Open(log.NewNopLogger(), prometheus.NewRegistry(), backing, options)
	require.NoError(t, err)

	return s
}

func TestStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.mem")
	created := time.Unix(1700000000, 0).UTC()

	s := openFileStore(t, path, Options{BucketSizePages: 1})

	var customers []model.Customer

	for i := 0; i < 3; i++ {
		id, err := s.IDs.Next()
		require.NoError(t, err)

		c := model.Customer{ID: id, Name: "Ann", Email: "ann@example.com", Phone: "555", CreatedAt: created}
		_, _, err = s.Customers.Insert(id, c)
		require.NoError(t, err)

		customers = append(customers, c)
	}

	id, err := s.IDs.Next()
	require.NoError(t, err)

	interaction := model.Interaction{ID: id, CustomerID: customers[0].ID, InteractionType: "Call", Content: "hi", CreatedAt: created}
	_, _, err = s.Interactions.Insert(id, interaction)
	require.NoError(t, err)

	_, _, err = s.Customers.Remove(customers[1].ID)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	s = openFileStore(t, path, Options{BucketSizePages: 1})
	defer s.Close()

	assert.Equal(t, uint64(4), s.IDs.Get())
	assert.Equal(t, 2, s.Customers.Len())

	got, ok, err := s.Customers.Get(customers[2].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, customers[2], got)

	_, ok, err = s.Customers.Get(customers[1].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	gotInteraction, ok, err := s.Interactions.Get(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, interaction, gotInteraction)
}

func TestStoreUsesFixedRegions(t *testing.T) {
	backing := memory.NewVectorMemory()

	s, err := Open(log.NewNopLogger(), prometheus.NewRegistry(), backing, Options{BucketSizePages: 1})
	require.NoError(t, err)

	_, _, err = s.Customers.Insert(1, model.Customer{ID: 1, CreatedAt: time.Now()})
	require.NoError(t, err)

	for _, id := range []memory.RegionID{CounterRegion, InteractionsRegion, CustomersRegion} {
		r, err := s.manager.Region(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), r.Size(), "region %d", id)
	}

	unused, err := s.manager.Region(CustomersRegion + 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), unused.Size())
}

func TestStoreSyncLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.mem")

	s := openFileStore(t, path, Options{BucketSizePages: 1, SyncInterval: 5 * time.Millisecond})
	s.Run()

	_, err := s.IDs.Next()
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Close())
}
