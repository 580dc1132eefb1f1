package counter

import (
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmstore/storage/memory"
)

func TestOpenInitializesEmptyRegion(t *testing.T) {
	mem := memory.NewVectorMemory()

	c, err := Open(mem, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), c.Get())
	assert.Equal(t, uint64(1), mem.Size())
}

func TestSetReturnsPrevious(t *testing.T) {
	c, err := Open(memory.NewVectorMemory(), 7)
	require.NoError(t, err)

	old, err := c.Set(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), old)
	assert.Equal(t, uint64(42), c.Get())
}

func TestNextIsMonotonic(t *testing.T) {
	c, err := Open(memory.NewVectorMemory(), 0)
	require.NoError(t, err)

	for want := uint64(1); want <= 5; want++ {
		got, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNextConcurrentIdsAreUnique(t *testing.T) {
	c, err := Open(memory.NewVectorMemory(), 0)
	require.NoError(t, err)

	const workers, perWorker = 8, 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perWorker; i++ {
				id, err := c.Next()
				assert.NoError(t, err)

				mu.Lock()
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, uint64(workers*perWorker), c.Get())
}

func TestCounterSurvivesReload(t *testing.T) {
	backing := memory.NewVectorMemory()

	m, err := memory.NewManager(log.NewNopLogger(), prometheus.NewRegistry(), backing, 1)
	require.NoError(t, err)
	region, err := m.Region(0)
	require.NoError(t, err)

	c, err := Open(region, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Next()
		require.NoError(t, err)
	}

	m, err = memory.NewManager(log.NewNopLogger(), prometheus.NewRegistry(), backing, 1)
	require.NoError(t, err)
	region, err = m.Region(0)
	require.NoError(t, err)

	// The initial value is ignored once the region holds a counter.
	reloaded, err := Open(region, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reloaded.Get())
}

func TestOpenRejectsForeignRegion(t *testing.T) {
	mem := memory.NewVectorMemory()
	_, err := mem.Grow(1)
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, []byte("XYZ")))

	_, err = Open(mem, 0)
	assert.True(t, errors.Is(err, memory.ErrBadMagic))
}
