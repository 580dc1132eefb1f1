package service

import (
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"crmstore/storage"
	"crmstore/storage/journal"
	"crmstore/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type recordingJournal struct {
	entries []journal.Entry
}

func (j *recordingJournal) Append(e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

type fixture struct {
	backing      *memory.VectorMemory
	store        *storage.Store
	clock        *fakeClock
	journal      *recordingJournal
	customers    *CustomerService
	interactions *InteractionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		backing: memory.NewVectorMemory(),
		clock:   &fakeClock{now: time.Unix(1700000000, 0).UTC()},
		journal: &recordingJournal{},
	}

	f.open(t)

	return f
}

// open (re)loads the store from the fixture's backing memory and rebuilds
// the services on top of it.
func (f *fixture) open(t *testing.T) {
	t.Helper()

	registry := prometheus.NewRegistry()

	s, err := storage.Open(log.NewNopLogger(), registry, f.backing, storage.Options{BucketSizePages: 1})
	require.NoError(t, err)

	deps := Deps{
		IDs:     s.IDs,
		Lock:    &sync.Mutex{},
		Journal: f.journal,
		Clock:   f.clock.Now,
		Logger:  log.NewNopLogger(),
		Metrics: NewMetrics(registry),
	}

	f.store = s
	f.customers = &CustomerService{Deps: deps, Customers: s.Customers}
	f.interactions = &InteractionService{Deps: deps, Interactions: s.Interactions}
}
