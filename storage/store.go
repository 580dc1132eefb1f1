// Package storage wires the durable structures of the record store onto a
// single backing memory.
package storage

import (
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"crmstore/model"
	"crmstore/storage/counter"
	"crmstore/storage/memory"
	"crmstore/storage/ordmap"
)

// Region assignment. These ids are persisted in the backing memory and must
// never be reused for another structure; new structures take a fresh id.
const (
	CounterRegion      memory.RegionID = 0
	InteractionsRegion memory.RegionID = 1
	CustomersRegion    memory.RegionID = 2
)

type Options struct {
	BucketSizePages uint64
	// SyncInterval enables a background loop flushing the backing memory.
	// Zero disables it.
	SyncInterval time.Duration
}

// Store owns the shared id counter and the per-kind record maps.
type Store struct {
	logger  log.Logger
	options Options
	backing memory.Memory
	manager *memory.Manager

	IDs          *counter.Counter
	Interactions *ordmap.Map[model.Interaction]
	Customers    *ordmap.Map[model.Customer]

	ticker *time.Ticker
	stopc  chan struct{}
	wg     sync.WaitGroup
}

func Open(logger log.Logger, registerer prometheus.Registerer, backing memory.Memory, options Options) (*Store, error) {
	manager, err := memory.NewManager(logger, registerer, backing, options.BucketSizePages)

	if err != nil {
		return nil, err
	}

	s := &Store{
		logger:  logger,
		options: options,
		backing: backing,
		manager: manager,
	}

	region, err := manager.Region(CounterRegion)

	if err != nil {
		return nil, err
	}

	if s.IDs, err = counter.Open(region, 0); err != nil {
		return nil, errors.Wrap(err, "open id counter")
	}

	if region, err = manager.Region(InteractionsRegion); err != nil {
		return nil, err
	}

	s.Interactions, err = ordmap.Open[model.Interaction](
		log.With(logger, "map", "interactions"),
		prometheus.WrapRegistererWith(prometheus.Labels{"map": "interactions"}, registerer),
		region,
		model.InteractionCodec{},
	)

	if err != nil {
		return nil, errors.Wrap(err, "open interactions")
	}

	if region, err = manager.Region(CustomersRegion); err != nil {
		return nil, err
	}

	s.Customers, err = ordmap.Open[model.Customer](
		log.With(logger, "map", "customers"),
		prometheus.WrapRegistererWith(prometheus.Labels{"map": "customers"}, registerer),
		region,
		model.CustomerCodec{},
	)

	if err != nil {
		return nil, errors.Wrap(err, "open customers")
	}

	level.Info(logger).Log(
		"msg", "store opened",
		"lastID", s.IDs.Get(),
		"customers", s.Customers.Len(),
		"interactions", s.Interactions.Len(),
	)

	return s, nil
}

// Run starts the periodic sync loop when a sync interval is configured and the
// backing memory buffers writes.
func (s *Store) Run() {
	syncer, ok := s.backing.(memory.Syncer)

	if !ok || s.options.SyncInterval <= 0 {
		return
	}

	s.ticker = time.NewTicker(s.options.SyncInterval)
	s.stopc = make(chan struct{})
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-s.ticker.C:
				if err := syncer.Sync(); err != nil {
					level.Error(s.logger).Log("msg", "periodic sync failed", "err", err)
				}
			case <-s.stopc:
				return
			}
		}
	}()
}

func (s *Store) Stop() {
	if s.ticker == nil {
		return
	}

	s.ticker.Stop()
	close(s.stopc)
	s.wg.Wait()
	s.ticker = nil
}

// Close stops the sync loop, flushes and closes the backing memory.
func (s *Store) Close() error {
	s.Stop()

	if syncer, ok := s.backing.(memory.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			level.Error(s.logger).Log("msg", "final sync failed", "err", err)
		}
	}

	if closer, ok := s.backing.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
