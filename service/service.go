// Package service implements customer and interaction management on top of
// the durable record maps.
package service

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"crmstore/storage/journal"
	"crmstore/storage/ordmap"
)

// IDSource mints record ids. Customers and interactions share one source, so
// their ids come from a single increasing sequence.
type IDSource interface {
	Next() (uint64, error)
}

// Records is the durable keyed storage of one record kind.
type Records[V any] interface {
	Get(key uint64) (V, bool, error)
	Insert(key uint64, v V) (V, bool, error)
	Remove(key uint64) (V, bool, error)
	Iter() *ordmap.Iterator[V]
}

// Journal receives every committed mutation.
type Journal interface {
	Append(e journal.Entry) error
}

// Deps are shared by both services. Lock serializes every operation across
// them; pass the same value to both.
type Deps struct {
	IDs     IDSource
	Lock    sync.Locker
	Journal Journal
	Clock   func() time.Time
	Logger  log.Logger
	Metrics *Metrics
}

type Metrics struct {
	operations *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_operations_total",
			Help: "Total number of record operations by operation and result.",
		}, []string{"operation", "result"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.operations)
	}

	return m
}

func (d *Deps) lock() func() {
	if d.Lock == nil {
		return func() {}
	}

	d.Lock.Lock()

	return d.Lock.Unlock
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}

	return time.Now().UTC().Round(0)
}

func (d *Deps) logger() log.Logger {
	if d.Logger == nil {
		return log.NewNopLogger()
	}

	return d.Logger
}

// observe counts the outcome of an operation and logs internal failures.
func (d *Deps) observe(operation string, err error) {
	result := "ok"

	switch {
	case err == nil:
	case IsNotFound(err):
		result = "not_found"
	case IsInvalidInput(err):
		result = "invalid_input"
	default:
		result = "error"
		level.Error(d.logger()).Log("msg", "operation failed", "operation", operation, "err", err)
	}

	if d.Metrics != nil {
		d.Metrics.operations.WithLabelValues(operation, result).Inc()
	}
}

// record appends a journal entry. The mutation is already durable, so a
// journal failure is logged rather than returned.
func (d *Deps) record(op journal.Op, kind journal.Kind, id uint64, at time.Time) {
	if d.Journal == nil {
		return
	}

	if err := d.Journal.Append(journal.Entry{Op: op, Kind: kind, ID: id, At: at}); err != nil {
		level.Warn(d.logger()).Log("msg", "journal append failed", "op", op, "kind", kind, "id", id, "err", err)
	}
}
