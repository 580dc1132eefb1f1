// Package journal keeps an append-only audit trail of committed record
// mutations in write-ahead log segments.
package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

const (
	DefaultSegmentSize = wlog.DefaultSegmentSize
	entryLen           = 18
)

type Op uint8

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}

	return fmt.Sprintf("op(%d)", uint8(o))
}

type Kind uint8

const (
	KindCustomer Kind = iota + 1
	KindInteraction
)

func (k Kind) String() string {
	switch k {
	case KindCustomer:
		return "customer"
	case KindInteraction:
		return "interaction"
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Entry struct {
	Op   Op
	Kind Kind
	ID   uint64
	At   time.Time
}

func (e Entry) encode() []byte {
	buf := make([]byte, entryLen)
	buf[0] = byte(e.Op)
	buf[1] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[2:], e.ID)
	binary.BigEndian.PutUint64(buf[10:], uint64(e.At.UnixNano()))

	return buf
}

func decodeEntry(rec []byte) (Entry, error) {
	if len(rec) != entryLen {
		return Entry{}, errors.Errorf("invalid journal entry size %d", len(rec))
	}

	return Entry{
		Op:   Op(rec[0]),
		Kind: Kind(rec[1]),
		ID:   binary.BigEndian.Uint64(rec[2:]),
		At:   time.Unix(0, int64(binary.BigEndian.Uint64(rec[10:]))).UTC(),
	}, nil
}

type Journal struct {
	logger  log.Logger
	wl      *wlog.WL
	appends prometheus.Counter
	failed  prometheus.Counter
}

func Open(logger log.Logger, registerer prometheus.Registerer, dir string, segmentSize int, compress bool) (*Journal, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	wl, err := wlog.NewSize(logger, prometheus.WrapRegistererWithPrefix("journal_", registerer), dir, segmentSize, compress)

	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	j := &Journal{
		logger: logger,
		wl:     wl,
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_appends_total",
			Help: "Total number of journal entries appended.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_appends_failed_total",
			Help: "Total number of journal appends that failed.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(j.appends, j.failed)
	}

	return j, nil
}

func (j *Journal) Append(e Entry) error {
	if err := j.wl.Log(e.encode()); err != nil {
		j.failed.Inc()
		level.Error(j.logger).Log("msg", "journal append failed", "op", e.Op, "kind", e.Kind, "id", e.ID, "err", err)

		return errors.Wrap(err, "append journal entry")
	}

	j.appends.Inc()

	return nil
}

func (j *Journal) Close() error {
	return j.wl.Close()
}

// Replay reads every entry in dir in write order and passes it to fn. It stops
// at the first error fn returns.
func Replay(dir string, fn func(Entry) error) error {
	segments, err := wlog.NewSegmentsReader(dir)

	if err != nil {
		return errors.Wrap(err, "open journal segments")
	}

	defer segments.Close()

	r := wlog.NewReader(segments)

	for r.Next() {
		e, err := decodeEntry(r.Record())

		if err != nil {
			return err
		}

		if err := fn(e); err != nil {
			return err
		}
	}

	return r.Err()
}
