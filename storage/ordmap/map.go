// Package ordmap implements a durable ordered map from uint64 keys to bounded
// size records, stored as an append-only log inside a single memory region.
//
// The region starts with a header whose committed tail marks the end of the
// log. A mutation first writes its frame past the tail and only then moves the
// tail, so a crash mid-write leaves the map as it was. On open the log is
// replayed into an in-memory sorted key directory pointing at the latest frame
// of each key.
package ordmap

import (
	"encoding/binary"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"

	"crmstore/storage/memory"
)

// Header layout:
//
//	[0:3]   magic "OMP"
//	[3]     layout version
//	[4:8]   maximum encoded value size
//	[8:16]  committed tail
const (
	layoutVersion  = 1
	headerLen      = 32
	offsetMaxValue = 4
	offsetTail     = 8
)

var mapMagic = [3]byte{'O', 'M', 'P'}

var ErrValueTooLarge = errors.New("encoded value exceeds maximum size")

// Codec converts records to and from their stored form. MaxSize bounds the
// length of every encoding.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
	MaxSize() int
}

type location struct {
	offset uint64
	length uint32
}

type Map[V any] struct {
	logger  log.Logger
	mem     memory.Memory
	codec   Codec[V]
	metrics *Metrics
	buffers *frameBuffers

	mutex sync.RWMutex
	keys  []uint64
	dir   map[uint64]location
	tail  uint64
}

type Metrics struct {
	puts         prometheus.Counter
	deletes      prometheus.Counter
	writesFailed prometheus.Counter
	keys         prometheus.Gauge
	logBytes     prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.puts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "puts_total",
		Help: "Total number of records written.",
	})

	m.deletes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deletes_total",
		Help: "Total number of records removed.",
	})

	m.writesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writes_failed_total",
		Help: "Total number of log appends that failed.",
	})

	m.keys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keys",
		Help: "Number of live keys.",
	})

	m.logBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_bytes",
		Help: "Committed size of the log in bytes.",
	})

	if registerer != nil {
		registerer.MustRegister(m.puts, m.deletes, m.writesFailed, m.keys, m.logBytes)
	}

	return m
}

// Open loads the map stored in mem, initializing an empty region.
func Open[V any](logger log.Logger, registerer prometheus.Registerer, mem memory.Memory, codec Codec[V]) (*Map[V], error) {
	m := &Map[V]{
		logger:  logger,
		mem:     mem,
		codec:   codec,
		metrics: NewMetrics(prometheus.WrapRegistererWithPrefix("storage_map_", registerer)),
		buffers: newFrameBuffers(codec.MaxSize()),
		dir:     make(map[uint64]location),
	}

	if mem.Size() == 0 {
		if err := m.init(); err != nil {
			return nil, errors.Wrap(err, "initialize map")
		}

		return m, nil
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	level.Debug(logger).Log("msg", "map loaded", "keys", len(m.keys), "logBytes", m.tail)

	return m, nil
}

func (m *Map[V]) init() error {
	if _, err := m.mem.Grow(1); err != nil {
		return err
	}

	header := make([]byte, headerLen)
	copy(header, mapMagic[:])
	header[3] = layoutVersion
	binary.BigEndian.PutUint32(header[offsetMaxValue:], uint32(m.codec.MaxSize()))
	binary.BigEndian.PutUint64(header[offsetTail:], headerLen)

	if err := m.mem.Write(0, header); err != nil {
		return err
	}

	m.tail = headerLen
	m.metrics.logBytes.Set(headerLen)

	return nil
}

func (m *Map[V]) load() error {
	header := make([]byte, headerLen)

	if err := m.mem.Read(0, header); err != nil {
		return errors.Wrap(err, "read map header")
	}

	if [3]byte(header[:3]) != mapMagic {
		return errors.Wrap(memory.ErrBadMagic, "map region")
	}

	if header[3] != layoutVersion {
		return errors.Wrapf(memory.ErrVersion, "map version %d", header[3])
	}

	maxValue := binary.BigEndian.Uint32(header[offsetMaxValue:])

	if int(maxValue) != m.codec.MaxSize() {
		return errors.Errorf("map holds values up to %d bytes, codec allows %d", maxValue, m.codec.MaxSize())
	}

	tail := binary.BigEndian.Uint64(header[offsetTail:])

	if tail < headerLen || tail > m.mem.Size()*memory.PageSize {
		return errors.Errorf("corrupt map header: tail %d", tail)
	}

	r := newReader(m.mem, headerLen, tail, keySize+maxValue)

	for r.Next() {
		f := r.Frame()

		switch f.op {
		case opPut:
			m.put(f.key, location{offset: f.offset, length: f.length})
		case opDelete:
			m.delete(f.key)
		}
	}

	if err := r.Err(); err != nil {
		return errors.Wrap(err, "replay map log")
	}

	m.tail = tail
	m.metrics.logBytes.Set(float64(tail))

	return nil
}

func (m *Map[V]) put(key uint64, loc location) {
	if _, ok := m.dir[key]; !ok {
		i, _ := slices.BinarySearch(m.keys, key)
		m.keys = slices.Insert(m.keys, i, key)
	}

	m.dir[key] = loc
	m.metrics.keys.Set(float64(len(m.keys)))
}

func (m *Map[V]) delete(key uint64) {
	if _, ok := m.dir[key]; !ok {
		return
	}

	if i, found := slices.BinarySearch(m.keys, key); found {
		m.keys = slices.Delete(m.keys, i, i+1)
	}

	delete(m.dir, key)
	m.metrics.keys.Set(float64(len(m.keys)))
}

func (m *Map[V]) read(loc location) (V, error) {
	var zero V

	buf := make([]byte, frameHeaderSize+int(loc.length))

	if err := m.mem.Read(loc.offset, buf); err != nil {
		return zero, errors.Wrap(err, "read frame")
	}

	f, err := parseFrame(buf)

	if err != nil {
		return zero, errors.Wrapf(err, "frame at %d", loc.offset)
	}

	return m.codec.Decode(f.value)
}

func (m *Map[V]) get(key uint64) (V, bool, error) {
	var zero V

	loc, ok := m.dir[key]

	if !ok {
		return zero, false, nil
	}

	v, err := m.read(loc)

	if err != nil {
		return zero, false, errors.Wrapf(err, "key %d", key)
	}

	return v, true, nil
}

func (m *Map[V]) reserve(end uint64) error {
	pages := memory.PagesFor(end)

	if size := m.mem.Size(); pages > size {
		if _, err := m.mem.Grow(pages - size); err != nil {
			return errors.Wrap(err, "grow map region")
		}
	}

	return nil
}

func (m *Map[V]) append(op opType, key uint64, value []byte) (location, error) {
	buf := m.buffers.get()
	defer m.buffers.put(buf)

	*buf = appendFrame(*buf, op, key, value)

	end := m.tail + uint64(len(*buf))

	if err := m.reserve(end); err != nil {
		return location{}, err
	}

	if err := m.mem.Write(m.tail, *buf); err != nil {
		return location{}, errors.Wrap(err, "write frame")
	}

	var tail [8]byte
	binary.BigEndian.PutUint64(tail[:], end)

	if err := m.mem.Write(offsetTail, tail[:]); err != nil {
		return location{}, errors.Wrap(err, "commit tail")
	}

	loc := location{offset: m.tail, length: uint32(len(*buf) - frameHeaderSize)}
	m.tail = end
	m.metrics.logBytes.Set(float64(end))

	return loc, nil
}

// Get returns the record stored under key.
func (m *Map[V]) Get(key uint64) (V, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.get(key)
}

// Insert stores v under key and returns the record it replaced, if any.
// Records whose encoding exceeds the codec's MaxSize are rejected with
// ErrValueTooLarge.
func (m *Map[V]) Insert(key uint64, v V) (V, bool, error) {
	var zero V

	value, err := m.codec.Encode(v)

	if err != nil {
		return zero, false, errors.Wrapf(err, "encode key %d", key)
	}

	if len(value) > m.codec.MaxSize() {
		return zero, false, errors.Wrapf(ErrValueTooLarge, "key %d: %d bytes, max %d", key, len(value), m.codec.MaxSize())
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	prev, existed, err := m.get(key)

	if err != nil {
		return zero, false, err
	}

	loc, err := m.append(opPut, key, value)

	if err != nil {
		m.metrics.writesFailed.Inc()
		return zero, false, errors.Wrapf(err, "insert key %d", key)
	}

	m.put(key, loc)
	m.metrics.puts.Inc()

	return prev, existed, nil
}

// Remove deletes key and returns the record it held, if any.
func (m *Map[V]) Remove(key uint64) (V, bool, error) {
	var zero V

	m.mutex.Lock()
	defer m.mutex.Unlock()

	prev, existed, err := m.get(key)

	if err != nil || !existed {
		return zero, false, err
	}

	if _, err := m.append(opDelete, key, nil); err != nil {
		m.metrics.writesFailed.Inc()
		return zero, false, errors.Wrapf(err, "remove key %d", key)
	}

	m.delete(key)
	m.metrics.deletes.Inc()

	return prev, true, nil
}

func (m *Map[V]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.keys)
}

// Iter returns an iterator over a snapshot of the map taken now, in ascending
// key order. Later mutations are not visible to it.
func (m *Map[V]) Iter() *Iterator[V] {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entries := make([]entry, len(m.keys))

	for i, key := range m.keys {
		entries[i] = entry{key: key, loc: m.dir[key]}
	}

	return &Iterator[V]{m: m, entries: entries}
}
