package memory

import (
	"encoding/binary"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MaxRegions             = 255
	MaxBuckets             = 32768
	DefaultBucketSizePages = 128 // 8MB buckets

	layoutVersion = 1
	headerPages   = 1
	unallocated   = 0xFF
)

// Header layout of the first page of the backing memory:
//
//	[0:3]   magic "MGR"
//	[3]     layout version
//	[4:6]   allocated buckets
//	[6:8]   bucket size in pages
//	[32:]   region sizes in pages, one uint64 per region
//	[...]   bucket table, one byte per bucket naming the owning region
const (
	offsetBuckets     = 4
	offsetBucketSize  = 6
	offsetRegionSizes = 32
	offsetBucketTable = offsetRegionSizes + MaxRegions*8
	headerLen         = offsetBucketTable + MaxBuckets
)

var managerMagic = [3]byte{'M', 'G', 'R'}

// RegionID names a region. Ids are fixed for the lifetime of the backing
// memory: reusing an id for a different structure corrupts both.
type RegionID uint8

// Manager partitions a backing Memory into regions. Each region is made of
// fixed-size buckets claimed in allocation order, so regions never overlap.
type Manager struct {
	logger  log.Logger
	backing Memory
	metrics *ManagerMetrics

	mutex         sync.RWMutex
	bucketSize    uint64
	buckets       uint64
	regionSizes   [MaxRegions]uint64
	regionBuckets [MaxRegions][]uint64
}

type ManagerMetrics struct {
	bucketsAllocated prometheus.Gauge
	regionGrows      prometheus.Counter
}

func NewManagerMetrics(registerer prometheus.Registerer) *ManagerMetrics {
	m := &ManagerMetrics{}

	m.bucketsAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "buckets_allocated",
		Help: "Number of buckets handed out to regions.",
	})

	m.regionGrows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "region_grows_total",
		Help: "Total number of region grow operations.",
	})

	if registerer != nil {
		registerer.MustRegister(m.bucketsAllocated, m.regionGrows)
	}

	return m
}

// NewManager loads the region layout from backing, initializing it when the
// backing memory is empty. bucketSizePages only applies to a fresh layout; an
// existing layout keeps the bucket size it was created with.
func NewManager(logger log.Logger, registerer prometheus.Registerer, backing Memory, bucketSizePages uint64) (*Manager, error) {
	if bucketSizePages == 0 {
		bucketSizePages = DefaultBucketSizePages
	}

	m := &Manager{
		logger:  logger,
		backing: backing,
		metrics: NewManagerMetrics(prometheus.WrapRegistererWithPrefix("storage_memory_", registerer)),
	}

	if backing.Size() == 0 {
		if err := m.init(bucketSizePages); err != nil {
			return nil, errors.Wrap(err, "initialize memory manager")
		}

		level.Info(logger).Log("msg", "initialized memory layout", "bucketSizePages", bucketSizePages)

		return m, nil
	}

	if err := m.load(); err != nil {
		return nil, errors.Wrap(err, "load memory manager")
	}

	if m.bucketSize != bucketSizePages {
		level.Info(logger).Log("msg", "keeping stored bucket size", "stored", m.bucketSize, "requested", bucketSizePages)
	}

	return m, nil
}

func (m *Manager) init(bucketSizePages uint64) error {
	if bucketSizePages > 0xFFFF {
		return errors.Errorf("bucket size %d pages exceeds limit", bucketSizePages)
	}

	if _, err := m.backing.Grow(headerPages); err != nil {
		return err
	}

	header := make([]byte, headerLen)
	copy(header, managerMagic[:])
	header[3] = layoutVersion
	binary.BigEndian.PutUint16(header[offsetBucketSize:], uint16(bucketSizePages))

	for i := offsetBucketTable; i < headerLen; i++ {
		header[i] = unallocated
	}

	if err := m.backing.Write(0, header); err != nil {
		return err
	}

	m.bucketSize = bucketSizePages
	m.metrics.bucketsAllocated.Set(0)

	return nil
}

func (m *Manager) load() error {
	header := make([]byte, headerLen)

	if err := m.backing.Read(0, header); err != nil {
		return err
	}

	if [3]byte(header[:3]) != managerMagic {
		return ErrBadMagic
	}

	if header[3] != layoutVersion {
		return errors.Wrapf(ErrVersion, "version %d", header[3])
	}

	m.buckets = uint64(binary.BigEndian.Uint16(header[offsetBuckets:]))
	m.bucketSize = uint64(binary.BigEndian.Uint16(header[offsetBucketSize:]))

	if m.bucketSize == 0 || m.buckets > MaxBuckets {
		return errors.Errorf("corrupt header: %d buckets of %d pages", m.buckets, m.bucketSize)
	}

	for id := 0; id < MaxRegions; id++ {
		m.regionSizes[id] = binary.BigEndian.Uint64(header[offsetRegionSizes+id*8:])
	}

	for b := uint64(0); b < m.buckets; b++ {
		owner := header[offsetBucketTable+b]

		if owner == unallocated {
			return errors.Errorf("corrupt header: bucket %d has no owner", b)
		}

		m.regionBuckets[owner] = append(m.regionBuckets[owner], b)
	}

	for id := 0; id < MaxRegions; id++ {
		if m.regionSizes[id] > uint64(len(m.regionBuckets[id]))*m.bucketSize {
			return errors.Errorf("corrupt header: region %d size %d exceeds its buckets", id, m.regionSizes[id])
		}
	}

	m.metrics.bucketsAllocated.Set(float64(m.buckets))

	return nil
}

// Region returns the memory of region id.
func (m *Manager) Region(id RegionID) (*Region, error) {
	if id >= MaxRegions {
		return nil, errors.Wrapf(ErrInvalidID, "region %d", id)
	}

	return &Region{manager: m, id: id}, nil
}

func (m *Manager) bucketBytes() uint64 {
	return m.bucketSize * PageSize
}

func (m *Manager) size(id RegionID) uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.regionSizes[id]
}

func (m *Manager) grow(id RegionID, pages uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	prev := m.regionSizes[id]
	next := prev + pages
	have := uint64(len(m.regionBuckets[id]))
	need := (next + m.bucketSize - 1) / m.bucketSize

	var claimed []uint64

	if need > have {
		extra := need - have

		if m.buckets+extra > MaxBuckets {
			return prev, errors.Wrapf(ErrRegionLimit, "region %d needs %d more buckets", id, extra)
		}

		required := headerPages + (m.buckets+extra)*m.bucketSize

		if current := m.backing.Size(); current < required {
			if _, err := m.backing.Grow(required - current); err != nil {
				return prev, errors.Wrap(err, "grow backing memory")
			}
		}

		for i := uint64(0); i < extra; i++ {
			b := m.buckets + i

			if err := m.backing.Write(offsetBucketTable+b, []byte{byte(id)}); err != nil {
				return prev, errors.Wrapf(err, "claim bucket %d", b)
			}

			claimed = append(claimed, b)
		}

		var count [2]byte
		binary.BigEndian.PutUint16(count[:], uint16(m.buckets+extra))

		if err := m.backing.Write(offsetBuckets, count[:]); err != nil {
			return prev, errors.Wrap(err, "write bucket count")
		}
	}

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], next)

	if err := m.backing.Write(offsetRegionSizes+uint64(id)*8, size[:]); err != nil {
		return prev, errors.Wrapf(err, "write size of region %d", id)
	}

	m.buckets += uint64(len(claimed))
	m.regionBuckets[id] = append(m.regionBuckets[id], claimed...)
	m.regionSizes[id] = next

	m.metrics.regionGrows.Inc()
	m.metrics.bucketsAllocated.Set(float64(m.buckets))

	return prev, nil
}

// access splits [offset, offset+n) of region id into bucket-local chunks and
// hands each chunk's physical address to fn.
func (m *Manager) access(id RegionID, offset uint64, n int, fn func(addr uint64, lo, hi int) error) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := checkBounds(m.regionSizes[id], offset, n); err != nil {
		return errors.Wrapf(err, "region %d", id)
	}

	bucketBytes := m.bucketBytes()

	for done := 0; done < n; {
		addr := offset + uint64(done)
		within := addr % bucketBytes
		chunk := min(uint64(n-done), bucketBytes-within)
		bucket := m.regionBuckets[id][addr/bucketBytes]

		if err := fn(headerPages*PageSize+bucket*bucketBytes+within, done, done+int(chunk)); err != nil {
			return err
		}

		done += int(chunk)
	}

	return nil
}

// Region is the Memory view of a single region.
type Region struct {
	manager *Manager
	id      RegionID
}

func (r *Region) ID() RegionID {
	return r.id
}

func (r *Region) Size() uint64 {
	return r.manager.size(r.id)
}

func (r *Region) Grow(pages uint64) (uint64, error) {
	return r.manager.grow(r.id, pages)
}

func (r *Region) Read(offset uint64, dst []byte) error {
	return r.manager.access(r.id, offset, len(dst), func(addr uint64, lo, hi int) error {
		return r.manager.backing.Read(addr, dst[lo:hi])
	})
}

func (r *Region) Write(offset uint64, src []byte) error {
	return r.manager.access(r.id, offset, len(src), func(addr uint64, lo, hi int) error {
		return r.manager.backing.Write(addr, src[lo:hi])
	})
}
