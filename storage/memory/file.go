package memory

import (
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// FileMemory is a Memory backed by a single file. The file length is always a
// whole number of pages.
type FileMemory struct {
	logger     log.Logger
	file       *os.File
	syncWrites bool
	metrics    *FileMetrics

	mutex sync.RWMutex
	pages uint64
}

type FileMetrics struct {
	grows         prometheus.Counter
	writesFailed  prometheus.Counter
	fsyncDuration prometheus.Summary
}

func NewFileMetrics(registerer prometheus.Registerer) *FileMetrics {
	m := &FileMetrics{}

	m.grows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grows_total",
		Help: "Total number of backing file grow operations.",
	})

	m.writesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writes_failed_total",
		Help: "Total number of backing file writes that failed.",
	})

	m.fsyncDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "fsync_duration_seconds",
		Help:       "Duration of backing file fsync.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	if registerer != nil {
		registerer.MustRegister(m.grows, m.writesFailed, m.fsyncDuration)
	}

	return m
}

// OpenFile opens or creates the backing file at path. With syncWrites set
// every write is followed by an fsync.
func OpenFile(logger log.Logger, registerer prometheus.Registerer, path string, syncWrites bool) (*FileMemory, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o660)

	if err != nil {
		return nil, errors.Wrap(err, "open backing file")
	}

	stat, err := file.Stat()

	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat backing file")
	}

	pages := PagesFor(uint64(stat.Size()))

	if uint64(stat.Size()) != pages*PageSize {
		level.Warn(logger).Log("msg", "backing file is not page aligned, padding", "path", path, "size", stat.Size())

		if err := file.Truncate(int64(pages * PageSize)); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "pad backing file")
		}
	}

	return &FileMemory{
		logger:     logger,
		file:       file,
		syncWrites: syncWrites,
		metrics:    NewFileMetrics(prometheus.WrapRegistererWithPrefix("storage_file_", registerer)),
		pages:      pages,
	}, nil
}

func (f *FileMemory) Size() uint64 {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	return f.pages
}

func (f *FileMemory) Grow(pages uint64) (uint64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	prev := f.pages

	if err := f.file.Truncate(int64((prev + pages) * PageSize)); err != nil {
		return prev, errors.Wrapf(err, "grow backing file by %d pages", pages)
	}

	f.pages += pages
	f.metrics.grows.Inc()

	return prev, nil
}

func (f *FileMemory) Read(offset uint64, dst []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if err := checkBounds(f.pages, offset, len(dst)); err != nil {
		return err
	}

	if _, err := f.file.ReadAt(dst, int64(offset)); err != nil {
		return errors.Wrapf(err, "read %d bytes at %d", len(dst), offset)
	}

	return nil
}

func (f *FileMemory) Write(offset uint64, src []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if err := checkBounds(f.pages, offset, len(src)); err != nil {
		return err
	}

	if _, err := f.file.WriteAt(src, int64(offset)); err != nil {
		f.metrics.writesFailed.Inc()
		return errors.Wrapf(err, "write %d bytes at %d", len(src), offset)
	}

	if f.syncWrites {
		return f.fsync()
	}

	return nil
}

func (f *FileMemory) Sync() error {
	return f.fsync()
}

func (f *FileMemory) fsync() error {
	now := time.Now()
	err := f.file.Sync()

	f.metrics.fsyncDuration.Observe(time.Since(now).Seconds())

	return err
}

func (f *FileMemory) Close() error {
	if err := f.fsync(); err != nil {
		level.Error(f.logger).Log("msg", "sync backing file", "err", err)
	}

	return f.file.Close()
}
