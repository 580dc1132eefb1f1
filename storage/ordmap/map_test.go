package ordmap

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/tsdb/wlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmstore/storage/memory"
)

type stringCodec struct {
	max int
}

func (c stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (c stringCodec) Decode(b []byte) (string, error) { return string(b), nil }
func (c stringCodec) MaxSize() int                    { return c.max }

func openTestMap(t *testing.T, mem memory.Memory) *Map[string] {
	t.Helper()

	m, err := Open[string](log.NewNopLogger(), prometheus.NewRegistry(), mem, stringCodec{max: 1024})
	require.NoError(t, err)

	return m
}

func collect(t *testing.T, it *Iterator[string]) ([]uint64, []string) {
	t.Helper()

	var (
		keys   []uint64
		values []string
	)

	for it.Next() {
		keys = append(keys, it.Key())
		values = append(values, it.Value())
	}

	require.NoError(t, it.Err())

	return keys, values
}

func TestInsertGetRemove(t *testing.T) {
	m := openTestMap(t, memory.NewVectorMemory())

	_, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	prev, existed, err := m.Insert(1, "one")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "", prev)

	v, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	prev, existed, err = m.Insert(1, "uno")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "one", prev)

	prev, existed, err = m.Remove(1)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "uno", prev)

	_, existed, err = m.Remove(1)
	require.NoError(t, err)
	assert.False(t, existed)

	assert.Equal(t, 0, m.Len())
}

func TestIterAscending(t *testing.T) {
	m := openTestMap(t, memory.NewVectorMemory())

	for _, k := range []uint64{5, 1, 9, 3, 7} {
		_, _, err := m.Insert(k, strings.Repeat("v", int(k)))
		require.NoError(t, err)
	}

	keys, values := collect(t, m.Iter())
	assert.Equal(t, []uint64{1, 3, 5, 7, 9}, keys)
	assert.Equal(t, "vvv", values[1])

	// A second call starts over.
	keys, _ = collect(t, m.Iter())
	assert.Len(t, keys, 5)
}

func TestIterIsSnapshot(t *testing.T) {
	m := openTestMap(t, memory.NewVectorMemory())

	for k := uint64(1); k <= 3; k++ {
		_, _, err := m.Insert(k, "old")
		require.NoError(t, err)
	}

	it := m.Iter()

	_, _, err := m.Insert(2, "new")
	require.NoError(t, err)
	_, _, err = m.Remove(3)
	require.NoError(t, err)
	_, _, err = m.Insert(4, "later")
	require.NoError(t, err)

	keys, values := collect(t, it)
	assert.Equal(t, []uint64{1, 2, 3}, keys)
	assert.Equal(t, []string{"old", "old", "old"}, values)

	keys, values = collect(t, m.Iter())
	assert.Equal(t, []uint64{1, 2, 4}, keys)
	assert.Equal(t, []string{"old", "new", "later"}, values)
}

func TestValueTooLarge(t *testing.T) {
	m, err := Open[string](log.NewNopLogger(), prometheus.NewRegistry(), memory.NewVectorMemory(), stringCodec{max: 16})
	require.NoError(t, err)

	_, _, err = m.Insert(1, strings.Repeat("x", 17))
	assert.True(t, errors.Is(err, ErrValueTooLarge))

	_, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = m.Insert(1, strings.Repeat("x", 16))
	assert.NoError(t, err)
}

func TestReloadRecoversState(t *testing.T) {
	mem := memory.NewVectorMemory()
	m := openTestMap(t, mem)

	// Enough data to spill over several pages, compressible and not.
	for k := uint64(1); k <= 200; k++ {
		_, _, err := m.Insert(k, strings.Repeat("abc", 300))
		require.NoError(t, err)
	}

	for k := uint64(1); k <= 200; k += 2 {
		_, _, err := m.Remove(k)
		require.NoError(t, err)
	}

	_, _, err := m.Insert(10, "changed")
	require.NoError(t, err)

	reloaded := openTestMap(t, mem)
	assert.Equal(t, 100, reloaded.Len())

	v, ok, err := reloaded.Get(10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "changed", v)

	_, ok, err = reloaded.Get(11)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, _ := collect(t, reloaded.Iter())
	assert.Equal(t, uint64(2), keys[0])
	assert.Equal(t, uint64(200), keys[len(keys)-1])
}

func TestUncommittedFrameIsIgnored(t *testing.T) {
	mem := memory.NewVectorMemory()
	m := openTestMap(t, mem)

	_, _, err := m.Insert(1, "committed")
	require.NoError(t, err)

	// Simulate a crash after the frame write but before the tail moved.
	frame := appendFrame(nil, opPut, 2, []byte("lost"))
	require.NoError(t, mem.Write(m.tail, frame))

	reloaded := openTestMap(t, mem)
	assert.Equal(t, 1, reloaded.Len())

	_, ok, err := reloaded.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptionIsReported(t *testing.T) {
	mem := memory.NewVectorMemory()
	m := openTestMap(t, mem)

	_, _, err := m.Insert(1, "payload to corrupt")
	require.NoError(t, err)

	// Flip a payload byte of the first frame.
	require.NoError(t, mem.Write(headerLen+frameHeaderSize+keySize, []byte{'P' ^ 0xFF}))

	_, err = Open[string](log.NewNopLogger(), prometheus.NewRegistry(), mem, stringCodec{max: 1024})
	require.Error(t, err)

	var corruption *wlog.CorruptionErr
	assert.True(t, errors.As(err, &corruption))
}

func TestTornTailIsReported(t *testing.T) {
	mem := memory.NewVectorMemory()
	m := openTestMap(t, mem)

	_, _, err := m.Insert(1, "value")
	require.NoError(t, err)

	// Claim a tail that ends in the middle of a frame header.
	var tail [8]byte
	binary.BigEndian.PutUint64(tail[:], m.tail+3)
	require.NoError(t, mem.Write(offsetTail, tail[:]))

	_, err = Open[string](log.NewNopLogger(), prometheus.NewRegistry(), mem, stringCodec{max: 1024})
	assert.Error(t, err)
}

func TestOpenRejectsDifferentMaxSize(t *testing.T) {
	mem := memory.NewVectorMemory()
	openTestMap(t, mem)

	_, err := Open[string](log.NewNopLogger(), prometheus.NewRegistry(), mem, stringCodec{max: 512})
	assert.Error(t, err)
}

func TestFrameCompression(t *testing.T) {
	value := []byte(strings.Repeat("compress me ", 20))

	buf := appendFrame(nil, opPut, 42, value)
	assert.Less(t, len(buf), frameHeaderSize+keySize+len(value))
	assert.NotZero(t, buf[0]&snappyMask)

	f, err := parseFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, opPut, f.op)
	assert.Equal(t, uint64(42), f.key)
	assert.Equal(t, value, f.value)

	small := appendFrame(nil, opDelete, 7, nil)
	assert.Len(t, small, frameHeaderSize+keySize)

	f, err = parseFrame(small)
	require.NoError(t, err)
	assert.Equal(t, opDelete, f.op)
}
