// Package counter implements a durable 64-bit counter stored in its own memory
// region. It is the single source of record ids.
package counter

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"crmstore/storage/memory"
)

const (
	layoutVersion = 1
	layoutLen     = 12
)

var counterMagic = [3]byte{'C', 'N', 'T'}

// Counter is safe for concurrent use; Next is a single atomic step.
type Counter struct {
	mem memory.Memory

	mutex sync.Mutex
	value uint64
}

// Open loads the counter from mem, writing initial into an empty region.
func Open(mem memory.Memory, initial uint64) (*Counter, error) {
	c := &Counter{mem: mem}

	if mem.Size() == 0 {
		if _, err := mem.Grow(1); err != nil {
			return nil, errors.Wrap(err, "grow counter region")
		}

		if err := c.write(initial); err != nil {
			return nil, errors.Wrap(err, "initialize counter")
		}

		c.value = initial

		return c, nil
	}

	buf := make([]byte, layoutLen)

	if err := mem.Read(0, buf); err != nil {
		return nil, errors.Wrap(err, "read counter")
	}

	if [3]byte(buf[:3]) != counterMagic {
		return nil, errors.Wrap(memory.ErrBadMagic, "counter region")
	}

	if buf[3] != layoutVersion {
		return nil, errors.Wrapf(memory.ErrVersion, "counter version %d", buf[3])
	}

	c.value = binary.BigEndian.Uint64(buf[4:])

	return c, nil
}

func (c *Counter) write(v uint64) error {
	var buf [layoutLen]byte
	copy(buf[:], counterMagic[:])
	buf[3] = layoutVersion
	binary.BigEndian.PutUint64(buf[4:], v)

	return c.mem.Write(0, buf[:])
}

func (c *Counter) Get() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.value
}

// Set stores v and returns the previous value. On error the stored value is
// unchanged.
func (c *Counter) Set(v uint64) (uint64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.set(v)
}

func (c *Counter) set(v uint64) (uint64, error) {
	old := c.value

	if err := c.write(v); err != nil {
		return old, errors.Wrap(err, "write counter")
	}

	c.value = v

	return old, nil
}

// Next increments the counter and returns the new value.
func (c *Counter) Next() (uint64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.value == ^uint64(0) {
		return 0, errors.New("counter exhausted")
	}

	if _, err := c.set(c.value + 1); err != nil {
		return 0, err
	}

	return c.value, nil
}
