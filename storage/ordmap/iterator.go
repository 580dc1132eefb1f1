package ordmap

import "github.com/pkg/errors"

type entry struct {
	key uint64
	loc location
}

// Iterator walks a snapshot of a Map. Frames are never overwritten, so the
// snapshot stays readable while the map keeps changing.
type Iterator[V any] struct {
	m       *Map[V]
	entries []entry
	i       int

	key   uint64
	value V
	err   error
}

func (it *Iterator[V]) Next() bool {
	if it.err != nil || it.i >= len(it.entries) {
		return false
	}

	e := it.entries[it.i]
	it.i++

	v, err := it.m.read(e.loc)

	if err != nil {
		it.err = errors.Wrapf(err, "iterate key %d", e.key)
		return false
	}

	it.key, it.value = e.key, v

	return true
}

func (it *Iterator[V]) Key() uint64 {
	return it.key
}

func (it *Iterator[V]) Value() V {
	return it.value
}

// Len is the number of entries in the snapshot.
func (it *Iterator[V]) Len() int {
	return len(it.entries)
}

func (it *Iterator[V]) Err() error {
	return it.err
}
