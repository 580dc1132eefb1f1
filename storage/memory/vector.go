package memory

import "sync"

// VectorMemory keeps its pages on the heap. Contents are lost with the process.
type VectorMemory struct {
	mutex sync.RWMutex
	buf   []byte
}

func NewVectorMemory() *VectorMemory {
	return &VectorMemory{}
}

func (v *VectorMemory) Size() uint64 {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	return uint64(len(v.buf)) / PageSize
}

func (v *VectorMemory) Grow(pages uint64) (uint64, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	prev := uint64(len(v.buf)) / PageSize
	v.buf = append(v.buf, make([]byte, pages*PageSize)...)

	return prev, nil
}

func (v *VectorMemory) Read(offset uint64, dst []byte) error {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	if err := checkBounds(uint64(len(v.buf))/PageSize, offset, len(dst)); err != nil {
		return err
	}

	copy(dst, v.buf[offset:])

	return nil
}

func (v *VectorMemory) Write(offset uint64, src []byte) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := checkBounds(uint64(len(v.buf))/PageSize, offset, len(src)); err != nil {
		return err
	}

	copy(v.buf[offset:], src)

	return nil
}
