package ordmap

import "sync"

// frameBuffers hands out buffers able to hold the largest frame a map can
// write, so encoding a frame never reallocates.
type frameBuffers struct {
	frameCap int
	pool     sync.Pool
}

func newFrameBuffers(maxValue int) *frameBuffers {
	b := &frameBuffers{frameCap: maxFrameSize(maxValue)}

	b.pool.New = func() any {
		buf := make([]byte, 0, b.frameCap)
		return &buf
	}

	return b
}

// maxFrameSize is the encoded size of a put frame carrying an uncompressed
// value of maxValue bytes.
func maxFrameSize(maxValue int) int {
	return frameHeaderSize + keySize + maxValue
}

func (b *frameBuffers) get() *[]byte {
	return b.pool.Get().(*[]byte)
}

func (b *frameBuffers) put(buf *[]byte) {
	// Drop buffers that grew past a frame; a foreign size would stay pinned.
	if cap(*buf) != b.frameCap {
		return
	}

	*buf = (*buf)[:0]
	b.pool.Put(buf)
}
