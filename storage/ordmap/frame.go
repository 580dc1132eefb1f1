package ordmap

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/tsdb/wlog"

	"crmstore/storage/memory"
)

// Frame layout:
//
//	[0]    flags: [4 bits unused] [1 bit snappy] [3 bits op]
//	[1:5]  payload length
//	[5:9]  CRC-32C over flags and payload
//	[9:]   payload: 8 byte key, then the (possibly compressed) value
const (
	frameHeaderSize   = 9
	keySize           = 8
	snappyMask        = 1 << 3
	opMask            = snappyMask - 1
	compressThreshold = 64
)

type opType uint8

const (
	opPut    opType = 1
	opDelete opType = 2
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

type frame struct {
	op     opType
	key    uint64
	value  []byte
	offset uint64
	length uint32
}

func frameChecksum(flags byte, payload []byte) uint32 {
	crc := crc32.Checksum([]byte{flags}, castagnoliTable)
	return crc32.Update(crc, castagnoliTable, payload)
}

func appendFrame(dst []byte, op opType, key uint64, value []byte) []byte {
	flags := byte(op)

	if len(value) >= compressThreshold {
		if compressed := snappy.Encode(nil, value); len(compressed) < len(value) {
			value = compressed
			flags |= snappyMask
		}
	}

	start := len(dst)
	dst = append(dst, make([]byte, frameHeaderSize)...)
	dst = binary.BigEndian.AppendUint64(dst, key)
	dst = append(dst, value...)

	payload := dst[start+frameHeaderSize:]

	dst[start] = flags
	binary.BigEndian.PutUint32(dst[start+1:], uint32(len(payload)))
	binary.BigEndian.PutUint32(dst[start+5:], frameChecksum(flags, payload))

	return dst
}

// parseFrame validates a complete frame held in buf and returns it with the
// value decompressed.
func parseFrame(buf []byte) (frame, error) {
	if len(buf) < frameHeaderSize+keySize {
		return frame{}, errors.Errorf("short frame of %d bytes", len(buf))
	}

	var (
		flags   = buf[0]
		length  = binary.BigEndian.Uint32(buf[1:])
		crc     = binary.BigEndian.Uint32(buf[5:])
		payload = buf[frameHeaderSize:]
	)

	if int(length) != len(payload) {
		return frame{}, errors.Errorf("invalid size: expected %d, got %d", length, len(payload))
	}

	if c := frameChecksum(flags, payload); c != crc {
		return frame{}, errors.Errorf("invalid checksum: expected %d, got %d", crc, c)
	}

	f := frame{
		op:     opType(flags & opMask),
		key:    binary.BigEndian.Uint64(payload),
		value:  payload[keySize:],
		length: length,
	}

	switch f.op {
	case opPut:
	case opDelete:
		if len(f.value) != 0 {
			return frame{}, errors.New("delete frame carries a value")
		}
	default:
		return frame{}, errors.Errorf("unexpected frame op %d", f.op)
	}

	if flags&snappyMask != 0 {
		value, err := snappy.Decode(nil, f.value)

		if err != nil {
			return frame{}, errors.Wrap(err, "decompress value")
		}

		f.value = value
	}

	return f, nil
}

// reader walks the committed frames of a map log between offset and end.
type reader struct {
	mem        memory.Memory
	offset     uint64
	end        uint64
	maxPayload uint32
	buf        []byte
	cur        frame
	err        error
}

func newReader(mem memory.Memory, offset, end uint64, maxPayload uint32) *reader {
	return &reader{
		mem:        mem,
		offset:     offset,
		end:        end,
		maxPayload: maxPayload,
	}
}

func (r *reader) Next() bool {
	if r.err != nil || r.offset >= r.end {
		return false
	}

	r.err = r.next()

	return r.err == nil
}

func (r *reader) next() error {
	if r.end-r.offset < frameHeaderSize {
		return errors.New("last frame header is torn")
	}

	r.buf = append(r.buf[:0], make([]byte, frameHeaderSize)...)

	if err := r.mem.Read(r.offset, r.buf); err != nil {
		return errors.Wrap(err, "read frame header")
	}

	length := binary.BigEndian.Uint32(r.buf[1:])

	if length < keySize || length > r.maxPayload {
		return errors.Errorf("invalid frame size %d", length)
	}

	if r.end-r.offset-frameHeaderSize < uint64(length) {
		return errors.New("last frame is torn")
	}

	r.buf = append(r.buf, make([]byte, length)...)

	if err := r.mem.Read(r.offset+frameHeaderSize, r.buf[frameHeaderSize:]); err != nil {
		return errors.Wrap(err, "read frame payload")
	}

	f, err := parseFrame(r.buf)

	if err != nil {
		return err
	}

	f.offset = r.offset
	r.cur = f
	r.offset += frameHeaderSize + uint64(length)

	return nil
}

func (r *reader) Frame() frame {
	return r.cur
}

func (r *reader) Err() error {
	if r.err == nil {
		return nil
	}

	return &wlog.CorruptionErr{
		Err:     r.err,
		Segment: -1,
		Offset:  int64(r.offset),
	}
}
