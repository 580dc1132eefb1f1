package model

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// MaxRecordSize bounds the encoded size of every stored record.
const MaxRecordSize = 1024

const encodingVersion = 1

var (
	ErrRecordTooLarge = errors.New("record encoding exceeds maximum size")
	ErrMalformed      = errors.New("malformed record encoding")
)

type CustomerCodec struct{}

func (CustomerCodec) MaxSize() int { return MaxRecordSize }

func (CustomerCodec) Encode(c Customer) ([]byte, error) {
	buf := make([]byte, 0, 64+len(c.Name)+len(c.Email)+len(c.Phone))
	buf = append(buf, encodingVersion)
	buf = binary.BigEndian.AppendUint64(buf, c.ID)
	buf = appendString(buf, c.Name)
	buf = appendString(buf, c.Email)
	buf = appendString(buf, c.Phone)
	buf = appendTime(buf, c.CreatedAt)

	return checkSize(buf)
}

func (CustomerCodec) Decode(b []byte) (Customer, error) {
	var c Customer

	d := decoder{buf: b}
	d.version()
	c.ID = d.readUint64()
	c.Name = d.readString()
	c.Email = d.readString()
	c.Phone = d.readString()
	c.CreatedAt = d.readTime()

	if err := d.finish(); err != nil {
		return Customer{}, errors.Wrap(err, "decode customer")
	}

	return c, nil
}

type InteractionCodec struct{}

func (InteractionCodec) MaxSize() int { return MaxRecordSize }

func (InteractionCodec) Encode(i Interaction) ([]byte, error) {
	buf := make([]byte, 0, 64+len(i.InteractionType)+len(i.Content))
	buf = append(buf, encodingVersion)
	buf = binary.BigEndian.AppendUint64(buf, i.ID)
	buf = binary.BigEndian.AppendUint64(buf, i.CustomerID)
	buf = appendString(buf, i.InteractionType)
	buf = appendString(buf, i.Content)
	buf = appendTime(buf, i.CreatedAt)

	if i.UpdatedAt == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = appendTime(buf, *i.UpdatedAt)
	}

	return checkSize(buf)
}

func (InteractionCodec) Decode(b []byte) (Interaction, error) {
	var i Interaction

	d := decoder{buf: b}
	d.version()
	i.ID = d.readUint64()
	i.CustomerID = d.readUint64()
	i.InteractionType = d.readString()
	i.Content = d.readString()
	i.CreatedAt = d.readTime()

	switch flag := d.readByte(); flag {
	case 0:
	case 1:
		t := d.readTime()
		i.UpdatedAt = &t
	default:
		d.fail("bad updated_at flag %d", flag)
	}

	if err := d.finish(); err != nil {
		return Interaction{}, errors.Wrap(err, "decode interaction")
	}

	return i, nil
}

func checkSize(buf []byte) ([]byte, error) {
	if len(buf) > MaxRecordSize {
		return nil, errors.Wrapf(ErrRecordTooLarge, "%d bytes, max %d", len(buf), MaxRecordSize)
	}

	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendTime(buf []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(t.UnixNano()))
}

// decoder reads fields in order and remembers the first failure.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = errors.Wrapf(ErrMalformed, format, args...)
	}
}

func (d *decoder) version() {
	if v := d.readByte(); d.err == nil && v != encodingVersion {
		d.fail("unknown version %d", v)
	}
}

func (d *decoder) readByte() byte {
	if d.err != nil {
		return 0
	}

	if len(d.buf) < 1 {
		d.fail("truncated")
		return 0
	}

	b := d.buf[0]
	d.buf = d.buf[1:]

	return b
}

func (d *decoder) readUint64() uint64 {
	if d.err != nil {
		return 0
	}

	if len(d.buf) < 8 {
		d.fail("truncated")
		return 0
	}

	v := binary.BigEndian.Uint64(d.buf)
	d.buf = d.buf[8:]

	return v
}

func (d *decoder) readString() string {
	if d.err != nil {
		return ""
	}

	n, read := binary.Uvarint(d.buf)

	if read <= 0 || n > uint64(len(d.buf)-read) {
		d.fail("bad string length")
		return ""
	}

	s := string(d.buf[read : read+int(n)])
	d.buf = d.buf[read+int(n):]

	return s
}

func (d *decoder) readTime() time.Time {
	n := d.readUint64()

	if d.err != nil {
		return time.Time{}
	}

	return time.Unix(0, int64(n)).UTC()
}

func (d *decoder) finish() error {
	if d.err == nil && len(d.buf) != 0 {
		d.fail("%d trailing bytes", len(d.buf))
	}

	return d.err
}
