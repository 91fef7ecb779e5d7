package jpeg2k

import (
	"encoding/binary"
)

// BitReader reads MSB-first bit fields from a byte slice.
type BitReader struct {
	data []byte
	pos  int
	buf  uint64 // Bit buffer
	bits int    // Number of valid bits in buffer
}

// NewBitReader creates a new bit reader
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// ReadBits reads n bits (n <= 32)
func (b *BitReader) ReadBits(n int) (uint32, error) {
	for b.bits < n {
		if b.pos >= len(b.data) {
			return 0, ErrTruncated
		}
		b.buf = (b.buf << 8) | uint64(b.data[b.pos])
		b.pos++
		b.bits += 8
	}
	b.bits -= n
	return uint32((b.buf >> b.bits) & (1<<n - 1)), nil
}

// Align discards bits to reach byte boundary
func (b *BitReader) Align() {
	b.bits = 0
	b.buf = 0
}

// BitWriter appends MSB-first bit fields to a byte slice.
type BitWriter struct {
	out  []byte
	buf  uint64 // Bit buffer
	bits int    // Number of valid bits in buffer
}

// NewBitWriter creates a new bit writer with a capacity hint
func NewBitWriter(capacity int) *BitWriter {
	return &BitWriter{out: make([]byte, 0, capacity)}
}

// WriteBits writes n bits from val (n <= 32)
func (b *BitWriter) WriteBits(val uint32, n int) {
	b.buf = (b.buf << n) | (uint64(val) & (1<<n - 1))
	b.bits += n
	for b.bits >= 8 {
		b.bits -= 8
		b.out = append(b.out, byte(b.buf>>b.bits))
	}
	b.buf &= 1<<b.bits - 1
}

// Flush pads remaining bits with zeros
func (b *BitWriter) Flush() {
	if b.bits > 0 {
		b.WriteBits(0, 8-b.bits)
	}
}

// Bytes flushes and returns the written bytes
func (b *BitWriter) Bytes() []byte {
	b.Flush()
	return b.out
}

// segmentReader walks a marker segment body. Reads past the end yield zero
// and latch short so callers can check once.
type segmentReader struct {
	buf   []byte
	pos   int
	short bool
}

func newSegmentReader(body []byte) *segmentReader {
	return &segmentReader{buf: body}
}

func (r *segmentReader) remaining() int {
	return len(r.buf) - r.pos
}

// uint reads an n byte big-endian field (n <= 4)
func (r *segmentReader) uint(n int) uint32 {
	if r.remaining() < n {
		r.short = true
		r.pos = len(r.buf)
		return 0
	}
	var v uint32
	for _, c := range r.buf[r.pos : r.pos+n] {
		v = v<<8 | uint32(c)
	}
	r.pos += n
	return v
}

func (r *segmentReader) u8() uint32  { return r.uint(1) }
func (r *segmentReader) u16() uint32 { return r.uint(2) }
func (r *segmentReader) u32() uint32 { return r.uint(4) }

// bytes returns the next n bytes without copying
func (r *segmentReader) bytes(n int) []byte {
	if r.remaining() < n {
		r.short = true
		r.pos = len(r.buf)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// rest returns everything not yet consumed
func (r *segmentReader) rest() []byte {
	return r.bytes(r.remaining())
}

// appendUint appends v as an n byte big-endian field (n <= 4)
func appendUint(dst []byte, v uint32, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

// appendMarker appends a marker code and its segment length
func appendMarker(dst []byte, m Marker, segLen int) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(m))
	return binary.BigEndian.AppendUint16(dst, uint16(segLen))
}
