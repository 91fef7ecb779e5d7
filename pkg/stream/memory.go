package stream

import "io"

// Memory is a seekable, growable in-memory stream usable for both reading and writing.
type Memory struct {
	buf []byte
	pos int64
}

// NewMemory creates a memory stream positioned at the start of data
func NewMemory(data []byte) *Memory {
	return &Memory{buf: data}
}

// NewMemoryWriter creates an empty memory stream with the given capacity hint
func NewMemoryWriter(capacity int) *Memory {
	return &Memory{buf: make([]byte, 0, capacity)}
}

// Read implements io.Reader
func (m *Memory) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

// Write overwrites at the current position, growing the buffer as needed
func (m *Memory) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, len(m.buf), max(end, 2*int64(cap(m.buf))))
			copy(grown, m.buf)
			m.buf = grown
		}
		m.buf = m.buf[:end]
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

// Skip advances up to n bytes, stopping at the end of the buffer.
// A negative n moves backwards.
func (m *Memory) Skip(n int64) (int64, error) {
	target := m.pos + n
	switch {
	case target < 0:
		target = 0
	case target > int64(len(m.buf)):
		target = int64(len(m.buf))
	}
	skipped := target - m.pos
	m.pos = target
	if skipped != n {
		return skipped, io.ErrUnexpectedEOF
	}
	return skipped, nil
}

// SeekTo moves to an absolute offset within the buffer
func (m *Memory) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(m.buf)) {
		return ErrInvalidSeek
	}
	m.pos = offset
	return nil
}

// Tell returns the current offset
func (m *Memory) Tell() int64 {
	return m.pos
}

// BytesLeft returns the bytes between the position and the end of the buffer
func (m *Memory) BytesLeft() int64 {
	return int64(len(m.buf)) - m.pos
}

// Seekable is always true for memory streams
func (m *Memory) Seekable() bool {
	return true
}

// Flush is a no-op
func (m *Memory) Flush() error {
	return nil
}

// Bytes returns the buffer contents
func (m *Memory) Bytes() []byte {
	return m.buf
}
