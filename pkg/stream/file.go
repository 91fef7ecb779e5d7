package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// File is a seekable stream over an os.File opened for reading or writing.
type File struct {
	f    *os.File
	pos  int64
	size int64
}

// OpenFile opens path for reading
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &File{f: f, size: st.Size()}, nil
}

// CreateFile creates or truncates path for writing
func CreateFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Read implements io.Reader
func (s *File) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	s.pos += int64(n)
	return n, err
}

// Write implements io.Writer
func (s *File) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.pos += int64(n)
	if s.pos > s.size {
		s.size = s.pos
	}
	return n, err
}

// Skip moves n bytes relative to the current position
func (s *File) Skip(n int64) (int64, error) {
	target := s.pos + n
	if target < 0 {
		target = 0
	}
	if err := s.SeekTo(target); err != nil {
		return 0, err
	}
	return n, nil
}

// SeekTo moves to an absolute offset
func (s *File) SeekTo(offset int64) error {
	if offset < 0 {
		return ErrInvalidSeek
	}
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	s.pos = offset
	return nil
}

// Tell returns the current offset
func (s *File) Tell() int64 {
	return s.pos
}

// BytesLeft returns the bytes between the position and the end of the file
func (s *File) BytesLeft() int64 {
	return max(s.size-s.pos, 0)
}

// Seekable is always true for files
func (s *File) Seekable() bool {
	return true
}

// Flush syncs nothing; writes go straight to the file
func (s *File) Flush() error {
	return nil
}

// Close closes the underlying file
func (s *File) Close() error {
	return s.f.Close()
}

// Reader is a forward-only input stream of known length.
type Reader struct {
	r    *bufio.Reader
	pos  int64
	size int64
}

// NewReader wraps r holding size bytes
func NewReader(r io.Reader, size int64) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br, size: size}
}

// Read implements io.Reader
func (s *Reader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

// Write always fails
func (s *Reader) Write(p []byte) (int, error) {
	return 0, ErrNotWritable
}

// Skip discards n bytes; only forward skips are possible
func (s *Reader) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, ErrNotSeekable
	}
	d, err := s.r.Discard(int(n))
	s.pos += int64(d)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return int64(d), err
}

// SeekTo always fails
func (s *Reader) SeekTo(offset int64) error {
	return ErrNotSeekable
}

// Tell returns the bytes consumed so far
func (s *Reader) Tell() int64 {
	return s.pos
}

// BytesLeft returns the declared size minus the bytes consumed
func (s *Reader) BytesLeft() int64 {
	return max(s.size-s.pos, 0)
}

// Seekable is always false
func (s *Reader) Seekable() bool {
	return false
}

// Flush is a no-op
func (s *Reader) Flush() error {
	return nil
}

// Writer is a forward-only buffered output stream.
type Writer struct {
	w   *bufio.Writer
	pos int64
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &Writer{w: bw}
}

// Read always fails
func (s *Writer) Read(p []byte) (int, error) {
	return 0, ErrNotReadable
}

// Write implements io.Writer
func (s *Writer) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.pos += int64(n)
	return n, err
}

// Skip writes n zero bytes
func (s *Writer) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, ErrNotSeekable
	}
	for i := int64(0); i < n; i++ {
		if err := s.w.WriteByte(0); err != nil {
			return i, err
		}
		s.pos++
	}
	return n, nil
}

// SeekTo always fails
func (s *Writer) SeekTo(offset int64) error {
	return ErrNotSeekable
}

// Tell returns the bytes written so far
func (s *Writer) Tell() int64 {
	return s.pos
}

// BytesLeft is always zero for output streams
func (s *Writer) BytesLeft() int64 {
	return 0
}

// Seekable is always false
func (s *Writer) Seekable() bool {
	return false
}

// Flush flushes the buffer
func (s *Writer) Flush() error {
	return s.w.Flush()
}
