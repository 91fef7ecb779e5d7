// Package stream provides the byte sources and sinks a codestream codec runs
// over: in-memory buffers, seekable files and plain forward-only readers or
// writers.
package stream

import (
	"errors"
	"io"
)

// Common errors
var (
	ErrNotSeekable = errors.New("stream is not seekable")
	ErrNotReadable = errors.New("stream is not readable")
	ErrNotWritable = errors.New("stream is not writable")
	ErrInvalidSeek = errors.New("invalid seek offset")
)

// Stream is a blocking byte stream with a position.
type Stream interface {
	io.Reader
	io.Writer
	// Skip advances by n bytes and returns how many were skipped.
	Skip(n int64) (int64, error)
	// SeekTo moves to an absolute offset. Forward-only streams fail with ErrNotSeekable.
	SeekTo(offset int64) error
	// Tell returns the absolute offset of the next byte.
	Tell() int64
	// BytesLeft returns the bytes remaining before the end of input.
	BytesLeft() int64
	Seekable() bool
	Flush() error
}

// ReadFull reads exactly len(p) bytes, returning io.ErrUnexpectedEOF on a short read.
func ReadFull(s Stream, p []byte) error {
	_, err := io.ReadFull(s, p)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadUint16 reads a big-endian uint16
func ReadUint16(s Stream) (uint16, error) {
	var b [2]byte
	if err := ReadFull(s, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// WriteUint16 writes a big-endian uint16
func WriteUint16(s Stream, v uint16) error {
	_, err := s.Write([]byte{byte(v >> 8), byte(v)})
	return err
}
