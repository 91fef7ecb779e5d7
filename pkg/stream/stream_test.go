package stream

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ReadWriteSeek(t *testing.T) {
	m := NewMemoryWriter(2)
	_, err := m.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Tell())
	assert.Equal(t, int64(0), m.BytesLeft())

	// patch in place
	require.NoError(t, m.SeekTo(1))
	_, err = m.Write([]byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 9, 9, 4, 5}, m.Bytes())

	require.NoError(t, m.SeekTo(0))
	v, err := ReadUint16(m)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0109), v)
	assert.Equal(t, int64(3), m.BytesLeft())

	assert.ErrorIs(t, m.SeekTo(6), ErrInvalidSeek)
}

func TestMemory_Skip(t *testing.T) {
	tests := []struct {
		name    string
		skip    int64
		wantPos int64
		wantErr bool
	}{
		{name: "forward", skip: 3, wantPos: 3},
		{name: "past end", skip: 20, wantPos: 10, wantErr: true},
		{name: "backward", skip: -2, wantPos: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(make([]byte, 10))
			_, err := m.Skip(tt.skip)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPos, m.Tell())
		})
	}
}

func TestReader_ForwardOnly(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x4F, 0, 0, 0, 7}), 6)
	v, err := ReadUint16(r)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFF4F), v)
	assert.False(t, r.Seekable())
	assert.ErrorIs(t, r.SeekTo(0), ErrNotSeekable)

	n, err := r.Skip(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(1), r.BytesLeft())

	_, err = r.Skip(4)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFull_Short(t *testing.T) {
	m := NewMemory([]byte{1})
	err := ReadFull(m, make([]byte, 2))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriter_Flush(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, WriteUint16(w, 0xFFD9))
	_, err := w.Skip(2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.Tell())
	assert.Equal(t, 0, buf.Len())
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0xFF, 0xD9, 0, 0}, buf.Bytes())
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.j2k")
	out, err := CreateFile(path)
	require.NoError(t, err)
	_, err = out.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, out.SeekTo(0))
	_, err = out.Write([]byte{7})
	require.NoError(t, err)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 2, 3, 4}, data)

	in, err := OpenFile(path)
	require.NoError(t, err)
	defer in.Close()
	assert.Equal(t, int64(4), in.BytesLeft())
	_, err = in.Skip(2)
	require.NoError(t, err)
	v, err := ReadUint16(in)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), v)
	assert.Equal(t, int64(0), in.BytesLeft())
}
