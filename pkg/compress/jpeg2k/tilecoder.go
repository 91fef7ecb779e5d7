package jpeg2k

import (
	"fmt"

	"github.com/samber/lo"
)

// TilePart identifies the tile-part an encoder asks a TileCoder for
type TilePart struct {
	Pino     uint32 // progression stage
	PocPart  uint32 // part within the stage
	Part     uint32 // part within the tile
	NumParts uint32 // parts of the tile
}

// TileCoder turns tile-component sample planes into tile-part payloads and
// back. The codec owns the codestream syntax around them; wavelet and
// entropy coding live behind this interface.
type TileCoder interface {
	// DecodeTile returns one plane per component at the tile's reduced
	// resolution, row-major, from the concatenated tile-part payloads
	DecodeTile(tile *Tile, data []byte) ([][]int32, error)
	// EncodeTilePart returns the payload of part; full resolution planes,
	// at most limit bytes
	EncodeTilePart(tile *Tile, planes [][]int32, part TilePart, limit int) ([]byte, error)
	// DecodedTileSize is the byte size of the packed decoded tile
	DecodedTileSize(tile *Tile) int
	// EncodedTileSize is the byte size of the packed tile WriteTile expects
	EncodedTileSize(tile *Tile) int
}

// RawCoder stores samples uncompressed, packed MSB first at each
// component's precision, and splits the payload evenly across tile-parts.
// Reduced resolutions are produced by subsampling.
type RawCoder struct{}

var _ TileCoder = RawCoder{}

// DecodedTileSize implements TileCoder
func (RawCoder) DecodedTileSize(t *Tile) int { return t.decodedSize() }

// EncodedTileSize implements TileCoder
func (RawCoder) EncodedTileSize(t *Tile) int { return t.encodedSize() }

// rawCompSize is the packed size of one full resolution component
func rawCompSize(c *TileComponent) int {
	bits := uint64(c.Width()) * uint64(c.Height()) * uint64(c.Prec)
	return int((bits + 7) / 8)
}

// DecodeTile implements TileCoder. Missing trailing bytes read as zero.
func (RawCoder) DecodeTile(t *Tile, data []byte) ([][]int32, error) {
	total := lo.SumBy(t.Comps, func(c TileComponent) int { return rawCompSize(&c) })
	if len(data) < total {
		data = append(data[:len(data):len(data)], make([]byte, total-len(data))...)
	}
	planes := make([][]int32, len(t.Comps))
	off := 0
	for i := range t.Comps {
		c := &t.Comps[i]
		if c.Prec > 32 {
			return nil, fmt.Errorf("%w: %d bit samples", ErrUnsupported, c.Prec)
		}
		n := rawCompSize(c)
		full, err := unpackSamples(data[off:off+n], c)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		off += n
		planes[i] = subsample(full, c)
	}
	return planes, nil
}

func unpackSamples(b []byte, c *TileComponent) ([]int32, error) {
	out := make([]int32, int(c.Width())*int(c.Height()))
	br := NewBitReader(b)
	shift := 32 - c.Prec
	for i := range out {
		v, err := br.ReadBits(int(c.Prec))
		if err != nil {
			return nil, err
		}
		if c.Signed {
			out[i] = int32(v<<shift) >> shift
		} else {
			out[i] = int32(v)
		}
	}
	return out, nil
}

// subsample picks the full resolution sample under each pixel of the
// decoded resolution
func subsample(full []int32, c *TileComponent) []int32 {
	if c.MinResolutions == c.NumResolutions {
		return full
	}
	level := c.NumResolutions - c.MinResolutions
	r := c.Decoded()
	w := int(c.Width())
	out := make([]int32, 0, int(r.Width())*int(r.Height()))
	for ry := r.Y0; ry < r.Y1; ry++ {
		y := min(max(ry<<level, c.Y0), c.Y1-1) - c.Y0
		for rx := r.X0; rx < r.X1; rx++ {
			x := min(max(rx<<level, c.X0), c.X1-1) - c.X0
			out = append(out, full[int(y)*w+int(x)])
		}
	}
	return out
}

// EncodeTilePart implements TileCoder
func (RawCoder) EncodeTilePart(t *Tile, planes [][]int32, part TilePart, limit int) ([]byte, error) {
	if len(planes) != len(t.Comps) {
		return nil, fmt.Errorf("%w: %d planes for %d components", ErrParameter, len(planes), len(t.Comps))
	}
	var payload []byte
	for i := range t.Comps {
		c := &t.Comps[i]
		if c.Prec > 32 {
			return nil, fmt.Errorf("%w: %d bit samples", ErrUnsupported, c.Prec)
		}
		if want := int(c.Width()) * int(c.Height()); len(planes[i]) != want {
			return nil, fmt.Errorf("%w: component %d has %d samples, want %d", ErrParameter, i, len(planes[i]), want)
		}
		n := rawCompSize(c)
		if t.MaxCompSize != 0 && n > int(t.MaxCompSize) {
			return nil, fmt.Errorf("%w: component %d needs %d bytes, over the %d byte cap", ErrParameter, i, n, t.MaxCompSize)
		}
		bw := NewBitWriter(n)
		for _, v := range planes[i] {
			bw.WriteBits(uint32(v), int(c.Prec))
		}
		payload = append(payload, bw.Bytes()...)
	}
	parts := max(part.NumParts, 1)
	start := len(payload) * int(part.Part) / int(parts)
	end := len(payload) * int(part.Part+1) / int(parts)
	chunk := payload[start:end]
	if len(chunk) > limit {
		return nil, fmt.Errorf("%w: tile-part needs %d bytes, %d available", ErrParameter, len(chunk), limit)
	}
	return chunk, nil
}
