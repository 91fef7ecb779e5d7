package jpeg2k

import (
	"encoding/binary"
	"fmt"
)

// updateTileData packs decoded planes into buf, component after component,
// little-endian with sampleSize bytes per sample
func updateTileData(t *Tile, planes [][]int32, buf []byte) error {
	if len(planes) != len(t.Comps) {
		return fmt.Errorf("%w: %d planes for %d components", ErrParameter, len(planes), len(t.Comps))
	}
	if need := t.decodedSize(); len(buf) < need {
		return fmt.Errorf("%w: tile buffer holds %d bytes, need %d", ErrParameter, len(buf), need)
	}
	off := 0
	for i := range t.Comps {
		c := &t.Comps[i]
		r := c.Decoded()
		n := int(r.Width()) * int(r.Height())
		if len(planes[i]) < n {
			return fmt.Errorf("%w: component %d decoded %d samples, want %d", ErrFormat, i, len(planes[i]), n)
		}
		size := sampleSize(c.Prec)
		for _, v := range planes[i][:n] {
			putSample(buf[off:], v, size, c.Signed)
			off += size
		}
	}
	return nil
}

func putSample(b []byte, v int32, size int, signed bool) {
	switch size {
	case 1:
		if signed {
			b[0] = byte(int8(v))
		} else {
			b[0] = byte(v & 0xff)
		}
	case 2:
		if signed {
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		} else {
			binary.LittleEndian.PutUint16(b, uint16(v&0xffff))
		}
	default:
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

func getSample(b []byte, size int, signed bool) int32 {
	switch size {
	case 1:
		if signed {
			return int32(int8(b[0]))
		}
		return int32(b[0])
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if signed {
			return int32(int16(v))
		}
		return int32(v)
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

// compositeTile copies the packed tile samples that fall inside each output
// component rectangle into img, allocating its planes on first use
func compositeTile(t *Tile, buf []byte, img *Image) error {
	if len(img.Comps) != len(t.Comps) {
		return fmt.Errorf("%w: image has %d components, tile %d", ErrParameter, len(img.Comps), len(t.Comps))
	}
	base := 0
	for i := range t.Comps {
		tc := &t.Comps[i]
		dst := &img.Comps[i]
		res := tc.Decoded()
		size := sampleSize(tc.Prec)
		ws, hs := int64(res.Width()), int64(res.Height())
		compBytes := int(ws*hs) * size
		if len(buf) < base+compBytes {
			return fmt.Errorf("%w: tile buffer too short for component %d", ErrParameter, i)
		}
		src := buf[base : base+compBytes]
		base += compBytes

		if dst.Data == nil {
			dst.Data = make([]int32, int(dst.W)*int(dst.H))
		}
		dst.ResDecoded = tc.MinResolutions - 1

		x0d := ceilDivPow2(int64(dst.X0), dst.Factor)
		y0d := ceilDivPow2(int64(dst.Y0), dst.Factor)
		x1d := x0d + int64(dst.W)
		y1d := y0d + int64(dst.H)
		startX, offX0, offX1, width := clipSpan(x0d, x1d, int64(res.X0), int64(res.X1), int64(dst.W))
		startY, offY0, offY1, height := clipSpan(y0d, y1d, int64(res.Y0), int64(res.Y1), int64(dst.H))
		if offX0 < 0 || offY0 < 0 || offX1 < 0 || offY1 < 0 {
			return fmt.Errorf("%w: component %d tile offsets fall outside the output", ErrFormat, i)
		}
		if width <= 0 || height <= 0 {
			continue
		}
		for y := range height {
			srow := ((offY0+y)*ws + offX0) * int64(size)
			drow := (startY+y)*int64(dst.W) + startX
			for x := range width {
				dst.Data[drow+x] = getSample(src[srow+x*int64(size):], size, tc.Signed)
			}
		}
	}
	return nil
}

// clipSpan intersects the output span [d0,d1) of length w with the tile
// span [r0,r1). It returns the first output sample written, the source
// samples skipped before and after, and the samples copied.
func clipSpan(d0, d1, r0, r1, w int64) (start, off0, off1, n int64) {
	ws := r1 - r0
	if d0 < r0 {
		start = r0 - d0
		if d1 >= r1 {
			return start, 0, 0, ws
		}
		n = d1 - r0
		return start, 0, ws - n, n
	}
	off0 = d0 - r0
	if d1 >= r1 {
		return 0, off0, 0, ws - off0
	}
	return 0, off0, r1 - d1, w
}

// getTileData extracts the full resolution tile-component planes of t from
// the image planes
func getTileData(img *Image, t *Tile) ([][]int32, error) {
	planes := make([][]int32, len(t.Comps))
	for i := range t.Comps {
		tc := &t.Comps[i]
		ic := &img.Comps[i]
		if tc.X0 < ic.X0 || tc.Y0 < ic.Y0 || tc.X1 > ic.X0+ic.W || tc.Y1 > ic.Y0+ic.H {
			return nil, fmt.Errorf("%w: tile %d lies outside component %d", ErrParameter, t.Index, i)
		}
		if len(ic.Data) < int(ic.W)*int(ic.H) {
			return nil, fmt.Errorf("%w: component %d has %d samples, want %d", ErrParameter, i, len(ic.Data), int(ic.W)*int(ic.H))
		}
		p := make([]int32, 0, int(tc.Width())*int(tc.Height()))
		for y := tc.Y0; y < tc.Y1; y++ {
			row := int(y-ic.Y0)*int(ic.W) + int(tc.X0-ic.X0)
			p = append(p, ic.Data[row:row+int(tc.Width())]...)
		}
		planes[i] = p
	}
	return planes, nil
}

// copyTileData unpacks a WriteTile buffer into full resolution planes
func copyTileData(t *Tile, data []byte) ([][]int32, error) {
	if len(data) != t.encodedSize() {
		return nil, fmt.Errorf("%w: size mismatch between tile data (%d) and sent data (%d)", ErrParameter, t.encodedSize(), len(data))
	}
	planes := make([][]int32, len(t.Comps))
	off := 0
	for i := range t.Comps {
		c := &t.Comps[i]
		size := sampleSize(c.Prec)
		p := make([]int32, int(c.Width())*int(c.Height()))
		for j := range p {
			p[j] = getSample(data[off:], size, c.Signed)
			off += size
		}
		planes[i] = p
	}
	return planes, nil
}
