package jpeg2k

import "fmt"

// Resolution is one resolution level of a tile-component, in component
// coordinates at that level
type Resolution struct {
	X0, Y0, X1, Y1 uint32
	PW, PH         uint32 // precincts across and down
}

// Width returns x1-x0
func (r Resolution) Width() uint32 { return r.X1 - r.X0 }

// Height returns y1-y0
func (r Resolution) Height() uint32 { return r.Y1 - r.Y0 }

// TileComponent is the geometry of one component within a tile
type TileComponent struct {
	X0, Y0, X1, Y1 uint32
	Prec           uint32
	Signed         bool
	NumResolutions uint32
	// MinResolutions is the number of resolutions left after reduction
	MinResolutions uint32
	Resolutions    []Resolution
}

// Decoded returns the resolution a reduced decode produces
func (c *TileComponent) Decoded() Resolution {
	return c.Resolutions[c.MinResolutions-1]
}

// Width returns x1-x0 at full resolution
func (c *TileComponent) Width() uint32 { return c.X1 - c.X0 }

// Height returns y1-y0 at full resolution
func (c *TileComponent) Height() uint32 { return c.Y1 - c.Y0 }

// Tile is the geometry and coding state handed to a TileCoder
type Tile struct {
	Index          uint32
	X0, Y0, X1, Y1 uint32
	Comps          []TileComponent
	Params         *TileParams
	// PackedHeaders holds PPM/PPT packet headers of the tile, if any
	PackedHeaders []byte
	// MaxCompSize caps the bytes of one component, 0 for no cap
	MaxCompSize uint32
}

// newTile lays out tile index on the grid of cp and img
func newTile(cp *CodingParams, img *Image, index uint32, reduce uint32) (*Tile, error) {
	if index >= cp.numTiles() {
		return nil, fmt.Errorf("%w: tile %d out of %d", ErrParameter, index, cp.numTiles())
	}
	tcp := &cp.Tiles[index]
	p := index % cp.TW
	q := index / cp.TW
	t := &Tile{
		Index:  index,
		X0:     max(uint32(min(uint64(cp.TX0)+uint64(p)*uint64(cp.TDX), 0xFFFFFFFF)), img.X0),
		Y0:     max(uint32(min(uint64(cp.TY0)+uint64(q)*uint64(cp.TDY), 0xFFFFFFFF)), img.Y0),
		X1:     uint32(min(uint64(cp.TX0)+uint64(p+1)*uint64(cp.TDX), uint64(img.X1))),
		Y1:     uint32(min(uint64(cp.TY0)+uint64(q+1)*uint64(cp.TDY), uint64(img.Y1))),
		Comps:  make([]TileComponent, len(img.Comps)),
		Params: tcp,
	}
	for i := range img.Comps {
		ic := &img.Comps[i]
		tccp := &tcp.Comps[i]
		tc := &t.Comps[i]
		tc.X0 = ceilDiv(t.X0, ic.DX)
		tc.Y0 = ceilDiv(t.Y0, ic.DY)
		tc.X1 = ceilDiv(t.X1, ic.DX)
		tc.Y1 = ceilDiv(t.Y1, ic.DY)
		tc.Prec, tc.Signed = ic.Prec, ic.Signed
		if tccp.NumResolutions == 0 {
			return nil, fmt.Errorf("%w: component %d has no resolution", ErrFormat, i)
		}
		tc.NumResolutions = tccp.NumResolutions
		if tccp.NumResolutions <= reduce {
			tc.MinResolutions = 1
		} else {
			tc.MinResolutions = tccp.NumResolutions - reduce
		}
		tc.Resolutions = make([]Resolution, tccp.NumResolutions)
		for r := range tc.Resolutions {
			level := tccp.NumResolutions - 1 - uint32(r)
			res := &tc.Resolutions[r]
			res.X0 = ceilDivPow2(tc.X0, level)
			res.Y0 = ceilDivPow2(tc.Y0, level)
			res.X1 = ceilDivPow2(tc.X1, level)
			res.Y1 = ceilDivPow2(tc.Y1, level)
			res.PW = precinctCount(res.X0, res.X1, tccp.PrecinctWidth[r])
			res.PH = precinctCount(res.Y0, res.Y1, tccp.PrecinctHeight[r])
		}
	}
	return t, nil
}

// precinctCount returns the precincts of exponent e covering [a,b)
func precinctCount(a, b, e uint32) uint32 {
	if a == b {
		return 0
	}
	tl := uint64(floorDivPow2(a, e)) << e
	br := uint64(ceilDivPow2(b, e)) << e
	return uint32((br - tl) >> e)
}

// maxPrecincts returns the largest precinct count of any resolution
func (t *Tile) maxPrecincts() uint32 {
	var m uint32
	for _, c := range t.Comps {
		for _, r := range c.Resolutions {
			m = max(m, r.PW*r.PH)
		}
	}
	return m
}

// maxResolutions returns the largest resolution count of any component
func (t *Tile) maxResolutions() uint32 {
	var m uint32
	for _, c := range t.Comps {
		m = max(m, c.NumResolutions)
	}
	return m
}

// sampleSize returns the bytes one sample of prec bits occupies in packed
// tile buffers; 3 bytes are promoted to 4
func sampleSize(prec uint32) int {
	n := int((prec + 7) / 8)
	if n == 3 {
		n = 4
	}
	return n
}

// decodedSize is the packed size of the tile at its reduced resolution
func (t *Tile) decodedSize() int {
	var n int
	for _, c := range t.Comps {
		r := c.Decoded()
		n += sampleSize(c.Prec) * int(r.Width()) * int(r.Height())
	}
	return n
}

// encodedSize is the packed size of the tile at full resolution
func (t *Tile) encodedSize() int {
	var n int
	for _, c := range t.Comps {
		n += sampleSize(c.Prec) * int(c.Width()) * int(c.Height())
	}
	return n
}
