package jpeg2k

import (
	"fmt"
)

// sizSize is the SIZ marker segment size including the marker
func sizSize(numComps int) int {
	return 40 + 3*numComps
}

// compRoom is the width of a component index field
func compRoom(numComps uint32) int {
	if numComps <= 256 {
		return 1
	}
	return 2
}

// readSIZ reads the image and tile size segment (ITU-T T.800 A.5.1)
func (d *Decoder) readSIZ(body []byte) error {
	if len(body) < 36 || (len(body)-36)%3 != 0 {
		return fmt.Errorf("%w: error with SIZ marker size %d", ErrFormat, len(body))
	}
	nbComp := uint32(len(body)-36) / 3
	r := newSegmentReader(body)
	cp := &d.cp
	img := &Image{}
	cp.Rsiz = Profile(r.u16())
	img.X1 = r.u32()
	img.Y1 = r.u32()
	img.X0 = r.u32()
	img.Y0 = r.u32()
	cp.TDX = r.u32()
	cp.TDY = r.u32()
	cp.TX0 = r.u32()
	cp.TY0 = r.u32()
	numComps := r.u16()
	if numComps == 0 || numComps > maxComponents {
		return fmt.Errorf("%w: number of components is illegal -> %d", ErrFormat, numComps)
	}
	if numComps != nbComp {
		return fmt.Errorf("%w: number of components is not compatible with the remaining number of parameters (%d vs %d)",
			ErrFormat, numComps, nbComp)
	}
	if img.X0 >= img.X1 || img.Y0 >= img.Y1 {
		return fmt.Errorf("%w: negative or zero image size (%d x %d)",
			ErrFormat, int64(img.X1)-int64(img.X0), int64(img.Y1)-int64(img.Y0))
	}
	if cp.TDX == 0 || cp.TDY == 0 {
		return fmt.Errorf("%w: invalid tile size (tdx: %d, tdy: %d)", ErrFormat, cp.TDX, cp.TDY)
	}
	if 0xFFFFFFFF/img.X1 < img.Y1 {
		return fmt.Errorf("%w: image area overflows (x1: %d, y1: %d)", ErrFormat, img.X1, img.Y1)
	}
	if cp.TX0 > img.X0 || cp.TY0 > img.Y0 || addSat(cp.TX0, cp.TDX) <= img.X0 || addSat(cp.TY0, cp.TDY) <= img.Y0 {
		return fmt.Errorf("%w: illegal tile offset", ErrFormat)
	}

	img.Comps = make([]Component, numComps)
	for i := range img.Comps {
		c := &img.Comps[i]
		ssiz := r.u8()
		c.Prec = ssiz&0x7f + 1
		c.Signed = ssiz>>7 != 0
		c.DX = r.u8()
		c.DY = r.u8()
		if c.DX < 1 || c.DX > 255 || c.DY < 1 || c.DY > 255 {
			return fmt.Errorf("%w: invalid values for comp = %d : dx=%d dy=%d (should be between 1 and 255)",
				ErrFormat, i, c.DX, c.DY)
		}
		if c.Prec > maxPrecision {
			return fmt.Errorf("%w: invalid values for comp = %d : prec=%d (should be between 1 and 38)",
				ErrFormat, i, c.Prec)
		}
		c.Factor = cp.reduce
	}

	cp.TW = ceilDiv(img.X1-cp.TX0, cp.TDX)
	cp.TH = ceilDiv(img.Y1-cp.TY0, cp.TDY)
	if cp.TW == 0 || cp.TH == 0 || cp.TW > maxTiles/cp.TH {
		return fmt.Errorf("%w: invalid number of tiles : %d x %d (maximum fixed by jpeg2000 norm is 65535 tiles)",
			ErrFormat, cp.TW, cp.TH)
	}
	d.startTileX, d.startTileY = 0, 0
	d.endTileX, d.endTileY = cp.TW, cp.TH

	cp.Tiles = make([]TileParams, cp.numTiles())
	d.dflt = newTileParams(numComps)
	for i := range img.Comps {
		if !img.Comps[i].Signed {
			d.dflt.Comps[i].DCLevelShift = int32(1) << (img.Comps[i].Prec - 1)
		}
	}
	d.index.Tiles = newIndex(cp.numTiles()).Tiles
	d.image = img
	d.st = stateMH
	updateComponentHeader(img, cp)
	return nil
}

// updateComponentHeader sets the component rectangles from the tiled area
func updateComponentHeader(img *Image, cp *CodingParams) {
	x0 := max(cp.TX0, img.X0)
	y0 := max(cp.TY0, img.Y0)
	x1 := min(addSat(cp.TX0+(cp.TW-1)*cp.TDX, cp.TDX), img.X1)
	y1 := min(addSat(cp.TY0+(cp.TH-1)*cp.TDY, cp.TDY), img.Y1)
	for i := range img.Comps {
		c := &img.Comps[i]
		cx0 := ceilDiv(x0, c.DX)
		cy0 := ceilDiv(y0, c.DY)
		cx1 := ceilDiv(x1, c.DX)
		cy1 := ceilDiv(y1, c.DY)
		c.X0, c.Y0 = cx0, cy0
		c.W = ceilDivPow2(cx1-cx0, c.Factor)
		c.H = ceilDivPow2(cy1-cy0, c.Factor)
	}
}

// appendSIZ writes the SIZ segment
func appendSIZ(dst []byte, cp *CodingParams, img *Image) []byte {
	n := len(img.Comps)
	dst = appendMarker(dst, MarkerSIZ, sizSize(n)-2)
	dst = appendUint(dst, uint32(cp.Rsiz), 2)
	dst = appendUint(dst, img.X1, 4)
	dst = appendUint(dst, img.Y1, 4)
	dst = appendUint(dst, img.X0, 4)
	dst = appendUint(dst, img.Y0, 4)
	dst = appendUint(dst, cp.TDX, 4)
	dst = appendUint(dst, cp.TDY, 4)
	dst = appendUint(dst, cp.TX0, 4)
	dst = appendUint(dst, cp.TY0, 4)
	dst = appendUint(dst, uint32(n), 2)
	for _, c := range img.Comps {
		ssiz := (c.Prec - 1) & 0x7f
		if c.Signed {
			ssiz |= 0x80
		}
		dst = append(dst, byte(ssiz), byte(c.DX), byte(c.DY))
	}
	return dst
}
