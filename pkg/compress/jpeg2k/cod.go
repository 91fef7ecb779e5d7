package jpeg2k

import (
	"fmt"
)

// tcpForState returns the TCP a functional marker applies to
func (d *Decoder) tcpForState() *TileParams {
	if d.st == stateTPH {
		return &d.cp.Tiles[d.currentTile]
	}
	return d.dflt
}

// readCOD reads the coding style default segment (ITU-T T.800 A.6.1)
func (d *Decoder) readCOD(body []byte) error {
	tcp := d.tcpForState()
	if tcp.codSeen {
		return fmt.Errorf("%w: COD marker already read; only one COD marker per tile", ErrFormat)
	}
	tcp.codSeen = true
	if len(body) < 5 {
		return fmt.Errorf("%w: error reading COD marker", ErrFormat)
	}
	r := newSegmentReader(body)
	csty := byte(r.u8())
	if csty&^(CodingStylePrecincts|CodingStyleSOP|CodingStyleEPH) != 0 {
		return fmt.Errorf("%w: unknown Scod value in COD marker: 0x%02x", ErrFormat, csty)
	}
	tcp.CodingStyle = csty
	prg := r.u8()
	if prg > uint32(ProgressionCPRL) {
		return fmt.Errorf("%w: unknown progression order in COD marker: %d", ErrFormat, prg)
	}
	tcp.Order = ProgressionOrder(prg)
	tcp.NumLayers = r.u16()
	if tcp.NumLayers == 0 {
		return fmt.Errorf("%w: invalid number of layers in COD marker: %d not in range [1-65535]", ErrFormat, tcp.NumLayers)
	}
	if d.cp.layer != 0 {
		tcp.LayersToDecode = d.cp.layer
	} else {
		tcp.LayersToDecode = tcp.NumLayers
	}
	tcp.MCT = r.u8()
	// Part-2 streams signal array based transforms with 2
	if tcp.MCT > 1 && !(tcp.MCT == 2 && d.cp.Rsiz.IsPart2()) {
		return fmt.Errorf("%w: invalid multiple component transformation %d", ErrFormat, tcp.MCT)
	}
	for i := range tcp.Comps {
		tcp.Comps[i].CodingStyle = csty & CodingStylePrecincts
	}
	rest, err := d.readSPCod(tcp, 0, r.rest())
	if err != nil {
		return err
	}
	if rest != 0 {
		return fmt.Errorf("%w: error reading COD marker", ErrFormat)
	}
	src := &tcp.Comps[0]
	for i := 1; i < len(tcp.Comps); i++ {
		c := &tcp.Comps[i]
		c.NumResolutions = src.NumResolutions
		c.CodeBlockWidth = src.CodeBlockWidth
		c.CodeBlockHeight = src.CodeBlockHeight
		c.CodeBlockStyle = src.CodeBlockStyle
		c.Transform = src.Transform
		c.PrecinctWidth = src.PrecinctWidth
		c.PrecinctHeight = src.PrecinctHeight
	}
	return nil
}

// readCOC reads the coding style component segment (ITU-T T.800 A.6.2)
func (d *Decoder) readCOC(body []byte) error {
	tcp := d.tcpForState()
	numComps := d.image.NumComps()
	room := compRoom(numComps)
	if len(body) < room+1 {
		return fmt.Errorf("%w: error reading COC marker", ErrFormat)
	}
	r := newSegmentReader(body)
	compno := r.uint(room)
	if compno >= numComps {
		return fmt.Errorf("%w: error reading COC marker (bad number of components)", ErrFormat)
	}
	tcp.Comps[compno].CodingStyle = byte(r.u8())
	rest, err := d.readSPCod(tcp, compno, r.rest())
	if err != nil {
		return err
	}
	if rest != 0 {
		return fmt.Errorf("%w: error reading COC marker", ErrFormat)
	}
	return nil
}

// readSPCod reads SPcod/SPcoc into component compno and returns the bytes
// left over
func (d *Decoder) readSPCod(tcp *TileParams, compno uint32, body []byte) (int, error) {
	if len(body) < 5 {
		return 0, fmt.Errorf("%w: error reading SPCod SPCoc element", ErrFormat)
	}
	c := &tcp.Comps[compno]
	r := newSegmentReader(body)
	c.NumResolutions = r.u8() + 1
	if c.NumResolutions > maxResolutions {
		return 0, fmt.Errorf("%w: invalid value for numresolutions: %d, max value is %d",
			ErrFormat, c.NumResolutions, maxResolutions)
	}
	if d.cp.reduce >= c.NumResolutions {
		return 0, fmt.Errorf("%w: the number of resolutions to remove (%d) is higher than the number of resolutions of this component (%d)",
			ErrFormat, d.cp.reduce, c.NumResolutions)
	}
	c.CodeBlockWidth = r.u8() + 2
	c.CodeBlockHeight = r.u8() + 2
	if c.CodeBlockWidth > 10 || c.CodeBlockHeight > 10 || c.CodeBlockWidth+c.CodeBlockHeight > 12 {
		return 0, fmt.Errorf("%w: illegal code-block width/height (2^%d, 2^%d)", ErrFormat, c.CodeBlockWidth, c.CodeBlockHeight)
	}
	c.CodeBlockStyle = byte(r.u8())
	if c.CodeBlockStyle&0xC0 != 0 {
		return 0, fmt.Errorf("%w: illegal code-block style 0x%02x", ErrFormat, c.CodeBlockStyle)
	}
	c.Transform = TransformType(r.u8())
	if c.CodingStyle&CodingStylePrecincts != 0 {
		if r.remaining() < int(c.NumResolutions) {
			return 0, fmt.Errorf("%w: error reading SPCod SPCoc element", ErrFormat)
		}
		for i := uint32(0); i < c.NumResolutions; i++ {
			v := r.u8()
			if i != 0 && (v&0xf == 0 || v>>4 == 0) {
				return 0, fmt.Errorf("%w: invalid precinct size", ErrFormat)
			}
			c.PrecinctWidth[i] = v & 0xf
			c.PrecinctHeight[i] = v >> 4
		}
	} else {
		for i := range c.NumResolutions {
			c.PrecinctWidth[i] = 15
			c.PrecinctHeight[i] = 15
		}
	}
	return r.remaining(), nil
}

// spcodSize is the SPcod/SPcoc size of a component
func spcodSize(c *TileCompParams) int {
	if c.CodingStyle&CodingStylePrecincts != 0 {
		return 5 + int(c.NumResolutions)
	}
	return 5
}

// codSize is the COD segment size including the marker
func codSize(tcp *TileParams) int {
	return 9 + spcodSize(&tcp.Comps[0])
}

// cocSize is the COC segment size including the marker
func cocSize(tcp *TileParams, compno, numComps uint32) int {
	return 5 + compRoom(numComps) + spcodSize(&tcp.Comps[compno])
}

func appendSPCod(dst []byte, c *TileCompParams) []byte {
	dst = append(dst,
		byte(c.NumResolutions-1),
		byte(c.CodeBlockWidth-2),
		byte(c.CodeBlockHeight-2),
		c.CodeBlockStyle,
		byte(c.Transform))
	if c.CodingStyle&CodingStylePrecincts != 0 {
		for i := range c.NumResolutions {
			dst = append(dst, byte(c.PrecinctWidth[i]|c.PrecinctHeight[i]<<4))
		}
	}
	return dst
}

// appendCOD writes the COD segment for tcp
func appendCOD(dst []byte, tcp *TileParams) []byte {
	dst = appendMarker(dst, MarkerCOD, codSize(tcp)-2)
	dst = append(dst, tcp.CodingStyle, byte(tcp.Order))
	dst = appendUint(dst, tcp.NumLayers, 2)
	dst = append(dst, byte(tcp.MCT))
	return appendSPCod(dst, &tcp.Comps[0])
}

// appendCOC writes the COC segment of component compno
func appendCOC(dst []byte, tcp *TileParams, compno, numComps uint32) []byte {
	dst = appendMarker(dst, MarkerCOC, cocSize(tcp, compno, numComps)-2)
	dst = appendUint(dst, compno, compRoom(numComps))
	dst = append(dst, tcp.Comps[compno].CodingStyle)
	return appendSPCod(dst, &tcp.Comps[compno])
}

// readRGN reads the region of interest segment (ITU-T T.800 A.6.3)
func (d *Decoder) readRGN(body []byte) error {
	numComps := d.image.NumComps()
	room := compRoom(numComps)
	if len(body) != 2+room {
		return fmt.Errorf("%w: error reading RGN marker", ErrFormat)
	}
	tcp := d.tcpForState()
	r := newSegmentReader(body)
	compno := r.uint(room)
	_ = r.u8() // Srgn
	if compno >= numComps {
		return fmt.Errorf("%w: bad component number in RGN (%d when there are only %d)", ErrFormat, compno, numComps)
	}
	tcp.Comps[compno].ROIShift = r.u8()
	return nil
}

// rgnSize is the RGN segment size including the marker
func rgnSize(numComps uint32) int {
	return 6 + compRoom(numComps)
}

// appendRGN writes an implicit ROI segment for compno
func appendRGN(dst []byte, tcp *TileParams, compno, numComps uint32) []byte {
	dst = appendMarker(dst, MarkerRGN, rgnSize(numComps)-2)
	dst = appendUint(dst, compno, compRoom(numComps))
	dst = append(dst, 0) // Srgn: implicit
	return append(dst, byte(tcp.Comps[compno].ROIShift))
}
