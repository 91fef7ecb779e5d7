package jpeg2k

import (
	"fmt"
	"slices"
)

// readTLM reads tile-part lengths (ITU-T T.800 A.7.1)
func (d *Decoder) readTLM(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading TLM marker", ErrFormat)
	}
	r := newSegmentReader(body)
	_ = r.u8() // Ztlm
	stlm := r.u8()
	st := int(stlm >> 4 & 3)
	sp := int(stlm >> 6 & 1)
	if st == 3 {
		return fmt.Errorf("%w: error reading TLM marker (ST=3)", ErrFormat)
	}
	ptlm := (sp + 1) * 2
	if r.remaining()%(st+ptlm) != 0 {
		return fmt.Errorf("%w: error reading TLM marker", ErrFormat)
	}
	for r.remaining() > 0 {
		e := TLMEntry{Tile: -1}
		if st > 0 {
			e.Tile = int(r.uint(st))
		}
		e.Length = r.uint(ptlm)
		d.cp.TLM = append(d.cp.TLM, e)
	}
	return nil
}

// tlmSize is the TLM segment size for parts entries
func tlmSize(parts int, numTiles uint32) int {
	return 6 + tlmEntrySize(numTiles)*parts
}

// tlmEntrySize is Ttlm plus a 4 byte Ptlm
func tlmEntrySize(numTiles uint32) int {
	if numTiles > 255 {
		return 6
	}
	return 5
}

// appendTLM writes a TLM segment with zeroed entries to be patched later
func appendTLM(dst []byte, parts int, numTiles uint32) []byte {
	dst = appendMarker(dst, MarkerTLM, tlmSize(parts, numTiles)-2)
	stlm := byte(0x50)
	if numTiles > 255 {
		stlm = 0x60
	}
	dst = append(dst, 0, stlm)
	return append(dst, make([]byte, tlmEntrySize(numTiles)*parts)...)
}

// appendTLMEntry appends one Ttlm/Ptlm pair
func appendTLMEntry(dst []byte, tile uint32, length uint32, numTiles uint32) []byte {
	dst = appendUint(dst, tile, tlmEntrySize(numTiles)-4)
	return appendUint(dst, length, 4)
}

// packetLengths decodes 7 bit packet length groups; a sequence cut inside
// a length is malformed
func packetLengths(b []byte) ([]uint32, error) {
	var out []uint32
	var v uint32
	open := false
	for _, c := range b {
		v = v<<7 | uint32(c&0x7f)
		open = c&0x80 != 0
		if !open {
			out = append(out, v)
			v = 0
		}
	}
	if open {
		return out, fmt.Errorf("%w: packet length cut inside a length", ErrFormat)
	}
	return out, nil
}

// appendPacketLength encodes one length as 7 bit groups, most significant
// first
func appendPacketLength(dst []byte, v uint32) []byte {
	var tmp [5]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	for v >>= 7; v != 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
	}
	return append(dst, tmp[i:]...)
}

// readPLM reads packet lengths of the main header (ITU-T T.800 A.7.2)
func (d *Decoder) readPLM(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: error reading PLM marker", ErrFormat)
	}
	r := newSegmentReader(body[1:])
	for r.remaining() > 0 {
		n := int(r.u8())
		if r.remaining() < n {
			return fmt.Errorf("%w: error reading PLM marker", ErrFormat)
		}
		if _, err := packetLengths(r.bytes(n)); err != nil {
			return fmt.Errorf("error reading PLM marker: %w", err)
		}
	}
	return nil
}

// readPLT reads packet lengths of a tile-part header (ITU-T T.800 A.7.3)
func (d *Decoder) readPLT(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: error reading PLT marker", ErrFormat)
	}
	lengths, err := packetLengths(body[1:])
	if err != nil {
		return fmt.Errorf("error reading PLT marker: %w", err)
	}
	d.log.Debug("packet lengths", "tile", d.currentTile, "zplt", body[0], "packets", len(lengths))
	return nil
}

// pltRoom bounds a PLT segment carrying one packet length
const pltRoom = 4 + 1 + 5

// appendPLT writes one PLT segment listing the given packet lengths
func appendPLT(dst []byte, zplt byte, lengths []uint32) []byte {
	body := []byte{zplt}
	for _, v := range lengths {
		body = appendPacketLength(body, v)
	}
	dst = appendMarker(dst, MarkerPLT, len(body)+2)
	return append(dst, body...)
}

// readPPM stores a packed packet headers segment of the main header
// (ITU-T T.800 A.7.4)
func (d *Decoder) readPPM(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading PPM marker", ErrFormat)
	}
	cp := &d.cp
	cp.ppm = true
	z := body[0]
	if cp.ppmSegments == nil {
		cp.ppmSegments = make(map[byte][]byte)
	}
	if _, ok := cp.ppmSegments[z]; ok {
		return fmt.Errorf("%w: Zppm %d already read", ErrFormat, z)
	}
	cp.ppmSegments[z] = slices.Clone(body[1:])
	return nil
}

// mergePPM splits the PPM segments, in Zppm order, into the Nppm prefixed
// chunks handed to each tile-part. An Nppm field never straddles segments
// but a chunk may.
func (d *Decoder) mergePPM() error {
	cp := &d.cp
	if !cp.ppm {
		return nil
	}
	var chunks [][]byte
	var cur []byte
	var need uint32
	for z := 0; z < len(cp.ppmSegments); z++ {
		seg, ok := cp.ppmSegments[byte(z)]
		if !ok {
			return fmt.Errorf("%w: Zppm %d is missing", ErrFormat, z)
		}
		for len(seg) > 0 {
			if need == 0 {
				if len(seg) < 4 {
					return fmt.Errorf("%w: not enough bytes to read Nppm", ErrFormat)
				}
				r := newSegmentReader(seg)
				need = r.u32()
				seg = seg[4:]
				cur = make([]byte, 0, need)
				if need == 0 {
					chunks = append(chunks, cur)
					continue
				}
			}
			n := min(uint32(len(seg)), need)
			cur = append(cur, seg[:n]...)
			seg = seg[n:]
			if need -= n; need == 0 {
				chunks = append(chunks, cur)
			}
		}
	}
	if need != 0 {
		return fmt.Errorf("%w: corrupted PPM markers", ErrFormat)
	}
	cp.ppmChunks = chunks
	cp.ppmSegments = nil
	cp.ppmByPos = make(map[int64]int)
	return nil
}

// takePPMChunk returns the chunk of the tile-part whose SOT sits at pos. A
// tile-part read again gets the chunk it had the first time.
func (d *Decoder) takePPMChunk(pos int64) []byte {
	cp := &d.cp
	i, ok := cp.ppmByPos[pos]
	if !ok {
		i = cp.ppmNext
		cp.ppmNext++
		cp.ppmByPos[pos] = i
	}
	if i >= len(cp.ppmChunks) {
		d.log.Warn("no PPM packet headers left for tile-part", "tile", d.currentTile, "chunk", i)
		return nil
	}
	return cp.ppmChunks[i]
}

// readPPT stores a packed packet headers segment of a tile-part header
// (ITU-T T.800 A.7.5)
func (d *Decoder) readPPT(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading PPT marker", ErrFormat)
	}
	if d.cp.ppm {
		return fmt.Errorf("%w: error reading PPT marker: packet headers have been previously found in the main header (PPM marker)", ErrFormat)
	}
	tcp := &d.cp.Tiles[d.currentTile]
	z := body[0]
	if tcp.pptSegments == nil {
		tcp.pptSegments = make(map[byte][]byte)
	}
	if _, ok := tcp.pptSegments[z]; ok {
		return fmt.Errorf("%w: Zppt %d already read", ErrFormat, z)
	}
	tcp.pptSegments[z] = slices.Clone(body[1:])
	return nil
}

// mergePPT concatenates the PPT segments of tcp in Zppt order
func mergePPT(tcp *TileParams) {
	if len(tcp.pptSegments) == 0 {
		return
	}
	for z := range 256 {
		if seg, ok := tcp.pptSegments[byte(z)]; ok {
			tcp.packedHeaders = append(tcp.packedHeaders, seg...)
		}
	}
	tcp.pptSegments = nil
}

