package jpeg2k

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readSOT reads a start of tile-part segment (ITU-T T.800 A.4.2)
func (d *Decoder) readSOT(body []byte) error {
	if len(body) != 8 {
		return fmt.Errorf("%w: error reading SOT marker", ErrFormat)
	}
	r := newSegmentReader(body)
	tile := r.u16()
	psot := r.u32()
	part := r.u8()
	numParts := r.u8()
	cp := &d.cp
	if tile >= cp.numTiles() {
		return fmt.Errorf("%w: invalid tile number %d", ErrFormat, tile)
	}
	d.currentTile = tile
	tcp := &cp.Tiles[tile]

	tx, ty := tile%cp.TW, tile/cp.TW
	if d.tileToDecode == -1 {
		d.skipData = tx < d.startTileX || tx >= d.endTileX || ty < d.startTileY || ty >= d.endTileY
	} else {
		d.skipData = int(tile) != d.tileToDecode
	}
	// parts of skipped tiles may be met out of order after a seek
	if !d.skipData && int(part) != tcp.currentPart+1 {
		return fmt.Errorf("%w: invalid tile part index for tile number %d. Got %d, expected %d",
			ErrFormat, tile, part, tcp.currentPart+1)
	}
	tcp.currentPart = int(part)

	if psot != 0 && psot < 14 {
		if psot != 12 {
			return fmt.Errorf("%w: Psot value is not correct regards to the JPEG2000 norm: %d", ErrFormat, psot)
		}
		d.log.Warn("empty SOT marker detected", "psot", psot, "tile", tile)
	}
	if psot == 0 {
		d.log.Debug("Psot of the current tile-part is zero, assuming it is the last tile-part of the codestream", "tile", tile)
		d.lastTilePart = true
	}
	if tcp.NumTileParts != 0 && part >= tcp.NumTileParts {
		d.lastTilePart = true
		return fmt.Errorf("%w: in SOT marker, TPSot (%d) is not valid regards to the current number of tile-part (%d)",
			ErrFormat, part, tcp.NumTileParts)
	}
	if numParts != 0 {
		if part >= numParts {
			return fmt.Errorf("%w: in SOT marker, TPSot (%d) is not valid regards to the current number of tile-part (header) (%d)",
				ErrFormat, part, numParts)
		}
		tcp.NumTileParts = numParts
	}
	if tcp.NumTileParts != 0 && tcp.NumTileParts == part+1 {
		d.canDecode = true
	}
	if d.lastTilePart {
		d.sotLength = 0
	} else {
		d.sotLength = int64(psot) - sotSize
	}
	d.st = stateTPH

	d.index.Tiles[tile].setPart(part, numParts)
	if cp.ppm {
		chunk := d.takePPMChunk(d.mark)
		if !d.skipData {
			tcp.packedHeaders = append(tcp.packedHeaders, chunk...)
		}
	}
	return nil
}

// readSOD reads the tile-part payload following a SOD marker into the
// tile buffer
func (d *Decoder) readSOD() error {
	if d.lastTilePart {
		d.sotLength = d.s.BytesLeft() - 2
	} else if d.sotLength >= 2 {
		d.sotLength -= 2
	}
	if d.sotLength < 0 || d.sotLength > d.s.BytesLeft() {
		return fmt.Errorf("%w: tile part length size inconsistent with stream length", ErrFormat)
	}
	pos := d.s.Tell() - 2
	d.index.addTileMarker(d.currentTile, MarkerSOD, pos, d.sotLength+2)
	if d.sotLength == 0 {
		d.st = stateTPHSOT
		return nil
	}
	tcp := &d.cp.Tiles[d.currentTile]
	start := len(tcp.data)
	tcp.data = append(tcp.data, make([]byte, d.sotLength)...)
	n, err := io.ReadFull(d.s, tcp.data[start:])
	tcp.data = tcp.data[:start+n]
	switch {
	case err == nil:
		d.st = stateTPHSOT
	case isEOF(err):
		d.st = stateNEOC
	default:
		return fmt.Errorf("read tile-part data: %w", err)
	}
	return nil
}

// appendSOT writes a SOT segment with a zero Psot; patchPsot fills it once
// the tile-part is complete
func appendSOT(dst []byte, tile, part, numParts uint32) []byte {
	dst = appendMarker(dst, MarkerSOT, sotSize-2)
	dst = appendUint(dst, tile, 2)
	dst = appendUint(dst, 0, 4)
	return append(dst, byte(part), byte(numParts))
}

// patchPsot stores the tile-part length into the SOT starting at buf[0]
func patchPsot(buf []byte, psot uint32) {
	binary.BigEndian.PutUint32(buf[6:], psot)
}
