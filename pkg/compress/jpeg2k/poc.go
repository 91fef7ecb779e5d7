package jpeg2k

import (
	"fmt"
	"log/slog"
	"slices"
)

// readPOC reads the progression order change segment (ITU-T T.800 A.6.6)
func (d *Decoder) readPOC(body []byte) error {
	numComps := d.image.NumComps()
	room := compRoom(numComps)
	chunk := 5 + 2*room
	nb := len(body) / chunk
	if nb == 0 || len(body)%chunk != 0 {
		return fmt.Errorf("%w: error reading POC marker", ErrFormat)
	}
	tcp := d.tcpForState()
	if total := len(tcp.POCs) + nb; total > maxPOCs {
		return fmt.Errorf("%w: too many POCs %d", ErrFormat, total)
	}
	r := newSegmentReader(body)
	for range nb {
		p := ProgressionChange{
			ResStart:  r.u8(),
			CompStart: r.uint(room),
			LayerEnd:  r.u16(),
			ResEnd:    r.u8(),
			CompEnd:   min(r.uint(room), numComps),
			Order:     ProgressionOrder(r.u8()),
		}
		tcp.POCs = append(tcp.POCs, p)
	}
	return nil
}

// pocSize is the size of a POC segment with n entries
func pocSize(n int, numComps uint32) int {
	return 4 + (5+2*compRoom(numComps))*n
}

// appendPOC writes every POC of tcp, then clamps the in-memory ends to the
// layers, resolutions and components the tile actually has
func appendPOC(dst []byte, tcp *TileParams, numComps uint32) []byte {
	room := compRoom(numComps)
	dst = appendMarker(dst, MarkerPOC, pocSize(len(tcp.POCs), numComps)-2)
	numRes := tcp.Comps[0].NumResolutions
	for i := range tcp.POCs {
		p := &tcp.POCs[i]
		dst = append(dst, byte(p.ResStart))
		dst = appendUint(dst, p.CompStart, room)
		dst = appendUint(dst, p.LayerEnd, 2)
		dst = append(dst, byte(p.ResEnd))
		dst = appendUint(dst, p.CompEnd, room)
		dst = append(dst, byte(p.Order))
		p.LayerEnd = min(p.LayerEnd, tcp.NumLayers)
		p.ResEnd = min(p.ResEnd, numRes)
		p.CompEnd = min(p.CompEnd, numComps)
	}
	return dst
}

// checkPOCCoverage reports whether the union of the POC ranges reaches
// every (layer, resolution, component) packet; each entry spans layers 0 up
// to its LayerEnd. The grid is cut at the range bounds so its size follows
// the number of entries, not the header dimensions. Gaps are logged.
func checkPOCCoverage(log *slog.Logger, pocs []ProgressionChange, numRes, numComps, numLayers uint32) bool {
	if len(pocs) == 0 || numRes == 0 || numComps == 0 || numLayers == 0 {
		return true
	}
	resCuts := []uint32{0, numRes}
	compCuts := []uint32{0, numComps}
	layerCuts := []uint32{0, numLayers}
	for _, p := range pocs {
		resCuts = append(resCuts, min(p.ResStart, numRes), min(p.ResEnd, numRes))
		compCuts = append(compCuts, min(p.CompStart, numComps), min(p.CompEnd, numComps))
		layerCuts = append(layerCuts, min(p.LayerEnd, numLayers))
	}
	resCuts, compCuts, layerCuts = sortedCuts(resCuts), sortedCuts(compCuts), sortedCuts(layerCuts)

	nr, nc := len(resCuts)-1, len(compCuts)-1
	seen := make([]bool, nr*nc*(len(layerCuts)-1))
	for _, p := range pocs {
		r0, r1 := cutSpan(resCuts, p.ResStart, p.ResEnd, numRes)
		c0, c1 := cutSpan(compCuts, p.CompStart, p.CompEnd, numComps)
		_, l1 := cutSpan(layerCuts, 0, p.LayerEnd, numLayers)
		for l := range l1 {
			for r := r0; r < r1; r++ {
				for c := c0; c < c1; c++ {
					seen[(l*nr+r)*nc+c] = true
				}
			}
		}
	}
	if slices.Contains(seen, false) {
		log.Warn("missing packets, possible loss of data",
			"pocs", len(pocs), "resolutions", numRes, "components", numComps, "layers", numLayers)
		return false
	}
	return true
}

func sortedCuts(v []uint32) []uint32 {
	slices.Sort(v)
	return slices.Compact(v)
}

// cutSpan maps [start, end) clamped to limit onto the cells of cuts
func cutSpan(cuts []uint32, start, end, limit uint32) (int, int) {
	start, end = min(start, limit), min(end, limit)
	if start >= end {
		return 0, 0
	}
	i, _ := slices.BinarySearch(cuts, start)
	j, _ := slices.BinarySearch(cuts, end)
	return i, j
}
