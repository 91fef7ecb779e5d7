package jpeg2k

import (
	"cmp"
	"slices"
)

// MarkerInfo locates one marker segment in the codestream
type MarkerInfo struct {
	Type Marker `json:"type"`
	Pos  int64  `json:"pos"`
	Len  int64  `json:"len"`
}

// TilePartInfo locates one tile-part
type TilePartInfo struct {
	Start     int64 `json:"start"`
	EndHeader int64 `json:"end_header"`
	End       int64 `json:"end"`
}

// TileIndex records the tile-parts and markers of one tile
type TileIndex struct {
	Tile        uint32         `json:"tile"`
	NumParts    uint32         `json:"num_parts"`
	CurrentPart uint32         `json:"current_part"`
	Parts       []TilePartInfo `json:"parts"`
	Markers     []MarkerInfo   `json:"markers,omitempty"`
}

// Index is the codestream index built while reading (or writing)
type Index struct {
	MainHeadStart int64        `json:"main_head_start"`
	MainHeadEnd   int64        `json:"main_head_end"`
	Markers       []MarkerInfo `json:"markers"`
	Tiles         []TileIndex  `json:"tiles"`
}

func newIndex(numTiles uint32) Index {
	idx := Index{Tiles: make([]TileIndex, numTiles)}
	for i := range idx.Tiles {
		idx.Tiles[i].Tile = uint32(i)
	}
	return idx
}

// addMarker inserts a marker into list, kept in stream order, unless one of
// the same type is already recorded at pos
func addMarker(list []MarkerInfo, m Marker, pos, n int64) []MarkerInfo {
	if k := len(list); k == 0 || list[k-1].Pos < pos {
		return append(list, MarkerInfo{Type: m, Pos: pos, Len: n})
	}
	i, found := slices.BinarySearchFunc(list, pos, func(e MarkerInfo, p int64) int { return cmp.Compare(e.Pos, p) })
	for ; found && i < len(list) && list[i].Pos == pos; i++ {
		if list[i].Type == m {
			return list
		}
	}
	return slices.Insert(list, i, MarkerInfo{Type: m, Pos: pos, Len: n})
}

// addMainMarker records a main header marker
func (x *Index) addMainMarker(m Marker, pos, n int64) {
	x.Markers = addMarker(x.Markers, m, pos, n)
}

// addTileMarker records a tile-part marker; a SOT also starts the current
// tile-part and a SOD ends its header
func (x *Index) addTileMarker(tile uint32, m Marker, pos, n int64) {
	if int(tile) >= len(x.Tiles) {
		return
	}
	ti := &x.Tiles[tile]
	switch m {
	case MarkerSOT:
		ti.part().Start = pos
	case MarkerSOD:
		p := ti.part()
		p.EndHeader = pos
		p.End = pos + n
	}
	ti.Markers = addMarker(ti.Markers, m, pos, n)
}

// setPart selects the current tile-part, growing the table as needed
func (ti *TileIndex) setPart(part, declared uint32) {
	ti.CurrentPart = part
	if declared != 0 {
		ti.NumParts = declared
	}
	if need := int(max(part+1, ti.NumParts)); len(ti.Parts) < need {
		ti.Parts = slices.Grow(ti.Parts, need-len(ti.Parts))[:need]
	}
	if declared == 0 {
		ti.NumParts = max(ti.NumParts, part+1)
	}
}

func (ti *TileIndex) part() *TilePartInfo {
	if int(ti.CurrentPart) >= len(ti.Parts) {
		ti.setPart(ti.CurrentPart, 0)
	}
	return &ti.Parts[ti.CurrentPart]
}

// indexed reports whether the first tile-part position of tile is known
func (x *Index) indexed(tile uint32) bool {
	return int(tile) < len(x.Tiles) && len(x.Tiles[tile].Parts) > 0 && x.Tiles[tile].Parts[0].Start != 0
}
