package jpeg2k

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex_AddMarker(t *testing.T) {
	var list []MarkerInfo
	for _, m := range []MarkerInfo{
		{Type: MarkerSOT, Pos: 10, Len: 12},
		{Type: MarkerPLT, Pos: 22, Len: 8},
		{Type: MarkerSOD, Pos: 30, Len: 100},
		{Type: MarkerPLT, Pos: 22, Len: 8},  // re-read
		{Type: MarkerSOT, Pos: 10, Len: 12}, // re-read
		{Type: MarkerCOM, Pos: 5, Len: 9},   // found late
		{Type: MarkerUNK, Pos: 22, Len: 3},  // same position, other type
		{Type: MarkerSOD, Pos: 30, Len: 100},
	} {
		list = addMarker(list, m.Type, m.Pos, m.Len)
	}
	assert.Equal(t, []MarkerInfo{
		{Type: MarkerCOM, Pos: 5, Len: 9},
		{Type: MarkerSOT, Pos: 10, Len: 12},
		{Type: MarkerPLT, Pos: 22, Len: 8},
		{Type: MarkerUNK, Pos: 22, Len: 3},
		{Type: MarkerSOD, Pos: 30, Len: 100},
	}, list)
}

func TestIndex_RandomAccessKeepsMarkers(t *testing.T) {
	p := tiled(3, 16, 16)
	p.WritePLT = true
	e, data := encode(t, gray8(32, 32), p)

	d, img := openHeader(t, data, nil)
	for _, k := range []uint32{3, 0, 3, 1, 0} {
		assert.NoError(t, d.GetTile(img, k), "tile %d", k)
	}
	for k, ti := range e.Index().Tiles[:2] {
		assert.Equal(t, ti.Markers, d.Index().Tiles[k].Markers, "tile %d", k)
	}
	assert.Equal(t, e.Index().Tiles[3].Markers, d.Index().Tiles[3].Markers)
}
