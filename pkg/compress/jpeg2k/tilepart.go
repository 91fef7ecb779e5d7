package jpeg2k

import (
	"fmt"
)

// progressionExtents are the loop bounds of one progression stage
type progressionExtents struct {
	comps, res, layers, precincts uint32
}

// stageExtents returns the bounds of stage pino of tile t. Without POC the
// stage covers the whole tile.
func stageExtents(tcp *TileParams, t *Tile, pino int) progressionExtents {
	if !tcp.hasPOC() {
		return progressionExtents{
			comps:     uint32(len(t.Comps)),
			res:       t.maxResolutions(),
			layers:    tcp.NumLayers,
			precincts: t.maxPrecincts(),
		}
	}
	p := tcp.POCs[pino]
	return progressionExtents{
		comps:     p.CompEnd,
		res:       p.ResEnd,
		layers:    p.LayerEnd,
		precincts: t.maxPrecincts(),
	}
}

// numTileParts returns the tile-parts stage pino of tile t is split into:
// the product of the stage extents in progression order up to and
// including the tile-part policy character
func numTileParts(cp *CodingParams, tcp *TileParams, t *Tile, pino int) uint32 {
	if !cp.tpOn {
		return 1
	}
	ext := stageExtents(tcp, t, pino)
	n := uint32(1)
	for _, c := range []byte(tcp.Order.String()) {
		switch c {
		case 'C':
			n *= ext.comps
		case 'R':
			n *= ext.res
		case 'P':
			n *= ext.precincts
		case 'L':
			n *= ext.layers
		}
		if c == cp.tpFlag {
			break
		}
	}
	return n
}

// calculateTP sets the tile-part count of every tile and returns the total
func calculateTP(cp *CodingParams, img *Image) (uint32, error) {
	var total uint32
	for i := range cp.Tiles {
		tcp := &cp.Tiles[i]
		t, err := newTile(cp, img, uint32(i), 0)
		if err != nil {
			return 0, err
		}
		var parts uint32
		for pino := range tcp.numProgressions() {
			parts += numTileParts(cp, tcp, t, pino)
		}
		if parts == 0 || parts > maxTileParts {
			return 0, fmt.Errorf("%w: tile %d needs %d tile-parts, TNsot allows 1 to %d", ErrParameter, i, parts, maxTileParts)
		}
		tcp.NumTileParts = parts
		total += parts
	}
	return total, nil
}
