package jpeg2k

import (
	"math"

	"github.com/samber/lo"
)

// rateToBytes converts a compression ratio into a byte budget for the
// samples of one tile
func rateToBytes(rate float32, sizePixel, area uint64, bitsEmpty uint32) float32 {
	return float32(float64(sizePixel*area) / (float64(rate) * float64(bitsEmpty)))
}

// tpStride is the header bytes every extra tile-part costs a layer
func tpStride(cp *CodingParams, tcp *TileParams) float32 {
	if !cp.tpOn || tcp.NumTileParts == 0 {
		return 0
	}
	return float32((tcp.NumTileParts - 1) * 14)
}

// updateRates turns the per-layer compression ratios of every tile into
// byte budgets. headerSize is the size of the main header already written;
// it is charged evenly to every tile. Later layers are kept at least 10
// bytes above their predecessor, the first at 30 bytes or more.
func updateRates(cp *CodingParams, img *Image, headerSize int64) {
	if len(img.Comps) == 0 {
		return
	}
	c0 := &img.Comps[0]
	bitsEmpty := 8 * c0.DX * c0.DY
	sizePixel := uint64(len(img.Comps)) * uint64(c0.Prec)
	sotRemove := float32(headerSize) / float32(cp.numTiles())

	for i := range cp.Tiles {
		tcp := &cp.Tiles[i]
		if tcp.NumLayers == 0 {
			continue
		}
		p, q := uint32(i)%cp.TW, uint32(i)/cp.TW
		x0 := max(uint64(cp.TX0)+uint64(p)*uint64(cp.TDX), uint64(img.X0))
		y0 := max(uint64(cp.TY0)+uint64(q)*uint64(cp.TDY), uint64(img.Y0))
		x1 := min(uint64(cp.TX0)+uint64(p+1)*uint64(cp.TDX), uint64(img.X1))
		y1 := min(uint64(cp.TY0)+uint64(q+1)*uint64(cp.TDY), uint64(img.Y1))
		area := (x1 - x0) * (y1 - y0)
		offset := tpStride(cp, tcp) / float32(tcp.NumLayers)
		for k, r := range tcp.Rates {
			if r <= 0 {
				continue
			}
			tcp.Rates[k] = rateToBytes(r, sizePixel, area, bitsEmpty) - offset
			if cp.maxCSSize > 0 {
				tcp.Rates[k] = min(tcp.Rates[k], float32(cp.maxCSSize))
			}
		}
	}

	for i := range cp.Tiles {
		rates := cp.Tiles[i].Rates
		if len(rates) == 0 {
			continue
		}
		if rates[0] > 0 {
			rates[0] -= sotRemove
			if rates[0] < 30 {
				rates[0] = 30
			}
		}
		last := len(rates) - 1
		for k := 1; k < last; k++ {
			if rates[k] > 0 {
				rates[k] -= sotRemove
				if rates[k] < rates[k-1]+10 {
					rates[k] = rates[k-1] + 20
				}
			}
		}
		if last > 0 && rates[last] > 0 {
			rates[last] -= sotRemove + 2
			if rates[last] < rates[last-1]+10 {
				rates[last] = rates[last-1] + 20
			}
		}
	}
}

// rateForMaxSize is the compression ratio at which img fits in size bytes
func rateForMaxSize(img *Image, size uint32) float32 {
	c0 := &img.Comps[0]
	bits := float64(len(img.Comps)) * float64(c0.W) * float64(c0.H) * float64(c0.Prec)
	return float32(bits / (float64(size) * 8 * float64(c0.DX) * float64(c0.DY)))
}

// maxSizeForRate is the codestream size the ratio rate gives for img
func maxSizeForRate(img *Image, rate float32) uint32 {
	c0 := &img.Comps[0]
	bits := float64(len(img.Comps)) * float64(c0.W) * float64(c0.H) * float64(c0.Prec)
	return uint32(math.Floor(bits / (float64(rate) * 8 * float64(c0.DX) * float64(c0.DY))))
}

// stagingSize is the byte budget of the buffer a tile is encoded into: 1.3
// times the raw samples plus room for the tile-part headers
func stagingSize(cp *CodingParams, img *Image) int {
	var bits uint64
	for _, c := range img.Comps {
		bits += uint64(ceilDiv(cp.TDX, c.DX)) * uint64(ceilDiv(cp.TDY, c.DY)) * uint64(c.Prec)
	}
	return int(float64(bits)*0.1625) + tileHeaderRoom(cp, img)
}

// tileHeaderRoom bounds the tile-part headers written for any tile
func tileHeaderRoom(cp *CodingParams, img *Image) int {
	maxParts := lo.MaxBy(cp.Tiles, func(a, b TileParams) bool { return a.NumTileParts > b.NumTileParts }).NumTileParts
	perPart := sotSize + sodSize
	if cp.pltOn {
		perPart += pltRoom
	}
	n := perPart * int(maxParts)
	if !cp.Rsiz.IsCinema() {
		others := len(img.Comps) - 1
		spcod := 0
		for i := range cp.Tiles {
			for j := range cp.Tiles[i].Comps {
				spcod = max(spcod, spcodSize(&cp.Tiles[i].Comps[j]))
			}
		}
		// QCC room is bounded by the COC room
		n += 2 * others * (6 + spcod)
	}
	maxPOCs := lo.Max(lo.Map(cp.Tiles, func(t TileParams, _ int) int { return max(len(t.POCs)-1, 0) }))
	n += 4 + 9*(maxPOCs+1)
	return n
}
