package jpeg2k

import (
	"slices"

	"github.com/samber/lo"
)

// StepSize is the quantization step of one subband
type StepSize struct {
	Exponent int32 `json:"expn"`
	Mantissa int32 `json:"mant"`
}

// TileCompParams holds the coding parameters of one tile-component (TCCP)
type TileCompParams struct {
	CodingStyle     byte                   `json:"csty"`
	NumResolutions  uint32                 `json:"numres"`
	CodeBlockWidth  uint32                 `json:"cblkw"` // exponent
	CodeBlockHeight uint32                 `json:"cblkh"` // exponent
	CodeBlockStyle  byte                   `json:"cblksty"`
	Transform       TransformType          `json:"qmfbid"`
	QuantStyle      QuantizationStyle      `json:"qntsty"`
	GuardBits       uint32                 `json:"numgbits"`
	StepSizes       [maxBands]StepSize     `json:"-"`
	ROIShift        uint32                 `json:"roishift"`
	PrecinctWidth   [maxResolutions]uint32 `json:"-"` // exponents
	PrecinctHeight  [maxResolutions]uint32 `json:"-"`
	DCLevelShift    int32                  `json:"dc_shift"`
}

// numBands returns the subbands carried by the quantization segment
func (c *TileCompParams) numBands() int {
	if c.QuantStyle == QuantizationScalarDerived {
		return 1
	}
	return int(3*c.NumResolutions - 2)
}

// sameCoding reports whether COC for c would repeat the COD of o
func (c *TileCompParams) sameCoding(o *TileCompParams) bool {
	if c.CodingStyle != o.CodingStyle || c.NumResolutions != o.NumResolutions ||
		c.CodeBlockWidth != o.CodeBlockWidth || c.CodeBlockHeight != o.CodeBlockHeight ||
		c.CodeBlockStyle != o.CodeBlockStyle || c.Transform != o.Transform {
		return false
	}
	n := c.NumResolutions
	return slices.Equal(c.PrecinctWidth[:n], o.PrecinctWidth[:n]) &&
		slices.Equal(c.PrecinctHeight[:n], o.PrecinctHeight[:n])
}

// sameQuant reports whether QCC for c would repeat the QCD of o
func (c *TileCompParams) sameQuant(o *TileCompParams) bool {
	if c.QuantStyle != o.QuantStyle || c.GuardBits != o.GuardBits || c.NumResolutions != o.NumResolutions {
		return false
	}
	n := c.numBands()
	return slices.Equal(c.StepSizes[:n], o.StepSizes[:n])
}

// ProgressionChange is one POC entry
type ProgressionChange struct {
	ResStart  uint32           `json:"resno0"`
	CompStart uint32           `json:"compno0"`
	LayerEnd  uint32           `json:"layno1"`
	ResEnd    uint32           `json:"resno1"`
	CompEnd   uint32           `json:"compno1"`
	Order     ProgressionOrder `json:"prg"`
	// Tile is the 1-based tile an encoder POC applies to
	Tile uint32 `json:"tile,omitempty"`
}

// MCTRecord is one MCT array
type MCTRecord struct {
	Index       uint32         `json:"index"`
	ArrayType   MCTArrayType   `json:"array_type"`
	ElementType MCTElementType `json:"element_type"`
	Data        []byte         `json:"-"`
}

// MCCRecord binds MCT arrays to a component collection. Decorrelation and
// Offset are positions in the owning TileParams.MCTRecords, -1 for none.
type MCCRecord struct {
	Index         uint32 `json:"index"`
	NumComps      uint32 `json:"numcomps"`
	Irreversible  bool   `json:"irreversible"`
	Decorrelation int    `json:"decorrelation"`
	Offset        int    `json:"offset"`
}

// TileParams holds the coding parameters of one tile (TCP)
type TileParams struct {
	CodingStyle    byte                `json:"csty"`
	Order          ProgressionOrder    `json:"prg"`
	NumLayers      uint32              `json:"numlayers"`
	LayersToDecode uint32              `json:"layers_to_decode"`
	MCT            uint32              `json:"mct"`
	Rates          []float32           `json:"rates,omitempty"`
	Distortion     []float32           `json:"distoratio,omitempty"`
	POCs           []ProgressionChange `json:"pocs,omitempty"`
	MCTRecords     []MCTRecord         `json:"mct_records,omitempty"`
	MCCRecords     []MCCRecord         `json:"mcc_records,omitempty"`
	CodingMatrix   []float32           `json:"-"`
	DecodingMatrix []float32           `json:"-"`
	MCTNorms       []float64           `json:"-"`
	Comps          []TileCompParams    `json:"comps"`
	// NumTileParts is the declared (or computed) tile-part count, 0 when unknown
	NumTileParts uint32 `json:"tile_parts"`

	currentPart   int // last tile-part index read, -1 before the first
	codSeen       bool
	pptSegments   map[byte][]byte
	packedHeaders []byte
	data          []byte
}

func newTileParams(numComps uint32) *TileParams {
	return &TileParams{Comps: make([]TileCompParams, numComps), currentPart: -1}
}

// clone deep-copies t into a tile TCP
func (t *TileParams) clone() TileParams {
	c := *t
	c.Rates = slices.Clone(t.Rates)
	c.Distortion = slices.Clone(t.Distortion)
	c.POCs = slices.Clone(t.POCs)
	c.MCTRecords = lo.Map(t.MCTRecords, func(r MCTRecord, _ int) MCTRecord {
		r.Data = slices.Clone(r.Data)
		return r
	})
	c.MCCRecords = slices.Clone(t.MCCRecords)
	c.CodingMatrix = slices.Clone(t.CodingMatrix)
	c.DecodingMatrix = slices.Clone(t.DecodingMatrix)
	c.MCTNorms = slices.Clone(t.MCTNorms)
	c.Comps = slices.Clone(t.Comps)
	c.currentPart = -1
	c.codSeen = false
	c.pptSegments = nil
	c.packedHeaders = nil
	c.data = nil
	return c
}

// hasPOC reports whether POC entries apply to the tile
func (t *TileParams) hasPOC() bool {
	return len(t.POCs) > 0
}

// numProgressions is the number of progression stages (numpocs+1)
func (t *TileParams) numProgressions() int {
	return max(len(t.POCs), 1)
}

// findMCT returns the position of the MCT record with the given index
func (t *TileParams) findMCT(index uint32) int {
	_, i, ok := lo.FindIndexOf(t.MCTRecords, func(r MCTRecord) bool { return r.Index == index })
	if !ok {
		return -1
	}
	return i
}

// findMCC returns the position of the MCC record with the given index
func (t *TileParams) findMCC(index uint32) int {
	_, i, ok := lo.FindIndexOf(t.MCCRecords, func(r MCCRecord) bool { return r.Index == index })
	if !ok {
		return -1
	}
	return i
}

// Comment is one COM segment
type Comment struct {
	Registration uint16 `json:"rcom"`
	Text         string `json:"text,omitempty"`
	Data         []byte `json:"data,omitempty"`
}

// TLMEntry is one tile-part length; Tile is -1 when Ttlm is absent
type TLMEntry struct {
	Tile   int    `json:"tile"`
	Length uint32 `json:"length"`
}

// CodingParams holds the codestream-wide parameters (CP)
type CodingParams struct {
	Rsiz     Profile      `json:"rsiz"`
	TX0      uint32       `json:"tx0"`
	TY0      uint32       `json:"ty0"`
	TDX      uint32       `json:"tdx"`
	TDY      uint32       `json:"tdy"`
	TW       uint32       `json:"tw"`
	TH       uint32       `json:"th"`
	Comments []Comment    `json:"comments,omitempty"`
	TLM      []TLMEntry   `json:"tlm,omitempty"`
	Tiles    []TileParams `json:"-"`

	// decoder
	reduce      uint32
	layer       uint32
	ppm         bool
	ppmSegments map[byte][]byte
	ppmChunks   [][]byte
	ppmNext     int
	ppmByPos    map[int64]int

	// encoder
	maxCompSize  uint32
	maxCSSize    uint32
	distoAlloc   bool
	fixedQuality bool
	tpOn         bool
	pltOn        bool
	tpFlag       byte
}

// numTiles returns tw*th
func (cp *CodingParams) numTiles() uint32 {
	return cp.TW * cp.TH
}
