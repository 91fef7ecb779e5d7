package jpeg2k

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/jpfielding/j2k.go/pkg/util"
)

// EncodeParams configures an Encoder
type EncodeParams struct {
	// TileSizeOn enables tiling with TDX x TDY tiles anchored at TX0, TY0;
	// otherwise the image is a single tile
	TileSizeOn bool
	TX0, TY0   uint32
	TDX, TDY   uint32

	NumResolutions  uint32
	CodeBlockWidth  uint32 // samples, a power of two
	CodeBlockHeight uint32
	Mode            byte // code-block style flags
	Irreversible    bool
	Order           ProgressionOrder
	CodingStyle     byte
	// PrecinctWidths and PrecinctHeights list precinct sizes from the
	// highest resolution down; lower levels halve the last size given
	PrecinctWidths  []uint32
	PrecinctHeights []uint32

	NumLayers uint32
	// Rates holds one compression ratio per layer, 0 for lossless
	Rates        []float32
	Distortion   []float32
	FixedQuality bool
	DistoAlloc   bool

	ROIComponent int // -1 for none
	ROIShift     uint32

	POCs []ProgressionChange
	// TileParts splits tiles into tile-parts after the progression
	// character TilePartFlag ('R', 'L', 'C' or 'P')
	TileParts    bool
	TilePartFlag byte

	MCT uint32
	// MCTMatrix is a numcomps x numcomps forward transform, row-major.
	// Setting it selects the array based transform.
	MCTMatrix  []float32
	MCTOffsets []int32

	Rsiz        Profile
	MaxCSSize   uint32 // codestream bytes, 0 for no cap
	MaxCompSize uint32 // bytes per component, 0 for no cap

	Comment      string
	WriteTLM     bool
	// WritePLT adds a PLT segment to every tile-part header giving the
	// length of its payload as one packet
	WritePLT     bool
	Registration [][2]uint16 // CRG offsets, one per component

	Logger *slog.Logger
}

// DefaultEncodeParams returns lossless single layer settings
func DefaultEncodeParams() *EncodeParams {
	return &EncodeParams{
		NumResolutions:  6,
		CodeBlockWidth:  64,
		CodeBlockHeight: 64,
		Order:           ProgressionLRCP,
		ROIComponent:    -1,
		Comment:         "Created by j2k.go",
	}
}

// Encoder writes a JPEG 2000 codestream. Call Setup, StartCompress, then
// Encode (or WriteTile for every tile in order) and EndCompress. It runs on
// a single goroutine.
type Encoder struct {
	s     stream.Stream
	coder TileCoder
	log   *slog.Logger

	cp    CodingParams
	image *Image
	index Index

	comment      []byte
	registration [][2]uint16
	writeTLM     bool
	totalParts   uint32
	tlmStart     int64
	tlm          []byte
	staging      []byte
	currentTile  uint32

	configured, started, ended bool
}

// NewEncoder returns an encoder writing s; a nil coder selects RawCoder
func NewEncoder(s stream.Stream, coder TileCoder) *Encoder {
	if coder == nil {
		coder = RawCoder{}
	}
	return &Encoder{
		s:     s,
		coder: coder,
		log:   slog.Default().With("codec", "j2k", "session", util.SessionID()),
	}
}

// CodingParams returns the parameters Setup derived
func (e *Encoder) CodingParams() *CodingParams { return &e.cp }

// Index returns the index of what was written so far
func (e *Encoder) Index() *Index { return &e.index }

// Setup derives the coding parameters of img. params is not modified. img
// is referenced until EndCompress.
func (e *Encoder) Setup(img *Image, params *EncodeParams) error {
	if e.configured {
		return fmt.Errorf("%w: encoder already set up", ErrState)
	}
	if params == nil {
		params = DefaultEncodeParams()
	}
	if params.Logger != nil {
		e.log = params.Logger.With("codec", "j2k", "session", util.SessionID())
	}
	if err := validateImage(img); err != nil {
		return err
	}
	p := cloneParams(params)
	if p.NumResolutions == 0 || p.NumResolutions > maxResolutions {
		return fmt.Errorf("%w: invalid number of resolutions: %d not in range [1,%d]", ErrParameter, p.NumResolutions, maxResolutions)
	}
	if p.NumLayers == 0 {
		p.NumLayers = 1
		p.DistoAlloc = true
		p.Rates = []float32{0}
	}
	p.Rates = padFloats(p.Rates, p.NumLayers)
	p.Distortion = padFloats(p.Distortion, p.NumLayers)

	e.limitRates(&p, img)
	if p.MCTMatrix != nil {
		p.Rsiz |= profilePart2MCT
	}
	e.checkProfile(&p, img)

	cp := &e.cp
	cp.Rsiz = p.Rsiz
	cp.maxCompSize = p.MaxCompSize
	cp.maxCSSize = p.MaxCSSize
	cp.distoAlloc = p.DistoAlloc
	cp.fixedQuality = p.FixedQuality
	cp.TX0, cp.TY0 = p.TX0, p.TY0
	cp.TW, cp.TH = 1, 1
	if p.TileSizeOn {
		if p.TDX == 0 || p.TDY == 0 {
			return fmt.Errorf("%w: tile size %dx%d", ErrParameter, p.TDX, p.TDY)
		}
		if p.TX0 > img.X0 || p.TY0 > img.Y0 || uint64(p.TX0)+uint64(p.TDX) <= uint64(img.X0) || uint64(p.TY0)+uint64(p.TDY) <= uint64(img.Y0) {
			return fmt.Errorf("%w: tile origin (%d,%d) does not cover the image origin (%d,%d)", ErrParameter, p.TX0, p.TY0, img.X0, img.Y0)
		}
		cp.TDX, cp.TDY = p.TDX, p.TDY
		cp.TW = ceilDiv(img.X1-p.TX0, p.TDX)
		cp.TH = ceilDiv(img.Y1-p.TY0, p.TDY)
	} else {
		if p.TX0 > img.X0 || p.TY0 > img.Y0 {
			return fmt.Errorf("%w: tile origin (%d,%d) is past the image origin (%d,%d)", ErrParameter, p.TX0, p.TY0, img.X0, img.Y0)
		}
		cp.TDX = img.X1 - p.TX0
		cp.TDY = img.Y1 - p.TY0
	}
	if uint64(cp.TW)*uint64(cp.TH) > maxTiles {
		return fmt.Errorf("%w: %d x %d tiles exceed %d", ErrParameter, cp.TW, cp.TH, maxTiles)
	}
	if p.TileParts {
		cp.tpOn = true
		cp.tpFlag = p.TilePartFlag
	}
	if p.Comment != "" {
		text, err := latin1(p.Comment)
		if err != nil {
			return fmt.Errorf("%w: comment: %v", ErrParameter, err)
		}
		e.comment = text
	}
	if p.Registration != nil && len(p.Registration) != len(img.Comps) {
		return fmt.Errorf("%w: %d registration offsets for %d components", ErrParameter, len(p.Registration), len(img.Comps))
	}
	e.registration = p.Registration
	e.writeTLM = p.WriteTLM || cp.Rsiz.IsCinema()
	cp.pltOn = p.WritePLT

	cp.Tiles = make([]TileParams, cp.numTiles())
	for i := range cp.Tiles {
		if err := e.setupTile(&cp.Tiles[i], uint32(i), &p, img); err != nil {
			return fmt.Errorf("tile %d: %w", i, err)
		}
	}
	e.image = img
	e.configured = true
	return nil
}

func validateImage(img *Image) error {
	if img == nil || len(img.Comps) == 0 {
		return fmt.Errorf("%w: no image components", ErrParameter)
	}
	if len(img.Comps) > maxComponents {
		return fmt.Errorf("%w: %d components exceed %d", ErrParameter, len(img.Comps), maxComponents)
	}
	if img.X0 >= img.X1 || img.Y0 >= img.Y1 {
		return fmt.Errorf("%w: empty image area (%d,%d)-(%d,%d)", ErrParameter, img.X0, img.Y0, img.X1, img.Y1)
	}
	for i, c := range img.Comps {
		if c.DX == 0 || c.DX > 255 || c.DY == 0 || c.DY > 255 {
			return fmt.Errorf("%w: component %d subsampling %dx%d", ErrParameter, i, c.DX, c.DY)
		}
		if c.Prec == 0 || c.Prec > maxPrecision {
			return fmt.Errorf("%w: component %d precision %d", ErrParameter, i, c.Prec)
		}
	}
	return nil
}

func cloneParams(p *EncodeParams) EncodeParams {
	c := *p
	c.PrecinctWidths = slices.Clone(p.PrecinctWidths)
	c.PrecinctHeights = slices.Clone(p.PrecinctHeights)
	c.Rates = slices.Clone(p.Rates)
	c.Distortion = slices.Clone(p.Distortion)
	c.POCs = slices.Clone(p.POCs)
	c.MCTMatrix = slices.Clone(p.MCTMatrix)
	c.MCTOffsets = slices.Clone(p.MCTOffsets)
	c.Registration = slices.Clone(p.Registration)
	return c
}

func padFloats(v []float32, n uint32) []float32 {
	if uint32(len(v)) >= n {
		return v[:n]
	}
	return append(v, make([]float32, int(n)-len(v))...)
}

// limitRates reconciles the layer rates with the codestream size cap
func (e *Encoder) limitRates(p *EncodeParams, img *Image) {
	if p.MaxCSSize == 0 {
		if last := p.Rates[p.NumLayers-1]; last > 0 {
			p.MaxCSSize = maxSizeForRate(img, last)
		}
		return
	}
	floor := rateForMaxSize(img, p.MaxCSSize)
	capped := false
	for i := range p.Rates {
		if p.Rates[i] < floor {
			p.Rates[i] = floor
			capped = true
		}
	}
	if capped {
		e.log.Warn("the desired maximum codestream size has limited at least one of the desired quality layers", "max_cs_size", p.MaxCSSize)
	}
}

// checkProfile applies the cinema settings or drops a profile that cannot be
// honoured
func (e *Encoder) checkProfile(p *EncodeParams, img *Image) {
	switch r := p.Rsiz; {
	case r == ProfileCinemaS2K || r == ProfileCinemaS4K:
		e.log.Warn("scalable digital cinema profiles not yet supported, profile set to NONE", "rsiz", r)
		p.Rsiz = ProfileNone
	case r.IsCinema():
		e.setCinemaParameters(p, img)
		if !e.cinemaCompliant(img, p.Rsiz) {
			p.Rsiz = ProfileNone
		}
	case r.IsStorage():
		e.log.Warn("long term storage profile not yet supported, profile set to NONE")
		p.Rsiz = ProfileNone
	case r.IsBroadcast() && !r.IsPart2():
		e.log.Warn("broadcast profiles not yet supported, profile set to NONE", "rsiz", r)
		p.Rsiz = ProfileNone
	case r.IsIMF():
		e.log.Warn("IMF profiles not yet supported, profile set to NONE", "rsiz", r)
		p.Rsiz = ProfileNone
	case r.IsPart2():
		if r == ProfilePart2|ExtensionNone {
			e.log.Warn("Part-2 profile defined but no Part-2 extension enabled, profile set to NONE")
			p.Rsiz = ProfileNone
		} else if r != profilePart2MCT {
			e.log.Warn("unsupported Part-2 extension enabled, profile set to NONE", "rsiz", r)
			p.Rsiz = ProfileNone
		}
	}
}

// setCinemaParameters forces the 2K/4K digital cinema coding settings
func (e *Encoder) setCinemaParameters(p *EncodeParams, img *Image) {
	p.TileSizeOn = false
	p.TDX, p.TDY = 1, 1
	p.TileParts = true
	p.TilePartFlag = 'C'
	p.TX0, p.TY0 = 0, 0
	p.CodeBlockWidth, p.CodeBlockHeight = 32, 32
	p.Mode = 0
	p.ROIComponent = -1
	p.Irreversible = true
	if p.NumLayers > 1 {
		e.log.Warn("digital cinema requires a single quality layer, the rate of the last layer will be used",
			"layers", p.NumLayers, "rate", p.Rates[p.NumLayers-1])
		p.Rates = []float32{p.Rates[p.NumLayers-1]}
		p.Distortion = p.Distortion[:1]
		p.NumLayers = 1
	}
	switch p.Rsiz {
	case ProfileCinema2K:
		if p.NumResolutions > 6 {
			e.log.Warn("2K digital cinema allows at most 5 decomposition levels", "resolutions", p.NumResolutions)
			p.NumResolutions = 6
		}
	case ProfileCinema4K:
		if p.NumResolutions < 2 {
			e.log.Warn("4K digital cinema needs at least 1 decomposition level", "resolutions", p.NumResolutions)
			p.NumResolutions = 2
		} else if p.NumResolutions > 7 {
			e.log.Warn("4K digital cinema allows at most 6 decomposition levels", "resolutions", p.NumResolutions)
			p.NumResolutions = 7
		}
	}
	p.CodingStyle |= CodingStylePrecincts
	levels := int(p.NumResolutions) - 1
	p.PrecinctWidths = slices.Repeat([]uint32{256}, levels)
	p.PrecinctHeights = slices.Repeat([]uint32{256}, levels)
	p.Order = ProgressionCPRL
	p.POCs = nil
	if p.Rsiz == ProfileCinema4K {
		p.POCs = []ProgressionChange{
			{Tile: 1, ResStart: 0, CompStart: 0, LayerEnd: 1, ResEnd: p.NumResolutions - 1, CompEnd: 3, Order: ProgressionCPRL},
			{Tile: 1, ResStart: p.NumResolutions - 1, CompStart: 0, LayerEnd: 1, ResEnd: p.NumResolutions, CompEnd: 3, Order: ProgressionCPRL},
		}
	}
	p.DistoAlloc = true
	switch {
	case p.MaxCSSize == 0:
		e.log.Warn("digital cinema caps a frame at 1302083 bytes at 24 fps, using that limit")
		p.MaxCSSize = Cinema24CS
	case p.MaxCSSize > Cinema24CS:
		e.log.Warn("specified codestream size exceeds the 24 fps cinema limit, forced to 1302083 bytes", "max_cs_size", p.MaxCSSize)
		p.MaxCSSize = Cinema24CS
	}
	switch {
	case p.MaxCompSize == 0:
		e.log.Warn("digital cinema caps a component at 1041666 bytes at 24 fps, using that limit")
		p.MaxCompSize = Cinema24Comp
	case p.MaxCompSize > Cinema24Comp:
		e.log.Warn("specified component size exceeds the 24 fps cinema limit, forced to 1041666 bytes", "max_comp_size", p.MaxCompSize)
		p.MaxCompSize = Cinema24Comp
	}
	p.Rates[0] = rateForMaxSize(img, p.MaxCSSize)
}

// cinemaCompliant checks the image against the cinema profile
func (e *Encoder) cinemaCompliant(img *Image, rsiz Profile) bool {
	if len(img.Comps) != 3 {
		e.log.Warn("digital cinema requires 3 components, a non-cinema codestream will be generated", "components", len(img.Comps))
		return false
	}
	for i, c := range img.Comps {
		if c.Prec != 12 || c.Signed {
			e.log.Warn("digital cinema requires 12 bit unsigned components, a non-cinema codestream will be generated",
				"component", i, "prec", c.Prec, "signed", c.Signed)
			return false
		}
	}
	w, h := img.Comps[0].W, img.Comps[0].H
	switch {
	case rsiz == ProfileCinema2K && (w > 2048 || h > 1080),
		rsiz == ProfileCinema4K && (w > 4096 || h > 2160):
		e.log.Warn("image size exceeds the digital cinema frame, a non-cinema codestream will be generated",
			"rsiz", rsiz, "width", w, "height", h)
		return false
	}
	return true
}

// setupTile fills the TCP of tile index
func (e *Encoder) setupTile(tcp *TileParams, index uint32, p *EncodeParams, img *Image) error {
	numComps := uint32(len(img.Comps))
	*tcp = *newTileParams(numComps)
	tcp.NumLayers = p.NumLayers
	tcp.Rates = make([]float32, p.NumLayers)
	if p.FixedQuality {
		tcp.Distortion = slices.Clone(p.Distortion)
	}
	if !p.FixedQuality || e.cp.Rsiz.IsCinema() {
		copy(tcp.Rates, p.Rates)
	}
	tcp.CodingStyle = p.CodingStyle
	tcp.Order = p.Order
	tcp.MCT = p.MCT
	for _, poc := range p.POCs {
		if poc.Tile == index+1 {
			tcp.POCs = append(tcp.POCs, poc)
		}
	}

	cbw, cbh := floorLog2(p.CodeBlockWidth), floorLog2(p.CodeBlockHeight)
	if p.CodeBlockWidth == 0 || p.CodeBlockHeight == 0 || cbw < 2 || cbw > 10 || cbh < 2 || cbh > 10 || cbw+cbh > 12 {
		return fmt.Errorf("%w: code-block size %dx%d", ErrParameter, p.CodeBlockWidth, p.CodeBlockHeight)
	}
	if len(p.PrecinctWidths) != len(p.PrecinctHeights) {
		return fmt.Errorf("%w: %d precinct widths for %d heights", ErrParameter, len(p.PrecinctWidths), len(p.PrecinctHeights))
	}
	for i := range tcp.Comps {
		c := &tcp.Comps[i]
		c.CodingStyle = p.CodingStyle & CodingStylePrecincts
		c.NumResolutions = p.NumResolutions
		c.CodeBlockWidth, c.CodeBlockHeight = cbw, cbh
		c.CodeBlockStyle = p.Mode
		c.Transform = TransformReversible53
		c.QuantStyle = QuantizationNone
		if p.Irreversible {
			c.Transform = TransformIrreversible97
			c.QuantStyle = QuantizationScalarExpounded
		}
		c.GuardBits = 2
		if i == p.ROIComponent {
			c.ROIShift = p.ROIShift
		}
		setPrecincts(c, p.PrecinctWidths, p.PrecinctHeights)
		calcExplicitStepSizes(c, img.Comps[i].Prec)
	}

	if p.MCTMatrix != nil {
		return e.setupCustomMCT(tcp, p, numComps)
	}
	if tcp.MCT == 1 && numComps >= 3 {
		c := img.Comps
		if c[0].DX != c[1].DX || c[0].DX != c[2].DX || c[0].DY != c[1].DY || c[0].DY != c[2].DY {
			e.log.Warn("cannot perform MCT on components with different sizes, disabling MCT", "tile", index)
			tcp.MCT = 0
		}
	}
	for i := range tcp.Comps {
		if !img.Comps[i].Signed {
			tcp.Comps[i].DCLevelShift = 1 << (img.Comps[i].Prec - 1)
		}
	}
	return nil
}

// setPrecincts converts precinct sizes into per-resolution exponents
func setPrecincts(c *TileCompParams, widths, heights []uint32) {
	if c.CodingStyle&CodingStylePrecincts == 0 || len(widths) == 0 {
		for r := range c.NumResolutions {
			c.PrecinctWidth[r], c.PrecinctHeight[r] = 15, 15
		}
		return
	}
	given := len(widths)
	exp := func(v uint32) uint32 {
		if v < 1 {
			return 1
		}
		return min(floorLog2(v), 15)
	}
	p := 0
	for r := int(c.NumResolutions) - 1; r >= 0; r-- {
		w, h := widths[min(p, given-1)], heights[min(p, given-1)]
		if p >= given {
			shift := uint(p - (given - 1))
			w >>= shift
			h >>= shift
		}
		c.PrecinctWidth[r], c.PrecinctHeight[r] = exp(w), exp(h)
		p++
	}
}

// setupCustomMCT installs the user matrix, its inverse and the DC offsets
func (e *Encoder) setupCustomMCT(tcp *TileParams, p *EncodeParams, numComps uint32) error {
	n := int(numComps)
	inv, err := invertMatrix(p.MCTMatrix, n)
	if err != nil {
		return fmt.Errorf("custom MCT: %w", err)
	}
	if len(p.MCTOffsets) != 0 && len(p.MCTOffsets) != n {
		return fmt.Errorf("%w: %d MCT offsets for %d components", ErrParameter, len(p.MCTOffsets), n)
	}
	tcp.MCT = 2
	tcp.CodingMatrix = slices.Clone(p.MCTMatrix)
	tcp.DecodingMatrix = inv
	tcp.MCTNorms = mctNorms(inv, n)
	for i := range tcp.Comps {
		tcp.Comps[i].DCLevelShift = 0
		if len(p.MCTOffsets) != 0 {
			tcp.Comps[i].DCLevelShift = p.MCTOffsets[i]
		}
	}
	setupMCTEncoding(tcp, numComps)
	return nil
}

// StartCompress validates the parameters and writes the main header
func (e *Encoder) StartCompress() error {
	var p pipeline
	p.add("encoding validation", e.validateEncoding)
	p.add("mct validation", e.validateMCT)
	p.add("init info", e.initInfo)
	p.add("write SOC", e.writeSOC)
	p.add("write SIZ", func() error { return e.writeMain(MarkerSIZ, appendSIZ(nil, &e.cp, e.image)) })
	p.add("write COD", func() error { return e.writeMain(MarkerCOD, appendCOD(nil, &e.cp.Tiles[0])) })
	p.add("write QCD", func() error { return e.writeMain(MarkerQCD, appendQCD(nil, &e.cp.Tiles[0])) })
	p.add("write all COC", e.writeAllCOC)
	p.add("write all QCC", e.writeAllQCC)
	if e.writeTLM {
		p.add("write TLM", e.writeTLMSegment)
	}
	if e.cp.Rsiz == ProfileCinema4K {
		p.add("write POC", func() error {
			return e.writeMain(MarkerPOC, appendPOC(nil, &e.cp.Tiles[0], e.image.NumComps()))
		})
	}
	p.add("write regions", e.writeRegions)
	if e.registration != nil {
		p.add("write CRG", func() error { return e.writeMain(MarkerCRG, appendCRG(nil, e.registration)) })
	}
	if e.comment != nil {
		p.add("write COM", func() error { return e.writeMain(MarkerCOM, appendCOM(nil, e.comment)) })
	}
	if e.cp.Rsiz&profilePart2MCT == profilePart2MCT {
		p.add("write MCT data group", e.writeMCTGroup)
	}
	p.add("end of main header", func() error {
		e.index.MainHeadEnd = e.s.Tell()
		return nil
	})
	p.add("update rates", e.updateRates)
	if err := p.exec(); err != nil {
		return err
	}
	e.started = true
	return nil
}

func (e *Encoder) validateEncoding() error {
	switch {
	case !e.configured:
		return fmt.Errorf("%w: Setup has not run", ErrState)
	case e.started:
		return fmt.Errorf("%w: compression already started", ErrState)
	case e.s == nil:
		return fmt.Errorf("%w: no stream", ErrParameter)
	}
	numres := e.cp.Tiles[0].Comps[0].NumResolutions
	if numres == 0 || numres > 32 {
		return fmt.Errorf("%w: number of resolutions is too high in comparison to the size of tiles", ErrParameter)
	}
	if e.cp.TDX < 1<<(numres-1) || e.cp.TDY < 1<<(numres-1) {
		return fmt.Errorf("%w: number of resolutions is too high in comparison to the size of tiles (%dx%d, %d resolutions)",
			ErrParameter, e.cp.TDX, e.cp.TDY, numres)
	}
	return nil
}

// validateMCT checks that array based transforms have a matrix and an
// irreversible filter
func (e *Encoder) validateMCT() error {
	for i := range e.cp.Tiles {
		tcp := &e.cp.Tiles[i]
		if tcp.MCT != 2 {
			continue
		}
		if tcp.CodingMatrix == nil {
			return fmt.Errorf("%w: tile %d uses a custom MCT without a matrix", ErrParameter, i)
		}
		for j := range tcp.Comps {
			if tcp.Comps[j].Transform&1 != 0 {
				return fmt.Errorf("%w: tile %d custom MCT needs the irreversible filter on component %d", ErrParameter, i, j)
			}
		}
	}
	return nil
}

func (e *Encoder) initInfo() error {
	e.index = newIndex(e.cp.numTiles())
	total, err := calculateTP(&e.cp, e.image)
	if err != nil {
		return err
	}
	e.totalParts = total
	return nil
}

// write sends b to the stream
func (e *Encoder) write(b []byte) error {
	n, err := e.s.Write(b)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("write: %w", io.ErrShortWrite)
	}
	return nil
}

// writeMain writes one main header segment and indexes it
func (e *Encoder) writeMain(m Marker, b []byte) error {
	e.index.addMainMarker(m, e.s.Tell(), int64(len(b)))
	return e.write(b)
}

func (e *Encoder) writeSOC() error {
	e.index.MainHeadStart = e.s.Tell()
	return e.writeMain(MarkerSOC, appendUint(nil, uint32(MarkerSOC), 2))
}

func (e *Encoder) writeAllCOC() error {
	tcp := &e.cp.Tiles[0]
	n := e.image.NumComps()
	for i := uint32(1); i < n; i++ {
		if tcp.Comps[i].sameCoding(&tcp.Comps[0]) {
			continue
		}
		if err := e.writeMain(MarkerCOC, appendCOC(nil, tcp, i, n)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeAllQCC() error {
	tcp := &e.cp.Tiles[0]
	n := e.image.NumComps()
	for i := uint32(1); i < n; i++ {
		if tcp.Comps[i].sameQuant(&tcp.Comps[0]) {
			continue
		}
		if err := e.writeMain(MarkerQCC, appendQCC(nil, tcp, i, n)); err != nil {
			return err
		}
	}
	return nil
}

// writeTLMSegment reserves one TLM entry per tile-part, patched by
// EndCompress
func (e *Encoder) writeTLMSegment() error {
	if size := tlmSize(int(e.totalParts), e.cp.numTiles()); size-2 > 0xFFFF {
		return fmt.Errorf("%w: %d tile-parts do not fit a TLM segment", ErrParameter, e.totalParts)
	}
	e.tlmStart = e.s.Tell()
	e.tlm = make([]byte, 0, tlmEntrySize(e.cp.numTiles())*int(e.totalParts))
	return e.writeMain(MarkerTLM, appendTLM(nil, int(e.totalParts), e.cp.numTiles()))
}

func (e *Encoder) writeRegions() error {
	tcp := &e.cp.Tiles[0]
	n := e.image.NumComps()
	for i := range n {
		if tcp.Comps[i].ROIShift == 0 {
			continue
		}
		if err := e.writeMain(MarkerRGN, appendRGN(nil, tcp, i, n)); err != nil {
			return err
		}
	}
	return nil
}

// writeMCTGroup writes CBD, the MCT arrays, the collections and MCO of the
// first tile
func (e *Encoder) writeMCTGroup() error {
	if err := e.writeMain(MarkerCBD, appendCBD(nil, e.image)); err != nil {
		return err
	}
	tcp := &e.cp.Tiles[0]
	for i := range tcp.MCTRecords {
		if err := e.writeMain(MarkerMCT, appendMCT(nil, &tcp.MCTRecords[i])); err != nil {
			return err
		}
	}
	for i := range tcp.MCCRecords {
		if err := e.writeMain(MarkerMCC, appendMCC(nil, tcp, &tcp.MCCRecords[i])); err != nil {
			return err
		}
	}
	return e.writeMain(MarkerMCO, appendMCO(nil, tcp))
}

func (e *Encoder) updateRates() error {
	updateRates(&e.cp, e.image, e.s.Tell())
	e.staging = make([]byte, 0, stagingSize(&e.cp, e.image))
	return nil
}

// Encode writes every tile from the image sample planes
func (e *Encoder) Encode() error {
	if !e.started || e.ended {
		return fmt.Errorf("%w: compression is not running", ErrState)
	}
	for range e.cp.numTiles() - e.currentTile {
		t, err := e.preWriteTile(e.currentTile)
		if err != nil {
			return err
		}
		planes, err := getTileData(e.image, t)
		if err != nil {
			return err
		}
		if err := e.postWriteTile(t, planes); err != nil {
			return err
		}
	}
	return nil
}

// WriteTile writes tile index from data packed like a decoded tile:
// component after component, little-endian, 1, 2 or 4 bytes per sample.
// Tiles must be written in order.
func (e *Encoder) WriteTile(index uint32, data []byte) error {
	t, err := e.preWriteTile(index)
	if err != nil {
		return fmt.Errorf("error while pre-writing tile %d: %w", index, err)
	}
	planes, err := copyTileData(t, data)
	if err != nil {
		return err
	}
	if err := e.postWriteTile(t, planes); err != nil {
		return fmt.Errorf("error while post-writing tile %d: %w", index, err)
	}
	return nil
}

func (e *Encoder) preWriteTile(index uint32) (*Tile, error) {
	if !e.started || e.ended {
		return nil, fmt.Errorf("%w: compression is not running", ErrState)
	}
	if index != e.currentTile {
		return nil, fmt.Errorf("%w: the given tile index %d does not match, expected %d", ErrParameter, index, e.currentTile)
	}
	e.log.Debug("tile number", "tile", index+1, "tiles", e.cp.numTiles())
	t, err := newTile(&e.cp, e.image, index, 0)
	if err != nil {
		return nil, err
	}
	t.MaxCompSize = e.cp.maxCompSize
	return t, nil
}

// postWriteTile encodes every tile-part of t into the staging buffer and
// writes it out
func (e *Encoder) postWriteTile(t *Tile, planes [][]int32) error {
	tcp := t.Params
	base := e.s.Tell()
	buf := e.staging[:0]
	var part uint32
	for pino := range tcp.numProgressions() {
		parts := numTileParts(&e.cp, tcp, t, pino)
		for pp := range parts {
			tp := TilePart{Pino: uint32(pino), PocPart: pp, Part: part, NumParts: tcp.NumTileParts}
			var err error
			if buf, err = e.appendTilePart(buf, t, planes, tp, base); err != nil {
				return err
			}
			part++
		}
	}
	if err := e.write(buf); err != nil {
		return err
	}
	e.currentTile++
	return nil
}

// appendTilePart writes SOT, the tile POC on the first part, PLT when
// enabled, SOD and the payload, then patches Psot
func (e *Encoder) appendTilePart(buf []byte, t *Tile, planes [][]int32, tp TilePart, base int64) ([]byte, error) {
	tcp := t.Params
	numComps := uint32(len(t.Comps))
	begin := len(buf)
	ti := &e.index.Tiles[t.Index]
	ti.setPart(tp.Part, tp.NumParts)

	buf = appendSOT(buf, t.Index, tp.Part, tp.NumParts)
	e.index.addTileMarker(t.Index, MarkerSOT, base+int64(begin), sotSize)
	if tp.Part == 0 && !e.cp.Rsiz.IsCinema() && tcp.hasPOC() {
		pos := len(buf)
		buf = appendPOC(buf, tcp, numComps)
		e.index.addTileMarker(t.Index, MarkerPOC, base+int64(pos), int64(len(buf)-pos))
	}
	avail := cap(e.staging) - len(buf) - sodSize
	if e.cp.pltOn {
		avail -= pltRoom
	}
	if avail < 2 {
		return nil, fmt.Errorf("%w: not enough bytes in output buffer to write SOD marker", ErrParameter)
	}
	payload, err := e.coder.EncodeTilePart(t, planes, tp, avail)
	if err != nil {
		return nil, fmt.Errorf("cannot encode tile %d: %w", t.Index, err)
	}
	if len(payload) > avail {
		return nil, fmt.Errorf("%w: tile-part of %d bytes overruns the %d available", ErrParameter, len(payload), avail)
	}
	if e.cp.pltOn {
		pos := len(buf)
		buf = appendPLT(buf, 0, []uint32{uint32(len(payload))})
		e.index.addTileMarker(t.Index, MarkerPLT, base+int64(pos), int64(len(buf)-pos))
	}
	sodPos := len(buf)
	buf = appendUint(buf, uint32(MarkerSOD), 2)
	buf = append(buf, payload...)
	e.index.addTileMarker(t.Index, MarkerSOD, base+int64(sodPos), int64(len(payload)+sodSize))

	psot := uint32(len(buf) - begin)
	patchPsot(buf[begin:], psot)
	if e.writeTLM {
		e.tlm = appendTLMEntry(e.tlm, t.Index, psot, e.cp.numTiles())
	}
	return buf, nil
}

// EndCompress writes EOC, patches the TLM entries and flushes the stream
func (e *Encoder) EndCompress() error {
	var p pipeline
	p.add("check tiles", func() error {
		switch {
		case !e.started || e.ended:
			return fmt.Errorf("%w: compression is not running", ErrState)
		case e.currentTile != e.cp.numTiles():
			return fmt.Errorf("%w: %d of %d tiles written", ErrState, e.currentTile, e.cp.numTiles())
		}
		return nil
	})
	p.add("write EOC", func() error { return e.write(appendUint(nil, uint32(MarkerEOC), 2)) })
	if e.writeTLM {
		p.add("write updated TLM", e.writeUpdatedTLM)
	}
	p.add("flush", e.s.Flush)
	if err := p.exec(); err != nil {
		return err
	}
	e.ended = true
	return nil
}

func (e *Encoder) writeUpdatedTLM() error {
	if !e.s.Seekable() {
		return fmt.Errorf("patch tile-part lengths: %w", ErrNotSeekable)
	}
	end := e.s.Tell()
	if err := e.s.SeekTo(e.tlmStart + 6); err != nil {
		return fmt.Errorf("seek to TLM: %w", err)
	}
	if err := e.write(e.tlm); err != nil {
		return err
	}
	return e.s.SeekTo(end)
}

// Compress encodes img into s in one call
func Compress(s stream.Stream, img *Image, params *EncodeParams, coder TileCoder) error {
	e := NewEncoder(s, coder)
	if err := e.Setup(img, params); err != nil {
		return err
	}
	if err := e.StartCompress(); err != nil {
		return err
	}
	if err := e.Encode(); err != nil {
		return err
	}
	return e.EndCompress()
}
