package jpeg2k

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/jpfielding/j2k.go/pkg/util"
)

// DecodeOptions configures a Decoder
type DecodeOptions struct {
	// Reduce discards the highest resolution levels
	Reduce uint32
	// Layers caps the quality layers decoded, 0 for all
	Layers uint32
	Logger *slog.Logger
}

// TileHeader describes the tile ReadTileHeader made ready
type TileHeader struct {
	Index          uint32
	DataSize       int
	X0, Y0, X1, Y1 uint32
	NumComps       uint32
}

// Decoder reads a JPEG 2000 codestream marker by marker. It runs on a
// single goroutine.
type Decoder struct {
	s     stream.Stream
	coder TileCoder
	log   *slog.Logger

	st     state
	cp     CodingParams
	dflt   *TileParams
	image  *Image
	index  Index
	header []byte
	mark   int64 // offset of the segment being handled

	seenSIZ, seenCOD, seenQCD bool

	currentTile  uint32
	tileToDecode int
	startTileX   uint32
	startTileY   uint32
	endTileX     uint32
	endTileY     uint32
	lastSOTPos   int64
	sotLength    int64
	lastTilePart bool
	skipData     bool
	canDecode    bool
	tile         *Tile
}

// NewDecoder returns a decoder reading s; a nil coder selects RawCoder
func NewDecoder(s stream.Stream, coder TileCoder, opts *DecodeOptions) *Decoder {
	if opts == nil {
		opts = &DecodeOptions{}
	}
	if coder == nil {
		coder = RawCoder{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	d := &Decoder{
		s:            s,
		coder:        coder,
		log:          log.With("codec", "j2k", "session", util.SessionID()),
		tileToDecode: -1,
	}
	d.cp.reduce = opts.Reduce
	d.cp.layer = opts.Layers
	return d
}

// CodingParams returns the parameters read from the main header
func (d *Decoder) CodingParams() *CodingParams { return &d.cp }

// DefaultTileParams returns the main header TCP
func (d *Decoder) DefaultTileParams() *TileParams { return d.dflt }

// Index returns the codestream index built so far
func (d *Decoder) Index() *Index { return &d.index }

// ReadHeader reads the main header and returns the image geometry with no
// sample data
func (d *Decoder) ReadHeader() (*Image, error) {
	var p pipeline
	p.add("decoding validation", d.validateDecoding)
	p.add("read header", d.readHeader)
	p.add("copy default tcp", d.copyDefaultTCP)
	if err := p.exec(); err != nil {
		d.st |= stateERR
		return nil, err
	}
	return d.image.cloneHeader(), nil
}

func (d *Decoder) validateDecoding() error {
	if d.st != stateNone {
		return fmt.Errorf("%w: header already read (%s)", ErrState, d.st)
	}
	if d.s == nil {
		return fmt.Errorf("%w: no stream", ErrParameter)
	}
	return nil
}

// readMarker reads a 2 byte marker code
func (d *Decoder) readMarker() (Marker, error) {
	v, err := stream.ReadUint16(d.s)
	return Marker(v), err
}

// readLength reads a segment length and returns the body size
func (d *Decoder) readLength() (int, error) {
	v, err := stream.ReadUint16(d.s)
	if err != nil {
		return 0, fmt.Errorf("%w: stream too short", ErrTruncated)
	}
	if v < 2 {
		return 0, fmt.Errorf("%w: invalid marker size %d", ErrFormat, v)
	}
	return int(v) - 2, nil
}

// readBody reads n bytes into the scratch buffer. Handlers that keep any of
// it must copy.
func (d *Decoder) readBody(n int) ([]byte, error) {
	d.header = slices.Grow(d.header[:0], n)[:n]
	if err := stream.ReadFull(d.s, d.header); err != nil {
		return nil, fmt.Errorf("%w: stream too short", ErrTruncated)
	}
	return d.header, nil
}

// readSegment reads and dispatches the segment of m, recording it in the
// index; it returns the segment offset and size
func (d *Decoder) readSegment(m Marker, h markerHandler) (int64, int, error) {
	size, err := d.readLength()
	if err != nil {
		return 0, 0, err
	}
	return d.handleSegment(m, h, size)
}

func (d *Decoder) handleSegment(m Marker, h markerHandler, size int) (int64, int, error) {
	body, err := d.readBody(size)
	if err != nil {
		return 0, 0, err
	}
	d.mark = d.s.Tell() - int64(size) - 4
	if h.read == nil {
		return 0, 0, fmt.Errorf("%w: no reader for marker %s", ErrFormat, m)
	}
	if err := h.read(d, body); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", m, err)
	}
	return d.mark, size, nil
}

func (d *Decoder) readSOC() error {
	m, err := d.readMarker()
	if err != nil {
		return fmt.Errorf("%w: expected a SOC marker", ErrTruncated)
	}
	if m != MarkerSOC {
		return fmt.Errorf("%w: expected a SOC marker, found %s", ErrFormat, m)
	}
	d.st = stateMHSIZ
	d.index.MainHeadStart = d.s.Tell() - 2
	d.index.addMainMarker(MarkerSOC, d.index.MainHeadStart, 2)
	return nil
}

// readHeader walks the main header up to the first SOT
func (d *Decoder) readHeader() error {
	d.st = stateMHSOC
	if err := d.readSOC(); err != nil {
		return err
	}
	m, err := d.readMarker()
	if err != nil {
		return fmt.Errorf("%w: stream too short", ErrTruncated)
	}
	for m != MarkerSOT {
		if m < 0xFF00 {
			return fmt.Errorf("%w: a marker ID was expected (0xff--) instead of %.8x", ErrFormat, uint16(m))
		}
		h, ok := markerTable[m]
		if !ok {
			if m, err = d.readUnknown(m); err != nil {
				return err
			}
			if m == MarkerSOT {
				break
			}
			if h, ok = markerTable[m]; !ok {
				return fmt.Errorf("%w: unexpected marker %s in main header", ErrFormat, m)
			}
		}
		switch m {
		case MarkerSIZ:
			d.seenSIZ = true
		case MarkerCOD:
			d.seenCOD = true
		case MarkerQCD:
			d.seenQCD = true
		}
		if d.st&h.states == 0 {
			return fmt.Errorf("%w: marker %s is not compliant with its position", ErrFormat, m)
		}
		pos, size, err := d.readSegment(m, h)
		if err != nil {
			return err
		}
		d.index.addMainMarker(m, pos, int64(size)+4)
		if m, err = d.readMarker(); err != nil {
			return fmt.Errorf("%w: stream too short", ErrTruncated)
		}
	}
	switch {
	case !d.seenSIZ:
		return fmt.Errorf("%w: required SIZ marker not found in main header", ErrFormat)
	case !d.seenCOD:
		return fmt.Errorf("%w: required COD marker not found in main header", ErrFormat)
	case !d.seenQCD:
		return fmt.Errorf("%w: required QCD marker not found in main header", ErrFormat)
	}
	if err := d.mergePPM(); err != nil {
		return fmt.Errorf("failed to merge PPM data: %w", err)
	}
	d.index.MainHeadEnd = d.s.Tell() - 2
	d.lastSOTPos = d.index.MainHeadEnd
	d.st = stateTPHSOT
	return nil
}

// copyDefaultTCP gives every tile its own copy of the main header TCP
func (d *Decoder) copyDefaultTCP() error {
	for i := range d.cp.Tiles {
		d.cp.Tiles[i] = d.dflt.clone()
	}
	return nil
}

// ReadTileHeader reads tile-part headers until a tile is ready to decode.
// ok is false once no tile is left.
func (d *Decoder) ReadTileHeader() (TileHeader, bool, error) {
	var m Marker
	switch d.st {
	case stateEOC:
		m = MarkerEOC
	case stateNEOC:
		// tiles whose tile-parts never completed are decoded with what arrived
		d.currentTile = 0
	case stateTPHSOT:
		m = MarkerSOT
	default:
		return TileHeader{}, false, fmt.Errorf("%w: cannot read a tile header in state %s", ErrState, d.st)
	}
	if d.st != stateNEOC {
		if err := d.readTileParts(m); err != nil {
			d.st |= stateERR
			return TileHeader{}, false, err
		}
	}
	if !d.canDecode {
		n := d.cp.numTiles()
		for d.currentTile < n && d.cp.Tiles[d.currentTile].data == nil {
			d.currentTile++
		}
		if d.currentTile == n {
			return TileHeader{}, false, nil
		}
	}
	tcp := &d.cp.Tiles[d.currentTile]
	mergePPT(tcp)
	if tcp.hasPOC() {
		checkPOCCoverage(d.log, tcp.POCs, tcp.Comps[0].NumResolutions, uint32(len(tcp.Comps)), tcp.NumLayers)
	}
	t, err := newTile(&d.cp, d.image, d.currentTile, d.cp.reduce)
	if err != nil {
		d.st |= stateERR
		return TileHeader{}, false, fmt.Errorf("cannot decode tile: %w", err)
	}
	t.PackedHeaders = tcp.packedHeaders
	d.tile = t
	d.log.Debug("tile header read", "tile", t.Index+1, "tiles", d.cp.numTiles())
	hdr := TileHeader{
		Index:    t.Index,
		DataSize: d.coder.DecodedTileSize(t),
		X0:       t.X0,
		Y0:       t.Y0,
		X1:       t.X1,
		Y1:       t.Y1,
		NumComps: uint32(len(t.Comps)),
	}
	d.st |= stateDATA
	return hdr, true, nil
}

// readTileParts runs the tile-part header loop starting at marker m
func (d *Decoder) readTileParts(m Marker) error {
	var err error
loop:
	for !d.canDecode && m != MarkerEOC {
		for m != MarkerSOD {
			if d.s.BytesLeft() == 0 {
				d.st = stateNEOC
				break
			}
			h, ok := markerTable[m]
			if !ok && m == markerPadding && d.s.BytesLeft() == 2 {
				if _, err := d.s.Skip(2); err != nil {
					return fmt.Errorf("%w: stream too short", ErrTruncated)
				}
				d.st = stateNEOC
				break
			}
			if !ok {
				if m, err = d.readUnknown(m); err != nil {
					return err
				}
				if m == MarkerSOD {
					break
				}
				if h, ok = markerTable[m]; !ok {
					return fmt.Errorf("%w: unexpected marker %s in tile-part header", ErrFormat, m)
				}
			}
			size, err := d.readLength()
			if err != nil {
				return err
			}
			if d.st&stateTPH != 0 {
				d.sotLength -= int64(size) + 4
			}
			if d.st&h.states == 0 {
				return fmt.Errorf("%w: marker %s is not compliant with its position", ErrFormat, m)
			}
			pos, _, err := d.handleSegment(m, h, size)
			if err != nil {
				return err
			}
			d.index.addTileMarker(d.currentTile, m, pos, int64(size)+4)
			if m == MarkerSOT {
				d.lastSOTPos = max(d.lastSOTPos, pos)
			}
			if d.skipData {
				skip := d.sotLength
				if d.lastTilePart {
					skip = d.s.BytesLeft() - 2
				}
				if n, err := d.s.Skip(skip); err != nil || n != skip {
					return fmt.Errorf("%w: stream too short", ErrTruncated)
				}
				m = MarkerSOD
				continue
			}
			if m, err = d.readMarker(); err != nil {
				return fmt.Errorf("%w: stream too short", ErrTruncated)
			}
		}
		if d.s.BytesLeft() == 0 && d.st == stateNEOC {
			break
		}
		if !d.skipData {
			if err := d.readSOD(); err != nil {
				return err
			}
			if d.st == stateNEOC {
				break loop
			}
			if !d.canDecode {
				if m, err = d.nextMarker(); err != nil {
					return err
				}
				if d.st == stateNEOC {
					break loop
				}
			}
			continue
		}
		d.skipData = false
		d.canDecode = false
		d.lastTilePart = false
		d.st = stateTPHSOT
		if m, err = d.nextMarker(); err != nil {
			return err
		}
		if d.st == stateNEOC {
			break
		}
	}
	if m == MarkerEOC && d.st != stateEOC {
		d.currentTile = 0
		d.st = stateEOC
	}
	return nil
}

// nextMarker reads the marker after a tile-part; running out of input
// switches to NEOC
func (d *Decoder) nextMarker() (Marker, error) {
	if d.s.BytesLeft() == 0 {
		d.log.Warn("stream does not end with EOC")
		d.st = stateNEOC
		return 0, nil
	}
	m, err := d.readMarker()
	if err != nil {
		return 0, fmt.Errorf("%w: stream too short", ErrTruncated)
	}
	return m, nil
}

// DecodeTileData decodes the tile ReadTileHeader made ready and packs its
// samples into buf, which must hold TileHeader.DataSize bytes
func (d *Decoder) DecodeTileData(index uint32, buf []byte) error {
	if d.st&stateDATA == 0 || index != d.currentTile || d.tile == nil {
		return fmt.Errorf("%w: tile %d is not ready to decode", ErrState, index)
	}
	tcp := &d.cp.Tiles[index]
	planes, err := d.coder.DecodeTile(d.tile, tcp.data)
	if err != nil {
		d.st |= stateERR
		return fmt.Errorf("decode tile %d: %w", index, err)
	}
	if err := updateTileData(d.tile, planes, buf); err != nil {
		return err
	}
	tcp.data = nil
	tcp.packedHeaders = nil
	d.canDecode = false
	d.st &^= stateDATA

	if d.s.BytesLeft() == 0 && d.st == stateNEOC {
		return nil
	}
	if d.st == stateEOC {
		return nil
	}
	m, err := d.readMarker()
	if err != nil {
		if d.s.BytesLeft() == 0 {
			d.log.Warn("stream does not end with EOC")
			d.st = stateNEOC
			return nil
		}
		return fmt.Errorf("%w: stream too short", ErrTruncated)
	}
	switch {
	case m == MarkerEOC:
		d.currentTile = 0
		d.st = stateEOC
	case m == MarkerSOT:
	case d.s.BytesLeft() == 0:
		d.log.Warn("stream does not end with EOC", "marker", m)
		d.st = stateNEOC
	default:
		return fmt.Errorf("%w: expected SOT after tile data, found %s", ErrFormat, m)
	}
	return nil
}

// Decode decodes every remaining tile into img, which must come from
// ReadHeader (possibly narrowed by SetDecodeArea)
func (d *Decoder) Decode(img *Image) error {
	if img == nil {
		return fmt.Errorf("%w: no output image", ErrParameter)
	}
	for {
		hdr, ok, err := d.ReadTileHeader()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		buf := make([]byte, hdr.DataSize)
		if err := d.DecodeTileData(hdr.Index, buf); err != nil {
			return err
		}
		d.log.Debug("tile decoded", "tile", hdr.Index+1, "tiles", d.cp.numTiles())
		if err := compositeTile(d.tile, buf, img); err != nil {
			return fmt.Errorf("tile %d: %w", hdr.Index, err)
		}
	}
	return nil
}

// GetTile decodes tile k alone into img, seeking through the stream
func (d *Decoder) GetTile(img *Image, k uint32) error {
	if img == nil {
		return fmt.Errorf("%w: no output image", ErrParameter)
	}
	if d.image == nil || d.st&(stateTPHSOT|stateEOC|stateNEOC) == 0 {
		return fmt.Errorf("%w: main header not read", ErrState)
	}
	if k >= d.cp.numTiles() {
		return fmt.Errorf("%w: tile index %d is outside [0,%d)", ErrParameter, k, d.cp.numTiles())
	}
	if !d.s.Seekable() {
		return fmt.Errorf("random access to tile %d: %w", k, ErrNotSeekable)
	}

	tx0 := d.cp.TX0 + (k%d.cp.TW)*d.cp.TDX
	ty0 := d.cp.TY0 + (k/d.cp.TW)*d.cp.TDY
	img.X0 = max(tx0, d.image.X0)
	img.Y0 = max(ty0, d.image.Y0)
	img.X1 = min(addSat(tx0, d.cp.TDX), d.image.X1)
	img.Y1 = min(addSat(ty0, d.cp.TDY), d.image.Y1)
	for i := range img.Comps {
		c := &img.Comps[i]
		c.Factor = d.image.Comps[i].Factor
		c.Data = nil
	}
	if err := img.updateComponents(); err != nil {
		return err
	}

	d.tileToDecode = int(k)
	defer func() { d.tileToDecode = -1 }()
	var err error
	if d.index.indexed(k) {
		err = d.s.SeekTo(d.index.Tiles[k].Parts[0].Start + 2)
	} else {
		err = d.s.SeekTo(d.lastSOTPos + 2)
	}
	if err != nil {
		return fmt.Errorf("seek to tile %d: %w", k, err)
	}
	d.st = stateTPHSOT
	d.currentTile = k
	d.canDecode = false
	d.skipData = false
	d.lastTilePart = false
	for i := range d.cp.Tiles {
		d.cp.Tiles[i].currentPart = -1
	}
	d.cp.Tiles[k] = d.dflt.clone()

	for {
		hdr, ok, err := d.ReadTileHeader()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: tile %d not found in the codestream", ErrFormat, k)
		}
		buf := make([]byte, hdr.DataSize)
		if err := d.DecodeTileData(hdr.Index, buf); err != nil {
			return err
		}
		if hdr.Index == k {
			if err := compositeTile(d.tile, buf, img); err != nil {
				return fmt.Errorf("tile %d: %w", hdr.Index, err)
			}
			if err := d.s.SeekTo(d.index.MainHeadEnd + 2); err != nil {
				return fmt.Errorf("seek to first tile-part: %w", err)
			}
			d.st = stateTPHSOT
			return nil
		}
		d.log.Warn("tile read is not the desired one", "tile", hdr.Index, "want", k)
	}
}

// SetDecodeArea narrows decoding to the grid rectangle [x0,x1)x[y0,y1) and
// updates img to match; all zeros selects the whole image
func (d *Decoder) SetDecodeArea(img *Image, x0, y0, x1, y1 uint32) error {
	if d.st != stateTPHSOT {
		return fmt.Errorf("%w: need to decode the main header before begin to decode the remaining codestream", ErrState)
	}
	cp := &d.cp
	if x0 == 0 && y0 == 0 && x1 == 0 && y1 == 0 {
		d.log.Debug("no decoded area parameters, set the decoded area to the whole image")
		d.startTileX, d.startTileY = 0, 0
		d.endTileX, d.endTileY = cp.TW, cp.TH
		return nil
	}
	if img == nil {
		return fmt.Errorf("%w: no output image", ErrParameter)
	}
	full := d.image
	var err error
	if d.startTileX, img.X0, err = d.areaStart("left", x0, full.X0, full.X1, cp.TX0, cp.TDX); err != nil {
		return err
	}
	if d.startTileY, img.Y0, err = d.areaStart("top", y0, full.Y0, full.Y1, cp.TY0, cp.TDY); err != nil {
		return err
	}
	if d.endTileX, img.X1, err = d.areaEnd("right", x1, full.X0, full.X1, cp.TX0, cp.TDX, cp.TW); err != nil {
		return err
	}
	if d.endTileY, img.Y1, err = d.areaEnd("bottom", y1, full.Y0, full.Y1, cp.TY0, cp.TDY, cp.TH); err != nil {
		return err
	}
	if err := img.updateComponents(); err != nil {
		return err
	}
	for i := range img.Comps {
		img.Comps[i].Data = nil
	}
	d.log.Debug("setting decoding area", "x0", img.X0, "y0", img.Y0, "x1", img.X1, "y1", img.Y1)
	return nil
}

func (d *Decoder) areaStart(side string, v, lo, hi, t0, td uint32) (uint32, uint32, error) {
	switch {
	case v > hi:
		return 0, 0, fmt.Errorf("%w: %s position of the decoded area (%d) is outside the image area (%d)", ErrParameter, side, v, hi)
	case v < lo:
		d.log.Warn("decoded area starts outside the image area", "side", side, "pos", v, "image", lo)
		return 0, lo, nil
	default:
		return (v - t0) / td, v, nil
	}
}

func (d *Decoder) areaEnd(side string, v, lo, hi, t0, td, count uint32) (uint32, uint32, error) {
	switch {
	case v < lo:
		return 0, 0, fmt.Errorf("%w: %s position of the decoded area (%d) is outside the image area (%d)", ErrParameter, side, v, lo)
	case v > hi:
		d.log.Warn("decoded area ends outside the image area", "side", side, "pos", v, "image", hi)
		return count, hi, nil
	default:
		return ceilDiv(v-t0, td), v, nil
	}
}

// SetResolutionFactor discards the f highest resolution levels. img, when
// given, is resized to match.
func (d *Decoder) SetResolutionFactor(img *Image, f uint32) error {
	if d.image == nil || d.dflt == nil {
		return fmt.Errorf("%w: main header not read", ErrState)
	}
	for i := range d.image.Comps {
		if f >= d.dflt.Comps[i].NumResolutions {
			return fmt.Errorf("%w: resolution factor is greater than the maximum resolution in the component", ErrParameter)
		}
	}
	for i := range d.image.Comps {
		d.image.Comps[i].Factor = f
	}
	d.cp.reduce = f
	if img == nil {
		return nil
	}
	for i := range img.Comps {
		img.Comps[i].Factor = f
		img.Comps[i].Data = nil
	}
	return img.updateComponents()
}

// EndDecompress checks the codec finished without error
func (d *Decoder) EndDecompress() error {
	if d.st&stateERR != 0 {
		return fmt.Errorf("%w: decoder stopped on an error", ErrState)
	}
	return nil
}

// isEOF reports a clean or short end of input
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
