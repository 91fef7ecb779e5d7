package jpeg2k

import (
	"bytes"
	"log/slog"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bareDecoder is a decoder positioned inside a main header of numComps
// components, for feeding segment bodies directly
func bareDecoder(numComps uint32) *Decoder {
	d := NewDecoder(nil, nil, nil)
	d.image = &Image{Comps: make([]Component, numComps)}
	d.dflt = newTileParams(numComps)
	d.st = stateMH
	return d
}

// sampleTCP has every component coded alike at 3 resolutions
func sampleTCP(numComps uint32) *TileParams {
	tcp := newTileParams(numComps)
	tcp.NumLayers = 1
	for i := range tcp.Comps {
		c := &tcp.Comps[i]
		c.NumResolutions = 3
		c.CodeBlockWidth, c.CodeBlockHeight = 4, 5
		c.CodeBlockStyle = CodeBlockVerticalCausal
		c.Transform = TransformReversible53
		c.GuardBits = 2
		setPrecincts(c, nil, nil)
		calcExplicitStepSizes(c, 8)
	}
	return tcp
}

// recordingCoder captures the packed packet headers handed to each tile
type recordingCoder struct {
	RawCoder
	headers map[uint32][]byte
}

func (r *recordingCoder) DecodeTile(t *Tile, data []byte) ([][]int32, error) {
	r.headers[t.Index] = slices.Clone(t.PackedHeaders)
	return r.RawCoder.DecodeTile(t, data)
}

func segment(m Marker, body []byte) []byte {
	return append(appendMarker(nil, m, len(body)+2), body...)
}

func TestSegments_ComponentIndexWidth(t *testing.T) {
	for _, n := range []uint32{3, 256, 257, 1000} {
		room := compRoom(n)
		last := n - 1

		t.Run("COC", func(t *testing.T) {
			tcp := sampleTCP(n)
			c := &tcp.Comps[last]
			c.CodingStyle = CodingStylePrecincts
			c.NumResolutions = 2
			c.PrecinctWidth = [maxResolutions]uint32{4, 6}
			c.PrecinctHeight = [maxResolutions]uint32{5, 7}
			seg := appendCOC(nil, tcp, last, n)
			require.Len(t, seg, cocSize(tcp, last, n))

			d := bareDecoder(n)
			require.NoError(t, d.readCOC(seg[4:]))
			if diff := cmp.Diff(*c, d.dflt.Comps[last], cmpopts.IgnoreFields(TileCompParams{}, "StepSizes", "GuardBits")); diff != "" {
				t.Errorf("n=%d COC mismatch (-want +got):\n%s", n, diff)
			}
		})

		t.Run("QCC", func(t *testing.T) {
			tcp := sampleTCP(n)
			c := &tcp.Comps[last]
			c.QuantStyle = QuantizationScalarExpounded
			c.Transform = TransformIrreversible97
			calcExplicitStepSizes(c, 12)
			seg := appendQCC(nil, tcp, last, n)
			require.Len(t, seg, qccSize(tcp, last, n))

			d := bareDecoder(n)
			require.NoError(t, d.readQCC(seg[4:]))
			got := d.dflt.Comps[last]
			assert.Equal(t, c.QuantStyle, got.QuantStyle)
			assert.Equal(t, c.GuardBits, got.GuardBits)
			assert.Equal(t, c.StepSizes, got.StepSizes)
		})

		t.Run("RGN", func(t *testing.T) {
			tcp := sampleTCP(n)
			tcp.Comps[last].ROIShift = 7
			seg := appendRGN(nil, tcp, last, n)
			require.Len(t, seg, rgnSize(n))

			d := bareDecoder(n)
			require.NoError(t, d.readRGN(seg[4:]))
			assert.Equal(t, uint32(7), d.dflt.Comps[last].ROIShift)
		})

		t.Run("POC", func(t *testing.T) {
			tcp := sampleTCP(n)
			tcp.POCs = []ProgressionChange{
				{ResStart: 0, CompStart: 0, LayerEnd: 1, ResEnd: 3, CompEnd: last, Order: ProgressionCPRL},
				{ResStart: 1, CompStart: last, LayerEnd: 1, ResEnd: 3, CompEnd: n, Order: ProgressionRLCP},
			}
			want := slices.Clone(tcp.POCs)
			seg := appendPOC(nil, tcp, n)
			require.Len(t, seg, pocSize(2, n))

			d := bareDecoder(n)
			require.NoError(t, d.readPOC(seg[4:]))
			if room == 1 && n == 256 {
				// CEpoc of 256 does not fit a byte
				want[1].CompEnd = 0
			}
			assert.Equal(t, want, d.dflt.POCs)
		})

		t.Run("MCC", func(t *testing.T) {
			tcp := sampleTCP(n)
			tcp.MCTRecords = []MCTRecord{{Index: 5, ArrayType: MCTDecorrelation, ElementType: MCTFloat32}}
			rec := MCCRecord{Index: 1, NumComps: n, Irreversible: true, Decorrelation: 0, Offset: -1}
			seg := appendMCC(nil, tcp, &rec)
			require.Len(t, seg, mccSize(&rec))
			nmcc := uint32(seg[12])<<8 | uint32(seg[13])
			assert.Equal(t, room == 2, nmcc&0x8000 != 0)
			assert.Equal(t, n, nmcc&0x7fff)

			d := bareDecoder(n)
			d.dflt.MCTRecords = slices.Clone(tcp.MCTRecords)
			require.NoError(t, d.readMCC(seg[4:]))
			assert.Equal(t, []MCCRecord{rec}, d.dflt.MCCRecords)
		})
	}
}

func TestSegments_COD(t *testing.T) {
	tcp := sampleTCP(3)
	tcp.CodingStyle = CodingStyleSOP | CodingStyleEPH
	tcp.Order = ProgressionPCRL
	tcp.NumLayers = 9
	tcp.MCT = 1
	seg := appendCOD(nil, tcp)
	require.Len(t, seg, codSize(tcp))

	d := bareDecoder(3)
	require.NoError(t, d.readCOD(seg[4:]))
	assert.Equal(t, tcp.CodingStyle, d.dflt.CodingStyle)
	assert.Equal(t, tcp.Order, d.dflt.Order)
	assert.Equal(t, uint32(9), d.dflt.NumLayers)
	assert.Equal(t, uint32(9), d.dflt.LayersToDecode)
	assert.Equal(t, uint32(1), d.dflt.MCT)
	for i := range 3 {
		assert.Equal(t, uint32(3), d.dflt.Comps[i].NumResolutions)
		assert.Equal(t, uint32(4), d.dflt.Comps[i].CodeBlockWidth)
		assert.Equal(t, uint32(5), d.dflt.Comps[i].CodeBlockHeight)
		assert.Equal(t, byte(CodeBlockVerticalCausal), d.dflt.Comps[i].CodeBlockStyle)
	}
	assert.ErrorIs(t, d.readCOD(seg[4:]), ErrFormat, "one COD per header")

	t.Run("array transform needs Part-2", func(t *testing.T) {
		tcp.MCT = 2
		seg := appendCOD(nil, tcp)
		assert.ErrorIs(t, bareDecoder(3).readCOD(seg[4:]), ErrFormat)

		d := bareDecoder(3)
		d.cp.Rsiz = ProfilePart2 | ExtensionMCT
		require.NoError(t, d.readCOD(seg[4:]))
		assert.Equal(t, uint32(2), d.dflt.MCT)
	})

	t.Run("reduce beyond resolutions", func(t *testing.T) {
		tcp.MCT = 0
		d := bareDecoder(3)
		d.cp.reduce = 3
		assert.ErrorIs(t, d.readCOD(appendCOD(nil, tcp)[4:]), ErrFormat)
	})

	t.Run("code-block too large", func(t *testing.T) {
		bad := sampleTCP(3)
		bad.Comps[0].CodeBlockWidth, bad.Comps[0].CodeBlockHeight = 7, 7
		assert.ErrorIs(t, bareDecoder(3).readCOD(appendCOD(nil, bad)[4:]), ErrFormat)
	})

	t.Run("zero layers", func(t *testing.T) {
		seg := appendCOD(nil, sampleTCP(3))
		seg[6], seg[7] = 0, 0
		assert.ErrorIs(t, bareDecoder(3).readCOD(seg[4:]), ErrFormat)
	})
}

func TestSegments_StepSizes(t *testing.T) {
	t.Run("reversible", func(t *testing.T) {
		c := sampleTCP(1).Comps[0]
		want := []int32{8, 9, 9, 10, 9, 9, 10}
		got := make([]int32, 0, len(want))
		for b := range c.numBands() {
			assert.Zero(t, c.StepSizes[b].Mantissa)
			got = append(got, c.StepSizes[b].Exponent)
		}
		assert.Equal(t, want, got)
	})

	tests := []struct {
		name  string
		style QuantizationStyle
	}{
		{name: "none", style: QuantizationNone},
		{name: "expounded", style: QuantizationScalarExpounded},
		{name: "derived", style: QuantizationScalarDerived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tcp := sampleTCP(1)
			c := &tcp.Comps[0]
			c.QuantStyle = tt.style
			if tt.style != QuantizationNone {
				c.Transform = TransformIrreversible97
			}
			calcExplicitStepSizes(c, 10)
			seg := appendQCD(nil, tcp)
			require.Len(t, seg, qcdSize(tcp))

			d := bareDecoder(1)
			require.NoError(t, d.readQCD(seg[4:]))
			got := d.dflt.Comps[0]
			assert.Equal(t, c.StepSizes[:c.numBands()], got.StepSizes[:c.numBands()])
			if tt.style == QuantizationScalarDerived {
				s0 := c.StepSizes[0]
				assert.Equal(t, StepSize{Exponent: s0.Exponent - 1, Mantissa: s0.Mantissa}, got.StepSizes[4])
			}
		})
	}
}

func TestSegments_SIZ(t *testing.T) {
	cp := &CodingParams{TX0: 0, TY0: 0, TDX: 16, TDY: 16}
	img := NewImage(3, 5, 40, 30, []ComponentParams{{Prec: 8}, {Prec: 12, Signed: true, DX: 2, DY: 2}})
	seg := appendSIZ(nil, cp, img)
	require.Len(t, seg, sizSize(2))

	d := NewDecoder(nil, nil, nil)
	require.NoError(t, d.readSIZ(seg[4:]))
	assert.Equal(t, stateMH, d.st)
	assert.Equal(t, uint32(3), d.cp.TW)
	assert.Equal(t, uint32(2), d.cp.TH)
	assert.Len(t, d.cp.Tiles, 6)
	assert.Len(t, d.index.Tiles, 6)
	if diff := cmp.Diff(img, d.image, cmpopts.IgnoreFields(Component{}, "Data")); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name   string
		mutate func(cp *CodingParams, img *Image)
	}{
		{name: "too many tiles", mutate: func(cp *CodingParams, img *Image) {
			img.X0, img.Y0, img.X1, img.Y1 = 0, 0, 300, 300
			cp.TDX, cp.TDY = 1, 1
		}},
		{name: "empty area", mutate: func(_ *CodingParams, img *Image) { img.X0 = img.X1 }},
		{name: "zero tile size", mutate: func(cp *CodingParams, _ *Image) { cp.TDX = 0 }},
		{name: "tile origin past image", mutate: func(cp *CodingParams, _ *Image) { cp.TX0 = 4 }},
		{name: "subsampling", mutate: func(_ *CodingParams, img *Image) { img.Comps[1].DX = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := &CodingParams{TDX: 16, TDY: 16}
			img := NewImage(3, 5, 40, 30, []ComponentParams{{Prec: 8}, {Prec: 12, DX: 2, DY: 2}})
			tt.mutate(cp, img)
			err := NewDecoder(nil, nil, nil).readSIZ(appendSIZ(nil, cp, img)[4:])
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	t.Run("body size", func(t *testing.T) {
		assert.ErrorIs(t, NewDecoder(nil, nil, nil).readSIZ(seg[4:len(seg)-1]), ErrFormat)
	})
}

func TestSegments_POCCoverage(t *testing.T) {
	span := func(r0, r1, c0, c1, le uint32) ProgressionChange {
		return ProgressionChange{ResStart: r0, ResEnd: r1, CompStart: c0, CompEnd: c1, LayerEnd: le, Order: ProgressionLRCP}
	}
	tests := []struct {
		name               string
		pocs               []ProgressionChange
		res, comps, layers uint32
		want               bool
	}{
		{name: "none", res: 3, comps: 3, layers: 2, want: true},
		{name: "single full range", pocs: []ProgressionChange{span(0, 3, 0, 3, 2)}, res: 3, comps: 3, layers: 2, want: true},
		{name: "split resolutions with growing layers", pocs: []ProgressionChange{span(0, 1, 0, 1, 2), span(1, 2, 0, 1, 3), span(0, 1, 0, 1, 3)}, res: 2, comps: 1, layers: 3, want: true},
		{name: "split components", pocs: []ProgressionChange{span(0, 4, 0, 2, 1), span(0, 4, 2, 5, 1)}, res: 4, comps: 5, layers: 1, want: true},
		{name: "ends past the grid", pocs: []ProgressionChange{span(0, 33, 0, 300, 65535)}, res: 6, comps: 3, layers: 4, want: true},
		{name: "large header grid", pocs: []ProgressionChange{span(0, 33, 0, 16384, 65535)}, res: 33, comps: 16384, layers: 65535, want: true},
		{name: "missing resolution", pocs: []ProgressionChange{span(0, 2, 0, 3, 1)}, res: 3, comps: 3, layers: 1},
		{name: "missing component", pocs: []ProgressionChange{span(0, 3, 0, 1, 2), span(0, 3, 2, 3, 2)}, res: 3, comps: 3, layers: 2},
		{name: "missing top layer", pocs: []ProgressionChange{span(0, 1, 0, 1, 3), span(1, 2, 0, 1, 2)}, res: 2, comps: 1, layers: 3},
		{name: "empty ranges", pocs: []ProgressionChange{span(2, 2, 0, 1, 1), span(0, 1, 1, 0, 1)}, res: 1, comps: 1, layers: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			log := slog.New(slog.NewTextHandler(&logs, nil))
			assert.Equal(t, tt.want, checkPOCCoverage(log, tt.pocs, tt.res, tt.comps, tt.layers))
			if tt.want {
				assert.Empty(t, logs.String())
			} else {
				assert.Contains(t, logs.String(), "missing packets")
			}
		})
	}
}

func TestSegments_TLM(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want []TLMEntry
	}{
		{
			name: "no tile numbers",
			body: []byte{0, 0x40, 0, 0, 0, 20, 0, 0, 0, 30},
			want: []TLMEntry{{Tile: -1, Length: 20}, {Tile: -1, Length: 30}},
		},
		{
			name: "byte tile numbers",
			body: []byte{0, 0x50, 0, 0, 0, 0, 20, 1, 0, 0, 0, 30},
			want: []TLMEntry{{Tile: 0, Length: 20}, {Tile: 1, Length: 30}},
		},
		{
			name: "short tile numbers",
			body: []byte{0, 0x60, 0x01, 0x2C, 0, 0, 0, 20},
			want: []TLMEntry{{Tile: 300, Length: 20}},
		},
		{
			name: "short lengths",
			body: []byte{0, 0x10, 3, 0x01, 0x00},
			want: []TLMEntry{{Tile: 3, Length: 256}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := bareDecoder(1)
			require.NoError(t, d.readTLM(tt.body))
			assert.Equal(t, tt.want, d.cp.TLM)
		})
	}

	assert.ErrorIs(t, bareDecoder(1).readTLM([]byte{0, 0x30, 0, 0, 0, 0, 0, 0}), ErrFormat, "ST=3")
	assert.ErrorIs(t, bareDecoder(1).readTLM([]byte{0, 0x50, 0, 0, 0}), ErrFormat, "partial entry")

	for _, numTiles := range []uint32{1, 255, 256, 4000} {
		seg := appendTLM(nil, 2, numTiles)
		require.Len(t, seg, tlmSize(2, numTiles))
		entries := appendTLMEntry(nil, 0, 20, numTiles)
		entries = appendTLMEntry(entries, min(numTiles-1, 255), 1<<20, numTiles)
		copy(seg[6:], entries)

		d := bareDecoder(1)
		require.NoError(t, d.readTLM(seg[4:]))
		assert.Equal(t, []TLMEntry{{Tile: 0, Length: 20}, {Tile: int(min(numTiles-1, 255)), Length: 1 << 20}}, d.cp.TLM, "%d tiles", numTiles)
	}
}

func TestSegments_PacketLengths(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 1 << 21, 1 << 28}
	var enc []byte
	for _, v := range values {
		enc = appendPacketLength(enc, v)
	}
	assert.Equal(t, []byte{0x81, 0x00}, appendPacketLength(nil, 128))
	assert.Equal(t, []byte{0x7F}, appendPacketLength(nil, 127))

	got, err := packetLengths(enc)
	require.NoError(t, err)
	assert.Equal(t, values, got)

	_, err = packetLengths([]byte{0x05, 0x81})
	assert.ErrorIs(t, err, ErrFormat)

	d := bareDecoder(1)
	assert.NoError(t, d.readPLM(appendPLM(nil, 0, [][]uint32{{10, 20}, {300}})[4:]))
	assert.ErrorIs(t, d.readPLM([]byte{0, 5, 1}), ErrFormat)
	d.st = stateTPH
	d.cp.Tiles = make([]TileParams, 1)
	assert.NoError(t, d.readPLT(appendPLT(nil, 0, []uint32{5, 6, 700})[4:]))
	assert.ErrorIs(t, d.readPLT([]byte{0, 0x81}), ErrFormat)
}

func TestSegments_PacketLengthsInStream(t *testing.T) {
	img := gray8(32, 32)
	e, data := encode(t, img, params(3))
	plm := appendPLM(nil, 0, [][]uint32{{10, 20}, {300}})
	plt := appendPLT(nil, 0, []uint32{5, 6, 7})
	mainEnd := e.Index().MainHeadEnd
	data = splice(data, mainEnd, plm)
	sot := mainEnd + int64(len(plm))
	data = splice(data, sot+sotSize, plt)
	bumpPsot(data, sot, len(plt))

	d, out := decode(t, data, nil)
	assert.Equal(t, img.Comps[0].Data, out.Comps[0].Data)
	assert.Contains(t, d.Index().Markers, MarkerInfo{Type: MarkerPLM, Pos: mainEnd, Len: int64(len(plm))})
	assert.Contains(t, d.Index().Tiles[0].Markers, MarkerInfo{Type: MarkerPLT, Pos: sot + sotSize, Len: int64(len(plt))})
	assert.Equal(t, sot, d.Index().MainHeadEnd)
}

func TestSegments_PPM(t *testing.T) {
	img := gray8(32, 16)
	e, data := encode(t, img, tiled(2, 16, 16))
	mainEnd := e.Index().MainHeadEnd

	// two Nppm prefixed chunks, the second straddling the segments
	headers := []byte{0, 0, 0, 3, 'a', 'b', 'c', 0, 0, 0, 5, 'd', 'e', 'f', 'g', 'h'}
	z0 := segment(MarkerPPM, append([]byte{0}, headers[:13]...))
	z1 := segment(MarkerPPM, append([]byte{1}, headers[13:]...))

	t.Run("merged across segments", func(t *testing.T) {
		rec := &recordingCoder{headers: map[uint32][]byte{}}
		d := NewDecoder(stream.NewMemory(splice(data, mainEnd, slices.Concat(z1, z0))), rec, nil)
		hdr, err := d.ReadHeader()
		require.NoError(t, err)
		require.NoError(t, d.Decode(hdr))
		assert.Equal(t, map[uint32][]byte{0: []byte("abc"), 1: []byte("defgh")}, rec.headers)
		if diff := cmp.Diff(planes(img), planes(hdr)); diff != "" {
			t.Errorf("samples mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("random access keeps chunks", func(t *testing.T) {
		rec := &recordingCoder{headers: map[uint32][]byte{}}
		d := NewDecoder(stream.NewMemory(splice(data, mainEnd, slices.Concat(z0, z1))), rec, nil)
		hdr, err := d.ReadHeader()
		require.NoError(t, err)
		require.NoError(t, d.GetTile(hdr, 1))
		require.NoError(t, d.GetTile(hdr, 0))
		require.NoError(t, d.GetTile(hdr, 1))
		assert.Equal(t, map[uint32][]byte{0: []byte("abc"), 1: []byte("defgh")}, rec.headers)
	})

	tests := []struct {
		name string
		segs []byte
		want string
	}{
		{name: "missing Zppm", segs: slices.Concat(z0, segment(MarkerPPM, []byte{2, 'x'})), want: "Zppm 1 is missing"},
		{name: "duplicate Zppm", segs: slices.Concat(z0, z0), want: "already read"},
		{name: "cut chunk", segs: z0, want: "corrupted"},
		{name: "cut Nppm", segs: segment(MarkerPPM, []byte{0, 0, 0, 1}), want: "Nppm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(stream.NewMemory(splice(data, mainEnd, tt.segs)), nil, nil)
			_, err := d.ReadHeader()
			assert.ErrorIs(t, err, ErrFormat)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSegments_PPT(t *testing.T) {
	img := gray8(32, 32)
	e, data := encode(t, img, params(3))
	sot := e.Index().Tiles[0].Parts[0].Start

	t.Run("merged in Zppt order", func(t *testing.T) {
		ppt := slices.Concat(appendPPT(nil, 1, []byte("lo")), appendPPT(nil, 0, []byte("hel")))
		in := splice(data, sot+sotSize, ppt)
		bumpPsot(in, sot, len(ppt))

		rec := &recordingCoder{headers: map[uint32][]byte{}}
		d := NewDecoder(stream.NewMemory(in), rec, nil)
		hdr, err := d.ReadHeader()
		require.NoError(t, err)
		require.NoError(t, d.Decode(hdr))
		assert.Equal(t, []byte("hello"), rec.headers[0])
		assert.Equal(t, img.Comps[0].Data, hdr.Comps[0].Data)
	})

	t.Run("not with PPM", func(t *testing.T) {
		ppm := appendPPM(nil, 0, [][]byte{[]byte("abc")})
		ppt := appendPPT(nil, 0, []byte("hel"))
		in := splice(data, sot+sotSize, ppt)
		bumpPsot(in, sot, len(ppt))
		in = splice(in, sot, ppm)

		d := NewDecoder(stream.NewMemory(in), nil, nil)
		hdr, err := d.ReadHeader()
		require.NoError(t, err)
		err = d.Decode(hdr)
		assert.ErrorIs(t, err, ErrFormat)
		assert.ErrorContains(t, err, "PPM")
	})

	t.Run("duplicate Zppt", func(t *testing.T) {
		ppt := slices.Concat(appendPPT(nil, 0, []byte("a")), appendPPT(nil, 0, []byte("b")))
		in := splice(data, sot+sotSize, ppt)
		bumpPsot(in, sot, len(ppt))
		d := NewDecoder(stream.NewMemory(in), nil, nil)
		hdr, err := d.ReadHeader()
		require.NoError(t, err)
		assert.ErrorIs(t, d.Decode(hdr), ErrFormat)
	})
}

func TestSegments_Informational(t *testing.T) {
	t.Run("binary comment", func(t *testing.T) {
		d := bareDecoder(1)
		require.NoError(t, d.readCOM([]byte{0, CommentBinary, 1, 2, 3}))
		assert.Equal(t, []Comment{{Registration: CommentBinary, Data: []byte{1, 2, 3}}}, d.cp.Comments)
		assert.ErrorIs(t, d.readCOM([]byte{0}), ErrFormat)
	})

	t.Run("latin comment", func(t *testing.T) {
		text, err := latin1("Größe: 5 €")
		require.NoError(t, err)
		seg := appendCOM(nil, text)
		require.Len(t, seg, comSize(len(text)))
		d := bareDecoder(1)
		require.NoError(t, d.readCOM(seg[4:]))
		assert.Equal(t, "Größe: 5 €", d.cp.Comments[0].Text)

		_, err = latin1("Ω")
		assert.ErrorIs(t, err, ErrParameter)
	})

	t.Run("registration", func(t *testing.T) {
		seg := appendCRG(nil, [][2]uint16{{1, 2}, {3, 4}})
		require.Len(t, seg, crgSize(2))
		assert.NoError(t, bareDecoder(2).readCRG(seg[4:]))
		assert.ErrorIs(t, bareDecoder(3).readCRG(seg[4:]), ErrFormat)
	})

	t.Run("bit depths", func(t *testing.T) {
		img := NewImage(0, 0, 4, 4, []ComponentParams{{Prec: 8}, {Prec: 16, Signed: true}})
		seg := appendCBD(nil, img)
		require.Len(t, seg, cbdSize(2))
		d := bareDecoder(2)
		require.NoError(t, d.readCBD(seg[4:]))
		assert.Equal(t, uint32(16), d.image.Comps[1].Prec)
		assert.True(t, d.image.Comps[1].Signed)
		assert.ErrorIs(t, bareDecoder(3).readCBD(seg[4:]), ErrFormat)
	})
}

func TestSegments_MCT(t *testing.T) {
	tcp := sampleTCP(2)
	tcp.MCT = 2
	tcp.Comps[0].DCLevelShift, tcp.Comps[1].DCLevelShift = 10, -4
	tcp.DecodingMatrix = []float32{0.5, 0.5, 0.5, -0.5}
	setupMCTEncoding(tcp, 2)
	require.Len(t, tcp.MCTRecords, 2)
	require.Len(t, tcp.MCCRecords, 1)
	assert.Equal(t, uint32(3), tcp.MCCRecords[0].Index)

	d := bareDecoder(2)
	for i := range tcp.MCTRecords {
		seg := appendMCT(nil, &tcp.MCTRecords[i])
		require.Len(t, seg, mctSize(&tcp.MCTRecords[i]))
		require.NoError(t, d.readMCT(seg[4:]))
	}
	require.NoError(t, d.readMCC(appendMCC(nil, tcp, &tcp.MCCRecords[0])[4:]))
	seg := appendMCO(nil, tcp)
	require.Len(t, seg, mcoSize(tcp))
	require.NoError(t, d.readMCO(seg[4:]))

	assert.Equal(t, tcp.DecodingMatrix, d.dflt.DecodingMatrix)
	assert.Equal(t, int32(10), d.dflt.Comps[0].DCLevelShift)
	assert.Equal(t, int32(-4), d.dflt.Comps[1].DCLevelShift)

	t.Run("integer elements are signed", func(t *testing.T) {
		rec := MCTRecord{Index: 1, ElementType: MCTInt16, Data: []byte{0xFF, 0xFE, 0x00, 0x03}}
		assert.Equal(t, []float32{-2, 3}, mctFloats(&rec, 2))
		rec = MCTRecord{Index: 1, ElementType: MCTInt32, Data: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
		assert.Equal(t, []float32{-1}, mctFloats(&rec, 1))
	})

	t.Run("matrix inverse", func(t *testing.T) {
		inv, err := invertMatrix([]float32{2, 1, 1, 1}, 2)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{1, -1, -1, 2}, inv, 1e-6)
		_, err = invertMatrix([]float32{1, 2, 2, 4}, 2)
		assert.ErrorIs(t, err, ErrParameter)
		_, err = invertMatrix([]float32{1, 2, 3}, 2)
		assert.ErrorIs(t, err, ErrParameter)
		assert.InDeltaSlice(t, []float64{5, 5}, mctNorms([]float32{3, 4, 4, 3}, 2), 1e-9)
	})
}
