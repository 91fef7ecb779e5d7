package jpeg2k

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samber/lo"
)

// readMCT reads a multiple component transformation array (ITU-T T.801 A.3.7)
func (d *Decoder) readMCT(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading MCT marker", ErrFormat)
	}
	r := newSegmentReader(body)
	if z := r.u16(); z != 0 {
		d.log.Warn("cannot take in charge mct data within multiple MCT records", "zmct", z)
		return nil
	}
	if len(body) <= 6 {
		return fmt.Errorf("%w: error reading MCT marker", ErrFormat)
	}
	imct := r.u16()
	if y := r.u16(); y != 0 {
		d.log.Warn("cannot take in charge multiple MCT markers", "ymct", y)
		return nil
	}
	rec := MCTRecord{
		Index:       imct & 0xff,
		ArrayType:   MCTArrayType(imct >> 8 & 3),
		ElementType: MCTElementType(imct >> 10 & 3),
		Data:        append([]byte(nil), r.rest()...),
	}
	tcp := d.tcpForState()
	if i := tcp.findMCT(rec.Index); i >= 0 {
		tcp.MCTRecords[i] = rec
	} else {
		tcp.MCTRecords = append(tcp.MCTRecords, rec)
	}
	return nil
}

func mctSize(rec *MCTRecord) int {
	return 10 + len(rec.Data)
}

// appendMCT writes one MCT record as a single segment
func appendMCT(dst []byte, rec *MCTRecord) []byte {
	dst = appendMarker(dst, MarkerMCT, mctSize(rec)-2)
	dst = appendUint(dst, 0, 2) // Zmct
	imct := rec.Index&0xff | uint32(rec.ArrayType)<<8 | uint32(rec.ElementType)<<10
	dst = appendUint(dst, imct, 2)
	dst = appendUint(dst, 0, 2) // Ymct
	return append(dst, rec.Data...)
}

// readMCC reads a multiple component collection (ITU-T T.801 A.3.8). Only a
// single array decorrelation collection over the identity component list
// is taken in charge; anything else is skipped with a warning.
func (d *Decoder) readMCC(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
	}
	r := newSegmentReader(body)
	if z := r.u16(); z != 0 {
		d.log.Warn("cannot take in charge multiple data spanning", "zmcc", z)
		return nil
	}
	if len(body) < 7 {
		return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
	}
	tcp := d.tcpForState()
	rec := MCCRecord{Index: r.u8(), Decorrelation: -1, Offset: -1}
	if y := r.u16(); y != 0 {
		d.log.Warn("cannot take in charge multiple data spanning", "ymcc", y)
		return nil
	}
	collections := r.u16()
	if collections > 1 {
		d.log.Warn("cannot take in charge multiple collections", "qmcc", collections)
		return nil
	}
	for range collections {
		if r.remaining() < 3 {
			return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
		}
		if x := r.u8(); x != 1 {
			d.log.Warn("cannot take in charge collections other than array decorrelation", "xmcc", x)
			return nil
		}
		n := r.u16()
		width := int(1 + n>>15)
		rec.NumComps = n & 0x7fff
		if r.remaining() < width*int(rec.NumComps)+2 {
			return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
		}
		for j := range rec.NumComps {
			if v := r.uint(width); v != j {
				d.log.Warn("cannot take in charge collections with index shuffle", "cmcc", v, "want", j)
				return nil
			}
		}
		m := r.u16()
		width = int(1 + m>>15)
		if m&0x7fff != rec.NumComps {
			d.log.Warn("cannot take in charge collections without same number of indexes",
				"nmcc", rec.NumComps, "mmcc", m&0x7fff)
			return nil
		}
		if r.remaining() < width*int(rec.NumComps)+3 {
			return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
		}
		for j := range rec.NumComps {
			if v := r.uint(width); v != j {
				d.log.Warn("cannot take in charge collections with index shuffle", "wmcc", v, "want", j)
				return nil
			}
		}
		t := r.uint(3)
		rec.Irreversible = t>>16&1 == 0
		if deco := t & 0xff; deco != 0 {
			if rec.Decorrelation = tcp.findMCT(deco); rec.Decorrelation < 0 {
				return fmt.Errorf("%w: error reading MCC marker (decorrelation array %d not found)", ErrFormat, deco)
			}
		}
		if off := t >> 8 & 0xff; off != 0 {
			if rec.Offset = tcp.findMCT(off); rec.Offset < 0 {
				return fmt.Errorf("%w: error reading MCC marker (offset array %d not found)", ErrFormat, off)
			}
		}
	}
	if r.remaining() != 0 {
		return fmt.Errorf("%w: error reading MCC marker", ErrFormat)
	}
	if i := tcp.findMCC(rec.Index); i >= 0 {
		tcp.MCCRecords[i] = rec
	} else {
		tcp.MCCRecords = append(tcp.MCCRecords, rec)
	}
	return nil
}

func mccSize(rec *MCCRecord) int {
	return 19 + 2*int(rec.NumComps)*compRoom(rec.NumComps)
}

// appendMCC writes one collection; MCT references resolve against tcp
func appendMCC(dst []byte, tcp *TileParams, rec *MCCRecord) []byte {
	width := compRoom(rec.NumComps)
	var mask uint32
	if width == 2 {
		mask = 0x8000
	}
	dst = appendMarker(dst, MarkerMCC, mccSize(rec)-2)
	dst = appendUint(dst, 0, 2) // Zmcc
	dst = append(dst, byte(rec.Index))
	dst = appendUint(dst, 0, 2) // Ymcc
	dst = appendUint(dst, 1, 2) // Qmcc
	dst = append(dst, 1)        // Xmcc: array based decorrelation
	for range 2 {
		dst = appendUint(dst, rec.NumComps|mask, 2)
		for j := range rec.NumComps {
			dst = appendUint(dst, j, width)
		}
	}
	var t uint32
	if !rec.Irreversible {
		t = 1 << 16
	}
	if rec.Decorrelation >= 0 {
		t |= tcp.MCTRecords[rec.Decorrelation].Index & 0xff
	}
	if rec.Offset >= 0 {
		t |= (tcp.MCTRecords[rec.Offset].Index & 0xff) << 8
	}
	return appendUint(dst, t, 3)
}

// readMCO reads the transform ordering (ITU-T T.801 A.3.9) and applies the
// collections it names
func (d *Decoder) readMCO(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: error reading MCO marker", ErrFormat)
	}
	stages := int(body[0])
	if stages > 1 {
		d.log.Warn("cannot take in charge multiple transformation stages", "nmco", stages)
		return nil
	}
	if len(body) != stages+1 {
		return fmt.Errorf("%w: error reading MCO marker", ErrFormat)
	}
	tcp := d.tcpForState()
	for i := range tcp.Comps {
		tcp.Comps[i].DCLevelShift = 0
	}
	tcp.DecodingMatrix = nil
	for _, idx := range body[1:] {
		if err := addMCT(tcp, d.image.NumComps(), uint32(idx)); err != nil {
			return err
		}
	}
	return nil
}

// addMCT applies collection index to tcp: its decorrelation array becomes
// the decoding matrix and its offset array the DC level shifts
func addMCT(tcp *TileParams, numComps uint32, index uint32) error {
	i := tcp.findMCC(index)
	if i < 0 {
		return nil
	}
	mcc := &tcp.MCCRecords[i]
	if mcc.NumComps != numComps {
		return nil
	}
	n := int(numComps)
	if mcc.Decorrelation >= 0 {
		arr := &tcp.MCTRecords[mcc.Decorrelation]
		if len(arr.Data) != arr.ElementType.Size()*n*n {
			return fmt.Errorf("%w: MCT decorrelation array size %d for %d components", ErrFormat, len(arr.Data), n)
		}
		tcp.DecodingMatrix = mctFloats(arr, n*n)
	}
	if mcc.Offset >= 0 {
		arr := &tcp.MCTRecords[mcc.Offset]
		if len(arr.Data) != arr.ElementType.Size()*n {
			return fmt.Errorf("%w: MCT offset array size %d for %d components", ErrFormat, len(arr.Data), n)
		}
		for c, v := range mctFloats(arr, n) {
			tcp.Comps[c].DCLevelShift = int32(v)
		}
	}
	return nil
}

// mctFloats decodes n big-endian elements of arr
func mctFloats(arr *MCTRecord, n int) []float32 {
	out := make([]float32, n)
	size := arr.ElementType.Size()
	for i := range out {
		b := arr.Data[i*size:]
		switch arr.ElementType {
		case MCTInt16:
			out[i] = float32(int16(binary.BigEndian.Uint16(b)))
		case MCTInt32:
			out[i] = float32(int32(binary.BigEndian.Uint32(b)))
		case MCTFloat32:
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(b))
		case MCTFloat64:
			out[i] = float32(math.Float64frombits(binary.BigEndian.Uint64(b)))
		}
	}
	return out
}

// float32Data encodes values as big-endian float32 MCT elements
func float32Data(values []float32) []byte {
	out := make([]byte, 0, 4*len(values))
	for _, v := range values {
		out = binary.BigEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func mcoSize(tcp *TileParams) int {
	return 5 + len(tcp.MCCRecords)
}

// appendMCO writes one stage per collection
func appendMCO(dst []byte, tcp *TileParams) []byte {
	dst = appendMarker(dst, MarkerMCO, mcoSize(tcp)-2)
	dst = append(dst, byte(len(tcp.MCCRecords)))
	for _, m := range tcp.MCCRecords {
		dst = append(dst, byte(m.Index))
	}
	return dst
}

// readCBD reads the component bit depth segment (ITU-T T.801 A.2.5)
func (d *Decoder) readCBD(body []byte) error {
	numComps := d.image.NumComps()
	if len(body) != int(numComps)+2 {
		return fmt.Errorf("%w: error reading CBD marker", ErrFormat)
	}
	r := newSegmentReader(body)
	if n := r.u16(); n != numComps {
		return fmt.Errorf("%w: error reading CBD marker (%d components, image has %d)", ErrFormat, n, numComps)
	}
	for i := range d.image.Comps {
		b := r.u8()
		d.image.Comps[i].Signed = b>>7&1 != 0
		d.image.Comps[i].Prec = b&0x7f + 1
	}
	return nil
}

func cbdSize(numComps int) int {
	return 6 + numComps
}

// appendCBD writes the bit depth of every component
func appendCBD(dst []byte, img *Image) []byte {
	dst = appendMarker(dst, MarkerCBD, cbdSize(len(img.Comps))-2)
	dst = appendUint(dst, uint32(len(img.Comps)), 2)
	for _, c := range img.Comps {
		b := byte(c.Prec-1) & 0x7f
		if c.Signed {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// setupMCTEncoding turns the inverse of the custom matrix and the DC shifts
// into MCT arrays and one collection referencing them
func setupMCTEncoding(tcp *TileParams, numComps uint32) {
	if tcp.MCT != 2 {
		return
	}
	index := uint32(1)
	rec := MCCRecord{Irreversible: true, NumComps: numComps, Decorrelation: -1, Offset: -1}
	if tcp.DecodingMatrix != nil {
		tcp.MCTRecords = append(tcp.MCTRecords, MCTRecord{
			Index:       index,
			ArrayType:   MCTDecorrelation,
			ElementType: MCTFloat32,
			Data:        float32Data(tcp.DecodingMatrix),
		})
		rec.Decorrelation = len(tcp.MCTRecords) - 1
		index++
	}
	shifts := lo.Map(tcp.Comps, func(c TileCompParams, _ int) float32 { return float32(c.DCLevelShift) })
	tcp.MCTRecords = append(tcp.MCTRecords, MCTRecord{
		Index:       index,
		ArrayType:   MCTOffset,
		ElementType: MCTFloat32,
		Data:        float32Data(shifts),
	})
	rec.Offset = len(tcp.MCTRecords) - 1
	index++
	rec.Index = index
	tcp.MCCRecords = append(tcp.MCCRecords, rec)
}

// invertMatrix inverts the n x n row-major matrix m by Gauss-Jordan
// elimination with partial pivoting
func invertMatrix(m []float32, n int) ([]float32, error) {
	if len(m) != n*n {
		return nil, fmt.Errorf("%w: matrix has %d elements, want %d", ErrParameter, len(m), n*n)
	}
	a := make([]float64, n*n)
	inv := make([]float64, n*n)
	for i := range a {
		a[i] = float64(m[i])
	}
	for i := range n {
		inv[i*n+i] = 1
	}
	for col := range n {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r*n+col]) > math.Abs(a[pivot*n+col]) {
				pivot = r
			}
		}
		if a[pivot*n+col] == 0 {
			return nil, fmt.Errorf("%w: singular matrix", ErrParameter)
		}
		if pivot != col {
			for k := range n {
				a[col*n+k], a[pivot*n+k] = a[pivot*n+k], a[col*n+k]
				inv[col*n+k], inv[pivot*n+k] = inv[pivot*n+k], inv[col*n+k]
			}
		}
		p := a[col*n+col]
		for k := range n {
			a[col*n+k] /= p
			inv[col*n+k] /= p
		}
		for r := range n {
			if r == col {
				continue
			}
			f := a[r*n+col]
			if f == 0 {
				continue
			}
			for k := range n {
				a[r*n+k] -= f * a[col*n+k]
				inv[r*n+k] -= f * inv[col*n+k]
			}
		}
	}
	out := make([]float32, n*n)
	for i, v := range inv {
		out[i] = float32(v)
	}
	return out, nil
}

// mctNorms returns the L2 norm of every column of the n x n matrix m
func mctNorms(m []float32, n int) []float64 {
	norms := make([]float64, n)
	for i := range n {
		var s float64
		for j := range n {
			v := float64(m[j*n+i])
			s += v * v
		}
		norms[i] = math.Sqrt(s)
	}
	return norms
}
