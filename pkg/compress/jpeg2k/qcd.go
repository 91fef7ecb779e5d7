package jpeg2k

import (
	"fmt"
	"math"
)

// readQCD reads the quantization default segment (ITU-T T.800 A.6.4)
func (d *Decoder) readQCD(body []byte) error {
	tcp := d.tcpForState()
	rest, err := d.readSQcd(tcp, 0, body)
	if err != nil {
		return err
	}
	if rest != 0 {
		return fmt.Errorf("%w: error reading QCD marker", ErrFormat)
	}
	src := &tcp.Comps[0]
	for i := 1; i < len(tcp.Comps); i++ {
		c := &tcp.Comps[i]
		c.QuantStyle = src.QuantStyle
		c.GuardBits = src.GuardBits
		c.StepSizes = src.StepSizes
	}
	return nil
}

// readQCC reads the quantization component segment (ITU-T T.800 A.6.5)
func (d *Decoder) readQCC(body []byte) error {
	tcp := d.tcpForState()
	numComps := d.image.NumComps()
	room := compRoom(numComps)
	if len(body) < room {
		return fmt.Errorf("%w: error reading QCC marker", ErrFormat)
	}
	r := newSegmentReader(body)
	compno := r.uint(room)
	if compno >= numComps {
		return fmt.Errorf("%w: invalid component number: %d, regarding the number of components %d",
			ErrFormat, compno, numComps)
	}
	rest, err := d.readSQcd(tcp, compno, r.rest())
	if err != nil {
		return err
	}
	if rest != 0 {
		return fmt.Errorf("%w: error reading QCC marker", ErrFormat)
	}
	return nil
}

// readSQcd reads Sqcx and SPqcx into component compno and returns the bytes
// left over
func (d *Decoder) readSQcd(tcp *TileParams, compno uint32, body []byte) (int, error) {
	if len(body) < 1 {
		return 0, fmt.Errorf("%w: error reading SQcd or SQcc element", ErrFormat)
	}
	c := &tcp.Comps[compno]
	r := newSegmentReader(body)
	sq := r.u8()
	c.QuantStyle = QuantizationStyle(sq & 0x1f)
	c.GuardBits = sq >> 5

	var bands int
	switch c.QuantStyle {
	case QuantizationScalarDerived:
		bands = 1
	case QuantizationNone:
		bands = r.remaining()
	default:
		bands = r.remaining() / 2
	}
	if bands > maxBands {
		d.log.Warn("number of subbands is greater than the maximum; the rest is skipped",
			"bands", bands, "max", maxBands)
	}
	if c.QuantStyle == QuantizationNone {
		for b := range bands {
			v := r.u8()
			if b < maxBands {
				c.StepSizes[b] = StepSize{Exponent: int32(v >> 3)}
			}
		}
	} else {
		if r.remaining() < 2*bands {
			return 0, fmt.Errorf("%w: error reading SQcd or SQcc element", ErrFormat)
		}
		for b := range bands {
			v := r.u16()
			if b < maxBands {
				c.StepSizes[b] = StepSize{Exponent: int32(v >> 11), Mantissa: int32(v & 0x7ff)}
			}
		}
	}
	if c.QuantStyle == QuantizationScalarDerived {
		e0, m0 := c.StepSizes[0].Exponent, c.StepSizes[0].Mantissa
		for b := 1; b < maxBands; b++ {
			c.StepSizes[b] = StepSize{Exponent: max(e0-int32((b-1)/3), 0), Mantissa: m0}
		}
	}
	return r.remaining(), nil
}

// sqcdSize is the Sqcx+SPqcx size of a component
func sqcdSize(c *TileCompParams) int {
	if c.QuantStyle == QuantizationNone {
		return 1 + c.numBands()
	}
	return 1 + 2*c.numBands()
}

// qcdSize is the QCD segment size including the marker
func qcdSize(tcp *TileParams) int {
	return 4 + sqcdSize(&tcp.Comps[0])
}

// qccSize is the QCC segment size including the marker
func qccSize(tcp *TileParams, compno, numComps uint32) int {
	return 4 + compRoom(numComps) + sqcdSize(&tcp.Comps[compno])
}

func appendSQcd(dst []byte, c *TileCompParams) []byte {
	dst = append(dst, byte(c.QuantStyle)|byte(c.GuardBits<<5))
	for b := range c.numBands() {
		s := c.StepSizes[b]
		if c.QuantStyle == QuantizationNone {
			dst = append(dst, byte(s.Exponent<<3))
		} else {
			dst = appendUint(dst, uint32(s.Exponent<<11+s.Mantissa), 2)
		}
	}
	return dst
}

// appendQCD writes the QCD segment for tcp
func appendQCD(dst []byte, tcp *TileParams) []byte {
	dst = appendMarker(dst, MarkerQCD, qcdSize(tcp)-2)
	return appendSQcd(dst, &tcp.Comps[0])
}

// appendQCC writes the QCC segment of component compno
func appendQCC(dst []byte, tcp *TileParams, compno, numComps uint32) []byte {
	dst = appendMarker(dst, MarkerQCC, qccSize(tcp, compno, numComps)-2)
	dst = appendUint(dst, compno, compRoom(numComps))
	return appendSQcd(dst, &tcp.Comps[compno])
}

// dwtNorms holds the L2 norms of the 9/7 synthesis basis per orientation
// and level
var dwtNorms = [4][10]float64{
	{1.000, 1.965, 4.177, 8.403, 16.90, 33.84, 67.69, 135.3, 270.6, 540.9},
	{2.022, 3.989, 8.355, 17.04, 34.27, 68.63, 137.3, 274.6, 549.0},
	{2.022, 3.989, 8.355, 17.04, 34.27, 68.63, 137.3, 274.6, 549.0},
	{2.080, 3.865, 8.307, 17.18, 34.71, 69.59, 139.3, 278.6, 557.2},
}

// dwtNorm returns the norm for orient at level, extending the table by its
// last value for deeper levels
func dwtNorm(orient, level uint32) float64 {
	row := dwtNorms[orient]
	last := 9
	if orient != 0 {
		last = 8
	}
	if int(level) > last {
		return row[last]
	}
	return row[level]
}

// calcExplicitStepSizes derives the step size of every band from the
// transform, the quantization style and the component precision
func calcExplicitStepSizes(c *TileCompParams, prec uint32) {
	numBands := 3*c.NumResolutions - 2
	for b := range numBands {
		var resno, orient uint32
		if b != 0 {
			resno = (b-1)/3 + 1
			orient = (b-1)%3 + 1
		}
		level := c.NumResolutions - 1 - resno
		var gain uint32
		if c.Transform != TransformIrreversible97 {
			switch orient {
			case 1, 2:
				gain = 1
			case 3:
				gain = 2
			}
		}
		step := 1.0
		if c.QuantStyle != QuantizationNone {
			step = float64(uint32(1)<<gain) / dwtNorm(orient, level)
		}
		c.StepSizes[b] = encodeStepSize(int32(math.Floor(step*8192.0)), int32(prec+gain))
	}
}

// encodeStepSize splits a 13 bit fixed point step into exponent and mantissa
func encodeStepSize(step, numbps int32) StepSize {
	p := int32(floorLog2(step)) - 13
	n := 11 - int32(floorLog2(step))
	var mant int32
	if n < 0 {
		mant = step >> -n
	} else {
		mant = step << n
	}
	return StepSize{Exponent: numbps - p, Mantissa: mant & 0x7ff}
}
