package jpeg2k

import (
	"fmt"
	"slices"

	"golang.org/x/text/encoding/charmap"
)

// Comment registration values (ITU-T T.800 Table A.44)
const (
	CommentBinary = 0
	CommentLatin  = 1
)

// readCOM reads a comment segment (ITU-T T.800 A.9.2)
func (d *Decoder) readCOM(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: error reading COM marker", ErrFormat)
	}
	r := newSegmentReader(body)
	c := Comment{Registration: uint16(r.u16())}
	data := r.rest()
	switch c.Registration {
	case CommentLatin:
		text, err := charmap.ISO8859_15.NewDecoder().Bytes(data)
		if err != nil {
			return fmt.Errorf("%w: COM text: %v", ErrFormat, err)
		}
		c.Text = string(text)
	default:
		c.Data = slices.Clone(data)
	}
	d.cp.Comments = append(d.cp.Comments, c)
	return nil
}

// latin1 encodes s for a Latin COM segment; characters outside ISO-8859-15
// are an error
func latin1(s string) ([]byte, error) {
	b, err := charmap.ISO8859_15.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("%w: comment is not ISO-8859-15: %v", ErrParameter, err)
	}
	return []byte(b), nil
}

func comSize(n int) int {
	return 6 + n
}

// appendCOM writes a Latin comment segment from already encoded text
func appendCOM(dst []byte, text []byte) []byte {
	dst = appendMarker(dst, MarkerCOM, comSize(len(text))-2)
	dst = appendUint(dst, CommentLatin, 2)
	return append(dst, text...)
}

// readCRG validates the component registration segment (ITU-T T.800 A.9.1);
// offsets are not used
func (d *Decoder) readCRG(body []byte) error {
	if len(body) != 4*len(d.image.Comps) {
		return fmt.Errorf("%w: error reading CRG marker", ErrFormat)
	}
	return nil
}

func crgSize(numComps int) int {
	return 4 + 4*numComps
}

// appendCRG writes Xcrg/Ycrg for every component
func appendCRG(dst []byte, offsets [][2]uint16) []byte {
	dst = appendMarker(dst, MarkerCRG, crgSize(len(offsets))-2)
	for _, o := range offsets {
		dst = appendUint(dst, uint32(o[0]), 2)
		dst = appendUint(dst, uint32(o[1]), 2)
	}
	return dst
}
