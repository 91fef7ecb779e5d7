package jpeg2k

import (
	"fmt"
	"slices"
)

// Component is one image component. X0, Y0, W and H are in component
// coordinates after the resolution reduction Factor.
type Component struct {
	DX         uint32  `json:"dx"`
	DY         uint32  `json:"dy"`
	W          uint32  `json:"w"`
	H          uint32  `json:"h"`
	X0         uint32  `json:"x0"`
	Y0         uint32  `json:"y0"`
	Prec       uint32  `json:"prec"`
	Signed     bool    `json:"sgnd"`
	Factor     uint32  `json:"factor"`
	ResDecoded uint32  `json:"resno_decoded"`
	Data       []int32 `json:"-"`
}

// Image is the reference grid and its components
type Image struct {
	X0    uint32      `json:"x0"`
	Y0    uint32      `json:"y0"`
	X1    uint32      `json:"x1"`
	Y1    uint32      `json:"y1"`
	Comps []Component `json:"comps"`
}

// ComponentParams describes a component for NewImage
type ComponentParams struct {
	DX, DY uint32
	Prec   uint32
	Signed bool
}

// NewImage creates an image on the grid [x0,x1)x[y0,y1) with a zeroed
// sample plane per component
func NewImage(x0, y0, x1, y1 uint32, comps []ComponentParams) *Image {
	img := &Image{X0: x0, Y0: y0, X1: x1, Y1: y1, Comps: make([]Component, len(comps))}
	for i, p := range comps {
		c := &img.Comps[i]
		c.DX, c.DY = max(p.DX, 1), max(p.DY, 1)
		c.Prec, c.Signed = p.Prec, p.Signed
		c.X0 = ceilDiv(x0, c.DX)
		c.Y0 = ceilDiv(y0, c.DY)
		c.W = ceilDiv(x1, c.DX) - c.X0
		c.H = ceilDiv(y1, c.DY) - c.Y0
		c.Data = make([]int32, int(c.W)*int(c.H))
	}
	return img
}

// NumComps returns the number of components
func (img *Image) NumComps() uint32 {
	return uint32(len(img.Comps))
}

// cloneHeader copies the geometry without sample data
func (img *Image) cloneHeader() *Image {
	c := *img
	c.Comps = slices.Clone(img.Comps)
	for i := range c.Comps {
		c.Comps[i].Data = nil
	}
	return &c
}

// updateComponents recomputes the component rectangles for the grid area of img
// at the component's factor
func (img *Image) updateComponents() error {
	for i := range img.Comps {
		c := &img.Comps[i]
		x0 := ceilDiv(int64(img.X0), int64(c.DX))
		y0 := ceilDiv(int64(img.Y0), int64(c.DY))
		x1 := ceilDiv(int64(img.X1), int64(c.DX))
		y1 := ceilDiv(int64(img.Y1), int64(c.DY))
		w := ceilDivPow2(x1, c.Factor) - ceilDivPow2(x0, c.Factor)
		if w < 0 {
			return fmt.Errorf("%w: size x of the decoded component image is incorrect (comp[%d].w=%d)", ErrParameter, i, w)
		}
		h := ceilDivPow2(y1, c.Factor) - ceilDivPow2(y0, c.Factor)
		if h < 0 {
			return fmt.Errorf("%w: size y of the decoded component image is incorrect (comp[%d].h=%d)", ErrParameter, i, h)
		}
		c.X0, c.Y0 = uint32(x0), uint32(y0)
		c.W, c.H = uint32(w), uint32(h)
	}
	return nil
}
