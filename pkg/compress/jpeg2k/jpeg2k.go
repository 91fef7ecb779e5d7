// Package jpeg2k reads and writes JPEG 2000 codestreams as specified in
// ITU-T Rec. T.800 | ISO/IEC 15444-1, plus the Part-2 array based multiple
// component transform. The engine owns the marker syntax, tiling,
// tile-parts, rate allocation and the codestream index; sample coding is
// delegated to a TileCoder.
package jpeg2k

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/jpfielding/j2k.go/pkg/stream"
)

// ErrUnsupportedImage is returned for rasters the adapter cannot map
var ErrUnsupportedImage = errors.New("unsupported image type")

// Options configures Encode
type Options struct {
	DecompLevels int              // Number of decomposition levels (default: 5)
	NumLayers    int              // Number of quality layers (default: 1)
	TileWidth    int              // Tile width (0 = single tile)
	TileHeight   int              // Tile height (0 = single tile)
	Progression  ProgressionOrder // Progression order (default: LRCP)
	UseMCT       bool             // Signal the component transform for RGB
}

// DefaultOptions returns default encoding options
func DefaultOptions() *Options {
	return &Options{
		DecompLevels: 5,
		NumLayers:    1,
		TileWidth:    0,
		TileHeight:   0,
		Progression:  ProgressionLRCP,
		UseMCT:       true,
	}
}

// EncodeParams maps the options onto engine parameters for a w x h raster.
// The resolution count is lowered until the smallest tile can hold it.
func (o *Options) EncodeParams(w, h int) *EncodeParams {
	p := DefaultEncodeParams()
	side := min(w, h)
	if o.TileWidth > 0 && o.TileHeight > 0 {
		p.TileSizeOn = true
		p.TDX, p.TDY = uint32(o.TileWidth), uint32(o.TileHeight)
		side = min(side, o.TileWidth, o.TileHeight)
	}
	p.NumResolutions = min(uint32(max(o.DecompLevels, 0))+1, floorLog2(uint32(side))+1, maxResolutions-1)
	p.NumLayers = uint32(max(o.NumLayers, 1))
	p.Rates = make([]float32, p.NumLayers)
	p.Order = o.Progression
	return p
}

// Encode writes img to w as a JPEG 2000 codestream, losslessly
func Encode(w io.Writer, img image.Image, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	out, err := FromRaster(img)
	if err != nil {
		return err
	}
	params := opts.EncodeParams(int(out.X1), int(out.Y1))
	if opts.UseMCT && len(out.Comps) >= 3 {
		params.MCT = 1
	}
	return Compress(stream.NewWriter(w), out, params, RawCoder{})
}

// FromRaster copies a Gray, Gray16, RGBA or NRGBA raster into unsigned
// components on a grid anchored at the origin. RGBA drops alpha.
func FromRaster(img image.Image) (*Image, error) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid image dimensions %dx%d", ErrParameter, width, height)
	}
	var comps []ComponentParams
	switch img.(type) {
	case *image.Gray:
		comps = []ComponentParams{{Prec: 8}}
	case *image.Gray16:
		comps = []ComponentParams{{Prec: 16}}
	case *image.RGBA:
		comps = []ComponentParams{{Prec: 8}, {Prec: 8}, {Prec: 8}}
	case *image.NRGBA:
		comps = []ComponentParams{{Prec: 8}, {Prec: 8}, {Prec: 8}, {Prec: 8}}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedImage, img)
	}
	out := NewImage(0, 0, uint32(width), uint32(height), comps)
	for y := range height {
		for x := range width {
			i := y*width + x
			switch src := img.(type) {
			case *image.Gray:
				out.Comps[0].Data[i] = int32(src.GrayAt(x+b.Min.X, y+b.Min.Y).Y)
			case *image.Gray16:
				out.Comps[0].Data[i] = int32(src.Gray16At(x+b.Min.X, y+b.Min.Y).Y)
			case *image.RGBA:
				c := src.RGBAAt(x+b.Min.X, y+b.Min.Y)
				out.Comps[0].Data[i] = int32(c.R)
				out.Comps[1].Data[i] = int32(c.G)
				out.Comps[2].Data[i] = int32(c.B)
			case *image.NRGBA:
				c := src.NRGBAAt(x+b.Min.X, y+b.Min.Y)
				out.Comps[0].Data[i] = int32(c.R)
				out.Comps[1].Data[i] = int32(c.G)
				out.Comps[2].Data[i] = int32(c.B)
				out.Comps[3].Data[i] = int32(c.A)
			}
		}
	}
	return out, nil
}

// Decode reads a JPEG 2000 codestream
func Decode(r io.Reader) (image.Image, error) {
	d, hdr, err := openCodestream(r)
	if err != nil {
		return nil, err
	}
	if err := d.Decode(hdr); err != nil {
		return nil, err
	}
	if err := d.EndDecompress(); err != nil {
		return nil, err
	}
	return hdr.Raster()
}

// DecodeConfig returns the image configuration without decoding
func DecodeConfig(r io.Reader) (image.Config, error) {
	_, hdr, err := openCodestream(r)
	if err != nil {
		return image.Config{}, err
	}
	model, err := colorModel(hdr)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		Width:      int(hdr.Comps[0].W),
		Height:     int(hdr.Comps[0].H),
		ColorModel: model,
	}, nil
}

func openCodestream(r io.Reader) (*Decoder, *Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < 4 || Marker(binary.BigEndian.Uint16(data)) != MarkerSOC {
		return nil, nil, fmt.Errorf("%w: expected a SOC marker", ErrFormat)
	}
	d := NewDecoder(stream.NewMemory(data), RawCoder{}, nil)
	hdr, err := d.ReadHeader()
	if err != nil {
		return nil, nil, err
	}
	return d, hdr, nil
}

// colorModel picks the raster model for the component layout of img
func colorModel(img *Image) (color.Model, error) {
	c0 := img.Comps[0]
	for _, c := range img.Comps[1:] {
		if c.W != c0.W || c.H != c0.H || c.Prec != c0.Prec {
			return nil, fmt.Errorf("%w: components differ in size or precision", ErrUnsupportedImage)
		}
	}
	deep := c0.Prec > 8
	if c0.Prec > 16 {
		return nil, fmt.Errorf("%w: %d bit components", ErrUnsupportedImage, c0.Prec)
	}
	switch n := len(img.Comps); {
	case n == 1 && deep:
		return color.Gray16Model, nil
	case n == 1:
		return color.GrayModel, nil
	case n == 3 && deep:
		return color.RGBA64Model, nil
	case n == 3:
		return color.RGBAModel, nil
	case n == 4 && deep:
		return color.NRGBA64Model, nil
	case n == 4:
		return color.NRGBAModel, nil
	}
	return nil, fmt.Errorf("%w: %d components", ErrUnsupportedImage, len(img.Comps))
}

// Raster converts decoded planes into an image.Image; signed samples are
// re-centred on the unsigned range
func (img *Image) Raster() (image.Image, error) {
	model, err := colorModel(img)
	if err != nil {
		return nil, err
	}
	c0 := &img.Comps[0]
	w, h := int(c0.W), int(c0.H)
	for i, c := range img.Comps {
		if len(c.Data) < w*h {
			return nil, fmt.Errorf("%w: component %d holds %d of %d samples", ErrParameter, i, len(c.Data), w*h)
		}
	}
	rect := image.Rect(0, 0, w, h)
	top := 1<<c0.Prec - 1
	sample := func(comp, i int) int {
		c := &img.Comps[comp]
		v := int(c.Data[i])
		if c.Signed {
			v += 1 << (c.Prec - 1)
		}
		return clamp(v, 0, top)
	}
	switch model {
	case color.GrayModel:
		out := image.NewGray(rect)
		for i := range w * h {
			out.Pix[i] = uint8(sample(0, i))
		}
		return out, nil
	case color.Gray16Model:
		out := image.NewGray16(rect)
		for i := range w * h {
			out.SetGray16(i%w, i/w, color.Gray16{Y: uint16(sample(0, i))})
		}
		return out, nil
	case color.RGBAModel:
		out := image.NewRGBA(rect)
		for i := range w * h {
			out.SetRGBA(i%w, i/w, color.RGBA{R: uint8(sample(0, i)), G: uint8(sample(1, i)), B: uint8(sample(2, i)), A: 255})
		}
		return out, nil
	case color.RGBA64Model:
		out := image.NewRGBA64(rect)
		for i := range w * h {
			out.SetRGBA64(i%w, i/w, color.RGBA64{R: uint16(sample(0, i)), G: uint16(sample(1, i)), B: uint16(sample(2, i)), A: 0xffff})
		}
		return out, nil
	case color.NRGBAModel:
		out := image.NewNRGBA(rect)
		for i := range w * h {
			out.SetNRGBA(i%w, i/w, color.NRGBA{R: uint8(sample(0, i)), G: uint8(sample(1, i)), B: uint8(sample(2, i)), A: uint8(sample(3, i))})
		}
		return out, nil
	default:
		out := image.NewNRGBA64(rect)
		for i := range w * h {
			out.SetNRGBA64(i%w, i/w, color.NRGBA64{R: uint16(sample(0, i)), G: uint16(sample(1, i)), B: uint16(sample(2, i)), A: uint16(sample(3, i))})
		}
		return out, nil
	}
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Register format with image package
func init() {
	image.RegisterFormat("j2k", "\xff\x4f\xff\x51", Decode, DecodeConfig)
}
