package jpeg2k

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Gray8_SmallImage(t *testing.T) {
	// Create a small grayscale image
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 8)})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.NoError(t, err)
	assert.True(t, buf.Len() > 0, "encoded data should not be empty")

	// Verify SOC marker at start
	data := buf.Bytes()
	assert.Equal(t, byte(0xFF), data[0])
	assert.Equal(t, byte(0x4F), data[1])
}

func TestEncode_Gray16_SmallImage(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16((x + y) * 2048)})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.NoError(t, err)
	assert.True(t, buf.Len() > 0)
}

func TestEncode_RGBA_SmallImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.NoError(t, err)
	assert.True(t, buf.Len() > 0)
}

func TestEncode_InvalidDimensions(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 0, 0))
	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.Error(t, err)
}

func TestEncode_WithOptions(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x ^ y)})
		}
	}

	opts := &Options{
		DecompLevels: 3,
		NumLayers:    1,
		Progression:  ProgressionLRCP,
	}

	var buf bytes.Buffer
	err := Encode(&buf, img, opts)
	require.NoError(t, err)
	assert.True(t, buf.Len() > 0)
}

func TestDecode_InvalidData(t *testing.T) {
	// Empty data
	_, err := Decode(bytes.NewReader([]byte{}))
	require.Error(t, err)

	// Too short
	_, err = Decode(bytes.NewReader([]byte{0xFF}))
	require.Error(t, err)

	// Wrong magic
	_, err = Decode(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	require.Error(t, err)
}

func TestDecodeConfig_InvalidData(t *testing.T) {
	_, err := DecodeConfig(bytes.NewReader([]byte{}))
	require.Error(t, err)

	_, err = DecodeConfig(bytes.NewReader([]byte{0xFF, 0x4F})) // Just SOC, no SIZ
	require.Error(t, err)
}

func TestRoundTrip_Gray8(t *testing.T) {
	// Create a gradient image
	width, height := 32, 32
	original := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			original.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	// Encode
	var buf bytes.Buffer
	err := Encode(&buf, original, nil)
	require.NoError(t, err)

	// Decode
	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	// Verify dimensions
	bounds := decoded.Bounds()
	assert.Equal(t, width, bounds.Dx())
	assert.Equal(t, height, bounds.Dy())

	// Verify pixel values (lossless should be exact)
	gray, ok := decoded.(*image.Gray)
	require.True(t, ok, "decoded image should be Gray")

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			expected := original.GrayAt(x, y).Y
			actual := gray.GrayAt(x, y).Y
			assert.Equal(t, expected, actual, "pixel mismatch at (%d, %d)", x, y)
		}
	}
}

func TestRoundTrip_Gray16(t *testing.T) {
	width, height := 32, 32
	original := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			original.SetGray16(x, y, color.Gray16{Y: uint16((x + y) * 1024)})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, original, nil)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	assert.Equal(t, width, bounds.Dx())
	assert.Equal(t, height, bounds.Dy())

	gray16, ok := decoded.(*image.Gray16)
	require.True(t, ok, "decoded image should be Gray16")

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			expected := original.Gray16At(x, y).Y
			actual := gray16.Gray16At(x, y).Y
			assert.Equal(t, expected, actual, "pixel mismatch at (%d, %d)", x, y)
		}
	}
}

func TestRoundTrip_RGBA(t *testing.T) {
	width, height := 32, 32
	original := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			original.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 8),
				G: uint8(y * 8),
				B: uint8((x + y) * 4),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, original, nil)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	assert.Equal(t, width, bounds.Dx())
	assert.Equal(t, height, bounds.Dy())

	rgba, ok := decoded.(*image.RGBA)
	require.True(t, ok, "decoded image should be RGBA")

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			expected := original.RGBAAt(x, y)
			actual := rgba.RGBAAt(x, y)
			assert.Equal(t, expected.R, actual.R, "R mismatch at (%d, %d)", x, y)
			assert.Equal(t, expected.G, actual.G, "G mismatch at (%d, %d)", x, y)
			assert.Equal(t, expected.B, actual.B, "B mismatch at (%d, %d)", x, y)
		}
	}
}

func TestRoundTrip_SolidColor(t *testing.T) {
	// Solid color should compress very well
	width, height := 64, 64
	original := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			original.SetGray(x, y, color.Gray{Y: 128})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, original, nil)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			assert.Equal(t, uint8(128), gray.GrayAt(x, y).Y)
		}
	}
}

func TestRoundTrip_NonPowerOfTwo(t *testing.T) {
	// Test non-power-of-2 dimensions
	width, height := 33, 27
	original := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			original.SetGray(x, y, color.Gray{Y: uint8((x * y) % 256)})
		}
	}

	var buf bytes.Buffer
	err := Encode(&buf, original, nil)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	assert.Equal(t, width, bounds.Dx())
	assert.Equal(t, height, bounds.Dy())

	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			expected := original.GrayAt(x, y).Y
			actual := gray.GrayAt(x, y).Y
			assert.Equal(t, expected, actual, "pixel mismatch at (%d, %d)", x, y)
		}
	}
}

func TestDecodeConfig_Gray(t *testing.T) {
	width, height := 48, 32
	img := image.NewGray(image.Rect(0, 0, width, height))

	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.NoError(t, err)

	config, err := DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, width, config.Width)
	assert.Equal(t, height, config.Height)
	assert.Equal(t, color.GrayModel, config.ColorModel)
}

func TestDecodeConfig_RGBA(t *testing.T) {
	width, height := 48, 32
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	require.NoError(t, err)

	config, err := DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, width, config.Width)
	assert.Equal(t, height, config.Height)
	assert.Equal(t, color.RGBAModel, config.ColorModel)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 5, opts.DecompLevels)
	assert.Equal(t, 1, opts.NumLayers)
	assert.Equal(t, ProgressionLRCP, opts.Progression)
	assert.True(t, opts.UseMCT)
}

func BenchmarkEncode_Gray_64x64(b *testing.B) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		Encode(&buf, img, nil)
	}
}

func BenchmarkDecode_Gray_64x64(b *testing.B) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	var buf bytes.Buffer
	Encode(&buf, img, nil)
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decode(bytes.NewReader(data))
	}
}

func BenchmarkRoundTrip_Gray_256x256(b *testing.B) {
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x ^ y)})
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		Encode(&buf, img, nil)
		Decode(bytes.NewReader(buf.Bytes()))
	}
}

func TestEncode_Unsupported(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	err := Encode(&buf, img, nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
	assert.Zero(t, buf.Len())
}

func TestRoundTrip_NRGBA(t *testing.T) {
	original := image.NewNRGBA(image.Rect(0, 0, 24, 16))
	for y := range 16 {
		for x := range 24 {
			original.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 15), B: uint8(x ^ y), A: uint8(255 - x)})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, original, &Options{DecompLevels: 2, NumLayers: 2, TileWidth: 16, TileHeight: 8, Progression: ProgressionRPCL, UseMCT: true}))

	decoded, format, err := image.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "j2k", format)
	nrgba, ok := decoded.(*image.NRGBA)
	require.True(t, ok, "decoded image should be NRGBA")
	assert.Equal(t, original.Pix, nrgba.Pix)
}

func TestFromRaster_SubImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = uint8(i)
	}
	sub := src.SubImage(image.Rect(2, 3, 6, 5)).(*image.Gray)
	img, err := FromRaster(sub)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), img.X1)
	assert.Equal(t, uint32(2), img.Y1)
	assert.Equal(t, []int32{26, 27, 28, 29, 34, 35, 36, 37}, img.Comps[0].Data)
}

func TestOptions_EncodeParams(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		w, h       int
		wantNumRes uint32
		wantTiled  bool
	}{
		{name: "default", opts: *DefaultOptions(), w: 256, h: 256, wantNumRes: 6},
		{name: "small image", opts: *DefaultOptions(), w: 16, h: 40, wantNumRes: 5},
		{name: "tiny image", opts: *DefaultOptions(), w: 3, h: 3, wantNumRes: 2},
		{name: "small tiles", opts: Options{DecompLevels: 5, TileWidth: 8, TileHeight: 16}, w: 64, h: 64, wantNumRes: 4, wantTiled: true},
		{name: "no decomposition", opts: Options{}, w: 64, h: 64, wantNumRes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.opts.EncodeParams(tt.w, tt.h)
			assert.Equal(t, tt.wantNumRes, p.NumResolutions)
			assert.Equal(t, tt.wantTiled, p.TileSizeOn)
			assert.Equal(t, max(uint32(tt.opts.NumLayers), 1), p.NumLayers)
			assert.Len(t, p.Rates, int(p.NumLayers))
		})
	}
}

func TestRaster_Signed(t *testing.T) {
	img := NewImage(0, 0, 3, 1, []ComponentParams{{Prec: 8, Signed: true}})
	img.Comps[0].Data = []int32{-128, 0, 127}
	out, err := img.Raster()
	require.NoError(t, err)
	gray, ok := out.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []uint8{0, 128, 255}, gray.Pix)
}

func TestRaster_Unsupported(t *testing.T) {
	tests := []struct {
		name  string
		comps []ComponentParams
	}{
		{name: "two components", comps: []ComponentParams{{Prec: 8}, {Prec: 8}}},
		{name: "mixed precision", comps: []ComponentParams{{Prec: 8}, {Prec: 12}, {Prec: 8}}},
		{name: "subsampled", comps: []ComponentParams{{Prec: 8}, {Prec: 8, DX: 2}, {Prec: 8}}},
		{name: "deep", comps: []ComponentParams{{Prec: 20}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImage(0, 0, 4, 4, tt.comps).Raster()
			assert.ErrorIs(t, err, ErrUnsupportedImage)
		})
	}
}

func TestDecodeConfig_Deep(t *testing.T) {
	var buf bytes.Buffer
	img := rgb(20, 12, 12)
	require.NoError(t, Compress(stream.NewWriter(&buf), img, params(3), nil))

	config, err := DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 20, config.Width)
	assert.Equal(t, 12, config.Height)
	assert.Equal(t, color.RGBA64Model, config.ColorModel)

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	r, g, b, a := decoded.At(3, 2).RGBA()
	want := func(comp int) uint32 { return uint32(img.Comps[comp].Data[2*20+3]) }
	assert.Equal(t, []uint32{want(0), want(1), want(2), 0xffff}, []uint32{r, g, b, a})
}
