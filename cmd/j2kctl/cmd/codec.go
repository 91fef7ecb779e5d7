package cmd

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/j2k.go/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/spf13/cobra"
)

// NewDecodeCmd decodes a codestream, or a window of it, into a PNG
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "JPEG 2000 decode to PNG",
		Long:  "Decodes a raw codestream written with the raw tile coder into a PNG, optionally reduced, windowed or limited to one tile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			out, _ := cmd.Flags().GetString("out")
			insecure, _ := cmd.Flags().GetBool("insecure")
			reduce, _ := cmd.Flags().GetUint32("reduce")
			layers, _ := cmd.Flags().GetUint32("layers")
			tile, _ := cmd.Flags().GetInt("tile")
			area, _ := cmd.Flags().GetUintSlice("area")
			if uri == "" && len(args) > 0 {
				uri = args[0]
			}
			if uri == "" {
				return fmt.Errorf("a codestream is required. Use --uri or provide it as argument")
			}
			data, err := readURI(ctx, uri, insecure)
			if err != nil {
				return err
			}
			d := jpeg2k.NewDecoder(stream.NewMemory(data), nil, &jpeg2k.DecodeOptions{Layers: layers, Logger: slog.Default()})
			img, err := d.ReadHeader()
			if err != nil {
				return err
			}
			if reduce > 0 {
				if err := d.SetResolutionFactor(img, reduce); err != nil {
					return err
				}
			}
			switch {
			case tile >= 0:
				err = d.GetTile(img, uint32(tile))
			case len(area) == 4:
				if err = d.SetDecodeArea(img, uint32(area[0]), uint32(area[1]), uint32(area[2]), uint32(area[3])); err == nil {
					err = d.Decode(img)
				}
			case len(area) != 0:
				return fmt.Errorf("--area takes x0,y0,x1,y1")
			default:
				err = d.Decode(img)
			}
			if err != nil {
				return err
			}
			if err := d.EndDecompress(); err != nil {
				return err
			}
			raster, err := img.Raster()
			if err != nil {
				return err
			}
			return writeOutput(out, func(w io.Writer) error { return png.Encode(w, raster) })
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "codestream path, URL or - for stdin")
	pf.StringP("out", "o", "-", "PNG output path, - for stdout")
	pf.Bool("insecure", false, "skip TLS verification for URLs")
	pf.Uint32("reduce", 0, "resolution levels to discard")
	pf.Uint32("layers", 0, "quality layers to decode, 0 for all")
	pf.Int("tile", -1, "decode this tile only")
	pf.UintSlice("area", nil, "decode window x0,y0,x1,y1 on the reference grid")
	return cmd
}

// NewEncodeCmd encodes a PNG into a codestream with the raw tile coder
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "PNG encode to JPEG 2000",
		Long:  "Encodes a Gray, Gray16, RGBA or NRGBA PNG into a raw codestream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			if in == "" && len(args) > 0 {
				in = args[0]
			}
			if in == "" || out == "" {
				return fmt.Errorf("--in and --out are required")
			}
			raster, err := readPNG(in)
			if err != nil {
				return err
			}
			img, err := jpeg2k.FromRaster(raster)
			if err != nil {
				return err
			}
			params, err := encodeParams(cmd, int(img.X1), int(img.Y1))
			if err != nil {
				return err
			}
			f, err := stream.CreateFile(out)
			if err != nil {
				return err
			}
			defer f.Close()
			e := jpeg2k.NewEncoder(f, nil)
			if err := e.Setup(img, params); err != nil {
				return err
			}
			if err := e.StartCompress(); err != nil {
				return err
			}
			if err := e.Encode(); err != nil {
				return err
			}
			if err := e.EndCompress(); err != nil {
				return err
			}
			slog.InfoContext(ctx, "encoded", "out", out, "bytes", f.Tell(), "tiles", len(e.Index().Tiles))
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "PNG input path, - for stdin")
	pf.StringP("out", "o", "", "codestream output path")
	pf.Int("levels", 5, "decomposition levels")
	pf.Int("layers", 1, "quality layers")
	pf.Int("tile-width", 0, "tile width, 0 for a single tile")
	pf.Int("tile-height", 0, "tile height, 0 for a single tile")
	pf.String("order", "LRCP", "progression order (LRCP|RLCP|RPCL|PCRL|CPRL)")
	pf.String("tile-parts", "", "split tiles into tile-parts after R, L, C or P")
	pf.Bool("tlm", false, "write tile-part lengths")
	pf.Bool("plt", false, "write a packet length segment in every tile-part header")
	pf.String("comment", "Created by j2kctl", "COM text")
	pf.String("cinema", "", "digital cinema profile (2k|4k)")
	return cmd
}

func encodeParams(cmd *cobra.Command, w, h int) (*jpeg2k.EncodeParams, error) {
	levels, _ := cmd.Flags().GetInt("levels")
	layers, _ := cmd.Flags().GetInt("layers")
	tw, _ := cmd.Flags().GetInt("tile-width")
	th, _ := cmd.Flags().GetInt("tile-height")
	order, _ := cmd.Flags().GetString("order")
	tileParts, _ := cmd.Flags().GetString("tile-parts")
	tlm, _ := cmd.Flags().GetBool("tlm")
	plt, _ := cmd.Flags().GetBool("plt")
	comment, _ := cmd.Flags().GetString("comment")
	cinema, _ := cmd.Flags().GetString("cinema")

	prog, err := jpeg2k.ParseProgressionOrder(order)
	if err != nil {
		return nil, err
	}
	opts := &jpeg2k.Options{DecompLevels: levels, NumLayers: layers, TileWidth: tw, TileHeight: th, Progression: prog}
	p := opts.EncodeParams(w, h)
	p.WriteTLM = tlm
	p.WritePLT = plt
	p.Comment = comment
	p.Logger = slog.Default()
	switch tp := strings.ToUpper(tileParts); tp {
	case "":
	case "R", "L", "C", "P":
		p.TileParts = true
		p.TilePartFlag = tp[0]
	default:
		return nil, fmt.Errorf("--tile-parts takes R, L, C or P, not %q", tileParts)
	}
	switch strings.ToLower(cinema) {
	case "":
	case "2k":
		p.Rsiz = jpeg2k.ProfileCinema2K
	case "4k":
		p.Rsiz = jpeg2k.ProfileCinema4K
	default:
		return nil, fmt.Errorf("--cinema takes 2k or 4k, not %q", cinema)
	}
	return p, nil
}

func readPNG(path string) (image.Image, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %v", err)
		}
		defer f.Close()
		r = f
	}
	return png.Decode(r)
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "-" || path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
