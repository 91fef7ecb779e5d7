package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jpfielding/j2k.go/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/jpfielding/j2k.go/pkg/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// headerSummary is what info reports for one codestream
type headerSummary struct {
	File        string               `json:"file"`
	Fingerprint string               `json:"fingerprint"`
	Image       *jpeg2k.Image        `json:"image"`
	Coding      *jpeg2k.CodingParams `json:"coding"`
	Default     *jpeg2k.TileParams   `json:"default_tile"`
}

// NewInfoCmd reads the main header of every file given, concurrently
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info FILE...",
		Short: "Summarize JPEG 2000 main headers",
		Long:  "Reads the main header of each codestream and prints its geometry, coding parameters and a fingerprint of both.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parallel, _ := cmd.Flags().GetInt("parallel")
			summaries, err := readSummaries(ctx, args, parallel)
			if err != nil {
				return err
			}
			switch format, _ := cmd.Flags().GetString("format"); format {
			case "text":
				for _, s := range summaries {
					printSummary(s)
				}
			default:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("format", "f", "json", "output format (text|json)")
	pf.IntP("parallel", "p", 4, "files read at once")
	return cmd
}

func readSummaries(ctx context.Context, files []string, parallel int) ([]headerSummary, error) {
	out := make([]headerSummary, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := readSummary(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			out[i] = s
			return nil
		})
	}
	return out, g.Wait()
}

func readSummary(file string) (headerSummary, error) {
	f, err := stream.OpenFile(file)
	if err != nil {
		return headerSummary{}, err
	}
	defer f.Close()
	d := jpeg2k.NewDecoder(f, nil, &jpeg2k.DecodeOptions{Logger: slog.Default().With("file", file)})
	img, err := d.ReadHeader()
	if err != nil {
		return headerSummary{}, err
	}
	s := headerSummary{
		File:    file,
		Image:   img,
		Coding:  d.CodingParams(),
		Default: d.DefaultTileParams(),
	}
	s.Fingerprint = util.HashUUID([]any{s.Image, s.Coding, s.Default})
	return s, nil
}

func printSummary(s headerSummary) {
	fmt.Printf("%s\n", s.File)
	fmt.Printf("  fingerprint: %s\n", s.Fingerprint)
	fmt.Printf("  grid: (%d,%d)-(%d,%d)\n", s.Image.X0, s.Image.Y0, s.Image.X1, s.Image.Y1)
	for i, c := range s.Image.Comps {
		fmt.Printf("  component %d: %dx%d prec=%d signed=%v dx=%d dy=%d\n", i, c.W, c.H, c.Prec, c.Signed, c.DX, c.DY)
	}
	fmt.Printf("  rsiz: 0x%04x\n", uint16(s.Coding.Rsiz))
	fmt.Printf("  tiles: %dx%d of %dx%d at (%d,%d)\n", s.Coding.TW, s.Coding.TH, s.Coding.TDX, s.Coding.TDY, s.Coding.TX0, s.Coding.TY0)
	if t := s.Default; t != nil && len(t.Comps) > 0 {
		fmt.Printf("  order: %s layers: %d mct: %d resolutions: %d\n", t.Order, t.NumLayers, t.MCT, t.Comps[0].NumResolutions)
	}
	for _, c := range s.Coding.Comments {
		if c.Text != "" {
			fmt.Printf("  comment: %s\n", c.Text)
		}
	}
}
