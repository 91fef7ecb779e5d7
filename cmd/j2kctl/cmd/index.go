package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jpfielding/j2k.go/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2k.go/pkg/stream"
	"github.com/spf13/cobra"
)

// NewIndexCmd walks a codestream and dumps its marker and tile-part index
func NewIndexCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Dump the codestream index as JSON",
		Long:  "Reads every tile-part of a codestream and prints the position of each marker segment and tile-part.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			insecure, _ := cmd.Flags().GetBool("insecure")
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
			d := jpeg2k.NewDecoder(stream.NewMemory(data), nil, &jpeg2k.DecodeOptions{Logger: slog.Default()})
			img, err := d.ReadHeader()
			if err != nil {
				return err
			}
			if err := d.Decode(img); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d.Index())
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "codestream path, URL or - for stdin")
	pf.Bool("insecure", false, "skip TLS verification for URLs")
	return cmd
}
