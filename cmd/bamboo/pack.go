package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var packCmd = &cobra.Command{
	Use:   "pack <site-id> [out.zip]",
	Short: "Render a site and write its static archive",
	Long: `Render every page of a site and copy its static assets into a zip.
The output defaults to {id}_{name}.zip in the current directory and is
replaced atomically, so an existing export is never left half written.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid site id %q", args[0])
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.Open(); err != nil {
			return err
		}

		site, err := app.Store.GetSite(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("site %d: %w", id, err)
		}
		archive, err := app.Packer.Pack(cmd.Context(), site)
		if err != nil {
			return err
		}
		defer archive.Close()

		out := site.Key() + ".zip"
		if len(args) == 2 {
			out = args[1]
		}
		f, err := os.Open(archive.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := atomic.WriteFile(out, f); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "packed %s: %d pages, %d files, %s -> %s\n",
			site.Key(), archive.Pages, archive.Files, humanize.Bytes(uint64(archive.Size)), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
