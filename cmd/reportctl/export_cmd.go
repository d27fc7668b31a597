package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type exportOptions struct {
	query  queryOptions
	output string
}

func newExportCmd(global *globalOptions) *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Search a screen and write the visible grid to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := global.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			info, _, err := opts.query.run(cmd.Context(), rt)
			if err != nil {
				return err
			}
			data, filename, err := rt.grids.Export(cmd.Context(), info.ID)
			if err != nil {
				return withCode(exitGrid, err)
			}

			path := opts.output
			if path == "" {
				path = filename
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return withCode(exitWrite, fmt.Errorf("mkdir %s: %w", dir, err))
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return withCode(exitWrite, fmt.Errorf("write %s: %w", path, err))
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{
				"file": path,
				"rows": info.RowCount,
			})
		},
	}
	opts.query.bind(cmd)
	cmd.Flags().StringVar(&opts.output, "output", "", "Output file (default: the screen's export filename)")
	return cmd
}
