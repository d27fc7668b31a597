package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	query  queryOptions
	format string
	limit  int
}

func newSearchCmd(global *globalOptions) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a screen and print the rows that pass the filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "json" && opts.format != "table" {
				return withCode(exitUsage, fmt.Errorf("invalid --format %q: expected json or table", opts.format))
			}
			rt, err := global.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			info, outcome, err := opts.query.run(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if outcome.NoResults {
				fmt.Fprintln(cmd.ErrOrStderr(), outcome.Message)
				return nil
			}
			page, err := rt.grids.Page(info.ID, 1, opts.limit)
			if err != nil {
				return withCode(exitGrid, err)
			}

			out := cmd.OutOrStdout()
			if opts.format == "table" {
				return writeTable(out, page.Columns, page.Rows)
			}
			for _, row := range page.Rows {
				if err := writeJSONLine(out, row); err != nil {
					return err
				}
			}
			return nil
		},
	}
	opts.query.bind(cmd)
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json (one row per line) or table")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Print at most this many rows (0 prints all)")
	return cmd
}
