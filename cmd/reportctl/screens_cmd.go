package main

import (
	"github.com/spf13/cobra"
)

type screenLine struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	Endpoint string   `json:"endpoint"`
	Columns  []string `json:"columns"`
	Popups   []string `json:"popups,omitempty"`
}

func newScreensCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "screens",
		Short: "List the screens of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := global.catalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sc := range catalog.List() {
				line := screenLine{Key: sc.Key, Title: sc.Title, Endpoint: sc.Endpoint}
				for _, c := range sc.Columns {
					line.Columns = append(line.Columns, c.Field)
				}
				for _, p := range sc.Popups {
					line.Popups = append(line.Popups, p.Key)
				}
				if err := writeJSONLine(out, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
