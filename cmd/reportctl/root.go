package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	screensFile string
	apiURL      string
	timeout     time.Duration
	debug       bool
}

func newRootCmd() *cobra.Command {
	var global globalOptions
	cmd := &cobra.Command{
		Use:           "reportctl",
		Short:         "Run report screens against the report API without a browser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&global.screensFile, "screens", "", "Screen catalog YAML (default: REPORTS_SCREENS_FILE or the built-in catalog)")
	flags.StringVar(&global.apiURL, "url", "", "Report API base URL (default: REPORT_API_URL)")
	flags.DurationVar(&global.timeout, "timeout", 0, "Report API timeout (default: REPORT_API_TIMEOUT)")
	flags.BoolVar(&global.debug, "debug", false, "Ask the report API for debug output")

	cmd.AddCommand(newScreensCmd(&global))
	cmd.AddCommand(newSearchCmd(&global))
	cmd.AddCommand(newExportCmd(&global))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
