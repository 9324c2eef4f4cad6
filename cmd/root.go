// Package cmd defines the CLI surface of the crawler.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job51crawler",
		Short: "A polite keyword/city crawler for the 51job search API.",
		Long: `job51crawler walks the 51job search API over a configured keyword and
city cross-product, normalizes every posting into a canonical record and
upserts the batch into Postgres. Progress is exported as structured logs
and Prometheus metrics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
