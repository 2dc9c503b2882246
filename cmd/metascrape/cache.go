// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/metascrape/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the scrape cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <paper-id>",
	Short: "Print every cached scrape outcome for a paper",
	Long: `Show prints the cached drafts for a paper, one per source. The paper id is
the draft's id field, or "doi:<doi>" for drafts without one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadScrapeConfig(viper.GetViper())
		if err != nil {
			return err
		}
		store, err := cache.Open(cfg.CachePath)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no cached entries for %s", args[0])
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(entries)
	},
}

func init() {
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
