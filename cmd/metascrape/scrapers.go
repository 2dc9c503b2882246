// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/metascrape/internal/prefs"
	"github.com/pdiddy/metascrape/internal/script"
	"github.com/pdiddy/metascrape/pkg/types"
)

var scrapersCmd = &cobra.Command{
	Use:   "scrapers",
	Short: "List configured scrapers and whether they are enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listScrapers(cmd.OutOrStdout(), prefs.New(viper.GetViper()))
	},
}

var scrapersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile every custom scraper fragment and report errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, err := checkScrapers(cmd.OutOrStdout(), prefs.New(viper.GetViper()))
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d fragment(s) failed to compile", failed)
		}
		return nil
	},
}

func init() {
	scrapersCmd.AddCommand(scrapersCheckCmd)
	rootCmd.AddCommand(scrapersCmd)
}

func listScrapers(w io.Writer, store *prefs.Store) error {
	configs, err := store.All()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Kind", "Enabled"})
	for _, name := range builtinScrapers {
		enabled := false
		if cfg, ok := store.Scraper(name); ok {
			enabled = cfg.Enabled
		}
		t.AppendRow(table.Row{name, "built-in", enabled})
	}
	for _, cfg := range configs {
		if slices.Contains(builtinScrapers, cfg.Name) {
			continue
		}
		kind := "custom"
		if !cfg.IsCustom() {
			kind = "unknown"
		}
		t.AppendRow(table.Row{cfg.Name, kind, cfg.Enabled})
	}
	t.Render()
	return nil
}

// checkScrapers compiles each fragment of each custom scraper and returns
// how many failed.
func checkScrapers(w io.Writer, store *prefs.Store) (int, error) {
	configs, err := store.All()
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, cfg := range configs {
		if !cfg.IsCustom() {
			continue
		}
		for _, frag := range fragments(cfg) {
			if frag.code == "" {
				continue
			}
			if err := script.Check(frag.stage, frag.code); err != nil {
				failed++
				fmt.Fprintf(w, "FAIL  %s %s: %v\n", cfg.Name, frag.stage, err)
				continue
			}
			fmt.Fprintf(w, "ok    %s %s\n", cfg.Name, frag.stage)
		}
	}
	return failed, nil
}

type fragment struct {
	stage script.Stage
	code  string
}

func fragments(cfg types.ScraperConfig) []fragment {
	return []fragment{
		{script.StagePreProcess, cfg.PreProcessCode},
		{script.StageParse, cfg.ParsingProcessCode},
		{script.StageScrapeImpl, cfg.ScrapeImplCode},
	}
}
