// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/metascrape/internal/export"
	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/internal/prefs"
	"github.com/pdiddy/metascrape/internal/scrape"
	"github.com/pdiddy/metascrape/pkg/types"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [draft.yaml...]",
	Short: "Enrich paper drafts from metadata sources",
	Long: `Scrape reads paper drafts from YAML files (one draft or a list per file),
runs every enabled scraper against each draft and prints the enriched drafts.
Fields a draft already holds are never overwritten, even with --force.

Without files, a single draft is built from --title and --doi.`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().Bool("force", false, "run scrapers even when disabled or not eligible")
	scrapeCmd.Flags().String("format", "yaml", "output format: yaml, json, csl or csl-json")
	scrapeCmd.Flags().StringSlice("scrapers", nil, "only run the named scrapers")
	scrapeCmd.Flags().Bool("no-cache", false, "do not record outcomes in the scrape cache")
	scrapeCmd.Flags().Duration("timeout", 0, "per-request timeout (default 10s)")
	scrapeCmd.Flags().Bool("diff", false, "print what changed instead of the drafts")
	scrapeCmd.Flags().Bool("write", false, "write enriched drafts back to their files")
	scrapeCmd.Flags().String("title", "", "title of an ad-hoc draft")
	scrapeCmd.Flags().String("doi", "", "DOI of an ad-hoc draft")

	rootCmd.AddCommand(scrapeCmd)
}

// draftFile is a set of drafts read from one file.
type draftFile struct {
	path   string
	list   bool
	drafts []*types.PaperDraft
}

func runScrape(cmd *cobra.Command, args []string) error {
	files, err := collectDrafts(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadScrapeConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}

	noCache, _ := cmd.Flags().GetBool("no-cache")
	store, sink, err := openCache(cfg, noCache)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	client, err := httputil.NewClient(cfg.HTTPConfig)
	if err != nil {
		return err
	}

	only, _ := cmd.Flags().GetStringSlice("scrapers")
	base := scrape.Base{
		Prefs: prefs.New(viper.GetViper()),
		Log:   &scrape.WriterLogger{W: cmd.ErrOrStderr()},
		Cache: sink,
	}
	scrapers, err := buildScrapers(prefs.New(viper.GetViper()), base, cfg, only)
	if err != nil {
		return err
	}
	o := scrape.New(client, cfg, scrapers...)

	var drafts, before []*types.PaperDraft
	for _, f := range files {
		for _, d := range f.drafts {
			drafts = append(drafts, d)
			before = append(before, d.Clone())
		}
	}

	force, _ := cmd.Flags().GetBool("force")
	result := o.ScrapeBatch(cmd.Context(), drafts, force, cmd.ErrOrStderr())

	if write, _ := cmd.Flags().GetBool("write"); write {
		for _, f := range files {
			if f.path == "" {
				continue
			}
			if err := writeDraftFile(f); err != nil {
				return err
			}
		}
	}

	out := cmd.OutOrStdout()
	if diff, _ := cmd.Flags().GetBool("diff"); diff {
		printDiffs(out, before, drafts)
	} else {
		format, _ := cmd.Flags().GetString("format")
		if err := writeDrafts(out, format, drafts); err != nil {
			return err
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d draft(s) failed", result.Failed)
	}
	return nil
}

func collectDrafts(cmd *cobra.Command, args []string) ([]draftFile, error) {
	if len(args) == 0 {
		title, _ := cmd.Flags().GetString("title")
		doi, _ := cmd.Flags().GetString("doi")
		if title == "" && doi == "" {
			return nil, errors.New("provide draft files or --title/--doi")
		}
		return []draftFile{{drafts: []*types.PaperDraft{{Title: title, DOI: doi}}}}, nil
	}

	files := make([]draftFile, 0, len(args))
	for _, path := range args {
		f, err := readDraftFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// readDraftFile accepts a single draft mapping or a list of drafts.
func readDraftFile(path string) (draftFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return draftFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	f := draftFile{path: path}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return draftFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		f.list = true
		if err := node.Decode(&f.drafts); err != nil {
			return draftFile{}, fmt.Errorf("decoding drafts in %s: %w", path, err)
		}
		return f, nil
	}

	var d types.PaperDraft
	if err := node.Decode(&d); err != nil {
		return draftFile{}, fmt.Errorf("decoding draft in %s: %w", path, err)
	}
	f.drafts = []*types.PaperDraft{&d}
	return f, nil
}

func writeDraftFile(f draftFile) error {
	var v any = f.drafts
	if !f.list && len(f.drafts) == 1 {
		v = f.drafts[0]
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}

func writeDrafts(w io.Writer, format string, drafts []*types.PaperDraft) error {
	switch strings.ToLower(format) {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(drafts)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(drafts)
	case "csl":
		return export.WriteCSL(drafts, w)
	case "csl-json":
		return export.WriteCSLJSON(drafts, w)
	default:
		return fmt.Errorf("unknown format %q (want yaml, json, csl or csl-json)", format)
	}
}

func printDiffs(w io.Writer, before, after []*types.PaperDraft) {
	var buf bytes.Buffer
	for i := range after {
		d := cmp.Diff(before[i], after[i])
		if d == "" {
			continue
		}
		label := after[i].Title
		if label == "" {
			label = after[i].Identity()
		}
		fmt.Fprintf(&buf, "%s\n%s\n", label, d)
	}
	if buf.Len() == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	w.Write(buf.Bytes())
}
