// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/pdiddy/metascrape/internal/cache"
	"github.com/pdiddy/metascrape/internal/prefs"
	"github.com/pdiddy/metascrape/internal/scrape"
	"github.com/pdiddy/metascrape/pkg/types"
)

const defaultCachePath = ".metascrape/cache.db"

// builtinScrapers are the sources compiled into the binary, in run order.
var builtinScrapers = []string{scrape.CrossRefName, scrape.OpenAlexName}

// loadScrapeConfig decodes the "scrape" and "matching" config sections and
// fills the contact address from secrets when the config has none.
func loadScrapeConfig(v *viper.Viper) (types.ScrapeConfig, error) {
	var cfg types.ScrapeConfig
	if err := v.UnmarshalKey("scrape", &cfg); err != nil {
		return cfg, fmt.Errorf("reading scrape config: %w", err)
	}
	if m := v.GetString("matching.metric"); m != "" {
		cfg.Metric = types.MatchMetric(strings.ToLower(m))
	}
	if th := v.GetFloat64("matching.threshold"); th > 0 {
		cfg.SimilarityThreshold = th
	}
	switch cfg.Metric {
	case "", types.MetricDice, types.MetricJaroWinkler:
	default:
		return cfg, fmt.Errorf("unknown matching metric %q (want %s or %s)", cfg.Metric, types.MetricDice, types.MetricJaroWinkler)
	}

	if cfg.Mailto == "" {
		cfg.Mailto = loadedSecrets.Mailto()
	}
	if cfg.CachePath == "" {
		cfg.CachePath = defaultCachePath
	}
	return cfg.WithDefaults(), nil
}

// buildScrapers returns the built-in sources followed by every configured
// custom source. When only is non-empty, just the named sources are built.
func buildScrapers(store *prefs.Store, base scrape.Base, cfg types.ScrapeConfig, only []string) ([]scrape.Scraper, error) {
	want := func(name string) bool {
		return len(only) == 0 || slices.Contains(only, name)
	}

	var out []scrape.Scraper
	if want(scrape.CrossRefName) {
		out = append(out, scrape.NewCrossRef(base, cfg))
	}
	if want(scrape.OpenAlexName) {
		out = append(out, scrape.NewOpenAlex(base, cfg))
	}

	custom, err := store.All()
	if err != nil {
		return nil, err
	}
	for _, c := range custom {
		if slices.Contains(builtinScrapers, c.Name) || !c.IsCustom() || !want(c.Name) {
			continue
		}
		out = append(out, scrape.NewCustom(base, c.Name, cfg))
	}

	for _, name := range only {
		if !slices.ContainsFunc(out, func(s scrape.Scraper) bool { return s.Name() == name }) {
			return nil, fmt.Errorf("unknown scraper %q", name)
		}
	}
	return out, nil
}

// openCache opens the scrape cache unless disabled. A nil *cache.Store is
// returned as a nil scrape.Cache so scrapers skip the upload.
func openCache(cfg types.ScrapeConfig, disabled bool) (*cache.Store, scrape.Cache, error) {
	if disabled {
		return nil, nil, nil
	}
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}
