// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prefs reads per-source scraper preferences. Each source is a
// record under the "scrapers" key of the config file:
//
//	scrapers:
//	  crossref:
//	    enabled: true
//	  example:
//	    enabled: true
//	    preProcessCode: '{url: "https://example.org/?q=" + queryEscape(draft.title)}'
//	    parsingProcessCode: '{title: response.title}'
package prefs

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/pdiddy/metascrape/pkg/types"
)

// Key is the config key holding scraper records.
const Key = "scrapers"

// Store is a read-only view of scraper preferences held by viper. Every
// lookup decodes a fresh snapshot, so config reloads are picked up.
type Store struct {
	v *viper.Viper
}

// New wraps v. A nil v uses the global viper instance.
func New(v *viper.Viper) *Store {
	if v == nil {
		v = viper.GetViper()
	}
	return &Store{v: v}
}

// Scraper returns the record for name. Names are case-insensitive.
func (s *Store) Scraper(name string) (types.ScraperConfig, bool) {
	key := Key + "." + strings.ToLower(name)
	if !s.v.IsSet(key) {
		return types.ScraperConfig{}, false
	}
	var cfg types.ScraperConfig
	if err := s.v.UnmarshalKey(key, &cfg); err != nil {
		slog.Warn("invalid scraper preference", "source", name, "err", err)
		return types.ScraperConfig{}, false
	}
	cfg.Name = strings.ToLower(name)
	return cfg, true
}

// Names lists the configured sources in sorted order.
func (s *Store) Names() []string {
	m := s.v.GetStringMap(Key)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every configured record in name order.
func (s *Store) All() ([]types.ScraperConfig, error) {
	var out []types.ScraperConfig
	for _, name := range s.Names() {
		cfg, ok := s.Scraper(name)
		if !ok {
			return nil, fmt.Errorf("reading preference %q", name)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Static is an in-memory preference set keyed by source name.
type Static map[string]types.ScraperConfig

// Scraper returns the record for name.
func (s Static) Scraper(name string) (types.ScraperConfig, bool) {
	cfg, ok := s[name]
	if ok && cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, ok
}
