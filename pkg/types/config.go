// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by the network client.
type HTTPConfig struct {
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "metascrape/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// RequestsPerSecond bounds the outbound request rate across all scrapers.
	// Zero disables rate limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// ResponseCacheSize is the number of GET responses kept in memory for
	// requests that opt into caching.
	ResponseCacheSize int `json:"response_cache_size" yaml:"response_cache_size" mapstructure:"response_cache_size"`
}

// MatchMetric selects the string similarity used to disambiguate candidates.
type MatchMetric string

const (
	MetricDice        MatchMetric = "dice"
	MetricJaroWinkler MatchMetric = "jaro-winkler"
)

// ScrapeConfig holds settings for a scraping run.
type ScrapeConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// RetryCount is the number of retries the network client performs for
	// custom scrapers (built-in scrapers fix their own).
	RetryCount int `json:"retry_count" yaml:"retry_count" mapstructure:"retry_count"`

	// SimilarityThreshold is the score a search hit must exceed to match
	// the draft title (default 0.95).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// Metric selects the similarity algorithm (default dice).
	Metric MatchMetric `json:"metric" yaml:"metric" mapstructure:"metric"`

	// Mailto is sent to CrossRef and OpenAlex for polite pool access.
	Mailto string `json:"mailto,omitempty" yaml:"mailto,omitempty" mapstructure:"mailto"`

	// CachePath is the SQLite file that stores successful scrape outcomes.
	CachePath string `json:"cache_path" yaml:"cache_path" mapstructure:"cache_path"`

	// DraftDelay is the pause between consecutive drafts in a batch.
	DraftDelay time.Duration `json:"draft_delay" yaml:"draft_delay" mapstructure:"draft_delay"`
}

// ScraperConfig is the per-source preference record. It is owned by the
// preference store and read as a snapshot on every invocation.
type ScraperConfig struct {
	// Name identifies the source (e.g. "crossref" or a user-chosen name).
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Enabled turns the source on.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// PreProcessCode builds the request for a custom scraper.
	PreProcessCode string `json:"preProcessCode,omitempty" yaml:"preProcessCode,omitempty" mapstructure:"preProcessCode"`

	// ParsingProcessCode maps a response onto draft fields.
	ParsingProcessCode string `json:"parsingProcessCode,omitempty" yaml:"parsingProcessCode,omitempty" mapstructure:"parsingProcessCode"`

	// ScrapeImplCode replaces the whole request, fetch and parse flow.
	ScrapeImplCode string `json:"scrapeImplCode,omitempty" yaml:"scrapeImplCode,omitempty" mapstructure:"scrapeImplCode"`
}

// IsCustom reports whether the config carries any user-authored fragment.
func (c ScraperConfig) IsCustom() bool {
	return c.PreProcessCode != "" || c.ParsingProcessCode != "" || c.ScrapeImplCode != ""
}

// Defaults used when a ScrapeConfig leaves a setting at its zero value.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultRetryCount          = 1
	DefaultSimilarityThreshold = 0.95
	DefaultResponseCacheSize   = 256
	DefaultUserAgent           = "metascrape/0.1"
)

// WithDefaults returns a copy of cfg with zero values replaced by defaults.
func (cfg ScrapeConfig) WithDefaults() ScrapeConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ResponseCacheSize <= 0 {
		cfg.ResponseCacheSize = DefaultResponseCacheSize
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricDice
	}
	return cfg
}
