// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads the contact addresses metascrape identifies itself
// with to scholarly APIs, plus any keys custom sources need, from a
// directory of plain-text files. The filename is the key and the trimmed
// contents are the value.
//
// Contact keys: crossref-mailto, openalex-email.
package secrets

import (
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Contact keys.
const (
	CrossRefMailto = "crossref-mailto"
	OpenAlexEmail  = "openalex-email"
)

var contactKeys = []string{CrossRefMailto, OpenAlexEmail}

// Store holds the secrets read from one directory. A nil *Store is empty.
type Store struct {
	values map[string]string
}

// New returns a Store over values. Contact values are normalized the same
// way Load normalizes them.
func New(values map[string]string) *Store {
	s := &Store{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.set(k, v)
	}
	return s
}

// Load reads every regular, non-hidden file in dir. A missing directory
// yields an empty Store. Unreadable files and contact keys that do not hold
// an email address are skipped with a warning.
func Load(dir string) (*Store, error) {
	s := &Store{values: map[string]string{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("could not read secret", "key", name, "err", err)
			continue
		}
		s.set(name, string(data))
	}
	return s, nil
}

func (s *Store) set(key, raw string) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return
	}
	if slices.Contains(contactKeys, key) {
		addr, err := mail.ParseAddress(value)
		if err != nil {
			slog.Warn("ignoring contact secret that is not an email address", "key", key, "err", err)
			return
		}
		value = addr.Address
	}
	s.values[key] = value
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the stored key names, sorted.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Mailto returns the polite-pool contact address: the CrossRef mailto when
// set, else the OpenAlex email.
func (s *Store) Mailto() string {
	for _, key := range contactKeys {
		if v, ok := s.Get(key); ok {
			return v
		}
	}
	return ""
}
