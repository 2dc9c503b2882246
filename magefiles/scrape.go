//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Scrape enriches every draft under drafts/ in place.
func Scrape() error {
	mg.Deps(Build)
	files, err := filepath.Glob(filepath.Join("drafts", "*.yaml"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("[scrape] No drafts found under drafts/.")
		return nil
	}
	args := append([]string{"scrape", "--write", "--diff"}, files...)
	return sh.RunV(filepath.Join(binDir, binName), args...)
}
