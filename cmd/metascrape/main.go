// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the metascrape CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/metascrape/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds contact addresses loaded from .secrets/ at startup.
var loadedSecrets *secrets.Store

// rootCmd is the base command for the metascrape CLI.
var rootCmd = &cobra.Command{
	Use:   "metascrape",
	Short: "Enrich paper metadata from bibliographic sources",
	Long: `metascrape fills in missing metadata for paper drafts (YAML records with a
title or DOI) by querying CrossRef, OpenAlex and user-defined scrapers. Fields
a draft already holds are never overwritten.

User-defined scrapers are configured under the "scrapers" key of
metascrape.yaml as small expressions that build the request and map the
response onto draft fields.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if keys := s.Keys(); len(keys) > 0 {
			slog.Debug("loaded secrets", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./metascrape.yaml or ~/.config/metascrape/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug diagnostics to stderr")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("metascrape")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "metascrape"))
		}
	}

	viper.SetEnvPrefix("METASCRAPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
