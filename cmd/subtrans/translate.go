package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lsilvatti/subtrans/internal/cache"
	"github.com/lsilvatti/subtrans/internal/config"
	"github.com/lsilvatti/subtrans/internal/pipeline"
	"github.com/lsilvatti/subtrans/internal/provider"
	"github.com/lsilvatti/subtrans/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	inputFile      string
	outputFile     string
	sourceLanguage string
	targetLanguage string
	providerName   string
	modelOverride  string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a subtitle file",
	Long: `Translate an SRT subtitle file from one language to another through a
configured LLM provider.

Example:
  subtrans translate -i movie.srt -o movie.fr.srt -s en -t fr -p ollama`,
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "input subtitle file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output subtitle file (required)")
	translateCmd.Flags().StringVarP(&sourceLanguage, "source-lang", "s", "", "source language code")
	translateCmd.Flags().StringVarP(&targetLanguage, "target-lang", "t", "", "target language code")
	translateCmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider: ollama, openai, anthropic, lmstudio")
	translateCmd.Flags().StringVarP(&modelOverride, "model", "m", "", "override the configured model")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	if inputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if outputFile == "" {
		return fmt.Errorf("output file is required")
	}

	cfg, err := loadConfigOverridingFlags()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := newLogger(level)
	log.Info().
		Str("provider", cfg.Provider).
		Str("source", cfg.SourceLanguage).
		Str("target", cfg.TargetLanguage).
		Msg("configuration loaded")

	providerCfg, err := cfg.ActiveProvider()
	if err != nil {
		return err
	}

	adapter, err := provider.New(provider.Options{
		Provider: cfg.Provider,
		APIKey:   providerCfg.APIKey,
		Endpoint: providerCfg.Endpoint,
		Timeout:  time.Duration(providerCfg.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to build provider adapter: %w", err)
	}

	sessions, err := session.Open(cfg.SessionDBPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	cacheStore, err := cache.Open(cfg.CacheDBPath)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer cacheStore.Close()

	pl := pipeline.New(adapter, sessions, cacheStore, cfg)
	pl.LogCallback = func(msg string) { log.Info().Msg(msg) }
	pl.ProgressCallback = func(completed, total int) {
		if verbose {
			log.Debug().Int("completed", completed).Int("total", total).Msg("batch dispatched")
		}
	}

	return pl.Run(context.Background(), inputFile, outputFile)
}

func loadConfigOverridingFlags() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if sourceLanguage != "" {
		cfg.SourceLanguage = sourceLanguage
	}
	if targetLanguage != "" {
		cfg.TargetLanguage = targetLanguage
	}
	if providerName != "" {
		cfg.Provider = providerName
	}
	if modelOverride != "" {
		if p, ok := cfg.Providers[cfg.Provider]; ok {
			p.Model = modelOverride
			cfg.Providers[cfg.Provider] = p
		}
	}

	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(l).With().Timestamp().Logger()
}
