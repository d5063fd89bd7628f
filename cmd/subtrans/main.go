// Command subtrans translates a subtitle file through a pluggable LLM
// provider, resuming interrupted jobs automatically and caching repeated
// source strings across runs.
package main

import (
	"os"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := Execute(); err != nil {
		log.Error().Err(err).Msg("subtrans failed")
		os.Exit(1)
	}
}
