package main

import (
	"github.com/lsilvatti/subtrans/internal/config"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "subtrans",
		Short: "subtrans - LLM-backed subtitle translator",
		Long: `subtrans translates movie/TV subtitle files via a large-language-model
provider while preserving subtitle formatting, timing, and cross-entry
consistency. Jobs resume automatically after interruption.

Example:
  subtrans translate -i movie.srt -o movie.fr.srt -s en -t fr`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				config.SetPath(configFile)
			}
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config.json")
	rootCmd.AddCommand(translateCmd)
}
