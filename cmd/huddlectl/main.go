package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagServer string

var rootCmd = &cobra.Command{
	Use:   "huddlectl",
	Short: "Inspect and join Huddle SFU rooms",
	Long: `huddlectl talks to a Huddle server: it lists rooms over the HTTP API and
can join a room as a receive-only peer that logs every remote track.`,
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8080", "Huddle server base URL")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("huddlectl failed")
		os.Exit(1)
	}
}
