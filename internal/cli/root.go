// Package cli wires the dealhound commands.
package cli

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dealhound/crawler/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dealhound",
	Short: "An adaptive crawler for storefront pricing and coupon data",
	Long: `Dealhound discovers products through a paginated storefront listing,
schedules them by how likely their offers are to have changed, and
extracts prices, discounts, and coupon codes through a pool of headless
browser sessions.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main; cancelling ctx
// stops a run gracefully.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	cobra.OnInitialize(initLogging)
}

// initLogging applies the log level and format before any command runs.
// Configuration errors are surfaced later by the command itself.
func initLogging() {
	cfg := config.LoadLoose(rootCmd)

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.JSONLog {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
