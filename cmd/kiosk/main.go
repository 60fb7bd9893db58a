// Command kiosk runs the Tiew Son signage kiosk daemon and its operator
// tooling.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lannapoly/tiewson-kiosk/internal/config"
	"github.com/lannapoly/tiewson-kiosk/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// CLI flags
var (
	envFileFlag  string
	logLevelFlag string
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Tiew Son digital signage kiosk",
	Long: `kiosk drives the Tiew Son signage screen: the news carousel, face-based
personalization, the voice assistant and the hidden admin screen.

Without a subcommand it starts the daemon (same as "kiosk serve").

Examples:
  kiosk
  kiosk serve --addr :8080
  kiosk content list --locale en
  kiosk content delete 0190a1b2-...`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env", ".env", "Optional .env file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override KIOSK_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.Version = Version

	rootCmd.AddCommand(serveCmd, contentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("kiosk failed")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	logging.Init("info", "console")
	if err := config.LoadDotEnv(envFileFlag); err != nil {
		return err
	}
	c, err := config.Load()
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		c.LogLevel = logLevelFlag
	}
	logging.Init(c.LogLevel, c.LogFormat)
	cfg = c
	return nil
}
