// Command hh-assistant runs the HH Construction voice assistant from a
// terminal.
//
// Usage:
//
//	hh-assistant [flags] <command>
//
// Commands:
//
//	talk   - start a live voice session with the assistant
//	book   - fill in the consultation booking form without talking
//	dates  - list the dates the booking form offers
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hhconstruction/hh-assistant/pkg/config"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hh-assistant",
	Short: "HH Construction voice assistant",
	Long: `Talk to the HH Construction assistant through your microphone and
speakers, or book a free consultation from the terminal.

Credentials are read from the environment (GEMINI_API_KEY, VITE_GEMINI_API_KEY
or API_KEY), optionally loaded from a .env file.

Examples:
  # Start a voice session
  hh-assistant talk

  # Record the assistant's replies and expose metrics
  hh-assistant talk --record reply.wav --metrics-addr :9090

  # Book a consultation manually
  hh-assistant book`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(talkCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(datesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger for it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = config.LogLevel(logLevel)
		if !cfg.Log.Level.IsValid() {
			return nil, nil, fmt.Errorf("invalid --log-level %q", logLevel)
		}
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Slog()}))
}
