package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/mediabus/cmd"
	"github.com/smazurov/mediabus/internal/config"
	"github.com/smazurov/mediabus/internal/events"
	"github.com/smazurov/mediabus/internal/logging"
)

// Options for the CLI - flat structure with toml mapping. Precedence:
// CLI flags override env vars override the TOML config file.
type Options struct {
	Config string `help:"Path to configuration file" toml:"config" env:"CONFIG"`

	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingBus    string `help:"Bus module logging level" toml:"logging.bus" env:"LOGGING_BUS"`
}

func main() {
	opts := &Options{
		Config:        "config.toml",
		LoggingLevel:  "info",
		LoggingFormat: "text",
		LoggingBus:    "info",
	}

	root := &cobra.Command{
		Use:   "mediabus",
		Short: "Media bus: ingest one source, fan packets and frames out to any number of outputs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(opts, cmd); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// Module levels from the [logging] table, with the flat
			// flag/env-resolved options layered on top.
			logCfg := config.LoadLoggingConfig(opts.Config)
			logCfg.Level = opts.LoggingLevel
			logCfg.Format = opts.LoggingFormat
			logCfg.Modules["bus"] = opts.LoggingBus

			logging.Initialize(logCfg)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.Config, "config", opts.Config, "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.LoggingLevel, "logging-level", opts.LoggingLevel, "Global logging level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.LoggingFormat, "logging-format", opts.LoggingFormat, "Logging format (text, json)")
	root.PersistentFlags().StringVar(&opts.LoggingBus, "logging-bus", opts.LoggingBus, "Bus module logging level")

	eventBus := events.New()

	// Bridge log records onto the event bus so subscribers can tail logs
	// the same way they observe lag and fallback events.
	logging.SetLogCallback(func(entry logging.LogEntry) {
		eventBus.Publish(events.LogEntryFromRecord(entry.Timestamp, entry.Level, entry.Module, entry.Message, entry.Attributes))
	})

	root.AddCommand(cmd.NewBusCmd(eventBus))
	root.AddCommand(cmd.ValidateEncodersCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
