// Package main provides the entry point for slotmap.
//
// slotmap hands out permanent claims on a fixed universe of numbered slots.
// Slots unlock progressively as an external counter advances, and nothing
// can be claimed before the configured go-live instant.
//
// Usage:
//
//	slotmap [global flags] <command> [flags]
//
// Commands:
//
//	init     Provision the slot index (grows only)
//	claim    Claim a slot
//	check    Report whether a slot is claimed
//	total    Print the number of claimed slots
//	claimed  List claimed slots in a range
//	enrich   Re-run enrichment for a claimed slot
//	serve    Run the HTTP API
//
// Environment Variables:
//
//	SLOTMAP_CONFIG_FILE           Path to configuration file
//	SLOTMAP_STORE_BACKEND         Store backend: file or badger
//	SLOTMAP_STORE_PATH            Store file or directory
//	SLOTMAP_GO_LIVE               Go-live instant (RFC 3339)
//	SLOTMAP_WEBHOOK_URL           Webhook receiving claimed artifacts
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/slotmap/pkg/config"
	"github.com/jiayi-1994/slotmap/pkg/logging"
)

var (
	// Version information (set at build time)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Options contains global command-line options
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// LogLevel overrides the configured log level
	LogLevel string

	// LogFormat overrides the configured log format
	LogFormat string
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "slotmap: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	opts := &Options{}
	var cfg *config.Config

	return &cli.App{
		Name:    "slotmap",
		Usage:   "Claim slots from a progressively revealed universe",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				Destination: &opts.ConfigFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level: debug, info, warn, error",
				Destination: &opts.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format: json or text",
				Destination: &opts.LogFormat,
			},
		},
		Before: func(c *cli.Context) error {
			loaded, err := loadConfiguration(opts)
			if err != nil {
				return err
			}
			if err := initLogging(loaded.Logging); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		After: func(c *cli.Context) error {
			klog.Flush()
			_ = logging.L().Sync()
			return nil
		},
		Commands: commands(func() *config.Config { return cfg }),
	}
}

// loadConfiguration loads the configuration from file and environment,
// then applies command-line overrides
func loadConfiguration(opts *Options) (*config.Config, error) {
	if opts.ConfigFile != "" {
		os.Setenv("SLOTMAP_CONFIG_FILE", opts.ConfigFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	return cfg, nil
}

// initLogging initializes the global logger and routes klog through it
func initLogging(cfg config.LoggingConfig) error {
	if err := logging.InitGlobalLogger(logging.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		OutputPath: cfg.File,
		AddCaller:  true,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	klog.SetLogger(logging.L().Logger())
	return nil
}
