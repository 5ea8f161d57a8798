package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blebatt/pkg/config"
)

// addConfigFlags registers the per-command overrides of config file values.
func addConfigFlags(flags *pflag.FlagSet) {
	defaults := config.DefaultConfig()
	flags.Duration("scan-timeout", defaults.ScanTimeout, "How long each scan listens for advertisements")
	flags.Duration("connect-timeout", defaults.ConnectTimeout, "Timeout for connecting to a peripheral")
	flags.StringP("format", "f", defaults.OutputFormat, "Output format (table, json)")
	flags.String("color", defaults.Color, "Colorize output (auto, always, never)")
}

// loadConfig reads --config and applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrideDuration(flags, "window", &cfg.Window)
	overrideDuration(flags, "rescan-interval", &cfg.RescanInterval)
	overrideDuration(flags, "scan-timeout", &cfg.ScanTimeout)
	overrideDuration(flags, "connect-timeout", &cfg.ConnectTimeout)
	overrideString(flags, "format", &cfg.OutputFormat)
	overrideString(flags, "color", &cfg.Color)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideDuration(flags *pflag.FlagSet, name string, dst *time.Duration) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		if v, err := flags.GetDuration(name); err == nil {
			*dst = v
		}
	}
}

func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		if v, err := flags.GetString(name); err == nil {
			*dst = v
		}
	}
}
