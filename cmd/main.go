package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/visionrelay/internal/config"
	"github.com/ZanzyTHEbar/visionrelay/internal/logging"
)

// cli holds what every subcommand shares once flags are parsed.
type cli struct {
	configFile string
	logLevel   string
	logFormat  string
	workers    int

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "visionrelay",
		Short:         "Pooled relay between a map frontend and a multimodal vision model",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "config.yaml", "Path to configuration file (JSON or YAML)")
	flags.StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flags.StringVar(&c.logFormat, "log-format", "", "Override log format (json, console)")
	flags.IntVarP(&c.workers, "workers", "w", 0, "Override worker count (0 = use config value)")

	root.AddCommand(newServeCmd(c), newChatCmd(c), newBenchCmd(c), newConfigCmd(c))
	return root
}

func (c *cli) load() error {
	cfg, err := config.LoadFromFile(c.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.System.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.System.LogFormat = c.logFormat
	}
	if c.workers > 0 {
		cfg.WorkerPool.Workers = c.workers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.cfg = cfg
	c.log = logging.NewReloadable(cfg.System)
	return nil
}

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
			return nil
		},
	}
}
