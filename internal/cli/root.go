// Package cli implements the hookd command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/hookd/internal/config"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "0.1.0-dev"

// configOptional marks commands that run without a valid config file.
const configOptional = "config-optional"

type rootOptions struct {
	cfgFile string
	envFile string
	verbose bool

	cfg *config.Config
}

// Execute runs the hookd command line.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "hookd",
		Short: "Verify and record incoming webhooks",
		Long: `hookd receives webhooks from third-party providers, verifies their
HMAC-SHA256 signatures and timestamps, and records each event exactly once.

Start the server:
  hookd serve

Sign a test payload:
  hookd sign --secret whsec_test --body '{"eventKey":"evt_1","payload":{}}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./hookd.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment variables from this file (default is ./.env when present)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSignCmd(opts),
		newEventsCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

func (o *rootOptions) prepare(cmd *cobra.Command) error {
	if err := loadEnvFile(o.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: o.cfgFile})
	if err != nil {
		if cmd.Annotations[configOptional] != "true" {
			return err
		}
		cfg = config.Default()
	}
	o.cfg = cfg

	if err := setupLogging(cfg.Logging, o.verbose); err != nil {
		return err
	}

	if used, _ := config.ConfigFilePath(o.cfgFile); used != "" {
		log.Debug().Str("file", used).Msg("Using config file")
	}
	return nil
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. An empty path loads ./.env if it exists.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}
