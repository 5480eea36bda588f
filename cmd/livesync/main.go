package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"livesync/internal/config"
	"livesync/internal/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "livesync",
		Short: "Real-time session sync for live-coding interviews",
		Long: `livesync keeps an interview participant's session view in sync with the
other participant over a WebSocket channel, and with sibling processes on
the same machine through shared storage.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("LIVESYNC_CONFIG_FILE"), "configuration file (JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newRelayCmd(opts))
	cmd.AddCommand(newJoinCmd(opts))
	cmd.AddCommand(newStateCmd(opts))
	return cmd
}

// load resolves configuration and the root logger for a command.
func (o *rootOptions) load(stderr io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfigWithPrecedence(o.configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, logging.New(cfg.Log, stderr), nil
}
