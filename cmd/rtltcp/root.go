package main

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
)

// RootOptions holds the flags shared by every subcommand and the state
// they produce.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	logger logging.Logger
	store  *config.Store
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rtltcp",
		Short: "rtl_tcp streaming client",
		Long: `rtltcp connects to an rtl_tcp server, keeps the dongle configured
and writes the received I/Q samples to a file or stdout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "Settings file (YAML)")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "Log format (text or json)")

	cmd.AddCommand(
		NewStreamCommand(opts),
		NewDiscoverCommand(opts),
		NewMockServerCommand(opts),
		NewSettingsCommand(opts),
	)
	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(o.LogFormat)
	if err != nil {
		return err
	}
	o.logger = logging.New(level, format, cmd.ErrOrStderr())
	logging.SetDefault(o.logger)
	o.store = config.NewStore(o.ConfigPath)
	return nil
}

func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "rtltcp", "settings.yaml")
}
