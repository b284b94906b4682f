package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/mdns"
)

type DiscoverOptions struct {
	Service      string
	Timeout      time.Duration
	OutputFormat string
	Use          bool
}

func NewDiscoverCommand(root *RootOptions) *cobra.Command {
	opts := &DiscoverOptions{}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for rtl_tcp servers",
		Example: `  rtltcp discover
  rtltcp discover --timeout 5s --output json
  rtltcp discover --use`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Service, "service", mdns.DefaultService, "DNS-SD service type")
	flags.DurationVar(&opts.Timeout, "timeout", 3*time.Second, "How long to browse")
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	flags.BoolVar(&opts.Use, "use", false, "Store the first server found as the default address")

	return cmd
}

func runDiscover(cmd *cobra.Command, root *RootOptions, opts *DiscoverOptions) error {
	servers, err := mdns.Discover(cmd.Context(), opts.Service, opts.Timeout)
	if err != nil {
		return errors.Wrap(err, "discover")
	}
	if err := printServers(cmd.OutOrStdout(), servers, opts.OutputFormat); err != nil {
		return err
	}
	if !opts.Use || len(servers) == 0 {
		return nil
	}

	settings := config.NewSettings(config.NewLive(), config.NewSession())
	if err := root.store.Load(settings); err != nil {
		root.logger.Warn("stored settings partially applied", logging.Err(err))
	}
	if err := settings.Session.SetHostPort(servers[0].Address()); err != nil {
		return err
	}
	if err := root.store.Save(settings); err != nil {
		return err
	}
	root.logger.Info("default server updated", logging.F("server", settings.Session.HostPort()),
		logging.F("path", root.store.Path()))
	return nil
}

type serverView struct {
	Instance string   `json:"instance"`
	Hostname string   `json:"hostname"`
	Address  string   `json:"address"`
	TXT      []string `json:"txt,omitempty"`
}

func printServers(w io.Writer, servers []mdns.Server, format string) error {
	views := make([]serverView, 0, len(servers))
	for _, s := range servers {
		views = append(views, serverView{Instance: s.Instance, Hostname: s.Hostname, Address: s.Address(), TXT: s.TXT})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "text", "":
		if len(views) == 0 {
			fmt.Fprintln(w, "No rtl_tcp servers found")
			return nil
		}
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{v.Instance, v.Address, v.Hostname, strings.Join(v.TXT, " ")})
		}
		renderTable(w, []string{"Instance", "Address", "Hostname", "TXT"}, rows)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
