package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/mdns"
	"github.com/rjboer/GoRTLTCP/internal/mockserver"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

type MockServerOptions struct {
	Listen     string
	Tuner      string
	SampleRate int
	ToneOffset float64
	BlockSize  int
	Interval   time.Duration
	Counter    bool
	Advertise  bool
	Instance   string
}

func NewMockServerCommand(root *RootOptions) *cobra.Command {
	opts := &MockServerOptions{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a simulated rtl_tcp server",
		Long: `Serve a synthetic tone (or a byte counter) over the rtl_tcp protocol
and log every control command received. Useful for testing clients without
a dongle.`,
		Example: `  rtltcp mock-server --listen :1234 --tuner E4000
  rtltcp mock-server --counter --advertise`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Listen, "listen", "127.0.0.1:1234", "Listen address")
	flags.StringVar(&opts.Tuner, "tuner", tuner.R820T.String(), "Tuner reported in the handshake")
	flags.IntVar(&opts.SampleRate, "rate", 2_048_000, "Initial sample rate in Hz")
	flags.Float64Var(&opts.ToneOffset, "tone", 100e3, "Tone offset from center in Hz")
	flags.IntVar(&opts.BlockSize, "block-size", 16*1024, "Bytes per write")
	flags.DurationVar(&opts.Interval, "interval", 0, "Pause between writes (0 paces to the sample rate)")
	flags.BoolVar(&opts.Counter, "counter", false, "Send a running byte counter instead of a tone")
	flags.BoolVar(&opts.Advertise, "advertise", false, "Announce the server over mDNS")
	flags.StringVar(&opts.Instance, "instance", "", "mDNS instance name (defaults to the hostname)")

	return cmd
}

func runMockServer(cmd *cobra.Command, root *RootOptions, opts *MockServerOptions) error {
	logger := root.logger
	tn, err := tuner.Parse(opts.Tuner)
	if err != nil {
		return err
	}
	interval := opts.Interval
	if interval == 0 && opts.SampleRate > 0 {
		interval = time.Duration(float64(opts.BlockSize/2) / float64(opts.SampleRate) * float64(time.Second))
	}

	srv := mockserver.New(mockserver.Config{
		Tuner:      tn,
		SampleRate: opts.SampleRate,
		ToneOffset: opts.ToneOffset,
		BlockSize:  opts.BlockSize,
		Interval:   interval,
		Counter:    opts.Counter,
	}, logger)
	if err := srv.Listen(opts.Listen); err != nil {
		return err
	}
	logger.Info("mock rtl_tcp server listening", logging.F("addr", srv.Addr()), logging.F("tuner", tn))

	if opts.Advertise {
		ann, err := advertise(srv.Addr(), opts.Instance, tn)
		if err != nil {
			srv.Close()
			return err
		}
		defer ann.Shutdown()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}

func advertise(addr, instance string, tn tuner.Tuner) (*mdns.Announcement, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	if instance == "" {
		host, _ := os.Hostname()
		instance = "rtl_tcp on " + host
	}
	return mdns.Announce(instance, "", port, []string{"tuner=" + tn.String()})
}
