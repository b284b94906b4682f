package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/rjboer/GoRTLTCP/internal/host"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/pipeline"
	"github.com/rjboer/GoRTLTCP/internal/telemetry"
)

type StreamOptions struct {
	Frequency    int64
	Format       string
	Output       string
	Blocks       int64
	Duration     time.Duration
	WebAddr      string
	HistoryLimit int
}

func NewStreamCommand(root *RootOptions) *cobra.Command {
	opts := &StreamOptions{}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream I/Q samples from an rtl_tcp server",
		Long: `Connect to an rtl_tcp server, apply the stored settings and write the
received I/Q samples. Flags override the settings file for this run and
are saved back when the stream ends.`,
		Example: `  rtltcp stream --address 192.168.1.20 --freq 433920000 --output capture.s16
  rtltcp stream --format u8 --blocks 100 --output - > capture.u8
  rtltcp stream --web :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&opts.Frequency, "freq", 100_000_000, "Center frequency in Hz")
	flags.StringVar(&opts.Format, "format", "s16", "Sample format written to the output (s16 or u8)")
	flags.StringVarP(&opts.Output, "output", "o", "-", "Output file, - for stdout")
	flags.Int64Var(&opts.Blocks, "blocks", 0, "Stop after this many blocks (0 streams until interrupted)")
	flags.DurationVar(&opts.Duration, "duration", 0, "Stop after this long (0 streams until interrupted)")
	flags.StringVar(&opts.WebAddr, "web", "", "Serve status and settings over HTTP on this address")
	flags.IntVar(&opts.HistoryLimit, "history", 300, "Status entries kept for the web view")
	addSettingFlags(cmd)

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"s16", "u8"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runStream(cmd *cobra.Command, root *RootOptions, opts *StreamOptions) error {
	logger := root.logger
	if err := bindSettingFlags(cmd, root.store); err != nil {
		return err
	}
	conv, err := pipeline.ParseConverter(opts.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.Output != "-" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriterSize(out, 1<<16)

	reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(logger)}
	var hub *telemetry.Hub
	if opts.WebAddr != "" {
		hub = telemetry.NewHub(opts.HistoryLimit, logger)
		reporters = append(reporters, hub)
	}

	sink := &blockSink{w: w, limit: opts.Blocks, done: make(chan struct{}), logger: logger}
	h := host.New(sink.callback, host.Options{
		Store:    root.store,
		Reporter: reporters,
		Logger:   logger,
	})
	if conv == pipeline.PassThrough {
		h.EnableU8()
	}

	if hub != nil {
		hub.SetSettings(h)
		srv := telemetry.NewWebServer(opts.WebAddr, hub)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("web telemetry stopped", logging.F("addr", opts.WebAddr), logging.Err(err))
			}
		}()
		logger.Info("web telemetry listening", logging.F("addr", opts.WebAddr))
	}

	if err := h.Open(ctx); err != nil {
		return err
	}
	samples, err := h.Start(ctx, opts.Frequency)
	if err != nil {
		h.Close()
		return err
	}
	logger.Info("streaming", logging.F("server", h.Session.HostPort()),
		logging.F("samplesPerBlock", samples), logging.F("format", h.Format()),
		logging.F("bytesPerBlock", blockBytes(samples, h.Format())))

	select {
	case <-ctx.Done():
	case <-sink.done:
	}

	h.Stop()
	closeErr := h.Close()
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	if err := sink.Err(); err != nil {
		return err
	}
	logger.Info("stream finished", logging.F("blocks", sink.written.Load()))
	return closeErr
}

// blockSink writes data callbacks to w until limit blocks are out or a
// write fails.
type blockSink struct {
	w      io.Writer
	limit  int64
	logger logging.Logger

	written atomic.Int64
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (s *blockSink) callback(count int, ev host.Event, _ float32, blk *pipeline.Block) {
	if ev != host.EventData {
		s.logger.Debug("host event", logging.F("event", int(ev)))
		return
	}
	if blk == nil || s.finished() {
		return
	}
	if err := writeBlock(s.w, blk); err != nil {
		s.fail(errors.Wrap(err, "write block"))
		return
	}
	if n := s.written.Inc(); s.limit > 0 && n >= s.limit {
		s.once.Do(func() { close(s.done) })
	}
}

func (s *blockSink) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *blockSink) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *blockSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// blockBytes is the size of one block as written to the output: an I and a
// Q value per sample.
func blockBytes(samples int, conv pipeline.Converter) int {
	return samples * 2 * conv.BytesPerSample()
}

// writeBlock emits raw bytes for u8 blocks and little-endian int16 pairs for
// converted ones.
func writeBlock(w io.Writer, blk *pipeline.Block) error {
	if blk.S16 != nil {
		return binary.Write(w, binary.LittleEndian, blk.S16)
	}
	_, err := w.Write(blk.Raw)
	return err
}
