package mockserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv := New(cfg, logging.Nop())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func TestServerHandshakeAndCommands(t *testing.T) {
	srv := startServer(t, Config{Tuner: tuner.E4000, Counter: true, BlockSize: 64})

	c, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))

	hdr := make([]byte, connectionmgr.HandshakeLen)
	if _, err := io.ReadFull(c, hdr); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	info, err := connectionmgr.ParseHandshake(hdr)
	if err != nil {
		t.Fatalf("parse handshake: %v", err)
	}
	if info.Tuner != tuner.E4000 || info.GainCount != 14 {
		t.Fatalf("unexpected device info %v", info)
	}

	payload := make([]byte, 4)
	if _, err := io.ReadFull(c, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	for i, b := range payload {
		if b != byte(i) {
			t.Fatalf("expected counter payload, got % x", payload)
		}
	}

	frame := connectionmgr.EncodeCommand(connectionmgr.CmdSetFrequency, 433_920_000)
	if _, err := c.Write(frame[:]); err != nil {
		t.Fatalf("write command: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Frequency() != 433_920_000 {
		if time.Now().After(deadline) {
			t.Fatalf("expected frequency command to be applied, got %d", srv.Frequency())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cmds := srv.Commands()
	if len(cmds) != 1 || cmds[0].Cmd != connectionmgr.CmdSetFrequency {
		t.Fatalf("unexpected commands %v", cmds)
	}
}

func TestToneStaysCentred(t *testing.T) {
	g := newGenerator(Config{ToneOffset: 1000}.withDefaults())
	buf := make([]byte, 4096)
	g.fill(buf, 48_000)
	var sum int
	for _, b := range buf {
		sum += int(b)
	}
	mean := float64(sum) / float64(len(buf))
	if mean < 120 || mean > 135 {
		t.Fatalf("expected samples centred near 127.5, got mean %.1f", mean)
	}
}
