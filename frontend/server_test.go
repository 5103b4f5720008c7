package frontend

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T, backlog int) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ewm.sock")
	s := NewServer(path, backlog)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, path
}

func waitInbound(t *testing.T, s *Server) Inbound {
	t.Helper()
	select {
	case in := <-s.Inbound():
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame arrived")
		return Inbound{}
	}
}

func TestServerDeliversFrames(t *testing.T) {
	s, path := startServer(t, 16)

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Send("connect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	in := waitInbound(t, s)
	if in.Hangup {
		t.Fatal("expected a frame, got a hangup")
	}
	if in.Line != "connect" {
		t.Errorf("expected frame %q, got %q", "connect", in.Line)
	}
	if in.Conn == nil {
		t.Fatal("frame carries no connection")
	}
}

func TestServerSendReachesClient(t *testing.T) {
	s, path := startServer(t, 16)

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Send("connect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	in := waitInbound(t, s)

	if err := in.Conn.Send("created 1"); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
	line, err := client.RecvWithin(2 * time.Second)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if line != "created 1" {
		t.Errorf("expected %q, got %q", "created 1", line)
	}
}

func TestServerEmitsHangupOnClientClose(t *testing.T) {
	s, path := startServer(t, 16)

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := client.Send("connect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	first := waitInbound(t, s)

	client.Close()

	second := waitInbound(t, s)
	if !second.Hangup {
		t.Fatalf("expected a hangup, got frame %q", second.Line)
	}
	if second.Conn != first.Conn {
		t.Error("hangup does not reference the closed connection")
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ewm.sock")

	// A previous run that died without cleanup leaves a file behind on
	// the socket path.
	os.Remove(path)
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	s := NewServer(path, 16)
	if err := s.Start(); err != nil {
		t.Fatalf("start over stale socket failed: %v", err)
	}
	defer s.Stop()

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("dial after replacement failed: %v", err)
	}
	client.Close()
}

func TestServerSocketPermissions(t *testing.T) {
	_, path := startServer(t, 16)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected socket mode 0600, got %o", perm)
	}
}

func TestStopRemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ewm.sock")
	s := NewServer(path, 16)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	s.Stop()

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected socket file removed, stat returned %v", err)
	}
}

func TestConnSendOverflowKillsConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// No write loop draining the queue, so the second send must find it
	// full.
	c := &Conn{
		id:   1,
		raw:  server,
		out:  make(chan string, 1),
		quit: make(chan struct{}),
	}

	if err := c.Send("created 1"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := c.Send("created 2"); !errors.Is(err, ErrBacklog) {
		t.Fatalf("expected ErrBacklog, got %v", err)
	}
	if err := c.Send("created 3"); !errors.Is(err, ErrGone) {
		t.Fatalf("expected ErrGone after teardown, got %v", err)
	}
}

func TestClientRecvWithinTimesOut(t *testing.T) {
	_, path := startServer(t, 16)

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.RecvWithin(50 * time.Millisecond); err == nil {
		t.Fatal("expected a timeout error")
	}
}
