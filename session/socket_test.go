package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ezemtsov/ewm-sub001/frontend"
	"github.com/ezemtsov/ewm-sub001/geom"
	"github.com/ezemtsov/ewm-sub001/snapshot"
)

func recvLine(t *testing.T, c *frontend.Client) string {
	t.Helper()
	line, err := c.RecvWithin(5 * time.Second)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	return line
}

func TestSessionOverSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ewm.sock")
	srv := frontend.NewServer(path, 32)
	if err := srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(srv.Stop)

	pipe := newFakePipeline()
	sess := New(pipe, srv, snapshot.NewWriter(t.TempDir()), 200)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)

	client, err := frontend.Dial(path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Send("connect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if line := recvLine(t, client); line != "ok connected" {
		t.Fatalf("expected handshake, got %q", line)
	}

	id := sess.PostSurfaceAdded()
	if id != 1 {
		t.Fatalf("expected first surface id 1, got %d", id)
	}
	sess.PostSurfaceMapped(id)
	if line := recvLine(t, client); line != "created 1" {
		t.Fatalf("expected created event, got %q", line)
	}

	// A second frontend cannot steal the attachment.
	intruder, err := frontend.Dial(path)
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer intruder.Close()
	if err := intruder.Send("connect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if line := recvLine(t, intruder); !strings.HasPrefix(line, "error already-connected ") {
		t.Fatalf("expected rejection, got %q", line)
	}

	if err := client.Send("layout 1 10,10 640x480"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	want := configureCall{id: 1, rect: geom.Rect{X: 10, Y: 10, Width: 640, Height: 480}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		calls := pipe.configureLog()
		if len(calls) > 0 && calls[len(calls)-1] == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("configure never reached the pipeline, got %v", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := client.Send("snapshot"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ack := recvLine(t, client)
	if !strings.HasPrefix(ack, "snapshot-ack ") {
		t.Fatalf("expected ack, got %q", ack)
	}
	if _, err := os.Stat(strings.TrimPrefix(ack, "snapshot-ack ")); err != nil {
		t.Errorf("acked file missing: %v", err)
	}

	sess.PostSurfaceClosed(id)
	if line := recvLine(t, client); line != "closed 1" {
		t.Fatalf("expected closed event, got %q", line)
	}

	if err := client.Send("disconnect"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := client.RecvWithin(2 * time.Second); err == nil {
		t.Error("expected the connection to be closed after disconnect")
	}
}
