package ipc

import (
	"errors"
	"testing"

	"github.com/ezemtsov/ewm-sub001/geom"
)

func TestParseCommandConnect(t *testing.T) {
	cmd, err := ParseCommand("connect")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Kind != CmdConnect {
		t.Errorf("expected CmdConnect, got %v", cmd.Kind)
	}
}

func TestParseCommandLayout(t *testing.T) {
	cmd, err := ParseCommand("layout 7 10,-20 640x480")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Kind != CmdLayout {
		t.Errorf("expected CmdLayout, got %v", cmd.Kind)
	}
	if cmd.Surface != 7 {
		t.Errorf("expected surface 7, got %d", cmd.Surface)
	}
	want := geom.Rect{X: 10, Y: -20, Width: 640, Height: 480}
	if cmd.Rect != want {
		t.Errorf("expected rect %v, got %v", want, cmd.Rect)
	}
}

func TestParseCommandTrailingWhitespace(t *testing.T) {
	cmd, err := ParseCommand("  snapshot \t")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Kind != CmdSnapshot {
		t.Errorf("expected CmdSnapshot, got %v", cmd.Kind)
	}
}

func TestParseCommandDisconnect(t *testing.T) {
	cmd, err := ParseCommand("disconnect")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Kind != CmdDisconnect {
		t.Errorf("expected CmdDisconnect, got %v", cmd.Kind)
	}
}

func TestParseCommandRejects(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"resize 1 0,0 10x10",
		"connect now",
		"layout",
		"layout 1",
		"layout 1 0,0",
		"layout 1 0,0 10x10 extra",
		"layout abc 0,0 10x10",
		"layout -1 0,0 10x10",
		"layout 1 0:0 10x10",
		"layout 1 0,0 10x-10",
		"snapshot please",
		"disconnect 2",
	}
	for _, line := range bad {
		if _, err := ParseCommand(line); err == nil {
			t.Errorf("expected %q to be rejected", line)
		}
	}
}

func TestParseErrorKeepsFrame(t *testing.T) {
	const frame = "layout 1 garbage 10x10"
	_, err := ParseCommand(frame)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a *ParseError, got %T", err)
	}
	if perr.Frame != frame {
		t.Errorf("expected frame %q kept, got %q", frame, perr.Frame)
	}
}

func TestSurfaceIDRange(t *testing.T) {
	cmd, err := ParseCommand("layout 4294967295 0,0 1x1")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Surface != 4294967295 {
		t.Errorf("expected max id preserved, got %d", cmd.Surface)
	}
	if _, err := ParseCommand("layout 4294967296 0,0 1x1"); err == nil {
		t.Error("expected id above 32 bits to be rejected")
	}
}

func TestEventLines(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{Connected(), "ok connected"},
		{Created(3), "created 3"},
		{Closed(12), "closed 12"},
		{SnapshotAck("/tmp/shot.png"), "snapshot-ack /tmp/shot.png"},
		{SnapshotErr(SnapshotNoFrame), "snapshot-err no-frame"},
		{ErrorLine(CodeUnknownSurface, "9"), "error unknown-surface 9"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("expected %q, got %q", c.want, c.got)
		}
	}
}
