// Package ipc defines the line protocol spoken between the compositor and
// its frontend: the command set the frontend may send and the response and
// event lines the compositor emits. Frames are single newline-terminated
// text lines with space-separated fields, so a transcript of the channel
// stays readable and greppable.
package ipc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ezemtsov/ewm-sub001/geom"
)

type CommandKind int

const (
	// CmdConnect claims the frontend attachment for the sending
	// connection. Answered with "ok connected" followed by a replay of
	// "created" events for every live surface.
	CmdConnect = CommandKind(iota)
	// CmdLayout assigns a rect to one surface: "layout <id> <x>,<y> <w>x<h>".
	CmdLayout
	// CmdSnapshot requests a capture of the next composited frame.
	CmdSnapshot
	// CmdDisconnect releases the attachment and closes the connection.
	CmdDisconnect
)

// Command is one decoded inbound frame. Surface and Rect are only
// meaningful for CmdLayout.
type Command struct {
	Kind    CommandKind
	Surface uint32
	Rect    geom.Rect
}

// ParseError describes a frame the codec refused. The offending frame is
// kept verbatim so the error response can identify it to the sender.
type ParseError struct {
	Frame  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s in frame %q", e.Reason, e.Frame)
}

// ParseCommand decodes one inbound line. A failure is always a
// *ParseError; the connection survives it, only the frame is rejected.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, &ParseError{Frame: line, Reason: "empty frame"}
	}
	switch fields[0] {
	case "connect":
		if len(fields) != 1 {
			return Command{}, &ParseError{Frame: line, Reason: "connect takes no arguments"}
		}
		return Command{Kind: CmdConnect}, nil
	case "layout":
		if len(fields) != 4 {
			return Command{}, &ParseError{Frame: line, Reason: "layout wants <id> <x>,<y> <w>x<h>"}
		}
		id, err := parseSurfaceID(fields[1])
		if err != nil {
			return Command{}, &ParseError{Frame: line, Reason: err.Error()}
		}
		rect, err := geom.ParseRect(fields[2], fields[3])
		if err != nil {
			return Command{}, &ParseError{Frame: line, Reason: err.Error()}
		}
		return Command{Kind: CmdLayout, Surface: id, Rect: rect}, nil
	case "snapshot":
		if len(fields) != 1 {
			return Command{}, &ParseError{Frame: line, Reason: "snapshot takes no arguments"}
		}
		return Command{Kind: CmdSnapshot}, nil
	case "disconnect":
		if len(fields) != 1 {
			return Command{}, &ParseError{Frame: line, Reason: "disconnect takes no arguments"}
		}
		return Command{Kind: CmdDisconnect}, nil
	default:
		return Command{}, &ParseError{Frame: line, Reason: fmt.Sprintf("unknown command %q", fields[0])}
	}
}

func parseSurfaceID(field string) (uint32, error) {
	id, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad surface id %q", field)
	}
	return uint32(id), nil
}

// Error codes carried on "error <code> <detail>" response lines.
const (
	CodeProtocol         = "protocol"
	CodeUnknownSurface   = "unknown-surface"
	CodeClosedSurface    = "closed-surface"
	CodeAlreadyConnected = "already-connected"
	CodeNotConnected     = "not-connected"
	CodeSnapshotBusy     = "snapshot-busy"
)

// Reason codes carried on "snapshot-err <reason>" event lines.
const (
	SnapshotNoFrame      = "no-frame"
	SnapshotUnsupported  = "unsupported"
	SnapshotEncodeFailed = "encode-failed"
	SnapshotWriteFailed  = "write-failed"
)

// Connected is the direct response to an accepted connect command.
func Connected() string {
	return "ok connected"
}

// Created formats the lifecycle event announcing a mapped surface.
func Created(id uint32) string {
	return fmt.Sprintf("created %d", id)
}

// Closed formats the lifecycle event announcing a finished surface.
func Closed(id uint32) string {
	return fmt.Sprintf("closed %d", id)
}

// SnapshotAck formats the completion event for a written capture.
func SnapshotAck(path string) string {
	return fmt.Sprintf("snapshot-ack %s", path)
}

// SnapshotErr formats the failure event for a capture that produced no
// artifact.
func SnapshotErr(reason string) string {
	return fmt.Sprintf("snapshot-err %s", reason)
}

// ErrorLine formats a command rejection.
func ErrorLine(code, detail string) string {
	return fmt.Sprintf("error %s %s", code, detail)
}
