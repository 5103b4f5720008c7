package session

import (
	"errors"
	"image"

	"github.com/ezemtsov/ewm-sub001/geom"
)

var (
	// ErrNoFrame reports a capture attempt before anything was composited.
	ErrNoFrame = errors.New("no composited frame yet")
	// ErrCaptureUnsupported reports a backend without frame readback.
	ErrCaptureUnsupported = errors.New("frame capture not supported")
)

// RenderPipeline is the rendering side of the compositor as the session
// sees it. Implementations take the calls on the session goroutine and
// are expected to hand them over to their own thread without blocking.
type RenderPipeline interface {
	// Configure pushes assigned geometry down to the client surface.
	Configure(id uint32, rect geom.Rect)
	// DrawOrder sets the paint order. Surfaces are painted back to
	// front following the slice order, the last id lands on top.
	DrawOrder(ids []uint32)
	// CaptureFrame returns the pixels of the most recent composited
	// frame. The image must be detached from renderer memory, the
	// caller hands it to an encoding goroutine.
	CaptureFrame() (image.Image, error)
	// OutputArea is the usable box of the primary output.
	OutputArea() geom.Rect
}

// Endpoint is where responses and events go. *frontend.Conn satisfies
// it, tests substitute their own.
type Endpoint interface {
	Send(line string) error
	Close()
	ID() uint64
}
