package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ezemtsov/ewm-sub001/common/ipc"
	"github.com/ezemtsov/ewm-sub001/snapshot"
	"github.com/ezemtsov/ewm-sub001/surface"
	"github.com/ezemtsov/ewm-sub001/tiler"
)

func (s *Session) addSurface() uint32 {
	id := s.registry.Register()
	logrus.WithField("surface", id).Debugln("Surface registered")
	return id
}

func (s *Session) surfaceMapped(id uint32) {
	first, err := s.registry.MarkMapped(id)
	if err != nil {
		logrus.WithField("surface", id).WithError(err).Errorln("Backend mapped an unknown surface")
		return
	}
	if !first {
		return
	}
	logrus.WithField("surface", id).Infoln("Surface mapped")
	s.orderChanged = true
	if s.attached != nil {
		s.events = append(s.events, ipc.Created(id))
		s.announced[id] = true
		return
	}
	s.retile()
}

func (s *Session) surfaceClosed(id uint32) {
	first, err := s.registry.Close(id)
	if err != nil {
		logrus.WithField("surface", id).WithError(err).Errorln("Backend closed an unknown surface")
		return
	}
	if !first {
		return
	}
	logrus.WithField("surface", id).Infoln("Surface closed")
	s.orderChanged = true
	if s.attached != nil {
		// A surface this frontend never heard about produces no event,
		// so every closed a frontend sees had its created first.
		if s.announced[id] {
			s.events = append(s.events, ipc.Closed(id))
			delete(s.announced, id)
		}
		return
	}
	s.retile()
}

func (s *Session) handleInput(in input) {
	if in.hangup {
		if s.attached == in.from {
			s.detach("connection lost")
		}
		return
	}
	cmd, err := ipc.ParseCommand(in.line)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"conn":  in.from.ID(),
			"frame": in.line,
		}).Debugln("Rejecting malformed frame")
		s.respond(in.from, ipc.ErrorLine(ipc.CodeProtocol, err.Error()))
		return
	}
	s.handleCommand(in.from, cmd)
}

func (s *Session) handleCommand(from Endpoint, cmd ipc.Command) {
	switch cmd.Kind {
	case ipc.CmdConnect:
		switch {
		case s.attached == from:
			s.respond(from, ipc.ErrorLine(ipc.CodeAlreadyConnected, "this connection holds the attachment"))
		case s.attached != nil:
			s.respond(from, ipc.ErrorLine(ipc.CodeAlreadyConnected, "another frontend is attached"))
		default:
			s.attach(from)
		}

	case ipc.CmdLayout:
		if s.attached != from {
			s.respond(from, ipc.ErrorLine(ipc.CodeNotConnected, "send connect first"))
			return
		}
		if err := s.registry.ApplyGeometry(cmd.Surface, cmd.Rect); err != nil {
			s.respondLayoutError(from, cmd.Surface, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"surface": cmd.Surface,
			"rect":    cmd.Rect,
		}).Debugln("Layout surface")
		s.orderChanged = true

	case ipc.CmdSnapshot:
		if s.attached != from {
			s.respond(from, ipc.ErrorLine(ipc.CodeNotConnected, "send connect first"))
			return
		}
		if s.snapArmed || s.snapInFlight {
			s.respond(from, ipc.ErrorLine(ipc.CodeSnapshotBusy, "capture already pending"))
			return
		}
		s.snapArmed = true

	case ipc.CmdDisconnect:
		if s.attached != from {
			s.respond(from, ipc.ErrorLine(ipc.CodeNotConnected, "send connect first"))
			return
		}
		s.detach("frontend disconnected")
		from.Close()
	}
}

// respond sends a direct reply outside the per-tick event queue. Losing
// the attached connection mid-reply detaches like any other send
// failure.
func (s *Session) respond(from Endpoint, line string) {
	if err := from.Send(line); err != nil && s.attached == from {
		s.detach("reply delivery failed")
	}
}

func (s *Session) attach(from Endpoint) {
	s.attached = from
	s.announced = map[uint32]bool{}
	s.events = s.events[:0]
	logrus.WithField("conn", from.ID()).Infoln("Frontend attached")

	if err := from.Send(ipc.Connected()); err != nil {
		s.detach("handshake delivery failed")
		return
	}
	// Resync: the new frontend learns every live surface before any
	// other event can mention one.
	for _, surf := range s.registry.Mapped() {
		if err := from.Send(ipc.Created(surf.ID)); err != nil {
			s.detach("resync delivery failed")
			return
		}
		s.announced[surf.ID] = true
	}
}

func (s *Session) detach(reason string) {
	if s.attached == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"conn":   s.attached.ID(),
		"reason": reason,
	}).Infoln("Frontend detached")
	s.attached = nil
	s.announced = nil
	s.events = s.events[:0]
	s.retile()
}

// retile arranges all mapped surfaces in the fallback grid. Only runs
// while no frontend is attached, an attached frontend owns geometry
// exclusively.
func (s *Session) retile() {
	s.orderChanged = true
	mapped := s.registry.Mapped()
	if len(mapped) == 0 {
		return
	}
	rects := tiler.Grid(len(mapped), s.pipeline.OutputArea(), fallbackGap)
	for i, surf := range mapped {
		if err := s.registry.ApplyGeometry(surf.ID, rects[i]); err != nil {
			logrus.WithField("surface", surf.ID).WithError(err).Errorln("Fallback tiling skipped a surface")
		}
	}
}

// tick flushes one frame worth of work: geometry to the pipeline, then
// the paint order, then an armed capture, then queued events to the
// frontend. Capture runs after the flush so the frame reflects the
// latest layout.
func (s *Session) tick() {
	for _, surf := range s.registry.TakeDirty() {
		s.pipeline.Configure(surf.ID, surf.Rect)
	}
	if s.orderChanged {
		s.pipeline.DrawOrder(s.registry.DrawOrder())
		s.orderChanged = false
	}
	if s.snapArmed {
		s.snapArmed = false
		s.captureFrame()
	}
	s.drainEvents()
}

func (s *Session) captureFrame() {
	img, err := s.pipeline.CaptureFrame()
	if err != nil {
		reason := ipc.SnapshotNoFrame
		if errors.Is(err, ErrCaptureUnsupported) {
			reason = ipc.SnapshotUnsupported
		}
		logrus.WithError(err).Errorln("Frame capture failed")
		s.events = append(s.events, ipc.SnapshotErr(reason))
		return
	}
	s.snapInFlight = true
	go func() {
		path, err := s.shots.Write(img)
		select {
		case s.snapRes <- snapResult{path: path, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Session) finishSnapshot(res snapResult) {
	s.snapInFlight = false
	if s.attached == nil {
		// Nobody to tell. The file, if any, stays on disk.
		if res.err != nil {
			logrus.WithError(res.err).Errorln("Snapshot failed with no frontend attached")
		} else {
			logrus.WithField("path", res.path).Infoln("Snapshot written with no frontend attached")
		}
		return
	}
	if res.err != nil {
		reason := ipc.SnapshotWriteFailed
		if errors.Is(res.err, snapshot.ErrEncode) {
			reason = ipc.SnapshotEncodeFailed
		}
		logrus.WithError(res.err).Errorln("Snapshot failed")
		s.events = append(s.events, ipc.SnapshotErr(reason))
		return
	}
	logrus.WithField("path", res.path).Infoln("Snapshot written")
	s.events = append(s.events, ipc.SnapshotAck(res.path))
}

func (s *Session) drainEvents() {
	if s.attached == nil || len(s.events) == 0 {
		return
	}
	for _, line := range s.events {
		if err := s.attached.Send(line); err != nil {
			// detach already cleared the queue.
			s.detach("event delivery failed")
			return
		}
	}
	s.events = s.events[:0]
}

func (s *Session) respondLayoutError(from Endpoint, id uint32, err error) {
	code := ipc.CodeUnknownSurface
	if errors.Is(err, surface.ErrClosedSurface) {
		code = ipc.CodeClosedSurface
	}
	s.respond(from, ipc.ErrorLine(code, fmt.Sprintf("%d", id)))
}
