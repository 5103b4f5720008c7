package session

import (
	"errors"
	"image"
	"strings"
	"sync"
	"testing"

	"github.com/ezemtsov/ewm-sub001/geom"
	"github.com/ezemtsov/ewm-sub001/snapshot"
	"github.com/ezemtsov/ewm-sub001/tiler"
)

type configureCall struct {
	id   uint32
	rect geom.Rect
}

type fakePipeline struct {
	mu         sync.Mutex
	configures []configureCall
	orders     [][]uint32
	frame      image.Image
	captureErr error
	area       geom.Rect
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		frame: image.NewNRGBA(image.Rect(0, 0, 2, 2)),
		area:  geom.Rect{X: 0, Y: 0, Width: 800, Height: 600},
	}
}

func (p *fakePipeline) Configure(id uint32, rect geom.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configures = append(p.configures, configureCall{id: id, rect: rect})
}

func (p *fakePipeline) DrawOrder(ids []uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, append([]uint32(nil), ids...))
}

func (p *fakePipeline) CaptureFrame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return p.frame, nil
}

func (p *fakePipeline) OutputArea() geom.Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.area
}

func (p *fakePipeline) configureLog() []configureCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]configureCall(nil), p.configures...)
}

func (p *fakePipeline) orderLog() [][]uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]uint32(nil), p.orders...)
}

type fakeConn struct {
	id        uint64
	sent      []string
	failAfter int
	closed    bool
}

func newFakeConn(id uint64) *fakeConn {
	return &fakeConn{id: id, failAfter: -1}
}

func (c *fakeConn) Send(line string) error {
	if c.failAfter >= 0 && len(c.sent) >= c.failAfter {
		return errors.New("peer gone")
	}
	c.sent = append(c.sent, line)
	return nil
}

func (c *fakeConn) Close() {
	c.closed = true
}

func (c *fakeConn) ID() uint64 {
	return c.id
}

func newTestSession(t *testing.T) (*Session, *fakePipeline) {
	t.Helper()
	pipe := newFakePipeline()
	return New(pipe, nil, snapshot.NewWriter(t.TempDir()), 60), pipe
}

func connect(t *testing.T, s *Session, conn *fakeConn) {
	t.Helper()
	s.handleInput(input{from: conn, line: "connect"})
	if len(conn.sent) == 0 || conn.sent[0] != "ok connected" {
		t.Fatalf("attachment handshake failed, sent %v", conn.sent)
	}
}

func mapSurface(t *testing.T, s *Session) uint32 {
	t.Helper()
	id := s.addSurface()
	s.surfaceMapped(id)
	return id
}

func TestMappedSurfacesAnnouncedInOrder(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	a := mapSurface(t, s)
	b := mapSurface(t, s)
	s.tick()

	want := []string{"ok connected", "created 1", "created 2"}
	if strings.Join(conn.sent, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, conn.sent)
	}
	if a != 1 || b != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", a, b)
	}
}

func TestRemapAnnouncesOnlyOnce(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	id := mapSurface(t, s)
	s.surfaceMapped(id)
	s.tick()

	count := 0
	for _, line := range conn.sent {
		if strings.HasPrefix(line, "created ") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one created event, got %d in %v", count, conn.sent)
	}
}

func TestCreatedPrecedesClosedWithinOneTick(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	id := mapSurface(t, s)
	s.surfaceClosed(id)
	s.tick()

	want := []string{"ok connected", "created 1", "closed 1"}
	if strings.Join(conn.sent, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, conn.sent)
	}
}

func TestClosedSuppressedForUnannouncedSurface(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	// Attached but never mapped: the frontend never heard of this id.
	id := s.addSurface()
	s.surfaceClosed(id)
	s.tick()

	for _, line := range conn.sent {
		if strings.HasPrefix(line, "closed ") {
			t.Errorf("unexpected closed event %q for an unannounced surface", line)
		}
	}
}

func TestClosedDeliveredForReplayedSurface(t *testing.T) {
	s, _ := newTestSession(t)

	// Mapped with nobody attached, then announced through the resync
	// replay, so its closed must go out.
	id := mapSurface(t, s)

	conn := newFakeConn(1)
	connect(t, s, conn)
	s.surfaceClosed(id)
	s.tick()

	want := []string{"ok connected", "created 1", "closed 1"}
	if strings.Join(conn.sent, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, conn.sent)
	}
}

func TestResyncReplaysOnlyLiveSurfaces(t *testing.T) {
	s, _ := newTestSession(t)

	mapSurface(t, s)
	b := mapSurface(t, s)
	mapSurface(t, s)
	s.surfaceClosed(b)
	s.tick()

	conn := newFakeConn(1)
	s.handleInput(input{from: conn, line: "connect"})

	want := []string{"ok connected", "created 1", "created 3"}
	if strings.Join(conn.sent, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, conn.sent)
	}
}

func TestLayoutCoalescesIntoOneConfigure(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	id := mapSurface(t, s)
	s.handleInput(input{from: conn, line: "layout 1 0,0 100x100"})
	s.handleInput(input{from: conn, line: "layout 1 10,20 300x200"})
	s.tick()

	configures := pipe.configureLog()
	if len(configures) != 1 {
		t.Fatalf("expected one configure, got %d: %v", len(configures), configures)
	}
	want := configureCall{id: id, rect: geom.Rect{X: 10, Y: 20, Width: 300, Height: 200}}
	if configures[0] != want {
		t.Errorf("expected %v, got %v", want, configures[0])
	}

	// A quiet tick issues nothing further.
	s.tick()
	if got := pipe.configureLog(); len(got) != 1 {
		t.Errorf("expected no configure on a quiet tick, got %v", got)
	}
}

func TestLayoutAcrossTicksConfiguresEachTime(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	mapSurface(t, s)
	s.handleInput(input{from: conn, line: "layout 1 0,0 100x100"})
	s.tick()
	s.handleInput(input{from: conn, line: "layout 1 0,0 200x200"})
	s.tick()

	configures := pipe.configureLog()
	if len(configures) != 2 {
		t.Fatalf("expected two configures, got %v", configures)
	}
	if configures[1].rect.Width != 200 {
		t.Errorf("expected second configure at width 200, got %v", configures[1])
	}
}

// One surface, cradle to grave, over a single attachment.
func TestSurfaceLifetimeEndToEnd(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	id := mapSurface(t, s)
	s.tick()

	s.handleInput(input{from: conn, line: "layout 1 0,0 800x600"})
	s.handleInput(input{from: conn, line: "layout 1 0,0 800x300"})
	s.tick()

	configures := pipe.configureLog()
	if len(configures) != 1 {
		t.Fatalf("expected one configure, got %v", configures)
	}
	want := configureCall{id: id, rect: geom.Rect{X: 0, Y: 0, Width: 800, Height: 300}}
	if configures[0] != want {
		t.Errorf("expected %v, got %v", want, configures[0])
	}

	s.surfaceClosed(id)
	s.tick()

	s.handleInput(input{from: conn, line: "layout 1 0,0 100x100"})

	transcript := []string{
		"ok connected",
		"created 1",
		"closed 1",
		"error closed-surface 1",
	}
	if strings.Join(conn.sent, "|") != strings.Join(transcript, "|") {
		t.Errorf("expected transcript %v, got %v", transcript, conn.sent)
	}
}

func TestLayoutErrors(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	s.handleInput(input{from: conn, line: "layout 9 0,0 100x100"})
	if got := conn.sent[len(conn.sent)-1]; got != "error unknown-surface 9" {
		t.Errorf("expected unknown-surface error, got %q", got)
	}

	id := mapSurface(t, s)
	s.surfaceClosed(id)
	s.handleInput(input{from: conn, line: "layout 1 0,0 100x100"})
	if got := conn.sent[len(conn.sent)-1]; got != "error closed-surface 1" {
		t.Errorf("expected closed-surface error, got %q", got)
	}
}

func TestMalformedFrameAnswersProtocolError(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)

	s.handleInput(input{from: conn, line: "lay0ut what"})
	if len(conn.sent) != 1 || !strings.HasPrefix(conn.sent[0], "error protocol ") {
		t.Errorf("expected a protocol error, got %v", conn.sent)
	}
}

func TestCommandsRequireAttachment(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)

	for _, line := range []string{"layout 1 0,0 10x10", "snapshot", "disconnect"} {
		s.handleInput(input{from: conn, line: line})
		got := conn.sent[len(conn.sent)-1]
		if got != "error not-connected send connect first" {
			t.Errorf("%q: expected not-connected error, got %q", line, got)
		}
	}
}

func TestSecondConnectRejected(t *testing.T) {
	s, _ := newTestSession(t)
	first := newFakeConn(1)
	connect(t, s, first)

	second := newFakeConn(2)
	s.handleInput(input{from: second, line: "connect"})
	if len(second.sent) != 1 || !strings.HasPrefix(second.sent[0], "error already-connected ") {
		t.Errorf("expected already-connected error, got %v", second.sent)
	}

	// The original attachment keeps working.
	mapSurface(t, s)
	s.tick()
	if got := first.sent[len(first.sent)-1]; got != "created 1" {
		t.Errorf("expected first frontend still served, got %q", got)
	}

	s.handleInput(input{from: first, line: "connect"})
	if got := first.sent[len(first.sent)-1]; !strings.HasPrefix(got, "error already-connected ") {
		t.Errorf("expected repeat connect rejected, got %q", got)
	}
}

func TestZeroAreaLeavesDrawOrder(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	a := mapSurface(t, s)
	b := mapSurface(t, s)
	s.handleInput(input{from: conn, line: "layout 1 0,0 100x100"})
	s.handleInput(input{from: conn, line: "layout 2 0,0 0x0"})
	s.tick()

	orders := pipe.orderLog()
	last := orders[len(orders)-1]
	if len(last) != 1 || last[0] != a {
		t.Errorf("expected draw order [%d], got %v", a, last)
	}

	s.handleInput(input{from: conn, line: "layout 2 50,50 200x200"})
	s.tick()
	orders = pipe.orderLog()
	last = orders[len(orders)-1]
	if len(last) != 2 || last[0] != a || last[1] != b {
		t.Errorf("expected draw order [%d %d], got %v", a, b, last)
	}
}

func TestDisconnectClosesAndDetaches(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	s.handleInput(input{from: conn, line: "disconnect"})
	if !conn.closed {
		t.Error("expected connection closed")
	}
	if s.attached != nil {
		t.Error("expected attachment released")
	}

	// Lifecycle continues silently without a frontend.
	mapSurface(t, s)
	s.tick()
	for _, line := range conn.sent {
		if strings.HasPrefix(line, "created ") {
			t.Errorf("event %q delivered after disconnect", line)
		}
	}
}

func TestHangupReleasesOnlyOwnAttachment(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	other := newFakeConn(2)
	s.handleInput(input{from: other, hangup: true})
	if s.attached == nil {
		t.Fatal("unrelated hangup released the attachment")
	}

	s.handleInput(input{from: conn, hangup: true})
	if s.attached != nil {
		t.Error("expected attachment released on hangup")
	}
}

func TestSendFailureDetachesAndStatePersists(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	mapSurface(t, s)
	conn.failAfter = len(conn.sent)
	s.tick()

	if s.attached != nil {
		t.Fatal("expected detach after delivery failure")
	}
	if len(s.events) != 0 {
		t.Errorf("expected event queue cleared, got %v", s.events)
	}

	// The surface survived the frontend and shows up in the next resync.
	next := newFakeConn(2)
	connect(t, s, next)
	want := "created 1"
	found := false
	for _, line := range next.sent {
		if line == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q in resync %v", want, next.sent)
	}
}

func TestFallbackTilingWhileUnattached(t *testing.T) {
	s, pipe := newTestSession(t)

	mapSurface(t, s)
	mapSurface(t, s)
	s.tick()

	wantRects := tiler.Grid(2, pipe.OutputArea(), fallbackGap)
	configures := pipe.configureLog()
	if len(configures) != 2 {
		t.Fatalf("expected two configures, got %v", configures)
	}
	for i, call := range configures {
		if call.rect != wantRects[i] {
			t.Errorf("surface %d: expected %v, got %v", call.id, wantRects[i], call.rect)
		}
	}
}

func TestFallbackStopsOnceAttached(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	mapSurface(t, s)
	s.tick()

	// Attached: no geometry is invented, only the frontend assigns it.
	for _, call := range pipe.configureLog() {
		t.Errorf("unexpected configure %v while a frontend is attached", call)
	}
}

func TestDetachRetilesSurvivors(t *testing.T) {
	s, pipe := newTestSession(t)
	conn := newFakeConn(1)
	connect(t, s, conn)

	mapSurface(t, s)
	s.handleInput(input{from: conn, line: "layout 1 5,5 50x50"})
	s.tick()

	s.handleInput(input{from: conn, hangup: true})
	s.tick()

	configures := pipe.configureLog()
	last := configures[len(configures)-1]
	wantRects := tiler.Grid(1, pipe.OutputArea(), fallbackGap)
	if last.rect != wantRects[0] {
		t.Errorf("expected fallback rect %v after detach, got %v", wantRects[0], last.rect)
	}
}

func TestStatusReflectsState(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn(7)
	connect(t, s, conn)
	mapSurface(t, s)

	st := s.status()
	if !st.Attached || st.Conn != 7 {
		t.Errorf("expected attachment by conn 7, got %+v", st)
	}
	if len(st.Surfaces) != 1 {
		t.Errorf("expected one surface, got %d", len(st.Surfaces))
	}
	if st.QueuedEvents != 1 {
		t.Errorf("expected one queued event, got %d", st.QueuedEvents)
	}
	if st.SnapshotBusy {
		t.Error("expected no snapshot pending")
	}
}
