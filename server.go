package main

import (
	"container/list"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
	"github.com/swaywm/go-wlroots/xkb"

	"github.com/ezemtsov/ewm-sub001/geom"
	"github.com/ezemtsov/ewm-sub001/session"
)

// managed ties a mapped toplevel to the id the session tracks it under.
type managed struct {
	id       uint32
	topLevel wlroots.XDGTopLevel
}

type surfaceGeo struct {
	id   uint32
	rect geom.Rect
}

type Server struct {
	display     wlroots.Display
	backend     wlroots.Backend
	renderer    wlroots.Renderer
	allocator   wlroots.Allocator
	scene       wlroots.Scene
	sceneLayout wlroots.SceneOutputLayout

	xdgShell     wlroots.XDGShell
	topLevelList list.List // *managed entries, most recently focused first

	cursor    wlroots.Cursor
	cursorMgr wlroots.XCursorManager

	seat      wlroots.Seat
	keyboards []*Keyboard

	outputLayout wlroots.OutputLayout
	outputs      []*wlroots.Output

	sess *session.Session

	// Layout work handed over by the session goroutine, drained on the
	// wayland thread right before a frame commits.
	opLock       sync.Mutex
	pendingGeo   []surfaceGeo
	pendingOrder []uint32
	area         geom.Rect
}

type Keyboard struct {
	dev wlroots.InputDevice
}

// Configure queues geometry for one surface. Runs on the session
// goroutine, the next frame handler applies it.
func (server *Server) Configure(id uint32, rect geom.Rect) {
	server.opLock.Lock()
	server.pendingGeo = append(server.pendingGeo, surfaceGeo{id: id, rect: rect})
	server.opLock.Unlock()
}

// DrawOrder queues a restack. ids are painted back to front, the last
// one lands on top.
func (server *Server) DrawOrder(ids []uint32) {
	server.opLock.Lock()
	server.pendingOrder = ids
	server.opLock.Unlock()
}

// CaptureFrame always fails. The wlroots bindings in use expose no way
// to read back a committed frame.
func (server *Server) CaptureFrame() (image.Image, error) {
	return nil, session.ErrCaptureUnsupported
}

// OutputArea is the box of the primary output's current mode.
func (server *Server) OutputArea() geom.Rect {
	server.opLock.Lock()
	defer server.opLock.Unlock()
	return server.area
}

func (server *Server) entryOf(topLevel *wlroots.XDGTopLevel) *list.Element {
	for e := server.topLevelList.Front(); e != nil; e = e.Next() {
		if e.Value.(*managed).topLevel == *topLevel {
			return e
		}
	}
	return nil
}

func (server *Server) managedByID(id uint32) *managed {
	for e := server.topLevelList.Front(); e != nil; e = e.Next() {
		if m := e.Value.(*managed); m.id == id {
			return m
		}
	}
	return nil
}

func (server *Server) moveFrontTopLevel(topLevel *wlroots.XDGTopLevel) {
	if e := server.entryOf(topLevel); e != nil {
		server.topLevelList.MoveToFront(e)
	}
}

func (server *Server) removeTopLevel(topLevel *wlroots.XDGTopLevel) {
	logrus.WithField("server.topLevelList.Len", server.topLevelList.Len()).Debugln("removeTopLevel")
	if e := server.entryOf(topLevel); e != nil {
		server.topLevelList.Remove(e)
	}
}

func (server *Server) focusTopLevel(topLevel *wlroots.XDGTopLevel, surface *wlroots.Surface) {
	/* Note: this function only deals with keyboard focus. */
	if topLevel == nil {
		return
	}
	prevSurface := server.seat.KeyboardState().FocusedSurface()
	if prevSurface == *surface {
		/* Don't re-focus an already focused surface. */
		return
	}

	if !prevSurface.Nil() {
		/* Deactivate the previously focused surface. The client loses
		 * focus and repaints accordingly, e.g. stops drawing a caret. */
		prevTopLevel, err := prevSurface.XDGTopLevel()
		if err == nil {
			prevTopLevel.SetActivated(false)
		}
	}

	topLevel.Base().SceneTree().Node().RaiseToTop()
	server.moveFrontTopLevel(topLevel)
	topLevel.SetActivated(true)
	/* The seat keeps routing key events to this surface from here on. */
	server.seat.NotifyKeyboardEnter(topLevel.Base().Surface(), server.seat.Keyboard())
}

func (server *Server) handleNewPointer(dev wlroots.InputDevice) {
	/* All pointer handling is proxied through wlr_cursor, nothing
	 * device-specific to set up. */
	server.cursor.AttachInputDevice(dev)
}

func (server *Server) handleKey(keyboard wlroots.Keyboard, time uint32, keyCode uint32, updateState bool, state wlroots.KeyState) {
	/* Raised when a key is pressed or released. */

	// translate libinput keycode to xkbcommon and obtain keysyms
	syms := keyboard.XKBState().Syms(xkb.KeyCode(keyCode + 8))

	handled := false
	modifiers := keyboard.Modifiers()
	if (modifiers&wlroots.KeyboardModifierAlt != 0) && state == wlroots.KeyStatePressed {
		/* Alt held and the key was pressed, try it as a compositor
		 * binding first. */
		for _, sym := range syms {
			handled = server.handleKeyBinding(sym)
		}
	}

	if !handled {
		/* Otherwise, pass it along to the client. */
		server.seat.SetKeyboard(keyboard.Base())
		server.seat.NotifyKeyboardKey(time, keyCode, state)
	}
}

func (server *Server) handleNewKeyboard(dev wlroots.InputDevice) {
	keyboard := dev.Keyboard()

	/* Prepare an XKB keymap and assign it to the keyboard, assuming the
	 * defaults (layout = "us"). */
	context := xkb.NewContext(xkb.KeySymFlagNoFlags)
	keymap := context.KeyMap()
	keyboard.SetKeymap(keymap)
	keymap.Destroy()
	context.Destroy()
	keyboard.SetRepeatInfo(25, 600)

	keyboard.OnModifiers(func(keyboard wlroots.Keyboard) {
		/* Modifier key state changes go straight to the client. */
		server.seat.SetKeyboard(dev)
		server.seat.NotifyKeyboardModifiers(keyboard)
	})
	keyboard.OnKey(server.handleKey)

	server.seat.SetKeyboard(dev)

	server.keyboards = append(server.keyboards, &Keyboard{dev: dev})
}

func (server *Server) handleNewInput(dev wlroots.InputDevice) {
	/* Raised by the backend when a new input device becomes available. */
	switch dev.Type() {
	case wlroots.InputDeviceTypePointer:
		server.handleNewPointer(dev)
	case wlroots.InputDeviceTypeKeyboard:
		server.handleNewKeyboard(dev)
	}

	/* Tell the wlr_seat what our capabilities are. The cursor capability
	 * is always present, even with no pointer devices around. */
	caps := wlroots.SeatCapabilityPointer
	if len(server.keyboards) > 0 {
		caps |= wlroots.SeatCapabilityKeyboard
	}
	server.seat.SetCapabilities(caps)
}

func (server *Server) topLevelAt(lx float64, ly float64) (*wlroots.XDGTopLevel, *wlroots.Surface, float64, float64) {
	/* Topmost node in the scene at the given layout coords. Only buffer
	 * nodes matter, those are backed by client surfaces. */

	node, sx, sy := server.scene.Tree().Node().At(lx, ly)

	if node.Nil() || node.Type() != wlroots.SceneNodeBuffer {
		return nil, nil, 0, 0
	}
	sceneSurface := node.SceneBuffer().SceneSurface()
	if sceneSurface.Nil() {
		return nil, nil, 0, 0
	}
	surface := sceneSurface.Surface()

	topLevel := surface.XDGSurface().TopLevel()
	if server.entryOf(&topLevel) != nil {
		return &topLevel, &surface, sx, sy
	}
	return nil, &surface, sx, sy
}

// applyPending pushes queued geometry and restacks into the scene.
// Surfaces that went away while the work sat in the queue are skipped.
func (server *Server) applyPending() {
	server.opLock.Lock()
	geo := server.pendingGeo
	order := server.pendingOrder
	server.pendingGeo = nil
	server.pendingOrder = nil
	server.opLock.Unlock()

	for _, op := range geo {
		m := server.managedByID(op.id)
		if m == nil {
			logrus.WithField("id", op.id).Debugln("Geometry for surface that is no longer mapped")
			continue
		}
		m.topLevel.Base().TopLevelSetSize(uint32(op.rect.Width), uint32(op.rect.Height))
		m.topLevel.Base().SceneTree().Node().SetPosition(float64(op.rect.X), float64(op.rect.Y))
	}

	for _, id := range order {
		if m := server.managedByID(id); m != nil {
			m.topLevel.Base().SceneTree().Node().RaiseToTop()
		}
	}
}

func (server *Server) handleNewFrame(output wlroots.Output) {
	/* Called every time an output is ready to display a frame, generally
	 * at the output's refresh rate (e.g. 60Hz). */

	sOut, err := server.scene.SceneOutput(output)
	if err != nil {
		return
	}

	server.applyPending()

	/* Render the scene if needed and commit the output */
	sOut.Commit()
	sOut.SendFrameDone(time.Now())
}

func (server *Server) handleOutputRequestState(output wlroots.Output, state wlroots.OutputState) {
	/* Raised when the backend wants a new state for the output, e.g. the
	 * Wayland and X11 backends on window resize. */
	logrus.WithFields(logrus.Fields{
		"output": output,
		"state":  state,
	}).Debugln("New state request for output")
	output.CommitState(state)
}

func (server *Server) handleOutputDestroy(output wlroots.Output) {
	logrus.WithField("name", output.Name()).Debugln("Output getting destroyed")
}

func (server *Server) handleNewOutput(output wlroots.Output) {
	/* Raised by the backend when a new output (aka a display or monitor)
	 * becomes available. */

	logrus.WithField("name", output.Name()).Debugln("New output added")
	server.outputs = append(server.outputs, &output)

	/* The output created by the backend must use our allocator and
	 * renderer. Once, before the first commit. */
	output.InitRender(server.allocator, server.renderer)

	/* The output may be disabled, switch it on. */
	oState := wlroots.NewOutputState()
	oState.StateInit()
	oState.StateSetEnabled(true)

	/* Pick the preferred mode when the backend has modes. DRM+KMS does,
	 * nested backends may not. */
	mode, err := output.PrefferedMode()
	if err == nil {
		oState.SetMode(mode)
	}

	/* Atomically applies the new output state. */
	output.CommitState(oState)
	oState.Finish()

	output.OnFrame(server.handleNewFrame)
	output.OnRequestState(server.handleOutputRequestState)
	output.OnDestroy(server.handleOutputDestroy)

	/* add_auto arranges outputs left to right in arrival order. The
	 * layout utility also publishes the wl_output global for clients. */
	lOutput := server.outputLayout.AddOutputAuto(output)
	sceneOutput := server.scene.NewOutput(output)
	server.sceneLayout.AddOutput(lOutput, sceneOutput)

	/* Layouts are computed against the first output.
	 * TODO: track per-output areas once multi-output layout lands. */
	if err == nil && len(server.outputs) == 1 {
		area := geom.Rect{Width: int(mode.Width()), Height: int(mode.Height())}
		server.opLock.Lock()
		server.area = area
		server.opLock.Unlock()
		logrus.WithField("area", area).Infoln("Primary output area set")
	}

	err = output.SetTitle(fmt.Sprintf("ewm (go-wlroots) - %s", output.Name()))
	if err != nil {
		return
	}
}

func (server *Server) handleCursorMotion(dev wlroots.InputDevice, time uint32, dx float64, dy float64) {
	/* Forwarded by the cursor when a pointer emits a _relative_ motion
	 * event (i.e. a delta). The cursor constrains the motion to the
	 * output layout on its own. */
	server.cursor.Move(dev, dx, dy)
	server.processCursorMotion(time)
}

func (server *Server) handleCursorMotionAbsolute(dev wlroots.InputDevice, time uint32, x float64, y float64) {
	/* Forwarded by the cursor when a pointer emits an _absolute_ motion
	 * event, from 0..1 on each axis. Happens when wlroots runs nested
	 * under another Wayland or X session, and with some hardware. */
	server.cursor.WarpAbsolute(dev, x, y)
	server.processCursorMotion(time)
}

func (server *Server) processCursorMotion(time uint32) {
	/* Find the toplevel under the pointer and send the event along. */
	topLevel, surface, sx, sy := server.topLevelAt(server.cursor.X(), server.cursor.Y())
	if topLevel == nil {
		/* Nothing under the cursor, show the default image. */
		server.cursor.SetXCursor(server.cursorMgr, "default")
	}
	if surface != nil {
		/* The enter event gives the surface pointer focus. wlroots
		 * avoids re-sending enter/motion the client already knows. */
		server.seat.NotifyPointerEnter(*surface, sx, sy)
		server.seat.NotifyPointerMotion(time, sx, sy)
	} else {
		/* Clear pointer focus so future button events are not sent to
		 * the last client to have the cursor over it. */
		server.seat.ClearPointerFocus()
	}
}

func (server *Server) handleSetCursorRequest(client wlroots.SeatClient, surface wlroots.Surface, _ uint32, hotspotX int32, hotspotY int32) {
	/* Raised by the seat when a client provides a cursor image. Any
	 * client can send this, so check that it has pointer focus first. */
	focusedClient := server.seat.PointerState().FocusedClient()
	if focusedClient == client {
		server.cursor.SetSurface(surface, hotspotX, hotspotY)
	}
}

func (server *Server) handleCursorButton(_ wlroots.InputDevice, time uint32, button uint32, state wlroots.ButtonState) {
	/* Forwarded by the cursor when a pointer emits a button event. */

	/* Notify the client with pointer focus that a button press occurred. */
	server.seat.NotifyPointerButton(time, button, state)

	if state == wlroots.ButtonStatePressed {
		/* Focus the client under the cursor on press. */
		topLevel, surface, _, _ := server.topLevelAt(server.cursor.X(), server.cursor.Y())
		server.focusTopLevel(topLevel, surface)
	}
}

func (server *Server) handleCursorAxis(_ wlroots.InputDevice, time uint32, source wlroots.AxisSource, orientation wlroots.AxisOrientation, delta float64, deltaDiscrete int32) {
	/* Scroll wheel and friends, straight to the focused client. */
	server.seat.NotifyPointerAxis(time, orientation, delta, deltaDiscrete, source)
}

func (server *Server) handleCursorFrame() {
	/* Frame events group the pointer events sent since the last one. */
	server.seat.NotifyPointerFrame()
}

func (server *Server) handleKeyBinding(sym xkb.KeySym) bool {
	/* Compositor keybindings, processed while alt is held instead of
	 * being passed to the client. */
	switch sym {
	case xkb.KeySymEscape:
		server.display.Terminate()
	case xkb.KeySymF1:
		/* Cycle keyboard focus to the next toplevel. */
		if server.topLevelList.Len() < 2 {
			break
		}
		next := server.topLevelList.Front().Next().Value.(*managed)
		nextSurface := next.topLevel.Base().Surface()
		server.focusTopLevel(&next.topLevel, &nextSurface)
	default:
		return false
	}
	return true
}

func (server *Server) handleMapXDGToplevel(xdgSurface wlroots.XDGSurface, id uint32) {
	/* Called when the surface is mapped, or ready to display on-screen. */
	topLevel := xdgSurface.TopLevel()
	surface := xdgSurface.Surface()
	logrus.WithFields(logrus.Fields{
		"id":                      id,
		"server.topLevelList.Len": server.topLevelList.Len(),
	}).Debugln("handleMapXDGToplevel")
	server.topLevelList.PushFront(&managed{id: id, topLevel: topLevel})
	server.focusTopLevel(&topLevel, &surface)
	server.sess.PostSurfaceMapped(id)
}

func (server *Server) handleUnMapXDGToplevel(xdgSurface wlroots.XDGSurface) {
	/* Called when the surface is unmapped, and should no longer be shown. */
	topLevel := xdgSurface.TopLevel()
	server.removeTopLevel(&topLevel)
}

func (server *Server) handleNewXDGSurface(xdgSurface wlroots.XDGSurface) {
	/* Raised when wlr_xdg_shell receives a new xdg surface from a
	 * client, either a toplevel (application window) or a popup. */

	logrus.WithField("surface", xdgSurface).Debugln("New surface inbound")

	if xdgSurface.Role() == wlroots.XDGSurfaceRolePopup {
		parent := xdgSurface.Popup().Parent()
		if parent.Nil() {
			logrus.WithField("surface", xdgSurface).Fatalln("xdgSurface popup parent is nil")
		}
		xdgSurface.SetData(parent.XDGSurface().SceneTree().NewXDGSurface(xdgSurface))
		return
	}
	if xdgSurface.Role() != wlroots.XDGSurfaceRoleTopLevel {
		logrus.WithFields(logrus.Fields{
			"surface": xdgSurface,
			"role":    xdgSurface.Role(),
		}).Fatalln("xdgSurface role is not XDGSurfaceRoleTopLevel")
	}

	xdgSurface.SetData(server.scene.Tree().NewXDGSurface(xdgSurface.TopLevel().Base()))

	/* The session hands out the id the frontend will know this surface
	 * by for its whole life. */
	id := server.sess.PostSurfaceAdded()
	logrus.WithFields(logrus.Fields{
		"surface": xdgSurface,
		"id":      id,
	}).Debugln("Tracking new toplevel")

	xdgSurface.OnMap(func(s wlroots.XDGSurface) {
		server.handleMapXDGToplevel(s, id)
	})
	xdgSurface.OnUnmap(server.handleUnMapXDGToplevel)
	xdgSurface.OnDestroy(func(s wlroots.XDGSurface) {
		server.sess.PostSurfaceClosed(id)
	})

	topLevel := xdgSurface.TopLevel()
	topLevel.OnRequestMove(func(client wlroots.SeatClient, serial uint32) {
		/* Geometry is assigned through the layout engine, client drags
		 * are ignored. */
		logrus.WithField("id", id).Debugln("Dropping client move request")
	})
	topLevel.OnRequestResize(func(client wlroots.SeatClient, serial uint32, edges wlroots.Edges) {
		logrus.WithField("id", id).Debugln("Dropping client resize request")
	})
}

func (server *Server) GetOutputs() []*wlroots.Output {
	return server.outputs
}

func NewServer() (server *Server, err error) {
	server = new(Server)

	/* The Wayland display is managed by libwayland. It handles accepting
	 * clients from the Unix socket, managing Wayland globals, and so on. */
	server.display = wlroots.NewDisplay()

	/* The backend abstracts the underlying input and output hardware.
	 * Autocreate picks the most suitable one for the environment, e.g.
	 * an X11 window when an X11 server is running. */
	server.backend, err = server.display.BackendAutocreate()
	if err != nil {
		return nil, err
	}

	/* Autocreates a renderer, either Pixman, GLES2 or Vulkan. Overridable
	 * with the WLR_RENDERER env var. */
	server.renderer, err = server.backend.RendererAutoCreate()
	if err != nil {
		return nil, err
	}
	server.renderer.InitDisplay(server.display)

	/* The allocator bridges renderer and backend, it hands out the
	 * buffers wlroots renders into. */
	server.allocator, err = server.backend.AllocatorAutocreate(server.renderer)
	if err != nil {
		return nil, err
	}

	/* Hands-off wlroots interfaces: the compositor global for clients to
	 * allocate surfaces from, subsurface roles and the clipboard. */
	server.display.CompositorCreate(5, server.renderer)
	server.display.SubCompositorCreate()
	server.display.DataDeviceManagerCreate()

	/* An output layout, for working with an arrangement of screens in a
	 * physical layout. */
	server.outputLayout = wlroots.NewOutputLayout()

	server.backend.OnNewOutput(server.handleNewOutput)

	/* The scene graph handles all rendering and damage tracking. We add
	 * things that should be rendered to it at the proper positions and
	 * commit the scene outputs, nothing more. */
	server.scene = wlroots.NewScene()
	server.sceneLayout = server.scene.AttachOutputLayout(server.outputLayout)

	/* xdg-shell version 3, the Wayland protocol for application windows. */
	server.topLevelList.Init()
	server.xdgShell = server.display.XDGShellCreate(3)
	server.xdgShell.OnNewSurface(server.handleNewXDGSurface)

	/* wlr_cursor tracks the image shown on screen, the xcursor manager
	 * loads up Xcursor themes to source the images from at every scale
	 * factor in play. */
	server.cursor = wlroots.NewCursor()
	server.cursor.AttachOutputLayout(server.outputLayout)
	server.cursorMgr = wlroots.NewXCursorManager("", 24)

	server.cursor.OnMotion(server.handleCursorMotion)
	server.cursor.OnMotionAbsolute(server.handleCursorMotionAbsolute)
	server.cursor.OnButton(server.handleCursorButton)
	server.cursor.OnAxis(server.handleCursorAxis)
	server.cursor.OnFrame(server.handleCursorFrame)
	server.cursorMgr.Load(1)

	/* A seat is a single "seat" at which a user operates the computer,
	 * up to one keyboard, pointer, touch and tablet each. */
	server.backend.OnNewInput(server.handleNewInput)
	server.seat = server.display.SeatCreate("seat0")
	server.seat.OnSetCursorRequest(server.handleSetCursorRequest)

	return
}

func (server *Server) Start() error {

	/* Add a Unix socket to the Wayland display. */
	socket, err := server.display.AddSocketAuto()
	if err != nil {
		server.backend.Destroy()
		return err
	}
	logrus.WithField("socket", socket).Debugln("got wl socket")

	/* Start the backend. This will enumerate outputs and inputs, become
	 * the DRM master, etc. */
	if err = server.backend.Start(); err != nil {
		server.backend.Destroy()
		server.display.Destroy()
		return err
	}

	/* Point WAYLAND_DISPLAY at our socket so spawned clients find us. */
	if res := os.Getenv("WAYLAND_DISPLAY"); res != "" {
		logrus.WithField("WAYLAND_DISPLAY", res).Debugln("Wayland display already set, overwriting")
	}
	if err = os.Setenv("WAYLAND_DISPLAY", socket); err != nil {
		return err
	}

	logrus.WithField("WAYLAND_DISPLAY", socket).Infoln("Running Wayland compositor")
	return err
}

func (server *Server) Run() error {

	/* Run the Wayland event loop. Does not return until the compositor
	 * exits. Starting the backend rigged up everything else: libinput
	 * events, DRM events, frame events at the refresh rate, and so on. */
	server.display.Run()

	/* Once display.Run() returns, destroy all clients then shut down. */
	server.display.DestroyClients()
	server.scene.Tree().Node().Destroy()
	server.cursorMgr.Destroy()
	server.outputLayout.Destroy()
	server.display.Destroy()
	return nil
}

func (server *Server) Stop() {
	server.display.Terminate()
}
