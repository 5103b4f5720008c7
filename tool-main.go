package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
	"gitlab.com/mstarongitlab/goutils/sliceutils"

	"github.com/ezemtsov/ewm-sub001/config"
	"github.com/ezemtsov/ewm-sub001/frontend"
	"github.com/ezemtsov/ewm-sub001/geom"
	"github.com/ezemtsov/ewm-sub001/util"
)

var (
	toolAction *string = flag.String(
		"action",
		"",
		"The action to perform. Can be one of:"+
			"\n\t- none: Do nothing"+
			"\n\t- ping: Check that a compositor is listening on the layout socket"+
			"\n\t- layout: Assign geometry to one surface. Use with -surface and -rect"+
			"\n\t- snapshot: Ask the compositor to write a frame capture"+
			"\n\t- watch: Attach and print lifecycle events until interrupted"+
			"\n\t- outputs: List available outputs"+
			"\n\t- modes: List available modes for an output. Use with -output",
	)
	outputSelection *string = flag.String(
		"output",
		"",
		"Output to perform the action on. Required for some actions",
	)
	surfaceSelection *uint = flag.Uint(
		"surface",
		0,
		"Surface id to perform the action on. Required for -action layout",
	)
	rectSpec *string = flag.String(
		"rect",
		"",
		"Geometry as \"<x>,<y> <w>x<h>\". Required for -action layout",
	)
)

const (
	// How long to wait for a direct reply to a command.
	replyWait = 5 * time.Second
	// Successful layouts are silent, this is how long to listen for an
	// error before calling it applied.
	layoutErrWait = 500 * time.Millisecond
	// Capture plus encode plus write can take a while on big outputs.
	snapshotWait = 30 * time.Second
)

func toolMain(conf *config.Config) {
	if *help {
		toolHelpMessage()
		return
	}

	switch *toolAction {
	case "ping":
		toolPing(conf.SocketPath)
	case "layout":
		toolLayout(conf.SocketPath)
	case "snapshot":
		toolSnapshot(conf.SocketPath)
	case "watch":
		toolWatch(conf.SocketPath)
	case "outputs", "modes":
		// These inspect local hardware, so init a backend of our own
		// instead of dialing a running compositor.
		server, err := NewServer()
		if err != nil {
			logrus.WithError(err).Fatal("initializing server")
		}
		if err = server.Start(); err != nil {
			logrus.WithError(err).Fatal("starting server")
		}
		if *toolAction == "outputs" {
			toolListOutputs(server)
		} else if *outputSelection == "" {
			fmt.Println("Output has to be specified")
		} else {
			toolListOutputModes(server, *outputSelection)
		}
	default:
		toolHelpMessage()
	}
}

func toolHelpMessage() {
	fmt.Println("---- Help message for ewm in tool mode ----")
	fmt.Println("\nIn tool mode, ewm drives a running compositor over the layout socket,")
	fmt.Println("plus a few local hardware listings for writing configs")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Default searches xdg dirs for ewm/config.toml")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for compositor mode if -tool is not set)")
	fmt.Println("\nTool flags:")
	fmt.Println("\t-action: The action to perform. Can be one of:")
	fmt.Println("\t\t- ping: Check that a compositor is listening on the layout socket")
	fmt.Println("\t\t- layout: Assign geometry to one surface. Use with -surface and -rect")
	fmt.Println("\t\t- snapshot: Ask the compositor to write a frame capture")
	fmt.Println("\t\t- watch: Attach and print lifecycle events until interrupted")
	fmt.Println("\t\t- outputs: List available outputs")
	fmt.Println("\t\t- modes: List available modes for an output. Use with -output")
	fmt.Println("\t-output: Output to perform the action on. Required for -action modes")
	fmt.Println("\t-surface: Surface id for -action layout")
	fmt.Println("\t-rect: Geometry \"<x>,<y> <w>x<h>\" for -action layout")
}

// toolAttach dials the layout socket and claims the frontend attachment.
func toolAttach(path string) (*frontend.Client, error) {
	client, err := frontend.Dial(path)
	if err != nil {
		return nil, err
	}
	if err := client.Send("connect"); err != nil {
		client.Close()
		return nil, err
	}
	res, err := client.RecvWithin(replyWait)
	if err != nil {
		client.Close()
		return nil, err
	}
	if res != "ok connected" {
		client.Close()
		return nil, fmt.Errorf("compositor refused the attachment: %s", res)
	}
	return client, nil
}

func toolPing(path string) {
	started := time.Now()
	client, err := toolAttach(path)
	if err != nil {
		logrus.WithError(err).Fatal("pinging compositor")
	}
	defer client.Close()
	fmt.Printf("Compositor answered in %s\n", time.Since(started).Round(time.Microsecond))
	_ = client.Send("disconnect")
}

func toolLayout(path string) {
	if *surfaceSelection == 0 || *rectSpec == "" {
		fmt.Println("Surface and rect have to be specified")
		return
	}
	var pos, size string
	// Can't unpack slices directly like in Python, so do it this roundabout way
	util.Unpack(strings.Fields(*rectSpec), &pos, &size)
	if _, err := geom.ParseRect(pos, size); err != nil {
		fmt.Printf("Bad rect: %s\n", err)
		return
	}

	client, err := toolAttach(path)
	if err != nil {
		logrus.WithError(err).Fatal("attaching to compositor")
	}
	defer client.Close()

	if err := client.Send(fmt.Sprintf("layout %d %s %s", *surfaceSelection, pos, size)); err != nil {
		logrus.WithError(err).Fatal("sending layout")
	}
	// Replayed created events may arrive before any error does, skip
	// past them.
	for {
		res, err := client.RecvWithin(layoutErrWait)
		if err != nil {
			fmt.Println("Applied")
			break
		}
		if strings.HasPrefix(res, "error ") {
			fmt.Println(res)
			break
		}
	}
	_ = client.Send("disconnect")
}

func toolSnapshot(path string) {
	client, err := toolAttach(path)
	if err != nil {
		logrus.WithError(err).Fatal("attaching to compositor")
	}
	defer client.Close()

	if err := client.Send("snapshot"); err != nil {
		logrus.WithError(err).Fatal("requesting snapshot")
	}
	for {
		res, err := client.RecvWithin(snapshotWait)
		if err != nil {
			logrus.WithError(err).Fatal("waiting for snapshot result")
		}
		if strings.HasPrefix(res, "snapshot-") || strings.HasPrefix(res, "error ") {
			fmt.Println(res)
			break
		}
	}
	_ = client.Send("disconnect")
}

func toolWatch(path string) {
	client, err := toolAttach(path)
	if err != nil {
		logrus.WithError(err).Fatal("attaching to compositor")
	}
	defer client.Close()
	fmt.Println("Attached, events follow. Interrupt to stop.")
	for {
		res, err := client.Recv()
		if err != nil {
			logrus.WithError(err).Fatal("reading events")
		}
		fmt.Println(res)
	}
}

func toolListOutputs(server *Server) {
	outputs := server.GetOutputs()
	for i, output := range outputs {
		fmt.Printf("Output %v: %s\n", i, output.Name())
	}
}

func toolListOutputModes(server *Server, outputName string) {
	outputs := server.GetOutputs()
	filtered := sliceutils.Filter(outputs, func(output *wlroots.Output) bool {
		return output.Name() == outputName
	})
	if len(filtered) == 0 {
		fmt.Printf("Output %s not found\n", outputName)
		return
	}
	modes := filtered[0].Modes()
	fmt.Printf("Modes for output %s:\n", outputName)
	for _, mode := range modes {
		if mode.Preferred() {
			fmt.Printf("\t- %dx%d@%d(Ratio: %d) (preferred)\n", mode.Width(), mode.Height(), mode.Refresh(), mode.PictureAspectRatio())
		} else {
			fmt.Printf("\t- %dx%d@%d(Ratio: %d)\n", mode.Width(), mode.Height(), mode.Refresh(), mode.PictureAspectRatio())
		}
	}
}
