package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"

	"github.com/ezemtsov/ewm-sub001/config"
	"github.com/ezemtsov/ewm-sub001/frontend"
	"github.com/ezemtsov/ewm-sub001/session"
	"github.com/ezemtsov/ewm-sub001/snapshot"
)

func fatal(msg string, err error) {
	fmt.Printf("error %s: %s\n", msg, err)
	os.Exit(1)
}

func wlMain(conf *config.Config) {
	if *help {
		wlHelpMessage()
		return
	}

	wlroots.OnLog(wlroots.LogImportanceError, func(importance wlroots.LogImportance, msg string) {
		switch importance {
		case wlroots.LogImportanceDebug:
			logrus.Debugln(msg)
		case wlroots.LogImportanceInfo:
			logrus.Infoln(msg)
		case wlroots.LogImportanceError:
			logrus.Errorln(msg)
		case wlroots.LogImportanceSilent:
			return
		}
	})

	// start the compositor backend
	server, err := NewServer()
	if err != nil {
		fatal("initializing server", err)
	}

	// bind the layout socket the frontend dials
	front := frontend.NewServer(conf.SocketPath, conf.EventBacklog)
	if err = front.Start(); err != nil {
		fatal("binding layout socket", err)
	}
	defer front.Stop()

	sess := session.New(server, front, snapshot.NewWriter(conf.SnapshotDir), conf.TickRate)
	server.sess = sess

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if err = server.Start(); err != nil {
		fatal("starting server", err)
	}

	// WAYLAND_DISPLAY points at us from here on, companions started now
	// end up as our clients.
	switch conf.Start() {
	case config.START_REPL:
		go consoleRunner(server, sess)
	case config.START_SINGLE_COMMAND:
		if conf.StartCommand == nil || *conf.StartCommand == "" {
			logrus.Warnln("start_type is command but start_command is empty, starting nothing")
		} else {
			spawnCompanion(*conf.StartCommand)
		}
	case config.START_NONE:
	}

	// start the wayland event loop
	if err = server.Run(); err != nil {
		fatal("running server", err)
	}
}

// spawnCompanion launches the configured startup command, normally the
// Emacs frontend, and logs how it exits.
func spawnCompanion(cmdString string) {
	parts := strings.Split(cmdString, " ")
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	go func(cmd *exec.Cmd, cmdString string) {
		err := cmd.Start()
		if err != nil {
			logrus.WithError(err).WithField("command", cmdString).Errorln("Companion failed to start")
			return
		}
		logrus.WithField("command", cmdString).Infoln("Companion started")
		err = cmd.Wait()
		if exiterr, ok := err.(*exec.ExitError); ok {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exiterr.ExitCode(),
				"command":   cmdString,
			}).Warningln("Bad companion exit")
		}
	}(cmd, cmdString)
}

func wlHelpMessage() {
	fmt.Println("---- Help message for ewm in compositor mode ----")
	fmt.Println("\nWithout -tool, ewm runs as a Wayland compositor and binds a layout")
	fmt.Println("socket that one frontend (normally Emacs) drives over a line protocol")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Default searches xdg dirs for ewm/config.toml")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for tool mode if -tool is set)")
	fmt.Println("\nConfig keys (toml, each also an EWM_* env var):")
	fmt.Println("\tsocket_path: Where the layout socket gets bound")
	fmt.Println("\tlog_level: Log verbosity, one of logrus' level names")
	fmt.Println("\ttick_rate: Layout flushes per second")
	fmt.Println("\tsnapshot_dir: Where snapshot PNG files land")
	fmt.Println("\tevent_backlog: Outbound frames buffered before a stuck frontend is dropped")
	fmt.Println("\tstart_type: repl, command or none")
	fmt.Println("\tstart_command: Command to execute on start when start_type is command")
}
