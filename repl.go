package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"

	"github.com/ezemtsov/ewm-sub001/repl"
	"github.com/ezemtsov/ewm-sub001/session"
	"github.com/ezemtsov/ewm-sub001/surface"
	"github.com/ezemtsov/ewm-sub001/util/wrappers"
)

// consoleEndpoint lets the debug console drive the same protocol a
// frontend would. Responses and events print straight to stdout as they
// arrive, id 0 is reserved for it, socket connections count from 1.
type consoleEndpoint struct{}

func (consoleEndpoint) Send(line string) error {
	fmt.Println("<- " + line)
	return nil
}

func (consoleEndpoint) Close() {
	logrus.Debugln("Session released the console endpoint")
}

func (consoleEndpoint) ID() uint64 { return 0 }

func consoleRunner(server *Server, sess *session.Session) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	console := consoleEndpoint{}
	logrus.Debugln("Starting debug console")
	_ = commandRepl.Run(func(input string, r *repl.Repl) (string, error) {
		if cmdString, ok := strings.CutPrefix(input, "run "); ok {
			parts := strings.Split(cmdString, " ")
			// This is safe b/c it'll unpack into a slice of length 0
			args := parts[1:]
			// And it stays safe if the command is "run " since the first
			// element is then an empty string, which cmd.Start rejects
			// with its usual no-command error
			cmd := exec.Command(parts[0], args...)
			cmd.Stdout = r.Output
			cmd.Stderr = r.Output
			go func(cmd *exec.Cmd, cmdString string) {
				err := cmd.Start()
				if err != nil {
					logrus.WithError(err).WithField("command", cmdString).Errorln("Command failed to start")
					return
				}
				err = cmd.Wait()
				if exiterr, ok := err.(*exec.ExitError); ok {
					logrus.WithError(err).WithFields(logrus.Fields{
						"exit-code": exiterr.ExitCode(),
						"command":   cmdString,
					}).Warningln("Bad command completion")
				}
			}(cmd, cmdString)
			return "Running " + parts[0], nil
		} else if frame, ok := strings.CutPrefix(input, "send "); ok {
			// Anything a frontend could send works here too: connect,
			// layout, snapshot, disconnect.
			sess.PostLine(console, frame)
			return "Sent, replies print as they arrive", nil
		} else if input == "surfaces" || strings.HasPrefix(input, "surfaces ") {
			return consoleSurfaces(sess, strings.TrimSpace(strings.TrimPrefix(input, "surfaces"))), nil
		} else if input == "status" {
			return consoleStatus(sess), nil
		} else if input == "help" {
			return consoleHelp(), nil
		} else if input == "quit" {
			server.Stop()
			return "Quitting", repl.ErrQuit
		}
		return "Unknown command, try help", nil
	})
}

func consoleSurfaces(sess *session.Session, stateFilter string) string {
	surfaces := sess.PostStatus().Surfaces
	if stateFilter != "" {
		surfaces = sliceutils.Filter(surfaces, func(s surface.Surface) bool {
			return s.State.String() == stateFilter
		})
	}
	if len(surfaces) == 0 {
		return "No surfaces"
	}
	lines := make([]string, 0, len(surfaces))
	for _, s := range surfaces {
		lines = append(lines, fmt.Sprintf("Surface %d: %s %s", s.ID, s.State, s.Rect))
	}
	return strings.Join(lines, "\n")
}

func consoleStatus(sess *session.Session) string {
	st := sess.PostStatus()
	var b strings.Builder
	fmt.Fprintf(&b, "Up since %s (%s)\n", st.Started.Format(time.RFC1123), humanize.Time(st.Started))
	if st.Attached {
		fmt.Fprintf(&b, "Frontend: attached as conn %d\n", st.Conn)
	} else {
		b.WriteString("Frontend: none attached, fallback tiling active\n")
	}
	fmt.Fprintf(&b, "Surfaces: %d\n", len(st.Surfaces))
	fmt.Fprintf(&b, "Queued events: %d\n", st.QueuedEvents)
	fmt.Fprintf(&b, "Snapshot busy: %v", st.SnapshotBusy)
	return b.String()
}

func consoleHelp() string {
	return strings.Join([]string{
		"Commands:",
		"\tsurfaces [added|mapped]: List tracked surfaces",
		"\tstatus: Session state and uptime",
		"\tsend <frame>: Inject a protocol frame as if the console were the frontend",
		"\trun <command>: Launch a program as a wayland client",
		"\thelp: This message",
		"\tquit: Stop the compositor",
	}, "\n")
}
