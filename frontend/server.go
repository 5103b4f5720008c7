// Package frontend owns the unix socket the layout frontend talks
// through. It accepts connections, splits their byte streams into
// frames, and funnels every frame into one channel for the compositor
// loop. Outbound traffic goes through a bounded per-connection queue so
// a frontend that stops reading can never stall the loop.
package frontend

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ezemtsov/ewm-sub001/util/multiplexer"
)

var (
	// ErrGone reports a send on a connection that is already torn down.
	ErrGone = errors.New("connection is gone")
	// ErrBacklog reports a send that found the outbound queue full. The
	// connection is torn down as a side effect, a frontend that far
	// behind would otherwise see a gap in the event stream.
	ErrBacklog = errors.New("outbound backlog full")
)

// Inbound is one item handed to the compositor loop. Either Line holds a
// frame from the connection, or Hangup reports that the connection is
// done and will produce nothing further.
type Inbound struct {
	Conn   *Conn
	Line   string
	Hangup bool
}

// Conn is one accepted frontend connection.
type Conn struct {
	id   uint64
	raw  net.Conn
	out  chan string
	quit chan struct{}
	once sync.Once
}

// ID numbers connections for logging, starting at 1 per server.
func (c *Conn) ID() uint64 {
	return c.id
}

// Send queues one line for delivery. It never blocks. A full queue kills
// the connection and returns ErrBacklog.
func (c *Conn) Send(line string) error {
	select {
	case <-c.quit:
		return ErrGone
	default:
	}
	select {
	case c.out <- line:
		return nil
	default:
		logrus.WithFields(logrus.Fields{
			"conn":    c.id,
			"backlog": cap(c.out),
		}).Errorln("Frontend stopped reading, dropping the connection")
		c.teardown()
		return ErrBacklog
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.teardown()
}

func (c *Conn) teardown() {
	c.once.Do(func() {
		close(c.quit)
		c.raw.Close()
	})
}

func (c *Conn) writeLoop() {
	w := bufio.NewWriter(c.raw)
	for {
		select {
		case line := <-c.out:
			if _, err := w.WriteString(line + "\n"); err != nil {
				c.teardown()
				return
			}
			// Flush per line, frontends act on single frames.
			if err := w.Flush(); err != nil {
				c.teardown()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Server listens on a unix socket and feeds all connection traffic into
// a single inbound channel.
type Server struct {
	path    string
	backlog int

	listener net.Listener
	inbound  chan Inbound
	plexer   *multiplexer.ManyToOne[Inbound]

	conns        map[uint64]*Conn
	connsLock    sync.Mutex
	nextConn     uint64
	shuttingDown bool
	shutdownLock sync.Mutex
}

// NewServer prepares a server for the given socket path. backlog is the
// per-connection outbound queue size.
func NewServer(path string, backlog int) *Server {
	inbound := make(chan Inbound)
	return &Server{
		path:    path,
		backlog: backlog,
		inbound: inbound,
		plexer:  multiplexer.NewManyToOne(inbound),
		conns:   map[uint64]*Conn{},
	}
}

// Start binds the socket and begins accepting connections. A stale
// socket file from a previous run is replaced. The socket is restricted
// to the owning user.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear stale socket %s: %w", s.path, err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to restrict socket %s: %w", s.path, err)
	}
	s.listener = listener
	logrus.WithField("socket", s.path).Infoln("Listening for frontend connections")
	go s.acceptLoop()
	return nil
}

// Inbound returns the channel the compositor loop consumes.
func (s *Server) Inbound() <-chan Inbound {
	return s.inbound
}

func (s *Server) acceptLoop() {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			s.shutdownLock.Lock()
			stopping := s.shuttingDown
			s.shutdownLock.Unlock()
			if stopping {
				return
			}
			logrus.WithError(err).Errorln("Failed to accept frontend connection")
			continue
		}

		s.nextConn++
		conn := &Conn{
			id:   s.nextConn,
			raw:  raw,
			out:  make(chan string, s.backlog),
			quit: make(chan struct{}),
		}
		s.connsLock.Lock()
		s.conns[conn.id] = conn
		s.connsLock.Unlock()

		logrus.WithField("conn", conn.id).Debugln("Frontend connection accepted")
		go conn.writeLoop()
		go s.readLoop(conn)
	}
}

func (s *Server) readLoop(c *Conn) {
	scanner := bufio.NewScanner(c.raw)
	for scanner.Scan() {
		err := s.plexer.Send(Inbound{Conn: c, Line: scanner.Text()})
		if err != nil {
			break
		}
	}
	c.teardown()
	s.connsLock.Lock()
	delete(s.conns, c.id)
	s.connsLock.Unlock()
	// The hangup frame lets the loop release any state tied to the
	// connection. Best effort during shutdown.
	s.plexer.Send(Inbound{Conn: c, Hangup: true})
	logrus.WithField("conn", c.id).Debugln("Frontend connection finished")
}

// Stop closes the listener, all connections and the socket file.
func (s *Server) Stop() {
	s.shutdownLock.Lock()
	s.shuttingDown = true
	s.shutdownLock.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.connsLock.Lock()
	for _, c := range s.conns {
		c.teardown()
	}
	s.connsLock.Unlock()
	s.plexer.Close()
	os.Remove(s.path)
}
