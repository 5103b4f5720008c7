package frontend

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

// Client is the connecting side of the frontend socket. The compositor
// ships it for tool mode so scripts can drive a running instance without
// speaking the protocol by hand.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to a compositor listening on path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to reach compositor at %s: %w (is it running?)", path, err)
	}
	return &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
	}, nil
}

// Send writes one frame.
func (c *Client) Send(line string) error {
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}

// Recv blocks until the next frame arrives.
func (c *Client) Recv() (string, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("connection closed by compositor")
	}
	return c.scanner.Text(), nil
}

// RecvWithin is Recv with a deadline. It returns an error when no frame
// arrives in time.
func (c *Client) RecvWithin(d time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	return c.Recv()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
