// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scpi

// Client speaks the half-duplex SCPI command/query protocol on top of
// a Conn. At most one command is in flight at a time; callers sharing
// a Client across goroutines must serialize access themselves.
type Client struct {
	conn *Conn
}

// NewClient wraps conn with the command/query protocol.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn}
}

// Command sends a command that produces no reply.
func (c *Client) Command(cmd string) error {
	return c.conn.Send(cmd)
}

// Query sends a query and blocks until its newline-terminated reply
// has been read back.
func (c *Client) Query(cmd string) (string, error) {
	err := c.conn.Send(cmd)
	if err != nil {
		return "", err
	}
	return c.conn.ReadReply()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
