// Package client is a minimal RESP client for the lightcask server.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"lightcask/internal/protocol"
)

// ErrNil is returned when the server replies with a null value.
var ErrNil = errors.New("nil reply")

// ServerError is an error reply sent by the server.
type ServerError struct {
	Name    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + " " + e.Message
}

type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *protocol.Reader
	w       *protocol.Writer
	timeout time.Duration
}

// Dial connects to addr. timeout bounds the dial and every later round trip; 0 disables it.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		r:       protocol.NewReader(conn),
		w:       protocol.NewWriter(conn),
		timeout: timeout,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Do sends one command and returns the raw reply. Error replies are returned as
// values, not as Go errors.
func (c *Client) Do(args ...[]byte) (protocol.Value, error) {
	if len(args) == 0 {
		return protocol.Value{}, errors.New("empty command")
	}

	elems := make([]protocol.Value, len(args))
	for i, a := range args {
		elems[i] = protocol.BulkString(a)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return protocol.Value{}, err
		}
	}

	if err := c.w.WriteValue(protocol.Array(elems...)); err != nil {
		return protocol.Value{}, err
	}
	if err := c.w.Flush(); err != nil {
		return protocol.Value{}, err
	}
	return c.r.ReadValue()
}

// call runs Do and turns error replies into *ServerError.
func (c *Client) call(args ...[]byte) (protocol.Value, error) {
	v, err := c.Do(args...)
	if err != nil {
		return v, err
	}
	if v.IsError() {
		return v, &ServerError{Name: v.ErrName(), Message: v.ErrMsg()}
	}
	return v, nil
}

func expectOK(v protocol.Value) error {
	if v.Kind() != protocol.KindSimpleString || v.Str() != "OK" {
		return fmt.Errorf("unexpected reply %s", v)
	}
	return nil
}

func (c *Client) Ping() error {
	v, err := c.call([]byte("PING"))
	if err != nil {
		return err
	}
	if v.Kind() != protocol.KindSimpleString || v.Str() != "PONG" {
		return fmt.Errorf("unexpected reply %s", v)
	}
	return nil
}

// Get returns ErrNil when the key does not exist.
func (c *Client) Get(key []byte) ([]byte, error) {
	v, err := c.call([]byte("GET"), key)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case protocol.KindBulkString:
		return v.Bytes(), nil
	case protocol.KindNullBulkString:
		return nil, ErrNil
	default:
		return nil, fmt.Errorf("unexpected reply %s", v)
	}
}

func (c *Client) Set(key, value []byte) error {
	v, err := c.call([]byte("SET"), key, value)
	if err != nil {
		return err
	}
	return expectOK(v)
}

// Del returns how many of keys existed.
func (c *Client) Del(keys ...[]byte) (int64, error) {
	v, err := c.call(append([][]byte{[]byte("DEL")}, keys...)...)
	if err != nil {
		return 0, err
	}
	if v.Kind() != protocol.KindInteger {
		return 0, fmt.Errorf("unexpected reply %s", v)
	}
	return v.Int(), nil
}

func (c *Client) Compact() error {
	v, err := c.call([]byte("COMPACT"))
	if err != nil {
		return err
	}
	return expectOK(v)
}
