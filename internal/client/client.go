// Package client speaks the line-delimited JSON protocol of the State Server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/localsock"
)

var (
	// ErrTimeout is returned when no reply arrives within the round-trip bound.
	ErrTimeout = errors.New("desktop app response timeout")

	// ErrClosed is returned once the connection has been closed or lost.
	ErrClosed = errors.New("connection closed")
)

// incomingBuffer bounds the lines read ahead of the consumer.
const incomingBuffer = 16

// settleWindow is how long RoundTrip waits for more lines after the reply
// to a mutating request.
const settleWindow = 25 * time.Millisecond

type result struct {
	resp     focus.Response
	err      error
	terminal bool
}

// Conn is one connection to the State Server. Every connection receives
// broadcasts as well as replies; RoundTrip discards broadcasts that arrived
// before the request was sent. A Conn carries one request at a time.
type Conn struct {
	conn    net.Conn
	wmu     sync.Mutex
	w       *bufio.Writer
	results chan result
	done    chan struct{}
	once    sync.Once
}

// Dial opens a connection to the State Server listening on name.
func Dial(ctx context.Context, name string) (*Conn, error) {
	conn, err := localsock.Dial(ctx, name)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Conn {
	c := &Conn{
		conn:    conn,
		w:       bufio.NewWriter(conn),
		results: make(chan result, incomingBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.results)

	r := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var res result
			if derr := json.Unmarshal(trimmed, &res.resp); derr != nil {
				res.err = fmt.Errorf("decode response: %w", derr)
			}
			if !c.deliver(res) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = ErrClosed
			}
			c.deliver(result{err: err, terminal: true})
			return
		}
	}
}

func (c *Conn) deliver(res result) bool {
	select {
	case c.results <- res:
		return true
	case <-c.done:
		return false
	}
}

// Send writes req as one line.
func (c *Conn) Send(ctx context.Context, req focus.Request) error {
	data, err := req.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush request: %w", err)
	}
	return nil
}

// Receive returns the next reply or broadcast. io.EOF means the server
// closed the connection.
func (c *Conn) Receive(ctx context.Context) (focus.Response, error) {
	select {
	case res, ok := <-c.results:
		if !ok {
			return focus.Response{}, ErrClosed
		}
		return res.resp, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return focus.Response{}, ErrTimeout
		}
		return focus.Response{}, ctx.Err()
	}
}

// RoundTrip sends req and waits for its reply until ctx is done.
//
// The server follows the reply to a mutation with the broadcast of that same
// mutation on this connection. After a State reply to a mutating request,
// RoundTrip keeps reading until the line goes quiet and returns the newest
// State, so that broadcast is never taken as the reply to the next request.
func (c *Conn) RoundTrip(ctx context.Context, req focus.Request) (focus.Response, error) {
	if err := c.discardPending(); err != nil {
		return focus.Response{}, err
	}
	if err := c.Send(ctx, req); err != nil {
		return focus.Response{}, err
	}
	resp, err := c.Receive(ctx)
	if err != nil || resp.Type != focus.ResponseState || !req.Type.Mutating() {
		return resp, err
	}
	return c.settle(ctx, resp), nil
}

// settle drains lines that arrive within settleWindow of each other and
// returns the newest State among them and latest. After a terminal error the
// reader has closed the queue, so the next call reports ErrClosed.
func (c *Conn) settle(ctx context.Context, latest focus.Response) focus.Response {
	timer := time.NewTimer(settleWindow)
	defer timer.Stop()

	for {
		select {
		case res, ok := <-c.results:
			if !ok || res.terminal {
				return latest
			}
			if res.err == nil && res.resp.Type == focus.ResponseState {
				latest = res.resp
			}
			timer.Reset(settleWindow)
		case <-timer.C:
			return latest
		case <-ctx.Done():
			return latest
		}
	}
}

// discardPending drops lines that were pushed before the next request.
func (c *Conn) discardPending() error {
	for {
		select {
		case res, ok := <-c.results:
			if !ok {
				return ErrClosed
			}
			if res.terminal {
				return res.err
			}
		default:
			return nil
		}
	}
}

// Close closes the connection and stops the reader.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// IsDisconnect reports whether err means the peer is gone.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed)
}
