// Package bridgehost runs the browser native messaging host: it reads
// framed requests on stdin, forwards them to the state server over the
// local socket and writes framed replies and pushed state to stdout.
package bridgehost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chemonoworld/focusbridge/internal/client"
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/chemonoworld/focusbridge/internal/nativemsg"
	"github.com/rs/zerolog"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultPushRetry      = 2 * time.Second
)

// Browser-facing error texts
const (
	msgInvalidLength = "Invalid message length"
	msgNotConnected  = "Desktop app not connected"
	msgTooLarge      = "Response too large"
)

// Dialer opens a connection to the state server
type Dialer func(ctx context.Context) (*client.Conn, error)

// Options configures a Host
type Options struct {
	Dial           Dialer
	RequestTimeout time.Duration
	PushRetry      time.Duration
}

// Host bridges one browser session to the state server. It keeps two
// connections: the primary one carries request/response round trips and
// belongs to the stdin loop; the secondary one belongs to the push loop.
type Host struct {
	in   io.Reader
	out  *nativemsg.Writer
	opts Options
	log  *zerolog.Logger

	primary *client.Conn
}

// New creates a host reading from in and writing to out
func New(in io.Reader, out io.Writer, opts Options) *Host {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.PushRetry <= 0 {
		opts.PushRetry = DefaultPushRetry
	}
	return &Host{
		in:   in,
		out:  nativemsg.NewWriter(out),
		opts: opts,
		log:  logger.WithComponent("bridgehost"),
	}
}

// Run serves the browser until stdin reaches end-of-stream. It returns nil
// on a normal disconnect.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.dropPrimary()
	}()

	if err := h.out.Send(nativemsg.Connected()); err != nil {
		return fmt.Errorf("announce host: %w", err)
	}

	if conn, err := h.connect(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Desktop app not running")
		if err := h.out.Send(nativemsg.Error("Desktop app not running: " + err.Error())); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	} else {
		h.primary = conn
		h.log.Info().Msg("Connected to desktop app")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pushLoop(ctx)
	}()

	for {
		payload, err := nativemsg.ReadFrame(h.in)
		var reply nativemsg.Outbound
		switch {
		case errors.Is(err, io.EOF):
			h.log.Info().Msg("Browser disconnected")
			return nil
		case errors.Is(err, nativemsg.ErrInvalidLength):
			h.log.Warn().Err(err).Msg("Rejected frame")
			reply = nativemsg.Error(msgInvalidLength)
		case errors.Is(err, nativemsg.ErrTruncated):
			h.log.Warn().Err(err).Msg("Rejected frame")
			reply = nativemsg.Error("Failed to read message: " + err.Error())
		case err != nil:
			return fmt.Errorf("read stdin: %w", err)
		default:
			reply = h.handle(ctx, payload)
		}

		if err := h.reply(reply); err != nil {
			return err
		}
	}
}

// reply writes msg to the browser. A message over the frame limit is
// replaced by an ERROR; only stdout I/O failures are returned.
func (h *Host) reply(msg nativemsg.Outbound) error {
	err := h.out.Send(msg)
	if errors.Is(err, nativemsg.ErrInvalidLength) {
		h.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("Reply exceeds frame limit")
		err = h.out.Send(nativemsg.Error(msgTooLarge))
	}
	if err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func (h *Host) handle(ctx context.Context, payload []byte) nativemsg.Outbound {
	msg, err := nativemsg.DecodeInbound(payload)
	if err != nil {
		h.log.Warn().Err(err).Msg("Unparseable browser message")
		return nativemsg.Error("JSON parse error: " + err.Error())
	}
	h.log.Debug().Str("type", string(msg.Type)).Msg("Browser message")
	return h.forward(ctx, Translate(msg))
}

// forward performs one round trip on the primary connection, reconnecting
// once if it is down. Failures are reported for this message only.
func (h *Host) forward(ctx context.Context, req focus.Request) nativemsg.Outbound {
	if h.primary == nil {
		conn, err := h.connect(ctx)
		if err != nil {
			h.log.Debug().Err(err).Msg("Reconnect failed")
			return nativemsg.Error(msgNotConnected)
		}
		h.primary = conn
		h.log.Info().Msg("Reconnected to desktop app")
	}

	resp, err := h.roundTrip(ctx, req)
	if err != nil {
		return h.ipcError(err)
	}

	switch resp.Type {
	case focus.ResponseState:
		return nativemsg.FocusState(resp.State)
	case focus.ResponseError:
		return nativemsg.Error(resp.Message)
	}

	// Ok carries no state; ask for it.
	follow, err := h.roundTrip(ctx, focus.GetStateRequest())
	if err != nil {
		return h.ipcError(err)
	}
	switch follow.Type {
	case focus.ResponseState:
		return nativemsg.FocusState(follow.State)
	case focus.ResponseError:
		return nativemsg.Error(follow.Message)
	default:
		return nativemsg.Error("IPC error: unexpected " + string(follow.Type) + " reply to GetState")
	}
}

func (h *Host) roundTrip(ctx context.Context, req focus.Request) (focus.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()
	return h.primary.RoundTrip(ctx, req)
}

// ipcError drops the primary connection; the next message reconnects.
func (h *Host) ipcError(err error) nativemsg.Outbound {
	h.log.Warn().Err(err).Msg("Round trip failed, dropping connection")
	h.dropPrimary()
	return nativemsg.Error("IPC error: " + err.Error())
}

func (h *Host) dropPrimary() {
	if h.primary != nil {
		_ = h.primary.Close()
		h.primary = nil
	}
}

func (h *Host) connect(ctx context.Context) (*client.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()
	return h.opts.Dial(ctx)
}

// pushLoop keeps the secondary connection up and forwards every pushed
// State to the browser until ctx is cancelled.
func (h *Host) pushLoop(ctx context.Context) {
	for {
		conn, err := backoff.Retry(ctx, func() (*client.Conn, error) {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return h.connect(ctx)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(h.opts.PushRetry)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				h.log.Debug().Err(err).Dur("retry_in", next).Msg("Push connection unavailable")
			}),
		)
		if err != nil {
			return
		}

		h.log.Info().Msg("Push connection established")
		h.forwardPushes(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Host) forwardPushes(ctx context.Context, conn *client.Conn) {
	for {
		resp, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.log.Info().Err(err).Msg("Push connection lost")
			}
			return
		}
		if resp.Type != focus.ResponseState {
			continue
		}
		err = h.out.Send(nativemsg.FocusState(resp.State))
		if errors.Is(err, nativemsg.ErrInvalidLength) {
			h.log.Warn().Err(err).Msg("Pushed state exceeds frame limit, skipped")
			continue
		}
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to forward pushed state")
			return
		}
	}
}

// Translate maps a browser message onto the socket protocol. TOGGLE_FOCUS
// only reads the state; the extension decides what to do with it.
func Translate(msg nativemsg.Inbound) focus.Request {
	switch msg.Type {
	case nativemsg.InboundStartFocus:
		timerType := focus.TimerTypeNone
		if msg.TimerType != nil {
			timerType = *msg.TimerType
		}
		var minutes uint32
		if msg.TimerDuration != nil {
			minutes = *msg.TimerDuration
		}
		return focus.StartFocusRequest(msg.BlockedURLs, timerType, minutes)
	case nativemsg.InboundStopFocus:
		return focus.StopFocusRequest()
	case nativemsg.InboundUpdateBlockedURLs:
		return focus.UpdateBlockedURLsRequest(msg.BlockedURLs)
	default:
		return focus.GetStateRequest()
	}
}
