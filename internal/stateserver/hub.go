// Package stateserver owns the canonical Focus state, applies client
// requests, fans state changes out to every connection and queues the
// commands the desktop UI has to act on.
package stateserver

import (
	"math"
	"sync"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/logger"
)

const (
	// DefaultBroadcastBuffer is the per-subscriber backlog before values drop.
	DefaultBroadcastBuffer = 16

	// DefaultPendingLimit caps the pending command queue.
	DefaultPendingLimit = 64

	// MaxTimerMinutes is the longest timer whose length in seconds fits
	// the state's uint32 field.
	MaxTimerMinutes = math.MaxUint32 / 60
)

// HubOptions tunes a Hub
type HubOptions struct {
	BroadcastBuffer int
	PendingLimit    int
}

// Hub holds the Focus state, the broadcast listeners and the pending
// command queue. It is safe for concurrent use.
type Hub struct {
	// mu covers state and listeners. Every mutation publishes while still
	// holding it, so all listeners see the same order.
	mu        sync.Mutex
	state     focus.State
	listeners []chan focus.State
	bufSize   int

	cmdMu        sync.Mutex
	pending      []focus.ExtensionCommand
	pendingLimit int
	cmdListeners []chan focus.ExtensionCommand
}

// NewHub creates a hub in the default state
func NewHub(opts HubOptions) *Hub {
	if opts.BroadcastBuffer <= 0 {
		opts.BroadcastBuffer = DefaultBroadcastBuffer
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	return &Hub{
		state:        focus.DefaultState(),
		bufSize:      opts.BroadcastBuffer,
		pendingLimit: opts.PendingLimit,
	}
}

// State returns a copy of the current state
func (h *Hub) State() focus.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}

// UpdateState replaces the state and broadcasts it. The desktop UI calls
// this for changes it makes itself, such as timer ticks.
func (h *Hub) UpdateState(s focus.State) {
	h.mu.Lock()
	h.state = s.Clone()
	dropped := h.publishLocked()
	h.mu.Unlock()
	logDropped(dropped)
}

// SetElapsed records timer progress while a session is active and
// broadcasts it. It reports false, changing nothing, when focus is off.
func (h *Hub) SetElapsed(seconds uint32) bool {
	h.mu.Lock()
	if !h.state.IsActive {
		h.mu.Unlock()
		return false
	}
	dropped := 0
	if h.state.ElapsedSeconds != seconds {
		h.state.ElapsedSeconds = seconds
		dropped = h.publishLocked()
	}
	h.mu.Unlock()
	logDropped(dropped)
	return true
}

// Apply handles one client request and returns the reply
func (h *Hub) Apply(req focus.Request) focus.Response {
	switch req.Type {
	case focus.RequestGetState:
		return focus.StateResponse(h.State())

	case focus.RequestStartFocus:
		if req.TimerDuration > MaxTimerMinutes {
			return focus.ErrorResponse("Invalid request: timer_duration too large")
		}
		h.emitCommand(focus.ExtensionCommand{
			Command:       focus.CommandStart,
			BlockedURLs:   cloneURLs(req.BlockedURLs),
			TimerType:     req.TimerType,
			TimerDuration: req.TimerDuration,
		})
		return focus.StateResponse(h.mutate(func(s *focus.State) {
			*s = focus.State{
				IsActive:     true,
				BlockedURLs:  cloneURLs(req.BlockedURLs),
				TimerSeconds: req.TimerDuration * 60,
				TimerType:    req.TimerType,
			}
		}))

	case focus.RequestStopFocus:
		h.emitCommand(focus.StopCommand())
		return focus.StateResponse(h.mutate(func(s *focus.State) {
			*s = focus.DefaultState()
		}))

	case focus.RequestUpdateBlockedURLs:
		return focus.StateResponse(h.mutate(func(s *focus.State) {
			s.BlockedURLs = cloneURLs(req.BlockedURLs)
		}))

	default:
		return focus.ErrorResponse("Invalid request: unknown request type " + string(req.Type))
	}
}

func (h *Hub) mutate(fn func(*focus.State)) focus.State {
	h.mu.Lock()
	fn(&h.state)
	dropped := h.publishLocked()
	s := h.state.Clone()
	h.mu.Unlock()
	logDropped(dropped)
	return s
}

// publishLocked sends the current state to every listener without blocking
// and returns how many listeners missed it because their buffer was full.
func (h *Hub) publishLocked() int {
	dropped := 0
	for _, ch := range h.listeners {
		select {
		case ch <- h.state.Clone():
		default:
			dropped++
		}
	}
	return dropped
}

func logDropped(n int) {
	if n > 0 {
		logger.WithComponent("hub").Debug().Int("listeners", n).Msg("Listeners lagging, dropped state update")
	}
}

// Subscribe adds a listener for state changes
func (h *Hub) Subscribe() <-chan focus.State {
	ch := make(chan focus.State, h.bufSize)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (h *Hub) Unsubscribe(ch <-chan focus.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// Subscribers returns the number of state listeners
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// emitCommand queues cmd for polling and pushes it to command listeners.
// The push is best effort; the queue is what the UI relies on.
func (h *Hub) emitCommand(cmd focus.ExtensionCommand) {
	h.cmdMu.Lock()
	h.pending = append(h.pending, cmd)
	if over := len(h.pending) - h.pendingLimit; over > 0 {
		h.pending = append(h.pending[:0], h.pending[over:]...)
	}

	for _, ch := range h.cmdListeners {
		select {
		case ch <- cmd:
		default:
		}
	}
	pending := len(h.pending)
	h.cmdMu.Unlock()

	logger.WithComponent("hub").Info().
		Str("command", cmd.Command).
		Int("pending", pending).
		Msg("Queued extension command")
}

// TakePendingCommand drains the queue and returns only the most recent
// command. ok is false when nothing was queued.
func (h *Hub) TakePendingCommand() (cmd focus.ExtensionCommand, ok bool) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	if len(h.pending) == 0 {
		return focus.ExtensionCommand{}, false
	}
	cmd = h.pending[len(h.pending)-1]
	h.pending = nil
	return cmd, true
}

// SubscribeCommands adds a best-effort listener for extension commands
func (h *Hub) SubscribeCommands() <-chan focus.ExtensionCommand {
	ch := make(chan focus.ExtensionCommand, h.bufSize)
	h.cmdMu.Lock()
	h.cmdListeners = append(h.cmdListeners, ch)
	h.cmdMu.Unlock()
	return ch
}

// UnsubscribeCommands removes a command listener and closes its channel
func (h *Hub) UnsubscribeCommands(ch <-chan focus.ExtensionCommand) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	for i, listener := range h.cmdListeners {
		if listener == ch {
			h.cmdListeners = append(h.cmdListeners[:i], h.cmdListeners[i+1:]...)
			close(listener)
			break
		}
	}
}

func cloneURLs(urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}
