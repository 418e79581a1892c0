// Package desktop is a headless stand-in for the desktop UI. It consumes
// the extension commands the state server queues and keeps the session
// timer moving, the way the desktop app does while it is open.
package desktop

import (
	"context"
	"time"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/chemonoworld/focusbridge/internal/stateserver"
	"github.com/rs/zerolog"
)

// Options tunes an Agent
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
	// OnCommand is called once for every command the agent consumes.
	OnCommand func(focus.ExtensionCommand)
}

// Agent drives a Hub from the desktop side
type Agent struct {
	hub       *stateserver.Hub
	opts      Options
	startedAt time.Time
	log       *zerolog.Logger
	now       func() time.Time
}

// NewAgent creates an agent for hub
func NewAgent(hub *stateserver.Hub, opts Options) *Agent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Agent{
		hub:  hub,
		opts: opts,
		log:  logger.WithComponent("desktop"),
		now:  time.Now,
	}
}

// Run consumes commands and ticks the timer until ctx is cancelled.
// Pushed commands only wake the agent up; the pending queue is the source
// of truth, so a command is handled once even when it is both pushed and
// polled.
func (a *Agent) Run(ctx context.Context) error {
	pushed := a.hub.SubscribeCommands()
	defer a.hub.UnsubscribeCommands(pushed)

	poll := time.NewTicker(a.opts.PollInterval)
	defer poll.Stop()
	tick := time.NewTicker(a.opts.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-pushed:
			if !ok {
				return nil
			}
			a.drain()
		case <-poll.C:
			a.drain()
		case <-tick.C:
			a.tick()
		}
	}
}

func (a *Agent) drain() {
	cmd, ok := a.hub.TakePendingCommand()
	if !ok {
		return
	}

	switch cmd.Command {
	case focus.CommandStart:
		a.startedAt = a.now()
		a.log.Info().
			Strs("blocked_urls", cmd.BlockedURLs).
			Str("timer_type", cmd.TimerType).
			Uint32("timer_minutes", cmd.TimerDuration).
			Msg("Focus started from extension")
	case focus.CommandStop:
		a.startedAt = time.Time{}
		a.log.Info().Msg("Focus stopped from extension")
	default:
		a.log.Warn().Str("command", cmd.Command).Msg("Ignoring unknown command")
		return
	}

	if a.opts.OnCommand != nil {
		a.opts.OnCommand(cmd)
	}
}

func (a *Agent) tick() {
	st := a.hub.State()
	if !st.IsActive {
		a.startedAt = time.Time{}
		return
	}
	if a.startedAt.IsZero() {
		a.startedAt = a.now().Add(-time.Duration(st.ElapsedSeconds) * time.Second)
	}

	elapsed := uint32(a.now().Sub(a.startedAt) / time.Second)
	if !a.hub.SetElapsed(elapsed) {
		a.startedAt = time.Time{}
	}
}
