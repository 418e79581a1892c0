package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chemonoworld/focusbridge/internal/client"
	"github.com/chemonoworld/focusbridge/internal/config"
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/fatih/color"
)

// dialServer connects to the configured state server
func dialServer(ctx context.Context, cfg *config.Config) (*client.Conn, error) {
	conn, err := client.Dial(ctx, cfg.SocketName)
	if err != nil {
		return nil, fmt.Errorf("state server not reachable (is 'focusbridge serve' running?): %w", err)
	}
	return conn, nil
}

// request sends req and returns the resulting state. An Ok reply is
// followed by GetState, the same way the bridge host does it.
func request(req focus.Request) (focus.State, error) {
	configMgr, err := loadConfig()
	if err != nil {
		return focus.State{}, err
	}
	cfg := configMgr.Get()

	timeout := time.Duration(cfg.Host.RequestTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := dialServer(ctx, cfg)
	if err != nil {
		return focus.State{}, err
	}
	defer conn.Close()

	for _, r := range []focus.Request{req, focus.GetStateRequest()} {
		resp, err := conn.RoundTrip(ctx, r)
		if err != nil {
			return focus.State{}, err
		}
		switch resp.Type {
		case focus.ResponseState:
			return resp.State, nil
		case focus.ResponseError:
			return focus.State{}, errors.New(resp.Message)
		}
	}
	return focus.State{}, errors.New("state server never returned a state")
}

func printState(w io.Writer, s focus.State) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	_, err := io.WriteString(w, formatState(s))
	return err
}

func formatState(s focus.State) string {
	var b strings.Builder
	if s.IsActive {
		fmt.Fprintf(&b, "%s %s\n", color.GreenString("●"), color.New(color.Bold).Sprint("Focus active"))
	} else {
		fmt.Fprintf(&b, "%s %s\n", color.HiBlackString("○"), "Focus inactive")
	}

	if s.TimerType != "" && s.TimerType != focus.TimerTypeNone {
		fmt.Fprintf(&b, "  timer:   %s %s / %s\n", s.TimerType,
			formatSeconds(s.ElapsedSeconds), formatSeconds(s.TimerSeconds))
	} else if s.IsActive {
		fmt.Fprintf(&b, "  elapsed: %s\n", formatSeconds(s.ElapsedSeconds))
	}

	if len(s.BlockedURLs) == 0 {
		fmt.Fprintf(&b, "  blocked: %s\n", color.HiBlackString("none"))
	} else {
		fmt.Fprintf(&b, "  blocked: %s\n", color.YellowString(strings.Join(s.BlockedURLs, ", ")))
	}
	return b.String()
}

func formatSeconds(total uint32) string {
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
