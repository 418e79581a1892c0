package nativemsg

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chemonoworld/focusbridge/internal/focus"
)

// InboundType tags a message from the browser extension.
type InboundType string

const (
	InboundGetState          InboundType = "GET_STATE"
	InboundToggleFocus       InboundType = "TOGGLE_FOCUS"
	InboundStartFocus        InboundType = "START_FOCUS"
	InboundStopFocus         InboundType = "STOP_FOCUS"
	InboundUpdateBlockedURLs InboundType = "UPDATE_BLOCKED_URLS"
)

// Inbound is a decoded browser request. TimerType and TimerDuration are nil
// when the extension omitted them.
type Inbound struct {
	Type          InboundType
	BlockedURLs   []string
	TimerType     *string
	TimerDuration *uint32
}

type inboundPayload struct {
	BlockedURLs   *[]string `json:"blockedUrls,omitempty"`
	TimerType     *string   `json:"timerType,omitempty"`
	TimerDuration *uint32   `json:"timerDuration,omitempty"`
}

type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound parses one browser message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, err
	}

	var p inboundPayload
	hasPayload := len(env.Payload) > 0 && string(env.Payload) != "null"
	if hasPayload {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Inbound{}, fmt.Errorf("%s payload: %w", env.Type, err)
		}
	}

	msg := Inbound{Type: InboundType(env.Type)}
	switch msg.Type {
	case InboundGetState, InboundStopFocus:
		return msg, nil
	case InboundToggleFocus:
		if p.BlockedURLs != nil {
			msg.BlockedURLs = *p.BlockedURLs
		}
		return msg, nil
	case InboundStartFocus, InboundUpdateBlockedURLs:
		if !hasPayload || p.BlockedURLs == nil {
			return Inbound{}, fmt.Errorf("%s: missing field `blockedUrls`", env.Type)
		}
		msg.BlockedURLs = *p.BlockedURLs
		if msg.Type == InboundStartFocus {
			msg.TimerType = p.TimerType
			msg.TimerDuration = p.TimerDuration
		}
		return msg, nil
	case "":
		return Inbound{}, errors.New("missing field `type`")
	default:
		return Inbound{}, fmt.Errorf("%w: %q", focus.ErrUnknownType, env.Type)
	}
}

// MarshalJSON encodes the message the way the extension sends it.
func (m Inbound) MarshalJSON() ([]byte, error) {
	env := inboundEnvelope{Type: string(m.Type)}
	switch m.Type {
	case InboundStartFocus, InboundUpdateBlockedURLs, InboundToggleFocus:
		p := inboundPayload{TimerType: m.TimerType, TimerDuration: m.TimerDuration}
		if m.BlockedURLs != nil || m.Type != InboundToggleFocus {
			urls := m.BlockedURLs
			if urls == nil {
				urls = []string{}
			}
			p.BlockedURLs = &urls
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// OutboundType tags a message to the browser extension.
type OutboundType string

const (
	OutboundConnected  OutboundType = "CONNECTED"
	OutboundFocusState OutboundType = "FOCUS_STATE"
	OutboundError      OutboundType = "ERROR"
)

// Outbound is a message for the browser extension.
type Outbound struct {
	Type  OutboundType
	State focus.State
	Error string
}

// Connected announces the host is up.
func Connected() Outbound { return Outbound{Type: OutboundConnected} }

// FocusState forwards a state snapshot.
func FocusState(s focus.State) Outbound { return Outbound{Type: OutboundFocusState, State: s} }

// Error reports a failure for the message that caused it.
func Error(msg string) Outbound { return Outbound{Type: OutboundError, Error: msg} }

type outboundWire struct {
	Type    OutboundType `json:"type"`
	Payload *focus.State `json:"payload,omitempty"`
	Error   *string      `json:"error,omitempty"`
}

// MarshalJSON encodes CONNECTED, FOCUS_STATE{payload} and ERROR{error}.
func (m Outbound) MarshalJSON() ([]byte, error) {
	w := outboundWire{Type: m.Type}
	switch m.Type {
	case OutboundConnected:
	case OutboundFocusState:
		st := m.State
		w.Payload = &st
	case OutboundError:
		msg := m.Error
		w.Error = &msg
	default:
		return nil, fmt.Errorf("%w: %q", focus.ErrUnknownType, m.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an outbound message.
func (m *Outbound) UnmarshalJSON(data []byte) error {
	var w outboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case OutboundConnected:
		*m = Connected()
	case OutboundFocusState:
		if w.Payload == nil {
			return errors.New("FOCUS_STATE: missing payload")
		}
		*m = FocusState(w.Payload.Clone())
	case OutboundError:
		if w.Error == nil {
			return errors.New("ERROR: missing field `error`")
		}
		*m = Error(*w.Error)
	default:
		return fmt.Errorf("%w: %q", focus.ErrUnknownType, w.Type)
	}
	return nil
}
