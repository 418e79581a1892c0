package focus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when a message tag is outside its closed set.
var ErrUnknownType = errors.New("unknown message type")

// RequestType tags a socket request.
type RequestType string

const (
	RequestGetState          RequestType = "GetState"
	RequestStartFocus        RequestType = "StartFocus"
	RequestStopFocus         RequestType = "StopFocus"
	RequestUpdateBlockedURLs RequestType = "UpdateBlockedUrls"
)

// Mutating reports whether handling the request changes the state.
func (t RequestType) Mutating() bool {
	return t != RequestGetState
}

// Request is a socket client request. Only the fields belonging to Type are
// meaningful.
type Request struct {
	Type RequestType

	BlockedURLs   []string
	TimerType     string
	TimerDuration uint32 // minutes
}

// GetStateRequest builds a GetState request.
func GetStateRequest() Request { return Request{Type: RequestGetState} }

// StartFocusRequest builds a StartFocus request.
func StartFocusRequest(urls []string, timerType string, minutes uint32) Request {
	return Request{Type: RequestStartFocus, BlockedURLs: urls, TimerType: timerType, TimerDuration: minutes}
}

// StopFocusRequest builds a StopFocus request.
func StopFocusRequest() Request { return Request{Type: RequestStopFocus} }

// UpdateBlockedURLsRequest builds an UpdateBlockedUrls request.
func UpdateBlockedURLsRequest(urls []string) Request {
	return Request{Type: RequestUpdateBlockedURLs, BlockedURLs: urls}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startFocusPayload struct {
	BlockedURLs   *[]string `json:"blocked_urls"`
	TimerType     *string   `json:"timer_type"`
	TimerDuration *uint32   `json:"timer_duration"`
}

type blockedURLsPayload struct {
	BlockedURLs *[]string `json:"blocked_urls"`
}

// MarshalJSON encodes the request as {"type":...,"payload":...}.
func (r Request) MarshalJSON() ([]byte, error) {
	env := envelope{Type: string(r.Type)}
	var payload any
	switch r.Type {
	case RequestGetState, RequestStopFocus:
	case RequestStartFocus:
		urls := nonNil(r.BlockedURLs)
		timerType := r.TimerType
		minutes := r.TimerDuration
		payload = startFocusPayload{BlockedURLs: &urls, TimerType: &timerType, TimerDuration: &minutes}
	case RequestUpdateBlockedURLs:
		urls := nonNil(r.BlockedURLs)
		payload = blockedURLsPayload{BlockedURLs: &urls}
	default:
		return nil, fmt.Errorf("%w: request %q", ErrUnknownType, r.Type)
	}
	if payload != nil {
		raw, err := encode(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return encode(env)
}

// UnmarshalJSON decodes a request and rejects unknown tags and missing fields.
func (r *Request) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch RequestType(env.Type) {
	case RequestGetState, RequestStopFocus:
		*r = Request{Type: RequestType(env.Type)}
	case RequestStartFocus:
		var p startFocusPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return fmt.Errorf("StartFocus: %w", err)
		}
		switch {
		case p.BlockedURLs == nil:
			return errors.New("StartFocus: missing field `blocked_urls`")
		case p.TimerType == nil:
			return errors.New("StartFocus: missing field `timer_type`")
		case p.TimerDuration == nil:
			return errors.New("StartFocus: missing field `timer_duration`")
		}
		*r = StartFocusRequest(nonNil(*p.BlockedURLs), *p.TimerType, *p.TimerDuration)
	case RequestUpdateBlockedURLs:
		var p blockedURLsPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return fmt.Errorf("UpdateBlockedUrls: %w", err)
		}
		if p.BlockedURLs == nil {
			return errors.New("UpdateBlockedUrls: missing field `blocked_urls`")
		}
		*r = UpdateBlockedURLsRequest(nonNil(*p.BlockedURLs))
	case "":
		return errors.New("missing field `type`")
	default:
		return fmt.Errorf("%w: request %q", ErrUnknownType, env.Type)
	}
	return nil
}

// ResponseType tags a socket response.
type ResponseType string

const (
	ResponseState ResponseType = "State"
	ResponseOk    ResponseType = "Ok"
	ResponseError ResponseType = "Error"
)

// Response is the State Server's reply or push.
type Response struct {
	Type    ResponseType
	State   State
	Message string
}

// StateResponse wraps a state snapshot.
func StateResponse(s State) Response { return Response{Type: ResponseState, State: s} }

// OkResponse is the payload-less acknowledgement.
func OkResponse() Response { return Response{Type: ResponseOk} }

// ErrorResponse carries a human-readable failure.
func ErrorResponse(msg string) Response { return Response{Type: ResponseError, Message: msg} }

type errorPayload struct {
	Message string `json:"message"`
}

// MarshalJSON encodes the response as {"type":...,"payload":...}.
func (r Response) MarshalJSON() ([]byte, error) {
	env := envelope{Type: string(r.Type)}
	var payload any
	switch r.Type {
	case ResponseState:
		payload = r.State
	case ResponseOk:
	case ResponseError:
		payload = errorPayload{Message: r.Message}
	default:
		return nil, fmt.Errorf("%w: response %q", ErrUnknownType, r.Type)
	}
	if payload != nil {
		raw, err := encode(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return encode(env)
}

// UnmarshalJSON decodes a response and rejects unknown tags.
func (r *Response) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch ResponseType(env.Type) {
	case ResponseState:
		st := DefaultState()
		if err := decodePayload(env.Payload, &st); err != nil {
			return fmt.Errorf("State: %w", err)
		}
		*r = StateResponse(st.Clone())
	case ResponseOk:
		*r = OkResponse()
	case ResponseError:
		var p errorPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return fmt.Errorf("Error: %w", err)
		}
		*r = ErrorResponse(p.Message)
	case "":
		return errors.New("missing field `type`")
	default:
		return fmt.Errorf("%w: response %q", ErrUnknownType, env.Type)
	}
	return nil
}

// encode is json.Marshal without HTML escaping. URLs keep their & < > as
// single bytes on the wire.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing payload")
	}
	return json.Unmarshal(raw, v)
}

func nonNil(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}
