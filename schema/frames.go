package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Frame type tags used by the manager.
const (
	// FrameTypeAuth tags the authentication result frame.
	FrameTypeAuth = "auth"
	// FrameTypeCommandEcho tags the echo of a command the operator sent.
	FrameTypeCommandEcho = "cmd_in"
	// FrameTypeBroadcast tags server log output.
	FrameTypeBroadcast = "bds"
	// AuthOK is the auth frame message for a successful handshake.
	AuthOK = "OK"
)

// StatusCode is the manager's response code. It is sent as a JSON string
// ("200") but numeric codes are accepted too.
type StatusCode int

const (
	// CodeOK marks a successful response.
	CodeOK StatusCode = 200
	// CodeBadRequest marks a malformed frame or request.
	CodeBadRequest StatusCode = 400
	// CodeUnauthorized marks a missing or invalid token.
	CodeUnauthorized StatusCode = 401
	// CodeNotFound marks an unknown resource.
	CodeNotFound StatusCode = 404
)

// MarshalJSON encodes the code as a string.
func (c StatusCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(c)))
}

// UnmarshalJSON accepts a quoted or bare integer; empty and null decode to 0.
func (c *StatusCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	if raw == "" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid status code %q", raw)
	}
	*c = StatusCode(n)
	return nil
}

// WireFrame is the inbound frame shape on the channel.
type WireFrame struct {
	Code   StatusCode `json:"code"`
	Type   string     `json:"type"`
	Msg    string     `json:"msg"`
	Status bool       `json:"status"`
}

// InboundFrame is a decoded channel frame: AuthResult, CommandEcho or Broadcast.
type InboundFrame interface {
	inboundFrame()
}

// AuthResult answers the auth frame.
type AuthResult struct {
	OK      bool
	Message string
}

// CommandEcho echoes a command back to the operator.
type CommandEcho struct {
	Category string
	Message  string
}

// Broadcast carries any other frame type; Category is the raw type string.
type Broadcast struct {
	Category string
	Message  string
}

func (AuthResult) inboundFrame()  {}
func (CommandEcho) inboundFrame() {}
func (Broadcast) inboundFrame()   {}

// DecodeInboundFrame decodes a channel payload. Payloads that are not a JSON
// object with a type tag fail with a *DecodeError. The type and msg fields
// decide the frame; a malformed code or status is ignored.
func DecodeInboundFrame(payload []byte) (InboundFrame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: err}
	}
	var typ, msg string
	if err := decodeField(raw, "type", &typ); err != nil {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: err}
	}
	if err := decodeField(raw, "msg", &msg); err != nil {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: err}
	}
	switch typ {
	case "":
		return nil, &DecodeError{Payload: clonePayload(payload), Err: errors.New("missing frame type")}
	case FrameTypeAuth:
		ok := msg == AuthOK
		if msg == "" {
			var status bool
			if decodeField(raw, "status", &status) == nil {
				ok = status
			}
		}
		return AuthResult{OK: ok, Message: msg}, nil
	case FrameTypeCommandEcho:
		return CommandEcho{Category: typ, Message: msg}, nil
	default:
		return Broadcast{Category: typ, Message: msg}, nil
	}
}

// decodeField decodes raw[key] into dst. A missing or null field leaves dst
// untouched.
func decodeField(raw map[string]json.RawMessage, key string, dst any) error {
	value, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}

// OutboundFrame is a frame the console writes: AuthFrame or CommandFrame.
type OutboundFrame interface {
	outboundFrame()
}

// AuthFrame is the first frame on a fresh channel.
type AuthFrame struct {
	Credential Credential
}

// CommandFrame carries one operator command.
type CommandFrame struct {
	Credential Credential
	Text       string
}

func (AuthFrame) outboundFrame()    {}
func (CommandFrame) outboundFrame() {}

// MarshalJSON encodes {token}.
func (f AuthFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Token string `json:"token"`
	}{Token: string(f.Credential)})
}

// MarshalJSON encodes {token, cmd}.
func (f CommandFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Token string `json:"token"`
		Cmd   string `json:"cmd"`
	}{Token: string(f.Credential), Cmd: f.Text})
}

// EncodeOutboundFrame serializes an outbound frame.
func EncodeOutboundFrame(frame OutboundFrame) ([]byte, error) {
	switch f := frame.(type) {
	case AuthFrame, CommandFrame:
		return json.Marshal(f)
	case nil:
		return nil, errors.New("nil outbound frame")
	default:
		return nil, fmt.Errorf("unsupported outbound frame %T", frame)
	}
}

// DecodeOutboundFrame is the manager-side decoder: a payload with a cmd key is
// a CommandFrame, otherwise an AuthFrame.
func DecodeOutboundFrame(payload []byte) (OutboundFrame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: err}
	}
	var wire struct {
		Token string `json:"token"`
		Cmd   string `json:"cmd"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: err}
	}
	if _, ok := raw["token"]; !ok {
		return nil, &DecodeError{Payload: clonePayload(payload), Err: errors.New("missing token")}
	}
	if _, ok := raw["cmd"]; ok {
		return CommandFrame{Credential: Credential(wire.Token), Text: wire.Cmd}, nil
	}
	return AuthFrame{Credential: Credential(wire.Token)}, nil
}

func clonePayload(payload []byte) []byte {
	return append([]byte(nil), payload...)
}
