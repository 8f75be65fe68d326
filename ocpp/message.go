package ocpp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

func (t CallType) String() string {
	switch t {
	case CallTypeRequest:
		return "CALL"
	case CallTypeResult:
		return "CALLRESULT"
	case CallTypeError:
		return "CALLERROR"
	}
	return fmt.Sprintf("CallType(%d)", int(t))
}

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one of *Call, *CallResult or *CallError.
type Envelope interface {
	GetMessageType() CallType
	GetUniqueId() string
	json.Marshaler
}

// Call An OCPP-J Call message, containing an OCPP Request.
type Call struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	UniqueId string
	Payload  json.RawMessage
}

// CallError An OCPP-J CallError message, sent in place of a CallResult.
type CallError struct {
	UniqueId         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (c *Call) GetMessageType() CallType       { return CallTypeRequest }
func (c *Call) GetUniqueId() string            { return c.UniqueId }
func (c *CallResult) GetMessageType() CallType { return CallTypeResult }
func (c *CallResult) GetUniqueId() string      { return c.UniqueId }
func (c *CallError) GetMessageType() CallType  { return CallTypeError }
func (c *CallError) GetUniqueId() string       { return c.UniqueId }

func (c *Call) MarshalJSON() ([]byte, error) {
	fields := []interface{}{int(CallTypeRequest), c.UniqueId, c.Action, rawOrEmpty(c.Payload)}
	return json.Marshal(fields)
}

func (c *CallResult) MarshalJSON() ([]byte, error) {
	fields := []interface{}{int(CallTypeResult), c.UniqueId, rawOrEmpty(c.Payload)}
	return json.Marshal(fields)
}

func (c *CallError) MarshalJSON() ([]byte, error) {
	fields := []interface{}{int(CallTypeError), c.UniqueId, c.ErrorCode, c.ErrorDescription, rawOrEmpty(c.ErrorDetails)}
	return json.Marshal(fields)
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// NewCall marshals the request payload into a Call envelope
func NewCall(uniqueId string, request Request) (*Call, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return &Call{UniqueId: uniqueId, Action: request.GetFeatureName(), Payload: payload}, nil
}

func NewCallResult(uniqueId string, response Response) (*CallResult, error) {
	payload, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return &CallResult{UniqueId: uniqueId, Payload: payload}, nil
}

func NewCallError(uniqueId string, code ErrorCode, description string) *CallError {
	return &CallError{UniqueId: uniqueId, ErrorCode: string(code), ErrorDescription: description}
}

func Encode(envelope Envelope) ([]byte, error) {
	return envelope.MarshalJSON()
}

// Decode checks the envelope shape only; action and payload are not interpreted.
func Decode(data []byte) (Envelope, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedEnvelope, len(fields))
	}
	var rawTypeId float64
	if err := json.Unmarshal(fields[0], &rawTypeId); err != nil {
		return nil, fmt.Errorf("%w: invalid message type", ErrMalformedEnvelope)
	}
	typeId := CallType(rawTypeId)
	if float64(typeId) != rawTypeId {
		return nil, fmt.Errorf("%w: invalid message type %v", ErrMalformedEnvelope, rawTypeId)
	}
	var uniqueId string
	if err := json.Unmarshal(fields[1], &uniqueId); err != nil || uniqueId == "" {
		return nil, fmt.Errorf("%w: invalid unique id", ErrMalformedEnvelope)
	}

	switch typeId {
	case CallTypeRequest:
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: call expects 4 elements, got %d", ErrMalformedEnvelope, len(fields))
		}
		var action string
		if err := json.Unmarshal(fields[2], &action); err != nil || action == "" {
			return nil, fmt.Errorf("%w: invalid action", ErrMalformedEnvelope)
		}
		if !isObject(fields[3]) {
			return nil, fmt.Errorf("%w: call payload is not an object", ErrMalformedEnvelope)
		}
		return &Call{UniqueId: uniqueId, Action: action, Payload: fields[3]}, nil
	case CallTypeResult:
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: call result expects 3 elements, got %d", ErrMalformedEnvelope, len(fields))
		}
		if !isObject(fields[2]) {
			return nil, fmt.Errorf("%w: call result payload is not an object", ErrMalformedEnvelope)
		}
		return &CallResult{UniqueId: uniqueId, Payload: fields[2]}, nil
	case CallTypeError:
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: call error expects 5 elements, got %d", ErrMalformedEnvelope, len(fields))
		}
		var code, description string
		if err := json.Unmarshal(fields[2], &code); err != nil || code == "" {
			return nil, fmt.Errorf("%w: invalid error code", ErrMalformedEnvelope)
		}
		if err := json.Unmarshal(fields[3], &description); err != nil {
			return nil, fmt.Errorf("%w: invalid error description", ErrMalformedEnvelope)
		}
		if !isObject(fields[4]) {
			return nil, fmt.Errorf("%w: error details is not an object", ErrMalformedEnvelope)
		}
		return &CallError{UniqueId: uniqueId, ErrorCode: code, ErrorDescription: description, ErrorDetails: fields[4]}, nil
	}
	return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedEnvelope, typeId)
}

// PeekUniqueId returns the second array element if the frame has one, so that a
// malformed call can still be answered with a CallError.
func PeekUniqueId(data []byte) string {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) < 2 {
		return ""
	}
	var id string
	if err := json.Unmarshal(fields[1], &id); err != nil {
		return ""
	}
	return id
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
