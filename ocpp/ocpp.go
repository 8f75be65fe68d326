package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Request message
type Request interface {
	// GetFeatureName Returns the unique name of the feature, to which this request belongs to.
	GetFeatureName() string
}

// Response message
type Response interface {
	// GetFeatureName Returns the unique name of the feature, to which this request belongs to.
	GetFeatureName() string
}

type ErrorCode string

const (
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	InternalError                 ErrorCode = "InternalError"
	ProtocolError                 ErrorCode = "ProtocolError"
	SecurityError                 ErrorCode = "SecurityError"
	FormationViolation            ErrorCode = "FormationViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	GenericError                  ErrorCode = "GenericError"
)

var ErrUnknownAction = errors.New("unknown action")

// ParseRequest decodes the payload of an inbound call into the typed request
// registered for the action under the given sub-protocol.
func ParseRequest(version, action string, payload json.RawMessage) (Request, error) {
	requestType, err := getRequestType(version, action)
	if err != nil {
		return nil, err
	}
	request, err := ParseRawJsonRequest(payload, requestType)
	if err != nil {
		return nil, err
	}
	setFeatureName(request, action)
	return request, nil
}

func ParseRawJsonRequest(raw json.RawMessage, requestType reflect.Type) (Request, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	request := reflect.New(requestType).Interface()
	if err := json.Unmarshal(raw, request); err != nil {
		return nil, fmt.Errorf("decode %s: %w", requestType.Name(), err)
	}
	result, ok := request.(Request)
	if !ok {
		return nil, fmt.Errorf("%s is not a request", requestType.Name())
	}
	return result, nil
}
