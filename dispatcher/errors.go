package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"evcsms/pending"
)

var (
	ErrStationOffline   = errors.New("station offline")
	ErrCommandTimeout   = pending.ErrCommandTimeout
	ErrCommandRejected  = errors.New("command rejected by station")
	ErrConnectionClosed = fmt.Errorf("connection closed while waiting: %w", ErrStationOffline)
	ErrNotSupported     = errors.New("command not supported by station protocol")
	ErrInvalidRequest   = errors.New("invalid command parameters")
)

// RejectedError carries the CALLERROR returned by the station
type RejectedError struct {
	Code        string
	Description string
	Details     json.RawMessage
}

func (e *RejectedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrCommandRejected, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrCommandRejected, e.Code, e.Description)
}

func (e *RejectedError) Unwrap() error {
	return ErrCommandRejected
}
