package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// pseudo message types stored next to CALL, CALLRESULT and CALLERROR
const (
	MessageTypeConnection    = "CONNECTION"
	MessageTypeDisconnection = "DISCONNECTION"
	MessageTypeMalformed     = "MALFORMED"
)

type LogEntry struct {
	ChargePointId string          `json:"charge_point_id" bson:"charge_point_id"`
	Direction     Direction       `json:"direction" bson:"direction"`
	MessageType   string          `json:"message_type" bson:"message_type"`
	Action        string          `json:"action,omitempty" bson:"action,omitempty"`
	MessageId     string          `json:"message_id,omitempty" bson:"message_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty" bson:"-"`
	PayloadText   string          `json:"-" bson:"payload"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at"`
}

type LogFilter struct {
	ChargePointId string    `json:"charge_point_id,omitempty"`
	MessageType   string    `json:"message_type,omitempty"`
	Direction     Direction `json:"direction,omitempty"`
	Action        string    `json:"action,omitempty"`
}

func (f LogFilter) Matches(entry *LogEntry) bool {
	if f.ChargePointId != "" && !strings.HasPrefix(entry.ChargePointId, f.ChargePointId) {
		return false
	}
	if f.MessageType != "" && entry.MessageType != f.MessageType {
		return false
	}
	if f.Direction != "" && entry.Direction != f.Direction {
		return false
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	return true
}
