package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evcsms/dispatcher"
)

const reasonForcedStop = "ForcedStop"

// CommandResult is what an operator sees after issuing a command
type CommandResult struct {
	Success     bool            `json:"success"`
	Status      string          `json:"status,omitempty"`
	Error       string          `json:"error,omitempty"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

const (
	ErrorStationOffline   = "StationOffline"
	ErrorCommandTimeout   = "CommandTimeout"
	ErrorRejected         = "Rejected"
	ErrorConnectionClosed = "ConnectionClosed"
	ErrorNotSupported     = "NotSupported"
	ErrorInvalidRequest   = "InvalidRequest"
	ErrorInternal         = "InternalError"
)

const statusRejected = "Rejected"

func errorCode(err error) string {
	var rejected *dispatcher.RejectedError
	switch {
	case errors.As(err, &rejected):
		return ErrorRejected
	case errors.Is(err, dispatcher.ErrConnectionClosed):
		return ErrorConnectionClosed
	case errors.Is(err, dispatcher.ErrStationOffline):
		return ErrorStationOffline
	case errors.Is(err, dispatcher.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCommandTimeout
	case errors.Is(err, dispatcher.ErrNotSupported):
		return ErrorNotSupported
	case errors.Is(err, dispatcher.ErrInvalidRequest):
		return ErrorInvalidRequest
	}
	return ErrorInternal
}

// commandResult folds the dispatcher outcome into a result; a station answering
// with status Rejected counts as a failed command
func (cs *CentralSystem) commandResult(identity, action string, reply *dispatcher.Reply, err error) *CommandResult {
	if err != nil {
		code := errorCode(err)
		cs.logger.FeatureEvent(action, identity, fmt.Sprintf("command failed: %s: %v", code, err))
		return &CommandResult{
			Error:       code,
			Description: err.Error(),
		}
	}
	result := &CommandResult{
		Success: reply.Status != statusRejected,
		Status:  reply.Status,
		Payload: reply.Payload,
	}
	if !result.Success {
		result.Error = ErrorRejected
	}
	cs.logger.FeatureEvent(action, identity, fmt.Sprintf("command completed: %s", reply.Status))
	return result
}

func (cs *CentralSystem) SendReset(ctx context.Context, identity, resetType string) *CommandResult {
	reply, err := cs.dispatcher.Reset(ctx, identity, resetType)
	return cs.commandResult(identity, "Reset", reply, err)
}

func (cs *CentralSystem) SendUnlockConnector(ctx context.Context, identity string, connectorId int) *CommandResult {
	reply, err := cs.dispatcher.UnlockConnector(ctx, identity, connectorId)
	return cs.commandResult(identity, "UnlockConnector", reply, err)
}

func (cs *CentralSystem) SendTriggerMessage(ctx context.Context, identity, requestedMessage string, connectorId int) *CommandResult {
	reply, err := cs.dispatcher.TriggerMessage(ctx, identity, requestedMessage, connectorId)
	return cs.commandResult(identity, "TriggerMessage", reply, err)
}

func (cs *CentralSystem) SendChangeAvailability(ctx context.Context, identity string, connectorId int, availability string) *CommandResult {
	reply, err := cs.dispatcher.ChangeAvailability(ctx, identity, connectorId, availability)
	return cs.commandResult(identity, "ChangeAvailability", reply, err)
}

func (cs *CentralSystem) SendGetConfiguration(ctx context.Context, identity string, keys []string) *CommandResult {
	reply, err := cs.dispatcher.GetConfiguration(ctx, identity, keys)
	return cs.commandResult(identity, "GetConfiguration", reply, err)
}

func (cs *CentralSystem) SendChangeConfiguration(ctx context.Context, identity, key, value string) *CommandResult {
	reply, err := cs.dispatcher.ChangeConfiguration(ctx, identity, key, value)
	return cs.commandResult(identity, "ChangeConfiguration", reply, err)
}

func (cs *CentralSystem) SendRemoteStart(ctx context.Context, identity, idTag string, connectorId int) *CommandResult {
	reply, err := cs.dispatcher.RemoteStartTransaction(ctx, identity, idTag, connectorId)
	return cs.commandResult(identity, "RemoteStartTransaction", reply, err)
}

func (cs *CentralSystem) SendRemoteStop(ctx context.Context, identity, transactionId string) *CommandResult {
	reply, err := cs.dispatcher.RemoteStopTransaction(ctx, identity, transactionId)
	return cs.commandResult(identity, "RemoteStopTransaction", reply, err)
}

func (cs *CentralSystem) SendReserveNow(ctx context.Context, identity string, connectorId, reservationId int, expiry time.Time, idTag string) *CommandResult {
	reply, err := cs.dispatcher.ReserveNow(ctx, identity, connectorId, reservationId, expiry, idTag)
	return cs.commandResult(identity, "ReserveNow", reply, err)
}

func (cs *CentralSystem) SendCancelReservation(ctx context.Context, identity string, reservationId int) *CommandResult {
	reply, err := cs.dispatcher.CancelReservation(ctx, identity, reservationId)
	return cs.commandResult(identity, "CancelReservation", reply, err)
}

// ForceStopTransaction finalizes a transaction the station never stopped, using the
// latest known meter reading. Nothing is sent to the station.
func (cs *CentralSystem) ForceStopTransaction(identity, transactionId string) *CommandResult {
	existing, ok := cs.transactions.Get(identity, transactionId)
	if !ok {
		return &CommandResult{
			Error:       ErrorInvalidRequest,
			Description: fmt.Sprintf("transaction %s of %s not found", transactionId, identity),
		}
	}
	if existing.IsFinished() {
		return &CommandResult{
			Error:       ErrorInvalidRequest,
			Description: fmt.Sprintf("transaction %s is already finished", transactionId),
		}
	}
	stopped, err := cs.transactions.Stop(identity, transactionId, existing.MeterLatest, time.Now(), reasonForcedStop, nil)
	if err != nil {
		return &CommandResult{Error: ErrorInternal, Description: err.Error()}
	}
	cs.logger.FeatureEvent("ForceStop", identity, fmt.Sprintf("transaction %s finalized at %d Wh", transactionId, stopped.MeterLatest))
	payload, _ := json.Marshal(stopped)
	return &CommandResult{Success: true, Status: "Accepted", Payload: payload}
}
