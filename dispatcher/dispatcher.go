package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
	"evcsms/ocpp"
	"evcsms/pending"
	"evcsms/registry"
)

const featureName = "Dispatcher"

type Connections interface {
	Online(identity string) *registry.Connection
	Send(conn *registry.Connection, data []byte) error
}

type MessageLog interface {
	Append(entry *models.LogEntry)
}

type Timeouts struct {
	Default time.Duration
	Reset   time.Duration
	Unlock  time.Duration
}

func (t Timeouts) For(action string) time.Duration {
	switch action {
	case "Reset":
		if t.Reset > 0 {
			return t.Reset
		}
	case "UnlockConnector":
		if t.Unlock > 0 {
			return t.Unlock
		}
	}
	if t.Default > 0 {
		return t.Default
	}
	return 30 * time.Second
}

type Dispatcher struct {
	connections Connections
	tracker     *pending.Tracker
	messageLog  MessageLog
	logger      internal.LogHandler
	timeouts    Timeouts
	now         func() time.Time
}

func New(connections Connections, tracker *pending.Tracker, messageLog MessageLog, logger internal.LogHandler, timeouts Timeouts) *Dispatcher {
	return &Dispatcher{
		connections: connections,
		tracker:     tracker,
		messageLog:  messageLog,
		logger:      logger,
		timeouts:    timeouts,
		now:         time.Now,
	}
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Send writes the request to the station and waits for the reply payload.
// A zero timeout selects the configured default for the action.
func (d *Dispatcher) Send(ctx context.Context, identity string, request ocpp.Request, timeout time.Duration) (json.RawMessage, error) {
	conn := d.connections.Online(identity)
	if conn == nil {
		return nil, ErrStationOffline
	}
	return d.send(ctx, conn, request, timeout)
}

func (d *Dispatcher) send(ctx context.Context, conn *registry.Connection, request ocpp.Request, timeout time.Duration) (json.RawMessage, error) {
	action := request.GetFeatureName()
	if timeout <= 0 {
		timeout = d.timeouts.For(action)
	}
	correlationId, waiter := d.tracker.Register(conn.SessionId(), action, d.now().Add(timeout))

	call, err := ocpp.NewCall(correlationId, request)
	if err != nil {
		d.tracker.Cancel(conn.SessionId(), correlationId)
		return nil, fmt.Errorf("encode %s: %w", action, err)
	}
	data, err := ocpp.Encode(call)
	if err != nil {
		d.tracker.Cancel(conn.SessionId(), correlationId)
		return nil, fmt.Errorf("encode %s: %w", action, err)
	}
	if conn.IsClosed() {
		d.tracker.Cancel(conn.SessionId(), correlationId)
		return nil, ErrConnectionClosed
	}
	if err = d.connections.Send(conn, data); err != nil {
		d.tracker.Cancel(conn.SessionId(), correlationId)
		if errors.Is(err, registry.ErrConnectionClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("write %s: %w", action, err)
	}
	d.logger.RawDataEvent("OUT", string(data))
	d.messageLog.Append(&models.LogEntry{
		ChargePointId: conn.Identity(),
		Direction:     models.DirectionOut,
		MessageType:   ocpp.CallTypeRequest.String(),
		Action:        action,
		MessageId:     correlationId,
		Payload:       call.Payload,
		CreatedAt:     d.now(),
	})

	payload, err := waiter.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.tracker.Cancel(conn.SessionId(), correlationId)
		}
		d.logger.FeatureEvent(featureName, conn.Identity(), fmt.Sprintf("%s failed: %v", action, err))
		counters.CountCommand(action, resultLabel(err))
		return nil, err
	}
	counters.CountCommand(action, "ok")
	return payload, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCommandTimeout):
		return "timeout"
	case errors.Is(err, ErrCommandRejected):
		return "rejected"
	case errors.Is(err, ErrStationOffline):
		return "closed"
	}
	return "error"
}

// OnCallResult routes a CALLRESULT frame of the connection to its waiting command
func (d *Dispatcher) OnCallResult(conn *registry.Connection, result *ocpp.CallResult) bool {
	return d.tracker.Resolve(conn.SessionId(), result.UniqueId, result.Payload)
}

func (d *Dispatcher) OnCallError(conn *registry.Connection, callError *ocpp.CallError) bool {
	return d.tracker.Reject(conn.SessionId(), callError.UniqueId, &RejectedError{
		Code:        callError.ErrorCode,
		Description: callError.ErrorDescription,
		Details:     callError.ErrorDetails,
	})
}

// OnEvent fails the outstanding commands of a session as soon as it is disconnected
func (d *Dispatcher) OnEvent(event events.Event) {
	if event.Kind != events.Disconnected || event.SessionId == "" {
		return
	}
	if n := d.tracker.FailAll(event.SessionId, ErrConnectionClosed); n > 0 {
		d.logger.FeatureEvent(featureName, event.ChargePointId, fmt.Sprintf("%d pending commands failed: %s", n, event.Reason))
	}
}
