package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"evcsms/ocpp"
	"evcsms/ocpp/core"
	"evcsms/ocpp/remotetrigger"
	"evcsms/ocpp/reservation"
	"evcsms/ocpp/v201"
	"evcsms/registry"
	"evcsms/types"
)

// Reply is the station answer to a command
type Reply struct {
	Status  string          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var remoteStartId atomic.Int64

func newReply(payload json.RawMessage) *Reply {
	var status struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(payload, &status)
	return &Reply{Status: status.Status, Payload: payload}
}

func (d *Dispatcher) online(identity string) (*registry.Connection, error) {
	conn := d.connections.Online(identity)
	if conn == nil {
		return nil, ErrStationOffline
	}
	return conn, nil
}

func (d *Dispatcher) call(ctx context.Context, conn *registry.Connection, request ocpp.Request) (*Reply, error) {
	payload, err := d.send(ctx, conn, request, 0)
	if err != nil {
		return nil, err
	}
	return newReply(payload), nil
}

func is201(conn *registry.Connection) bool {
	return conn.Protocol() == types.SubProtocol201
}

func evse(connectorId int) *v201.EVSE {
	if connectorId <= 0 {
		return nil
	}
	return &v201.EVSE{Id: connectorId}
}

// Reset accepts Hard/Soft and the 2.0.1 names Immediate/OnIdle, mapped to the station protocol
func (d *Dispatcher) Reset(ctx context.Context, identity, resetType string) (*Reply, error) {
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		var t v201.ResetType
		switch resetType {
		case "Hard", string(v201.ResetTypeImmediate):
			t = v201.ResetTypeImmediate
		case "Soft", "", string(v201.ResetTypeOnIdle):
			t = v201.ResetTypeOnIdle
		default:
			return nil, fmt.Errorf("%w: reset type %s", ErrInvalidRequest, resetType)
		}
		return d.call(ctx, conn, &v201.ResetRequest{Type: t})
	}
	var t core.ResetType
	switch resetType {
	case string(core.ResetTypeHard), string(v201.ResetTypeImmediate):
		t = core.ResetTypeHard
	case string(core.ResetTypeSoft), "", string(v201.ResetTypeOnIdle):
		t = core.ResetTypeSoft
	default:
		return nil, fmt.Errorf("%w: reset type %s", ErrInvalidRequest, resetType)
	}
	return d.call(ctx, conn, core.NewResetRequest(t))
}

func (d *Dispatcher) UnlockConnector(ctx context.Context, identity string, connectorId int) (*Reply, error) {
	if connectorId <= 0 {
		return nil, fmt.Errorf("%w: connector id %d", ErrInvalidRequest, connectorId)
	}
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return d.call(ctx, conn, &v201.UnlockConnectorRequest{EvseId: connectorId, ConnectorId: 1})
	}
	return d.call(ctx, conn, core.NewUnlockConnectorRequest(connectorId))
}

// TriggerMessage asks the station to send the requested message; a connectorId of zero means the whole station
func (d *Dispatcher) TriggerMessage(ctx context.Context, identity, requestedMessage string, connectorId int) (*Reply, error) {
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return d.call(ctx, conn, &v201.TriggerMessageRequest{RequestedMessage: requestedMessage, Evse: evse(connectorId)})
	}
	trigger := remotetrigger.MessageTrigger(requestedMessage)
	if !trigger.IsValid() {
		return nil, fmt.Errorf("%w: requested message %s", ErrInvalidRequest, requestedMessage)
	}
	var connector *int
	if connectorId > 0 {
		connector = &connectorId
	}
	return d.call(ctx, conn, remotetrigger.NewTriggerMessageRequest(trigger, connector))
}

func (d *Dispatcher) ChangeAvailability(ctx context.Context, identity string, connectorId int, availability string) (*Reply, error) {
	if availability != string(core.AvailabilityTypeOperative) && availability != string(core.AvailabilityTypeInoperative) {
		return nil, fmt.Errorf("%w: availability %s", ErrInvalidRequest, availability)
	}
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return d.call(ctx, conn, &v201.ChangeAvailabilityRequest{OperationalStatus: availability, Evse: evse(connectorId)})
	}
	return d.call(ctx, conn, core.NewChangeAvailabilityRequest(connectorId, core.AvailabilityType(availability)))
}

func (d *Dispatcher) GetConfiguration(ctx context.Context, identity string, keys []string) (*Reply, error) {
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return nil, ErrNotSupported
	}
	return d.call(ctx, conn, core.NewGetConfigurationRequest(keys))
}

func (d *Dispatcher) ChangeConfiguration(ctx context.Context, identity, key, value string) (*Reply, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRequest)
	}
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return nil, ErrNotSupported
	}
	return d.call(ctx, conn, core.NewChangeConfigurationRequest(key, value))
}

func (d *Dispatcher) RemoteStartTransaction(ctx context.Context, identity, idTag string, connectorId int) (*Reply, error) {
	if idTag == "" {
		return nil, fmt.Errorf("%w: empty id tag", ErrInvalidRequest)
	}
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		request := &v201.RequestStartTransactionRequest{
			RemoteStartId: int(remoteStartId.Add(1)),
			IdToken:       v201.IdToken{IdToken: idTag, Type: "Central"},
		}
		if connectorId > 0 {
			request.EvseId = &connectorId
		}
		return d.call(ctx, conn, request)
	}
	return d.call(ctx, conn, core.NewRemoteStartTransactionRequest(idTag, connectorId))
}

// RemoteStopTransaction only asks the station to stop; the transaction is finalized by its stop message
func (d *Dispatcher) RemoteStopTransaction(ctx context.Context, identity, transactionId string) (*Reply, error) {
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		return d.call(ctx, conn, &v201.RequestStopTransactionRequest{TransactionId: transactionId})
	}
	id, err := strconv.Atoi(transactionId)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction id %s", ErrInvalidRequest, transactionId)
	}
	return d.call(ctx, conn, core.NewRemoteStopTransactionRequest(id))
}

// ReserveNow reserves the connector for the id tag until expiry; connector zero reserves the station
func (d *Dispatcher) ReserveNow(ctx context.Context, identity string, connectorId, reservationId int, expiry time.Time, idTag string) (*Reply, error) {
	if idTag == "" {
		return nil, fmt.Errorf("%w: empty id tag", ErrInvalidRequest)
	}
	if connectorId < 0 {
		return nil, fmt.Errorf("%w: connector id %d", ErrInvalidRequest, connectorId)
	}
	if !expiry.After(d.now()) {
		return nil, fmt.Errorf("%w: expiry %s is in the past", ErrInvalidRequest, expiry.Format(time.RFC3339))
	}
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	if is201(conn) {
		request := &v201.ReserveNowRequest{
			Id:             reservationId,
			ExpiryDateTime: types.NewDateTime(expiry),
			IdToken:        v201.IdToken{IdToken: idTag, Type: "Central"},
		}
		if connectorId > 0 {
			request.EvseId = &connectorId
		}
		return d.call(ctx, conn, request)
	}
	return d.call(ctx, conn, reservation.NewReserveNowRequest(connectorId, types.NewDateTime(expiry), idTag, reservationId))
}

func (d *Dispatcher) CancelReservation(ctx context.Context, identity string, reservationId int) (*Reply, error) {
	conn, err := d.online(identity)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, conn, reservation.NewCancelReservationRequest(reservationId))
}
