package server

import (
	"errors"
	"fmt"
	"math"
	"time"

	"evcsms/ocpp/v201"
	"evcsms/registry"
	"evcsms/transaction"
	"evcsms/types"
)

const (
	tokenAccepted     = "Accepted"
	tokenInvalid      = "Invalid"
	tokenConcurrentTx = "ConcurrentTx"
)

func (h *SystemHandler) OnBootNotification201(conn *registry.Connection, request *v201.BootNotificationRequest) (*v201.BootNotificationResponse, error) {
	station := request.ChargingStation
	status := h.register(conn, registry.BootInfo{
		Vendor:          station.VendorName,
		Model:           station.Model,
		SerialNumber:    station.SerialNumber,
		FirmwareVersion: station.FirmwareVersion,
	})
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("%s %s (%s): %s", station.VendorName, station.Model, request.Reason, status))
	return &v201.BootNotificationResponse{
		CurrentTime: types.NewDateTime(h.now()),
		Interval:    h.heartbeatInterval,
		Status:      v201.RegistrationStatus(status),
	}, nil
}

func (h *SystemHandler) OnAuthorize201(conn *registry.Connection, request *v201.AuthorizeRequest) (*v201.AuthorizeResponse, error) {
	status := tokenAccepted
	if request.IdToken.IdToken == "" {
		status = tokenInvalid
	}
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("id token: %s (%s); authorization status: %s", request.IdToken.IdToken, request.IdToken.Type, status))
	return &v201.AuthorizeResponse{IdTokenInfo: v201.IdTokenInfo{Status: status}}, nil
}

// OnStatusNotification201 stores the status per evse, the same key the transactions use
func (h *SystemHandler) OnStatusNotification201(conn *registry.Connection, request *v201.StatusNotificationRequest) (*v201.StatusNotificationResponse, error) {
	h.registry.UpdateConnectorStatus(conn, request.EvseId, string(request.ConnectorStatus), "", "")
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("evse %d connector %d: %s", request.EvseId, request.ConnectorId, request.ConnectorStatus))
	return &v201.StatusNotificationResponse{}, nil
}

func (h *SystemHandler) OnMeterValues201(conn *registry.Connection, request *v201.MeterValuesRequest) (*v201.MeterValuesResponse, error) {
	for _, meterValue := range request.MeterValue {
		if value, ok := meterValue.EnergyWh(); ok {
			h.meterValue(conn.Identity(), request.EvseId, "", value, meterValue.Timestamp.TimeOr(h.now()))
		}
	}
	return &v201.MeterValuesResponse{}, nil
}

func samples201(meterValues []v201.MeterValue, fallback func() time.Time) []transaction.Sample {
	samples := make([]transaction.Sample, 0, len(meterValues))
	for _, meterValue := range meterValues {
		if value, ok := meterValue.EnergyWh(); ok {
			samples = append(samples, transaction.Sample{
				Value: int(math.Round(value)),
				Time:  meterValue.Timestamp.TimeOr(fallback()),
			})
		}
	}
	return samples
}

// OnTransactionEvent maps Started, Updated and Ended onto the transaction tracker. The
// transaction id is assigned by the station.
func (h *SystemHandler) OnTransactionEvent(conn *registry.Connection, request *v201.TransactionEventRequest) (*v201.TransactionEventResponse, error) {
	chargePointId := conn.Identity()
	transactionId := request.TransactionInfo.TransactionId
	connectorId := request.ConnectorId()
	ts := request.Timestamp.TimeOr(h.now())
	samples := samples201(request.MeterValue, h.now)
	idTag := ""
	if request.IdToken != nil {
		idTag = request.IdToken.IdToken
	}

	response := &v201.TransactionEventResponse{}
	if request.IdToken != nil {
		response.IdTokenInfo = &v201.IdTokenInfo{Status: tokenAccepted}
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("%s transaction %s; evse %d; trigger %s; seq %d", request.EventType, transactionId, connectorId, request.TriggerReason, request.SeqNo))

	switch request.EventType {
	case v201.TransactionEventStarted, v201.TransactionEventUpdated:
		existing, known := h.transactions.Get(chargePointId, transactionId)
		if !known || existing.IsFinished() {
			if known {
				h.logger.Warn(fmt.Sprintf("%s: %s for finished transaction %s ignored", chargePointId, request.EventType, transactionId))
				return response, nil
			}
			meterStart := 0
			if len(samples) > 0 {
				meterStart = samples[0].Value
			}
			_, err := h.transactions.StartWithId(chargePointId, transactionId, connectorId, idTag, meterStart, ts)
			if errors.Is(err, transaction.ErrDuplicateActiveTransaction) {
				response.IdTokenInfo = &v201.IdTokenInfo{Status: tokenConcurrentTx}
				return response, nil
			}
			if err != nil {
				return nil, err
			}
		}
		for _, sample := range samples {
			h.meterValue(chargePointId, connectorId, transactionId, float64(sample.Value), sample.Time)
		}
	case v201.TransactionEventEnded:
		meterStop := 0
		if len(samples) > 0 {
			meterStop = samples[len(samples)-1].Value
		} else if existing, ok := h.transactions.Get(chargePointId, transactionId); ok {
			meterStop = existing.MeterLatest
		}
		reason := request.TransactionInfo.StoppedReason
		if reason == "" {
			reason = request.TriggerReason
		}
		if _, err := h.transactions.Stop(chargePointId, transactionId, meterStop, ts, reason, samples); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown transaction event type %q", request.EventType)
	}
	return response, nil
}

func (h *SystemHandler) OnNotification(conn *registry.Connection, request *v201.NotificationRequest) (*v201.NotificationResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("%d fields", len(request.Fields)))
	return v201.NewNotificationResponse(request.GetFeatureName()), nil
}
