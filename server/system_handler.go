package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"evcsms/internal"
	"evcsms/models"
	"evcsms/ocpp"
	"evcsms/ocpp/core"
	"evcsms/ocpp/firmware"
	"evcsms/ocpp/v201"
	"evcsms/registry"
	"evcsms/transaction"
	"evcsms/types"
)

const (
	registrationAccepted = "Accepted"
	registrationPending  = "Pending"
	registrationRejected = "Rejected"
)

// SystemHandler answers the calls initiated by charge points of both protocol versions
type SystemHandler struct {
	registry          *registry.Registry
	transactions      *transaction.Tracker
	database          internal.Database
	logger            internal.LogHandler
	heartbeatInterval int
	rejectUnknown     bool
	now               func() time.Time
}

func NewSystemHandler(registry *registry.Registry, transactions *transaction.Tracker, database internal.Database, logger internal.LogHandler) *SystemHandler {
	return &SystemHandler{
		registry:          registry,
		transactions:      transactions,
		database:          database,
		logger:            logger,
		heartbeatInterval: 300,
		now:               time.Now,
	}
}

// SetParameters heartbeat interval announced to stations and whether unknown stations stay pending
func (h *SystemHandler) SetParameters(heartbeatInterval time.Duration, rejectUnknown bool) {
	h.heartbeatInterval = int(heartbeatInterval.Seconds())
	h.rejectUnknown = rejectUnknown
}

func (h *SystemHandler) SetClock(now func() time.Time) {
	h.now = now
}

// Handle routes the parsed request to its handler
func (h *SystemHandler) Handle(conn *registry.Connection, request ocpp.Request) (ocpp.Response, error) {
	switch req := request.(type) {
	case *core.BootNotificationRequest:
		return h.OnBootNotification(conn, req)
	case *core.AuthorizeRequest:
		return h.OnAuthorize(conn, req)
	case *core.HeartbeatRequest:
		return h.OnHeartbeat(conn, req)
	case *core.StartTransactionRequest:
		return h.OnStartTransaction(conn, req)
	case *core.StopTransactionRequest:
		return h.OnStopTransaction(conn, req)
	case *core.MeterValuesRequest:
		return h.OnMeterValues(conn, req)
	case *core.StatusNotificationRequest:
		return h.OnStatusNotification(conn, req)
	case *core.DataTransferRequest:
		return h.OnDataTransfer(conn, req)
	case *firmware.DiagnosticsStatusNotificationRequest:
		return h.OnDiagnosticsStatusNotification(conn, req)
	case *firmware.StatusNotificationRequest:
		return h.OnFirmwareStatusNotification(conn, req)
	case *v201.BootNotificationRequest:
		return h.OnBootNotification201(conn, req)
	case *v201.AuthorizeRequest:
		return h.OnAuthorize201(conn, req)
	case *v201.StatusNotificationRequest:
		return h.OnStatusNotification201(conn, req)
	case *v201.MeterValuesRequest:
		return h.OnMeterValues201(conn, req)
	case *v201.TransactionEventRequest:
		return h.OnTransactionEvent(conn, req)
	case *v201.NotificationRequest:
		return h.OnNotification(conn, req)
	}
	return nil, fmt.Errorf("%w: %s", ocpp.ErrUnknownAction, request.GetFeatureName())
}

// register decides the registration status of a booting station and stores its description
func (h *SystemHandler) register(conn *registry.Connection, info registry.BootInfo) string {
	chargePointId := conn.Identity()
	chargePoint, err := h.database.GetChargePoint(chargePointId)
	if err != nil || chargePoint == nil {
		if h.rejectUnknown {
			h.logger.FeatureEvent(core.BootNotificationFeatureName, chargePointId, "unknown charge point, registration pending")
			return registrationPending
		}
		h.logger.Debug(fmt.Sprintf("registering new charge point %s", chargePointId))
		chargePoint = &models.ChargePoint{
			Id:        chargePointId,
			IsEnabled: true,
		}
	}
	if !chargePoint.IsEnabled {
		h.logger.FeatureEvent(core.BootNotificationFeatureName, chargePointId, "charge point is disabled")
		h.registry.RejectBoot(conn, "charge point is disabled")
		return registrationRejected
	}

	chargePoint.Vendor = info.Vendor
	chargePoint.Model = info.Model
	chargePoint.SerialNumber = info.SerialNumber
	chargePoint.FirmwareVersion = info.FirmwareVersion
	chargePoint.Protocol = conn.Protocol()
	chargePoint.LastBootAt = h.now()
	if err = h.database.SaveChargePoint(chargePoint); err != nil {
		h.logger.Error("save charge point", err)
	}
	h.registry.SetBootInfo(conn, info)
	return registrationAccepted
}

func (h *SystemHandler) OnBootNotification(conn *registry.Connection, request *core.BootNotificationRequest) (*core.BootNotificationResponse, error) {
	status := h.register(conn, registry.BootInfo{
		Vendor:          request.ChargePointVendor,
		Model:           request.ChargePointModel,
		SerialNumber:    request.SerialNumber(),
		FirmwareVersion: request.FirmwareVersion,
	})
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("%s %s: %s", request.ChargePointVendor, request.ChargePointModel, status))
	return core.NewBootNotificationResponse(types.NewDateTime(h.now()), h.heartbeatInterval, core.RegistrationStatus(status)), nil
}

func (h *SystemHandler) OnAuthorize(conn *registry.Connection, request *core.AuthorizeRequest) (*core.AuthorizeResponse, error) {
	authStatus := types.AuthorizationStatusAccepted
	if request.IdTag == "" {
		authStatus = types.AuthorizationStatusInvalid
	}
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("id tag: %s; authorization status: %s", request.IdTag, authStatus))
	return core.NewAuthorizationResponse(types.NewIdTagInfo(authStatus)), nil
}

func (h *SystemHandler) OnHeartbeat(conn *registry.Connection, request *core.HeartbeatRequest) (*core.HeartbeatResponse, error) {
	h.registry.TouchHeartbeat(conn)
	return core.NewHeartbeatResponse(types.NewDateTime(h.now())), nil
}

func (h *SystemHandler) OnStartTransaction(conn *registry.Connection, request *core.StartTransactionRequest) (*core.StartTransactionResponse, error) {
	ts := request.Timestamp.TimeOr(h.now())
	started, err := h.transactions.Start(conn.Identity(), request.ConnectorId, request.IdTag, request.MeterStart, ts)
	if errors.Is(err, transaction.ErrDuplicateActiveTransaction) {
		return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusConcurrentTx), 0), nil
	}
	if err != nil {
		return nil, err
	}
	transactionId, err := strconv.Atoi(started.TransactionId)
	if err != nil {
		return nil, fmt.Errorf("transaction id %s: %w", started.TransactionId, err)
	}
	return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted), transactionId), nil
}

func (h *SystemHandler) OnStopTransaction(conn *registry.Connection, request *core.StopTransactionRequest) (*core.StopTransactionResponse, error) {
	samples := make([]transaction.Sample, 0, len(request.TransactionData))
	for _, meterValue := range request.TransactionData {
		if value, ok := meterValue.EnergyWh(); ok {
			samples = append(samples, transaction.Sample{
				Value: int(math.Round(value)),
				Time:  meterValue.Timestamp.TimeOr(h.now()),
			})
		}
	}
	reason := string(request.Reason)
	if reason == "" {
		reason = string(core.ReasonLocal)
	}
	ts := request.Timestamp.TimeOr(h.now())
	if _, err := h.transactions.Stop(conn.Identity(), strconv.Itoa(request.TransactionId), request.MeterStop, ts, reason, samples); err != nil {
		return nil, err
	}
	if request.IdTag == "" {
		return core.NewStopTransactionResponse(nil), nil
	}
	return core.NewStopTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted)), nil
}

func (h *SystemHandler) OnMeterValues(conn *registry.Connection, request *core.MeterValuesRequest) (*core.MeterValuesResponse, error) {
	transactionId := ""
	if request.TransactionId != nil {
		transactionId = strconv.Itoa(*request.TransactionId)
	}
	for _, meterValue := range request.MeterValue {
		value, ok := meterValue.EnergyWh()
		if !ok {
			continue
		}
		h.meterValue(conn.Identity(), request.ConnectorId, transactionId, value, meterValue.Timestamp.TimeOr(h.now()))
	}
	return core.NewMeterValuesResponse(), nil
}

// meterValue feeds one energy reading to the tracker; rejected readings are already logged there
func (h *SystemHandler) meterValue(chargePointId string, connectorId int, transactionId string, value float64, ts time.Time) {
	err := h.transactions.MeterValue(chargePointId, connectorId, transactionId, int(math.Round(value)), ts)
	if errors.Is(err, transaction.ErrUnknownTransaction) {
		h.logger.Debug(fmt.Sprintf("%s: meter value %.0f for connector %d without transaction", chargePointId, value, connectorId))
	}
}

func (h *SystemHandler) OnStatusNotification(conn *registry.Connection, request *core.StatusNotificationRequest) (*core.StatusNotificationResponse, error) {
	h.registry.UpdateConnectorStatus(conn, request.ConnectorId, string(request.Status), string(request.ErrorCode), request.Info)
	text := fmt.Sprintf("connector %d: %s", request.ConnectorId, request.Status)
	if request.ErrorCode != "" && request.ErrorCode != core.NoError {
		text += fmt.Sprintf("; error %s %s", request.ErrorCode, request.Info)
	}
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), text)
	return core.NewStatusNotificationResponse(), nil
}

func (h *SystemHandler) OnDataTransfer(conn *registry.Connection, request *core.DataTransferRequest) (*core.DataTransferResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("vendor %s; message %s", request.VendorId, request.MessageId))
	return core.NewDataTransferResponse(core.DataTransferStatusAccepted), nil
}

func (h *SystemHandler) OnDiagnosticsStatusNotification(conn *registry.Connection, request *firmware.DiagnosticsStatusNotificationRequest) (*firmware.DiagnosticsStatusNotificationResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("diagnostic status %v", request.Status))
	return firmware.NewDiagnosticsStatusNotificationResponse(), nil
}

func (h *SystemHandler) OnFirmwareStatusNotification(conn *registry.Connection, request *firmware.StatusNotificationRequest) (*firmware.StatusNotificationResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), conn.Identity(), fmt.Sprintf("firmware status %v", request.Status))
	return firmware.NewStatusNotificationResponse(), nil
}
