package ocpp

import (
	"encoding/json"
	"evcsms/ocpp/core"
	"evcsms/ocpp/firmware"
	"evcsms/ocpp/v201"
	"evcsms/types"
	"fmt"
	"reflect"
)

type featureNamer interface {
	SetFeatureName(feature string)
}

// getRequestType is the closed set of actions a charge point may initiate;
// everything else is answered with NotImplemented.
func getRequestType(version, action string) (reflect.Type, error) {
	if version == types.SubProtocol201 {
		return getRequestType201(action)
	}
	switch action {
	case core.BootNotificationFeatureName:
		return reflect.TypeOf(core.BootNotificationRequest{}), nil
	case core.AuthorizeFeatureName:
		return reflect.TypeOf(core.AuthorizeRequest{}), nil
	case core.HeartbeatFeatureName:
		return reflect.TypeOf(core.HeartbeatRequest{}), nil
	case core.StartTransactionFeatureName:
		return reflect.TypeOf(core.StartTransactionRequest{}), nil
	case core.StopTransactionFeatureName:
		return reflect.TypeOf(core.StopTransactionRequest{}), nil
	case core.MeterValuesFeatureName:
		return reflect.TypeOf(core.MeterValuesRequest{}), nil
	case core.StatusNotificationFeatureName:
		return reflect.TypeOf(core.StatusNotificationRequest{}), nil
	case core.DataTransferFeatureName:
		return reflect.TypeOf(core.DataTransferRequest{}), nil
	case firmware.DiagnosticsStatusNotificationFeatureName:
		return reflect.TypeOf(firmware.DiagnosticsStatusNotificationRequest{}), nil
	case firmware.StatusNotificationFeatureName:
		return reflect.TypeOf(firmware.StatusNotificationRequest{}), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

func getRequestType201(action string) (reflect.Type, error) {
	switch action {
	case v201.BootNotificationFeatureName:
		return reflect.TypeOf(v201.BootNotificationRequest{}), nil
	case v201.AuthorizeFeatureName:
		return reflect.TypeOf(v201.AuthorizeRequest{}), nil
	case core.HeartbeatFeatureName:
		return reflect.TypeOf(core.HeartbeatRequest{}), nil
	case v201.StatusNotificationFeatureName:
		return reflect.TypeOf(v201.StatusNotificationRequest{}), nil
	case v201.MeterValuesFeatureName:
		return reflect.TypeOf(v201.MeterValuesRequest{}), nil
	case v201.TransactionEventFeatureName:
		return reflect.TypeOf(v201.TransactionEventRequest{}), nil
	case core.DataTransferFeatureName:
		return reflect.TypeOf(core.DataTransferRequest{}), nil
	case v201.NotifyReportFeatureName, v201.NotifyEventFeatureName,
		v201.SecurityEventNotificationFeatureName, v201.LogStatusNotificationFeatureName,
		v201.FirmwareStatusNotificationFeatureName:
		return reflect.TypeOf(v201.NotificationRequest{}), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

// IsKnownAction reports whether the action belongs to the inbound feature set of the version
func IsKnownAction(version, action string) bool {
	_, err := getRequestType(version, action)
	return err == nil
}

func setFeatureName(request Request, action string) {
	if named, ok := request.(featureNamer); ok {
		named.SetFeatureName(action)
	}
}

// ParseResponse decodes a call result payload into the given response value
func ParseResponse(payload json.RawMessage, response interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, response)
}
