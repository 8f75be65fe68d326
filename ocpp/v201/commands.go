package v201

import "evcsms/types"

const (
	ResetFeatureName                   = "Reset"
	UnlockConnectorFeatureName         = "UnlockConnector"
	ChangeAvailabilityFeatureName      = "ChangeAvailability"
	TriggerMessageFeatureName          = "TriggerMessage"
	RequestStartTransactionFeatureName = "RequestStartTransaction"
	RequestStopTransactionFeatureName  = "RequestStopTransaction"
	ReserveNowFeatureName              = "ReserveNow"
)

type ResetType string

const (
	ResetTypeImmediate ResetType = "Immediate"
	ResetTypeOnIdle    ResetType = "OnIdle"
)

type ResetRequest struct {
	Type   ResetType `json:"type" validate:"required"`
	EvseId *int      `json:"evseId,omitempty"`
}

func (r *ResetRequest) GetFeatureName() string { return ResetFeatureName }

type UnlockConnectorRequest struct {
	EvseId      int `json:"evseId" validate:"gte=0"`
	ConnectorId int `json:"connectorId" validate:"gte=0"`
}

func (r *UnlockConnectorRequest) GetFeatureName() string { return UnlockConnectorFeatureName }

type ChangeAvailabilityRequest struct {
	OperationalStatus string `json:"operationalStatus" validate:"required"`
	Evse              *EVSE  `json:"evse,omitempty"`
}

func (r *ChangeAvailabilityRequest) GetFeatureName() string { return ChangeAvailabilityFeatureName }

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required"`
	Evse             *EVSE  `json:"evse,omitempty"`
}

func (r *TriggerMessageRequest) GetFeatureName() string { return TriggerMessageFeatureName }

type RequestStartTransactionRequest struct {
	EvseId        *int    `json:"evseId,omitempty"`
	RemoteStartId int     `json:"remoteStartId"`
	IdToken       IdToken `json:"idToken" validate:"required"`
}

func (r *RequestStartTransactionRequest) GetFeatureName() string {
	return RequestStartTransactionFeatureName
}

type RequestStopTransactionRequest struct {
	TransactionId string `json:"transactionId" validate:"required,max=36"`
}

func (r *RequestStopTransactionRequest) GetFeatureName() string {
	return RequestStopTransactionFeatureName
}

type ReserveNowRequest struct {
	Id             int             `json:"id"`
	ExpiryDateTime *types.DateTime `json:"expiryDateTime" validate:"required"`
	IdToken        IdToken         `json:"idToken" validate:"required"`
	EvseId         *int            `json:"evseId,omitempty"`
}

func (r *ReserveNowRequest) GetFeatureName() string { return ReserveNowFeatureName }

// StatusResponse is the common shape of the command confirmations above
type StatusResponse struct {
	Status     string      `json:"status"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty"`
}

type StatusInfo struct {
	ReasonCode     string `json:"reasonCode"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}
