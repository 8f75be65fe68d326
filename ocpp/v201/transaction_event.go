package v201

import "evcsms/types"

const TransactionEventFeatureName = "TransactionEvent"

type TransactionEventType string

const (
	TransactionEventStarted TransactionEventType = "Started"
	TransactionEventUpdated TransactionEventType = "Updated"
	TransactionEventEnded   TransactionEventType = "Ended"
)

type Transaction struct {
	TransactionId string `json:"transactionId" validate:"required,max=36"`
	ChargingState string `json:"chargingState,omitempty"`
	StoppedReason string `json:"stoppedReason,omitempty"`
}

type EVSE struct {
	Id          int  `json:"id" validate:"gte=0"`
	ConnectorId *int `json:"connectorId,omitempty"`
}

type TransactionEventRequest struct {
	EventType       TransactionEventType `json:"eventType" validate:"required"`
	Timestamp       *types.DateTime      `json:"timestamp" validate:"required"`
	TriggerReason   string               `json:"triggerReason" validate:"required"`
	SeqNo           int                  `json:"seqNo" validate:"gte=0"`
	TransactionInfo Transaction          `json:"transactionInfo" validate:"required"`
	IdToken         *IdToken             `json:"idToken,omitempty"`
	Evse            *EVSE                `json:"evse,omitempty"`
	MeterValue      []MeterValue         `json:"meterValue,omitempty" validate:"omitempty,dive"`
}

type TransactionEventResponse struct {
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty"`
}

// ConnectorId collapses evse and connector into the single connector number used by the tracker
func (r *TransactionEventRequest) ConnectorId() int {
	if r.Evse == nil {
		return 0
	}
	return r.Evse.Id
}

func (r *TransactionEventRequest) GetFeatureName() string {
	return TransactionEventFeatureName
}

func (r *TransactionEventResponse) GetFeatureName() string {
	return TransactionEventFeatureName
}
