package remotetrigger

const TriggerMessageFeatureName = "TriggerMessage"

type MessageTrigger string

type TriggerMessageStatus string

const (
	MessageTriggerBootNotification              MessageTrigger = "BootNotification"
	MessageTriggerDiagnosticsStatusNotification MessageTrigger = "DiagnosticsStatusNotification"
	MessageTriggerFirmwareStatusNotification    MessageTrigger = "FirmwareStatusNotification"
	MessageTriggerHeartbeat                     MessageTrigger = "Heartbeat"
	MessageTriggerMeterValues                   MessageTrigger = "MeterValues"
	MessageTriggerStatusNotification            MessageTrigger = "StatusNotification"

	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

func (t MessageTrigger) IsValid() bool {
	switch t {
	case MessageTriggerBootNotification, MessageTriggerDiagnosticsStatusNotification,
		MessageTriggerFirmwareStatusNotification, MessageTriggerHeartbeat,
		MessageTriggerMeterValues, MessageTriggerStatusNotification:
		return true
	}
	return false
}

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required,messageTrigger"`
	ConnectorId      *int           `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status" validate:"required,triggerMessageStatus"`
}

func (r *TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func (r *TriggerMessageResponse) GetFeatureName() string {
	return TriggerMessageFeatureName
}

// NewTriggerMessageRequest omits the connector when connectorId is nil
func NewTriggerMessageRequest(requestedMessage MessageTrigger, connectorId *int) *TriggerMessageRequest {
	return &TriggerMessageRequest{RequestedMessage: requestedMessage, ConnectorId: connectorId}
}
