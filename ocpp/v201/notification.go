package v201

import "encoding/json"

const (
	NotifyReportFeatureName               = "NotifyReport"
	NotifyEventFeatureName                = "NotifyEvent"
	SecurityEventNotificationFeatureName  = "SecurityEventNotification"
	LogStatusNotificationFeatureName      = "LogStatusNotification"
	FirmwareStatusNotificationFeatureName = "FirmwareStatusNotification"
)

// NotificationRequest covers the station reports that are only acknowledged.
// The feature name is set by the parser since the payload does not carry it.
type NotificationRequest struct {
	feature string
	Fields  map[string]json.RawMessage
}

func (r *NotificationRequest) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Fields)
}

func (r *NotificationRequest) SetFeatureName(feature string) {
	r.feature = feature
}

func (r *NotificationRequest) GetFeatureName() string {
	return r.feature
}

type NotificationResponse struct {
	feature string
}

func NewNotificationResponse(feature string) *NotificationResponse {
	return &NotificationResponse{feature: feature}
}

func (r *NotificationResponse) GetFeatureName() string {
	return r.feature
}
