package core

const ChangeAvailabilityFeatureName = "ChangeAvailability"

type AvailabilityType string

type AvailabilityStatus string

const (
	AvailabilityTypeOperative   AvailabilityType   = "Operative"
	AvailabilityTypeInoperative AvailabilityType   = "Inoperative"
	AvailabilityStatusAccepted  AvailabilityStatus = "Accepted"
	AvailabilityStatusRejected  AvailabilityStatus = "Rejected"
	AvailabilityStatusScheduled AvailabilityStatus = "Scheduled"
)

type ChangeAvailabilityRequest struct {
	ConnectorId int              `json:"connectorId" validate:"gte=0"`
	Type        AvailabilityType `json:"type" validate:"required,availabilityType"`
}

type ChangeAvailabilityResponse struct {
	Status AvailabilityStatus `json:"status" validate:"required,availabilityStatus"`
}

func NewChangeAvailabilityRequest(connectorId int, availabilityType AvailabilityType) *ChangeAvailabilityRequest {
	return &ChangeAvailabilityRequest{ConnectorId: connectorId, Type: availabilityType}
}

func (r *ChangeAvailabilityRequest) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}

func (r *ChangeAvailabilityResponse) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}
