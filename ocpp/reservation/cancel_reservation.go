package reservation

const CancelReservationFeatureName = "CancelReservation"

type CancelReservationStatus string

const (
	CancelReservationStatusAccepted CancelReservationStatus = "Accepted"
	CancelReservationStatusRejected CancelReservationStatus = "Rejected"
)

// CancelReservationRequest has the same shape in 1.6 and 2.0.1
type CancelReservationRequest struct {
	ReservationId int `json:"reservationId"`
}

type CancelReservationResponse struct {
	Status CancelReservationStatus `json:"status" validate:"required"`
}

func NewCancelReservationRequest(reservationId int) *CancelReservationRequest {
	return &CancelReservationRequest{ReservationId: reservationId}
}

func (r *CancelReservationRequest) GetFeatureName() string {
	return CancelReservationFeatureName
}

func (r *CancelReservationResponse) GetFeatureName() string {
	return CancelReservationFeatureName
}
