package models

import "time"

type TransactionStatus string

const (
	TransactionInProgress TransactionStatus = "IN_PROGRESS"
	TransactionCompleted  TransactionStatus = "COMPLETED"
	TransactionFailed     TransactionStatus = "FAILED"
)

type Transaction struct {
	TransactionId string            `json:"transaction_id" bson:"transaction_id"`
	ConnectorId   int               `json:"connector_id" bson:"connector_id"`
	ChargePointId string            `json:"charge_point_id" bson:"charge_point_id"`
	IdTag         string            `json:"id_tag" bson:"id_tag"`
	MeterStart    int               `json:"meter_start" bson:"meter_start"`
	MeterLatest   int               `json:"meter_latest" bson:"meter_latest"`
	KwhConsumed   float64           `json:"kwh_consumed" bson:"kwh_consumed"`
	TimeStart     time.Time         `json:"time_start" bson:"time_start"`
	TimeStop      time.Time         `json:"time_stop,omitempty" bson:"time_stop,omitempty"`
	Status        TransactionStatus `json:"status" bson:"status"`
	Reason        string            `json:"reason,omitempty" bson:"reason,omitempty"`
	Orphan        bool              `json:"orphan,omitempty" bson:"orphan,omitempty"`
	Amount        float64           `json:"amount" bson:"amount"`
}

func (t *Transaction) IsFinished() bool {
	return t.Status != TransactionInProgress
}

// Consumed recomputes consumption from the meter readings, in kWh
func (t *Transaction) Consumed() float64 {
	if t.MeterLatest <= t.MeterStart {
		return 0
	}
	return float64(t.MeterLatest-t.MeterStart) / 1000
}
