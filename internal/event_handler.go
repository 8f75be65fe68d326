package internal

import "time"

const (
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventStatusChanged      = "status"
	EventTransactionStarted = "transaction_start"
	EventTransactionStopped = "transaction_stop"
)

type EventHandler interface {
	OnConnectionChange(event *EventMessage)
	OnStatusNotification(event *EventMessage)
	OnTransactionStart(event *EventMessage)
	OnTransactionStop(event *EventMessage)
}

type EventMessage struct {
	Type          string    `json:"type" bson:"type"`
	ChargePointId string    `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int       `json:"connector_id" bson:"connector_id"`
	Time          time.Time `json:"time" bson:"time"`
	IdTag         string    `json:"id_tag" bson:"id_tag"`
	TransactionId string    `json:"transaction_id" bson:"transaction_id"`
	Status        string    `json:"status" bson:"status"`
	Info          string    `json:"info" bson:"info"`
	Consumed      float64   `json:"consumed" bson:"consumed"`
	Amount        float64   `json:"amount" bson:"amount"`
}
