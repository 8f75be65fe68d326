package models

import "time"

type TransactionMeter struct {
	TransactionId string    `json:"transaction_id" bson:"transaction_id"`
	ChargePointId string    `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int       `json:"connector_id" bson:"connector_id"`
	Value         int       `json:"value" bson:"value"`
	Time          time.Time `json:"time" bson:"time"`
	Minute        int64     `json:"minute" bson:"minute"`
	Unit          string    `json:"unit" bson:"unit"`
	Measurand     string    `json:"measurand" bson:"measurand"`
}
