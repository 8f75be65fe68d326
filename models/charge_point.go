package models

import "time"

type ChargePoint struct {
	Id              string    `json:"charge_point_id" bson:"charge_point_id"`
	IsEnabled       bool      `json:"is_enabled" bson:"is_enabled"`
	Title           string    `json:"title" bson:"title"`
	Model           string    `json:"model" bson:"model"`
	SerialNumber    string    `json:"serial_number" bson:"serial_number"`
	Vendor          string    `json:"vendor" bson:"vendor"`
	FirmwareVersion string    `json:"firmware_version" bson:"firmware_version"`
	Protocol        string    `json:"protocol" bson:"protocol"`
	LastBootAt      time.Time `json:"last_boot_at" bson:"last_boot_at"`
}
