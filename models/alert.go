package models

import (
	"errors"
	"time"
)

type AlertType string

const (
	AlertDisconnection  AlertType = "DISCONNECTION"
	AlertError          AlertType = "ERROR"
	AlertFault          AlertType = "FAULT"
	AlertOfflineTimeout AlertType = "OFFLINE_TIMEOUT"
	AlertBootRejected   AlertType = "BOOT_REJECTED"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	Id             string        `json:"id" bson:"alert_id"`
	ChargePointId  string        `json:"charge_point_id" bson:"charge_point_id"`
	Type           AlertType     `json:"type" bson:"type"`
	Severity       AlertSeverity `json:"severity" bson:"severity"`
	Title          string        `json:"title" bson:"title"`
	Message        string        `json:"message" bson:"message"`
	ConnectorId    int           `json:"connector_id,omitempty" bson:"connector_id,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty" bson:"error_code,omitempty"`
	Acknowledged   bool          `json:"acknowledged" bson:"acknowledged"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty" bson:"acknowledged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at"`
}

type AlertFilter struct {
	ChargePointId       string        `json:"charge_point_id,omitempty"`
	Severity            AlertSeverity `json:"severity,omitempty"`
	IncludeAcknowledged bool          `json:"include_acknowledged,omitempty"`
}

func (f AlertFilter) Matches(alert *Alert) bool {
	if f.ChargePointId != "" && alert.ChargePointId != f.ChargePointId {
		return false
	}
	if f.Severity != "" && alert.Severity != f.Severity {
		return false
	}
	return f.IncludeAcknowledged || !alert.Acknowledged
}

type AlertStats struct {
	Total          int                   `json:"total"`
	Unacknowledged int                   `json:"unacknowledged"`
	BySeverity     map[AlertSeverity]int `json:"by_severity"`
	ByType         map[AlertType]int     `json:"by_type"`
}

func NewAlertStats() *AlertStats {
	return &AlertStats{
		BySeverity: make(map[AlertSeverity]int),
		ByType:     make(map[AlertType]int),
	}
}

func (s *AlertStats) Add(alert *Alert) {
	s.Total++
	if !alert.Acknowledged {
		s.Unacknowledged++
	}
	s.BySeverity[alert.Severity]++
	s.ByType[alert.Type]++
}
