package alerts

import (
	"fmt"
	"sync"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/messagelog"
	"evcsms/models"
	"evcsms/registry"
	"evcsms/utility"
)

const featureName = "Alerts"

type Store interface {
	AddAlert(alert *models.Alert) error
	GetAlerts(filter models.AlertFilter, limit, offset int) ([]*models.Alert, int64, error)
	GetAlertStats() (*models.AlertStats, error)
	AcknowledgeAlert(id string, at time.Time) error
}

// Notifier delivers warning and critical alerts to operators
type Notifier interface {
	NotifyAlert(alert *models.Alert)
}

type Page struct {
	Alerts []*models.Alert `json:"alerts"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// Service turns station events into stored alerts. Alerts of the same type for
// the same station are suppressed for the cooldown period.
type Service struct {
	store    Store
	logger   internal.LogHandler
	notifier Notifier
	cooldown time.Duration
	mutex    sync.Mutex
	recent   map[string]time.Time
	now      func() time.Time
}

func New(store Store, logger internal.LogHandler, cooldown time.Duration) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		cooldown: cooldown,
		recent:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) OnEvent(event events.Event) {
	var alert *models.Alert
	switch event.Kind {
	case events.Disconnected:
		alert = disconnectionAlert(event)
	case events.StatusChanged:
		alert = statusAlert(event)
	case events.BootRejected:
		alert = &models.Alert{
			Type:     models.AlertBootRejected,
			Severity: models.SeverityCritical,
			Title:    fmt.Sprintf("Boot rejected: %s", event.ChargePointId),
			Message:  fmt.Sprintf("Charge point %s was rejected during boot", event.ChargePointId),
		}
		if event.Reason != "" {
			alert.Message += ": " + event.Reason
		}
	}
	if alert == nil {
		return
	}
	alert.ChargePointId = event.ChargePointId
	s.raise(alert)
}

func disconnectionAlert(event events.Event) *models.Alert {
	switch event.Reason {
	case registry.ReasonSuperseded, registry.ReasonShutdown:
		return nil
	case registry.ReasonHeartbeatTimeout:
		return &models.Alert{
			Type:     models.AlertOfflineTimeout,
			Severity: models.SeverityWarning,
			Title:    fmt.Sprintf("Charge point %s offline", event.ChargePointId),
			Message:  fmt.Sprintf("No message from %s within the heartbeat timeout", event.ChargePointId),
		}
	}
	alert := &models.Alert{
		Type:     models.AlertDisconnection,
		Severity: models.SeverityWarning,
		Title:    fmt.Sprintf("Charge point %s disconnected", event.ChargePointId),
		Message:  fmt.Sprintf("Charge point %s disconnected from the server", event.ChargePointId),
	}
	if event.Reason != "" {
		alert.Message += ": " + event.Reason
	}
	return alert
}

// statusAlert reports connector errors; a Faulted status is a fault even without an error code
func statusAlert(event events.Event) *models.Alert {
	faulted := event.Status == "Faulted"
	if !faulted && (event.ErrorCode == "" || event.ErrorCode == "NoError") {
		return nil
	}
	alert := &models.Alert{
		Type:        models.AlertError,
		Severity:    models.SeverityWarning,
		Title:       fmt.Sprintf("Error on %s connector %d", event.ChargePointId, event.ConnectorId),
		ConnectorId: event.ConnectorId,
		ErrorCode:   event.ErrorCode,
	}
	if faulted {
		alert.Type = models.AlertFault
		alert.Severity = models.SeverityCritical
		alert.Title = fmt.Sprintf("Fault on %s connector %d", event.ChargePointId, event.ConnectorId)
	}
	code := event.ErrorCode
	if code == "" {
		code = "NoError"
	}
	alert.Message = fmt.Sprintf("Error: %s", code)
	if event.Reason != "" {
		alert.Message += " - " + event.Reason
	}
	alert.Message += fmt.Sprintf(". Status: %s", event.Status)
	return alert
}

func (s *Service) raise(alert *models.Alert) {
	now := s.now()
	key := alert.ChargePointId + ":" + string(alert.Type)
	s.mutex.Lock()
	if last, ok := s.recent[key]; ok && now.Sub(last) < s.cooldown {
		s.mutex.Unlock()
		return
	}
	s.recent[key] = now
	s.mutex.Unlock()

	alert.Id = utility.NewUUID()
	alert.CreatedAt = now
	if err := s.store.AddAlert(alert); err != nil {
		s.logger.Error("add alert", err)
		return
	}
	s.logger.FeatureEvent(featureName, alert.ChargePointId, fmt.Sprintf("%s %s: %s", alert.Severity, alert.Type, alert.Title))
	if s.notifier != nil && alert.Severity != models.SeverityInfo {
		s.notifier.NotifyAlert(alert)
	}
}

// Alerts returns one page of matching alerts, newest first
func (s *Service) Alerts(filter models.AlertFilter, limit, offset int) (*Page, error) {
	limit, offset = messagelog.NormalizePage(limit, offset)
	alerts, total, err := s.store.GetAlerts(filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	return &Page{Alerts: alerts, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Service) Stats() (*models.AlertStats, error) {
	stats, err := s.store.GetAlertStats()
	if err != nil {
		return nil, fmt.Errorf("get alert stats: %w", err)
	}
	return stats, nil
}

func (s *Service) Acknowledge(id string) error {
	return s.store.AcknowledgeAlert(id, s.now())
}
