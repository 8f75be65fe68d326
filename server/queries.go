package server

import (
	"context"
	"fmt"
	"time"

	"evcsms/alerts"
	"evcsms/messagelog"
	"evcsms/metrics"
	"evcsms/models"
	"evcsms/registry"
)

// LogPage is one page of the message log
type LogPage struct {
	Entries []*models.LogEntry `json:"entries"`
	Total   int64              `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

func (cs *CentralSystem) GetActiveConnections() []registry.Summary {
	return cs.registry.ListConnected()
}

// GetConnections includes sessions still retained after disconnect
func (cs *CentralSystem) GetConnections() []registry.Summary {
	return cs.registry.List()
}

// GetConnection looks the station up locally first, then in the presence store
// which also knows stations served by another instance
func (cs *CentralSystem) GetConnection(ctx context.Context, identity string) (*registry.Summary, error) {
	if summary, ok := cs.registry.Summary(identity); ok {
		return &summary, nil
	}
	if cs.presence == nil {
		return nil, nil
	}
	summary, err := cs.presence.Lookup(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	return summary, nil
}

func (cs *CentralSystem) GetConnectionStats() registry.Stats {
	return cs.registry.Stats()
}

func (cs *CentralSystem) GetLogs(ctx context.Context, filter models.LogFilter, limit, offset int) (*LogPage, error) {
	entries, total, err := cs.messageLog.Query(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	page := &LogPage{Entries: entries, Total: total}
	page.Limit, page.Offset = messagelog.NormalizePage(limit, offset)
	return page, nil
}

func (cs *CentralSystem) GetLogsByStation(ctx context.Context, identity string, limit int) (*LogPage, error) {
	return cs.GetLogs(ctx, models.LogFilter{ChargePointId: identity}, limit, 0)
}

func (cs *CentralSystem) GetMessageTypes(ctx context.Context) ([]string, error) {
	return cs.messageLog.MessageTypes(ctx)
}

func (cs *CentralSystem) GetConnectionMetrics(start, end time.Time, granularity metrics.Granularity) ([]metrics.Bucket, error) {
	return cs.aggregator.ConnectionMetrics(start, end, granularity)
}

func (cs *CentralSystem) GetTransactionMetrics(start, end time.Time, granularity metrics.Granularity) ([]metrics.TransactionBucket, error) {
	return cs.aggregator.TransactionMetrics(start, end, granularity)
}

func (cs *CentralSystem) GetMessageMetrics(start, end time.Time, granularity metrics.Granularity) ([]metrics.Bucket, error) {
	return cs.aggregator.MessageMetrics(start, end, granularity)
}

func (cs *CentralSystem) GetActiveTransactions(identity string) []*models.Transaction {
	return cs.transactions.Active(identity)
}

// GetErrorsToday counts the CALLERROR frames exchanged with the station since local midnight
func (cs *CentralSystem) GetErrorsToday(identity string) int {
	return cs.errors.ErrorsToday(identity, time.Now())
}

func (cs *CentralSystem) GetAlerts(filter models.AlertFilter, limit, offset int) (*alerts.Page, error) {
	return cs.alerts.Alerts(filter, limit, offset)
}

func (cs *CentralSystem) GetAlertStats() (*models.AlertStats, error) {
	return cs.alerts.Stats()
}

func (cs *CentralSystem) AcknowledgeAlert(id string) error {
	return cs.alerts.Acknowledge(id)
}
