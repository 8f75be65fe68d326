package internal

import (
	"time"

	"evcsms/models"
)

type Database interface {
	WriteLogMessage(data Data) error

	GetChargePoint(id string) (*models.ChargePoint, error)
	SaveChargePoint(chargePoint *models.ChargePoint) error

	AddLogEntry(entry *models.LogEntry) error
	GetLogEntries(filter models.LogFilter, limit, offset int) ([]*models.LogEntry, int64, error)
	GetMessageTypes() ([]string, error)
	GetLogTimes(from, to time.Time) ([]time.Time, error)
	GetConnectionLog(to time.Time) ([]*models.LogEntry, error)

	GetLastTransactionId() (int, error)
	AddTransaction(transaction *models.Transaction) error
	UpdateTransaction(transaction *models.Transaction) error
	GetActiveTransactions() ([]*models.Transaction, error)
	GetFinishedTransactions(from, to time.Time) ([]*models.Transaction, error)
	AddTransactionMeter(meter *models.TransactionMeter) error

	AddAlert(alert *models.Alert) error
	GetAlerts(filter models.AlertFilter, limit, offset int) ([]*models.Alert, int64, error)
	GetAlertStats() (*models.AlertStats, error)
	AcknowledgeAlert(id string, at time.Time) error

	GetSubscriptions() ([]models.UserSubscription, error)
	AddSubscription(subscription *models.UserSubscription) error
	DeleteSubscription(subscription *models.UserSubscription) error
}

type Data interface {
	DataType() string
}
