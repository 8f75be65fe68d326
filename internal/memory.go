package internal

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"evcsms/models"
)

// MemoryDB keeps everything in process memory; used when no database is configured
type MemoryDB struct {
	mutex         sync.RWMutex
	chargePoints  map[string]*models.ChargePoint
	logEntries    []*models.LogEntry
	transactions  []*models.Transaction
	meters        []*models.TransactionMeter
	alerts        []*models.Alert
	subscriptions map[int]models.UserSubscription
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		chargePoints:  make(map[string]*models.ChargePoint),
		subscriptions: make(map[int]models.UserSubscription),
	}
}

func (m *MemoryDB) WriteLogMessage(_ Data) error {
	return nil
}

func (m *MemoryDB) GetChargePoint(id string) (*models.ChargePoint, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	cp, ok := m.chargePoints[id]
	if !ok {
		return nil, fmt.Errorf("charge point %s not found", id)
	}
	c := *cp
	return &c, nil
}

func (m *MemoryDB) SaveChargePoint(chargePoint *models.ChargePoint) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c := *chargePoint
	m.chargePoints[chargePoint.Id] = &c
	return nil
}

func (m *MemoryDB) AddLogEntry(entry *models.LogEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e := *entry
	m.logEntries = append(m.logEntries, &e)
	return nil
}

func (m *MemoryDB) GetLogEntries(filter models.LogFilter, limit, offset int) ([]*models.LogEntry, int64, error) {
	m.mutex.RLock()
	var matched []*models.LogEntry
	for i := len(m.logEntries) - 1; i >= 0; i-- {
		if filter.Matches(m.logEntries[i]) {
			matched = append(matched, m.logEntries[i])
		}
	}
	m.mutex.RUnlock()

	// newest arrival first for entries sharing a timestamp
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []*models.LogEntry{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemoryDB) GetMessageTypes() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	seen := make(map[string]bool)
	types := make([]string, 0)
	for _, entry := range m.logEntries {
		if entry.Action == "" || seen[entry.Action] {
			continue
		}
		seen[entry.Action] = true
		types = append(types, entry.Action)
	}
	sort.Strings(types)
	return types, nil
}

func (m *MemoryDB) GetLogTimes(from, to time.Time) ([]time.Time, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var times []time.Time
	for _, entry := range m.logEntries {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		times = append(times, entry.CreatedAt)
	}
	return times, nil
}

// GetConnectionLog returns the CONNECTION and DISCONNECTION entries up to the moment, oldest first
func (m *MemoryDB) GetConnectionLog(to time.Time) ([]*models.LogEntry, error) {
	m.mutex.RLock()
	var entries []*models.LogEntry
	for _, entry := range m.logEntries {
		if entry.CreatedAt.After(to) {
			continue
		}
		if entry.MessageType == models.MessageTypeConnection || entry.MessageType == models.MessageTypeDisconnection {
			e := *entry
			entries = append(entries, &e)
		}
	}
	m.mutex.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *MemoryDB) GetLastTransactionId() (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	last := 0
	for _, t := range m.transactions {
		if id, err := strconv.Atoi(t.TransactionId); err == nil && id > last {
			last = id
		}
	}
	return last, nil
}

func (m *MemoryDB) AddTransaction(transaction *models.Transaction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t := *transaction
	m.transactions = append(m.transactions, &t)
	return nil
}

func (m *MemoryDB) UpdateTransaction(transaction *models.Transaction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, t := range m.transactions {
		if t.ChargePointId == transaction.ChargePointId && t.TransactionId == transaction.TransactionId {
			c := *transaction
			m.transactions[i] = &c
			return nil
		}
	}
	return fmt.Errorf("transaction %s@%s not found", transaction.TransactionId, transaction.ChargePointId)
}

func (m *MemoryDB) GetActiveTransactions() ([]*models.Transaction, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var active []*models.Transaction
	for _, t := range m.transactions {
		if !t.IsFinished() {
			c := *t
			active = append(active, &c)
		}
	}
	return active, nil
}

func (m *MemoryDB) GetFinishedTransactions(from, to time.Time) ([]*models.Transaction, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var finished []*models.Transaction
	for _, t := range m.transactions {
		if !t.IsFinished() || t.TimeStart.Before(from) || t.TimeStart.After(to) {
			continue
		}
		c := *t
		finished = append(finished, &c)
	}
	return finished, nil
}

func (m *MemoryDB) AddTransactionMeter(meter *models.TransactionMeter) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c := *meter
	m.meters = append(m.meters, &c)
	return nil
}

func (m *MemoryDB) GetTransactionMeters(chargePointId, transactionId string) []*models.TransactionMeter {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var meters []*models.TransactionMeter
	for _, meter := range m.meters {
		if meter.ChargePointId == chargePointId && meter.TransactionId == transactionId {
			meters = append(meters, meter)
		}
	}
	return meters
}

func (m *MemoryDB) GetSubscriptions() ([]models.UserSubscription, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	subscriptions := make([]models.UserSubscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		subscriptions = append(subscriptions, s)
	}
	return subscriptions, nil
}

func (m *MemoryDB) AddSubscription(subscription *models.UserSubscription) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.subscriptions[subscription.UserID]; ok {
		return fmt.Errorf("user is already subscribed")
	}
	m.subscriptions[subscription.UserID] = *subscription
	return nil
}

func (m *MemoryDB) DeleteSubscription(subscription *models.UserSubscription) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.subscriptions, subscription.UserID)
	return nil
}

func (m *MemoryDB) AddAlert(alert *models.Alert) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	a := *alert
	m.alerts = append(m.alerts, &a)
	return nil
}

// GetAlerts returns matching alerts, newest first
func (m *MemoryDB) GetAlerts(filter models.AlertFilter, limit, offset int) ([]*models.Alert, int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	matched := make([]*models.Alert, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if filter.Matches(m.alerts[i]) {
			a := *m.alerts[i]
			matched = append(matched, &a)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []*models.Alert{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemoryDB) GetAlertStats() (*models.AlertStats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	stats := models.NewAlertStats()
	for _, alert := range m.alerts {
		stats.Add(alert)
	}
	return stats, nil
}

func (m *MemoryDB) AcknowledgeAlert(id string, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, alert := range m.alerts {
		if alert.Id == id {
			alert.Acknowledged = true
			alert.AcknowledgedAt = &at
			return nil
		}
	}
	return models.ErrAlertNotFound
}
