package transaction

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
)

const featureName = "Transaction"

var (
	ErrDuplicateActiveTransaction = errors.New("connector already has an active transaction")
	ErrNonMonotonicMeterValue     = errors.New("meter value below the latest reading")
	ErrUnknownTransaction         = errors.New("unknown transaction")
)

type Store interface {
	GetLastTransactionId() (int, error)
	AddTransaction(transaction *models.Transaction) error
	UpdateTransaction(transaction *models.Transaction) error
	GetActiveTransactions() ([]*models.Transaction, error)
	AddTransactionMeter(meter *models.TransactionMeter) error
}

type Publisher interface {
	Publish(event events.Event)
}

// Sample is a meter reading reported with a stop message
type Sample struct {
	Value int
	Time  time.Time
}

type connectorKey struct {
	chargePointId string
	connectorId   int
}

type transactionKey struct {
	chargePointId string
	transactionId string
}

type Tracker struct {
	mutex     sync.Mutex
	active    map[connectorKey]*models.Transaction
	byId      map[transactionKey]*models.Transaction
	lastId    int
	store     Store
	billing   internal.BillingService
	publisher Publisher
	logger    internal.LogHandler
}

// New restores the id sequence and the unfinished transactions from the store
func New(store Store, publisher Publisher, logger internal.LogHandler) (*Tracker, error) {
	t := &Tracker{
		active:    make(map[connectorKey]*models.Transaction),
		byId:      make(map[transactionKey]*models.Transaction),
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
	lastId, err := store.GetLastTransactionId()
	if err != nil {
		return nil, fmt.Errorf("read last transaction id: %w", err)
	}
	t.lastId = lastId
	active, err := store.GetActiveTransactions()
	if err != nil {
		return nil, fmt.Errorf("read active transactions: %w", err)
	}
	for _, transaction := range active {
		t.active[connectorKey{transaction.ChargePointId, transaction.ConnectorId}] = transaction
		t.byId[transactionKey{transaction.ChargePointId, transaction.TransactionId}] = transaction
	}
	counters.ObserveTransactions(len(t.active))
	return t, nil
}

func (t *Tracker) SetBilling(billing internal.BillingService) {
	t.billing = billing
}

// Start opens a transaction with the next id of the sequence
func (t *Tracker) Start(chargePointId string, connectorId int, idTag string, meterStart int, ts time.Time) (*models.Transaction, error) {
	return t.start(chargePointId, "", connectorId, idTag, meterStart, ts)
}

// StartWithId opens a transaction under the id assigned by the station
func (t *Tracker) StartWithId(chargePointId, transactionId string, connectorId int, idTag string, meterStart int, ts time.Time) (*models.Transaction, error) {
	return t.start(chargePointId, transactionId, connectorId, idTag, meterStart, ts)
}

func (t *Tracker) start(chargePointId, transactionId string, connectorId int, idTag string, meterStart int, ts time.Time) (*models.Transaction, error) {
	t.mutex.Lock()
	key := connectorKey{chargePointId, connectorId}
	if existing, ok := t.active[key]; ok {
		t.mutex.Unlock()
		t.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("connector %d: start rejected, transaction %s is active", connectorId, existing.TransactionId))
		return nil, ErrDuplicateActiveTransaction
	}
	if transactionId == "" {
		transactionId = t.nextId(chargePointId)
	} else if _, ok := t.byId[transactionKey{chargePointId, transactionId}]; ok {
		t.mutex.Unlock()
		return nil, ErrDuplicateActiveTransaction
	} else {
		t.reserve(transactionId)
	}
	transaction := &models.Transaction{
		TransactionId: transactionId,
		ConnectorId:   connectorId,
		ChargePointId: chargePointId,
		IdTag:         idTag,
		MeterStart:    meterStart,
		MeterLatest:   meterStart,
		TimeStart:     ts,
		Status:        models.TransactionInProgress,
	}
	t.active[key] = transaction
	t.byId[transactionKey{chargePointId, transactionId}] = transaction
	snapshot := *transaction
	activeCount := len(t.active)
	t.publish(events.Event{
		Kind:          events.TransactionStarted,
		ChargePointId: chargePointId,
		ConnectorId:   connectorId,
		TransactionId: transactionId,
		IdTag:         idTag,
		Time:          ts,
	})
	t.mutex.Unlock()

	counters.ObserveTransactions(activeCount)
	t.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("connector %d: started transaction %s; id tag %s; meter %d", connectorId, transactionId, idTag, meterStart))
	if err := t.store.AddTransaction(&snapshot); err != nil {
		t.logger.Error("save transaction", err)
	}
	return &snapshot, nil
}

// nextId skips ids already taken on the charge point; must be called with the mutex held
func (t *Tracker) nextId(chargePointId string) string {
	for {
		t.lastId++
		id := strconv.Itoa(t.lastId)
		if _, ok := t.byId[transactionKey{chargePointId, id}]; !ok {
			return id
		}
	}
}

// reserve moves the sequence past a numeric id recorded from outside it; must be called with the mutex held
func (t *Tracker) reserve(transactionId string) {
	if id, err := strconv.Atoi(transactionId); err == nil && id > t.lastId {
		t.lastId = id
	}
}

// find returns the in-progress transaction; must be called with the mutex held
func (t *Tracker) find(chargePointId string, connectorId int, transactionId string) *models.Transaction {
	if transactionId != "" {
		transaction, ok := t.byId[transactionKey{chargePointId, transactionId}]
		if ok && !transaction.IsFinished() {
			return transaction
		}
		return nil
	}
	return t.active[connectorKey{chargePointId, connectorId}]
}

// apply must be called with the mutex held
func (t *Tracker) apply(transaction *models.Transaction, value int) error {
	if value < transaction.MeterLatest {
		return ErrNonMonotonicMeterValue
	}
	transaction.MeterLatest = value
	transaction.KwhConsumed = transaction.Consumed()
	return nil
}

// MeterValue applies a periodic energy reading in Wh; an empty transactionId selects the active
// transaction of the connector
func (t *Tracker) MeterValue(chargePointId string, connectorId int, transactionId string, value int, ts time.Time) error {
	t.mutex.Lock()
	transaction := t.find(chargePointId, connectorId, transactionId)
	if transaction == nil {
		t.mutex.Unlock()
		return ErrUnknownTransaction
	}
	if err := t.apply(transaction, value); err != nil {
		latest := transaction.MeterLatest
		t.mutex.Unlock()
		t.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("transaction %s: meter value %d below latest %d ignored", transaction.TransactionId, value, latest))
		return err
	}
	snapshot := *transaction
	t.mutex.Unlock()

	if err := t.store.AddTransactionMeter(&models.TransactionMeter{
		TransactionId: snapshot.TransactionId,
		ChargePointId: chargePointId,
		ConnectorId:   snapshot.ConnectorId,
		Value:         value,
		Time:          ts,
		Minute:        ts.Sub(snapshot.TimeStart).Milliseconds() / 60000,
		Unit:          "Wh",
		Measurand:     "Energy.Active.Import.Register",
	}); err != nil {
		t.logger.Error("save meter value", err)
	}
	if err := t.store.UpdateTransaction(&snapshot); err != nil {
		t.logger.Error("update transaction", err)
	}
	return nil
}

// Stop finalizes the transaction. A stop for an unknown transaction is recorded as an orphan,
// its start reconstructed from the earliest sample when there is one.
func (t *Tracker) Stop(chargePointId, transactionId string, meterStop int, ts time.Time, reason string, samples []Sample) (*models.Transaction, error) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})

	t.mutex.Lock()
	if finished, ok := t.byId[transactionKey{chargePointId, transactionId}]; ok && finished.IsFinished() {
		snapshot := *finished
		t.mutex.Unlock()
		t.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("transaction %s is already finished", transactionId))
		return &snapshot, nil
	}
	transaction := t.find(chargePointId, 0, transactionId)
	orphan := transaction == nil
	if orphan {
		transaction = &models.Transaction{
			TransactionId: transactionId,
			ChargePointId: chargePointId,
			MeterStart:    meterStop,
			MeterLatest:   meterStop,
			TimeStart:     ts,
			Orphan:        true,
		}
		if len(samples) > 0 {
			transaction.MeterStart = samples[0].Value
			transaction.MeterLatest = samples[0].Value
			transaction.TimeStart = samples[0].Time
		}
		t.reserve(transactionId)
	}
	var rejected []string
	for _, sample := range samples {
		if err := t.apply(transaction, sample.Value); err != nil {
			rejected = append(rejected, fmt.Sprintf("transaction %s: meter value %d below latest %d ignored", transactionId, sample.Value, transaction.MeterLatest))
		}
	}
	if err := t.apply(transaction, meterStop); err != nil {
		rejected = append(rejected, fmt.Sprintf("transaction %s: meter stop %d below latest %d, latest kept", transactionId, meterStop, transaction.MeterLatest))
	}
	transaction.KwhConsumed = transaction.Consumed()
	transaction.TimeStop = ts
	transaction.Reason = reason
	transaction.Status = models.TransactionCompleted
	if !orphan {
		delete(t.active, connectorKey{chargePointId, transaction.ConnectorId})
	}
	t.byId[transactionKey{chargePointId, transactionId}] = transaction
	snapshot := *transaction
	activeCount := len(t.active)
	t.mutex.Unlock()

	for _, text := range rejected {
		t.logger.FeatureEvent(featureName, chargePointId, text)
	}
	counters.ObserveTransactions(activeCount)
	if orphan {
		t.logger.Warn(fmt.Sprintf("%s: stop for unknown transaction %s recorded as orphan", chargePointId, transactionId))
		if err := t.store.AddTransaction(&snapshot); err != nil {
			t.logger.Error("save orphan transaction", err)
		}
	} else if err := t.store.UpdateTransaction(&snapshot); err != nil {
		t.logger.Error("update transaction", err)
	}

	if t.billing != nil {
		if err := t.billing.OnTransactionFinalized(&snapshot); err != nil {
			t.logger.Error(fmt.Sprintf("billing of transaction %s", transactionId), err)
		} else if snapshot.Amount > 0 {
			t.mutex.Lock()
			transaction.Amount = snapshot.Amount
			t.mutex.Unlock()
			if err = t.store.UpdateTransaction(&snapshot); err != nil {
				t.logger.Error("update transaction amount", err)
			}
		}
	}

	counters.CountTransaction(chargePointId)
	counters.CountConsumedPower(chargePointId, snapshot.KwhConsumed)
	t.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("transaction %s finished: %.3f kWh; reason %s", transactionId, snapshot.KwhConsumed, reason))
	t.publish(events.Event{
		Kind:          events.TransactionStopped,
		ChargePointId: chargePointId,
		ConnectorId:   snapshot.ConnectorId,
		TransactionId: transactionId,
		IdTag:         snapshot.IdTag,
		Reason:        reason,
		Consumed:      snapshot.KwhConsumed,
		Amount:        snapshot.Amount,
		Time:          ts,
	})
	return &snapshot, nil
}

// Active returns copies of the in-progress transactions of the charge point, all of them for an empty id
func (t *Tracker) Active(chargePointId string) []*models.Transaction {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	list := make([]*models.Transaction, 0)
	for key, transaction := range t.active {
		if chargePointId != "" && key.chargePointId != chargePointId {
			continue
		}
		c := *transaction
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ChargePointId != list[j].ChargePointId {
			return list[i].ChargePointId < list[j].ChargePointId
		}
		return list[i].ConnectorId < list[j].ConnectorId
	})
	return list
}

func (t *Tracker) Get(chargePointId, transactionId string) (*models.Transaction, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	transaction, ok := t.byId[transactionKey{chargePointId, transactionId}]
	if !ok {
		return nil, false
	}
	c := *transaction
	return &c, true
}

func (t *Tracker) publish(event events.Event) {
	if t.publisher != nil {
		t.publisher.Publish(event)
	}
}
