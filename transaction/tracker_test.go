package transaction

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/models"
)

type recorder struct {
	mutex  sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(event events.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

type billing struct {
	finalized []*models.Transaction
}

func (b *billing) OnTransactionFinalized(transaction *models.Transaction) error {
	transaction.Amount = transaction.KwhConsumed * 0.5
	b.finalized = append(b.finalized, transaction)
	return nil
}

type featureLog struct {
	mutex sync.Mutex
	lines []string
}

func (l *featureLog) FeatureEvent(_, _, text string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lines = append(l.lines, text)
}

func (l *featureLog) Debug(string)                {}
func (l *featureLog) Warn(string)                 {}
func (l *featureLog) Error(string, error)         {}
func (l *featureLog) RawDataEvent(string, string) {}

func (l *featureLog) count(substr string) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func newTestTracker(t *testing.T, db *internal.MemoryDB) (*Tracker, *recorder, *billing) {
	t.Helper()
	rec := &recorder{}
	tracker, err := New(db, rec, internal.NewLogger(time.UTC))
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	b := &billing{}
	tracker.SetBilling(b)
	return tracker, rec, b
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestTransactionLifecycle(t *testing.T) {
	db := internal.NewMemoryDB()
	tracker, rec, b := newTestTracker(t, db)

	tx, err := tracker.Start("CP1", 1, "TAG1", 1000, t0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if tx.TransactionId != "1" || tx.Status != models.TransactionInProgress {
		t.Fatalf("transaction = %+v", tx)
	}

	if err = tracker.MeterValue("CP1", 1, "", 3000, t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("meter value: %v", err)
	}
	if err = tracker.MeterValue("CP1", 1, tx.TransactionId, 2500, t0.Add(15*time.Minute)); !errors.Is(err, ErrNonMonotonicMeterValue) {
		t.Fatalf("decreasing meter value = %v", err)
	}
	current, _ := tracker.Get("CP1", tx.TransactionId)
	if current.MeterLatest != 3000 {
		t.Errorf("meter latest = %d", current.MeterLatest)
	}

	stopped, err := tracker.Stop("CP1", tx.TransactionId, 5500, t0.Add(time.Hour), "Local", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != models.TransactionCompleted || stopped.Orphan {
		t.Errorf("stopped = %+v", stopped)
	}
	if math.Abs(stopped.KwhConsumed-4.5) > 1e-9 {
		t.Errorf("consumed = %v", stopped.KwhConsumed)
	}
	if !stopped.TimeStop.Equal(t0.Add(time.Hour)) {
		t.Errorf("time stop = %v", stopped.TimeStop)
	}
	if len(b.finalized) != 1 || math.Abs(stopped.Amount-2.25) > 1e-9 {
		t.Errorf("billing = %d calls, amount %v", len(b.finalized), stopped.Amount)
	}
	if len(tracker.Active("CP1")) != 0 {
		t.Error("transaction still active")
	}

	finished, _ := db.GetFinishedTransactions(t0, t0.Add(time.Hour))
	if len(finished) != 1 || finished[0].Amount != stopped.Amount {
		t.Errorf("stored = %+v", finished)
	}
	if meters := db.GetTransactionMeters("CP1", "1"); len(meters) != 1 || meters[0].Value != 3000 {
		t.Errorf("meters = %+v", meters)
	}

	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if len(rec.events) != 2 || rec.events[0].Kind != events.TransactionStarted || rec.events[1].Kind != events.TransactionStopped {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestDuplicateStart(t *testing.T) {
	tracker, _, _ := newTestTracker(t, internal.NewMemoryDB())

	if _, err := tracker.Start("CP1", 1, "TAG1", 0, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Start("CP1", 1, "TAG2", 0, t0); !errors.Is(err, ErrDuplicateActiveTransaction) {
		t.Fatalf("duplicate start = %v", err)
	}
	second, err := tracker.Start("CP1", 2, "TAG2", 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if second.TransactionId != "2" {
		t.Errorf("second id = %s", second.TransactionId)
	}
	if len(tracker.Active("CP1")) != 2 {
		t.Errorf("active = %d", len(tracker.Active("CP1")))
	}
}

func TestMeterStopBelowLatestKeepsLatest(t *testing.T) {
	tracker, _, _ := newTestTracker(t, internal.NewMemoryDB())
	tx, _ := tracker.Start("CP1", 1, "TAG1", 1000, t0)
	_ = tracker.MeterValue("CP1", 1, tx.TransactionId, 4000, t0.Add(time.Minute))

	stopped, err := tracker.Stop("CP1", tx.TransactionId, 3500, t0.Add(time.Hour), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stopped.MeterLatest != 4000 || math.Abs(stopped.KwhConsumed-3) > 1e-9 {
		t.Errorf("stopped = %+v", stopped)
	}
}

func TestOrphanStop(t *testing.T) {
	db := internal.NewMemoryDB()
	tracker, _, b := newTestTracker(t, db)

	samples := []Sample{
		{Value: 2200, Time: t0.Add(20 * time.Minute)},
		{Value: 2000, Time: t0.Add(10 * time.Minute)},
	}
	stopped, err := tracker.Stop("CP1", "77", 2600, t0.Add(time.Hour), "PowerLoss", samples)
	if err != nil {
		t.Fatal(err)
	}
	if !stopped.Orphan || stopped.Status != models.TransactionCompleted {
		t.Errorf("orphan = %+v", stopped)
	}
	if stopped.MeterStart != 2000 || !stopped.TimeStart.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("reconstructed start = %d at %v", stopped.MeterStart, stopped.TimeStart)
	}
	if math.Abs(stopped.KwhConsumed-0.6) > 1e-9 {
		t.Errorf("consumed = %v", stopped.KwhConsumed)
	}
	if len(b.finalized) != 1 {
		t.Error("orphan not billed")
	}

	bare, _ := tracker.Stop("CP1", "78", 900, t0.Add(time.Hour), "", nil)
	if bare.MeterStart != 900 || bare.KwhConsumed != 0 {
		t.Errorf("orphan without samples = %+v", bare)
	}
}

func TestSequenceSeededFromStore(t *testing.T) {
	db := internal.NewMemoryDB()
	_ = db.AddTransaction(&models.Transaction{TransactionId: "41", ChargePointId: "CP1", Status: models.TransactionCompleted})
	_ = db.AddTransaction(&models.Transaction{TransactionId: "42", ChargePointId: "CP2", ConnectorId: 1, Status: models.TransactionInProgress})

	tracker, _, _ := newTestTracker(t, db)
	if _, err := tracker.Start("CP2", 1, "TAG", 0, t0); !errors.Is(err, ErrDuplicateActiveTransaction) {
		t.Errorf("restored transaction not active: %v", err)
	}
	tx, err := tracker.Start("CP1", 1, "TAG", 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if tx.TransactionId != "43" {
		t.Errorf("id = %s; want 43", tx.TransactionId)
	}
}

func TestStationAssignedId(t *testing.T) {
	tracker, _, _ := newTestTracker(t, internal.NewMemoryDB())
	tx, err := tracker.StartWithId("CS2", "a1b2", 1, "TOKEN", 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if tx.TransactionId != "a1b2" {
		t.Errorf("id = %s", tx.TransactionId)
	}
	if _, err = tracker.StartWithId("CS2", "a1b2", 2, "TOKEN", 0, t0); !errors.Is(err, ErrDuplicateActiveTransaction) {
		t.Errorf("reused id = %v", err)
	}
	if err = tracker.MeterValue("CS2", 0, "a1b2", 1200, t0.Add(time.Minute)); err != nil {
		t.Errorf("meter value = %v", err)
	}
	stopped, _ := tracker.Stop("CS2", "a1b2", 1500, t0.Add(time.Hour), "EVDisconnected", nil)
	if stopped.Orphan || stopped.MeterLatest != 1500 {
		t.Errorf("stopped = %+v", stopped)
	}
}

func TestRepeatedStopKeepsFinalRecord(t *testing.T) {
	db := internal.NewMemoryDB()
	tracker, rec, b := newTestTracker(t, db)

	tx, err := tracker.Start("CP1", 1, "TAG1", 1000, t0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := tracker.Stop("CP1", tx.TransactionId, 1500, t0.Add(time.Hour), "Local", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	again, err := tracker.Stop("CP1", tx.TransactionId, 9000, t0.Add(2*time.Hour), "Other", nil)
	if err != nil {
		t.Fatalf("repeated stop: %v", err)
	}
	if again.Orphan || again.MeterLatest != first.MeterLatest || again.Reason != "Local" {
		t.Errorf("repeated stop changed the record: %+v", again)
	}
	if len(b.finalized) != 1 {
		t.Errorf("billed %d times", len(b.finalized))
	}
	stopped := 0
	rec.mutex.Lock()
	for _, e := range rec.events {
		if e.Kind == events.TransactionStopped {
			stopped++
		}
	}
	rec.mutex.Unlock()
	if stopped != 1 {
		t.Errorf("published %d stop events", stopped)
	}
}

func TestGeneratedIdSkipsOrphanIds(t *testing.T) {
	db := internal.NewMemoryDB()
	tracker, _, _ := newTestTracker(t, db)

	if _, err := tracker.Stop("CP1", "2", 500, t0, "PowerLoss", nil); err != nil {
		t.Fatal(err)
	}
	first, _ := tracker.Start("CP1", 1, "TAG1", 0, t0)
	second, _ := tracker.Start("CP1", 2, "TAG2", 0, t0)
	if first.TransactionId == "2" || second.TransactionId == "2" {
		t.Fatalf("orphan id reused: %s, %s", first.TransactionId, second.TransactionId)
	}
	if _, err := tracker.Stop("CP1", second.TransactionId, 100, t0.Add(time.Hour), "Local", nil); err != nil {
		t.Fatal(err)
	}

	active, _ := db.GetActiveTransactions()
	if len(active) != 1 || active[0].TransactionId != first.TransactionId {
		t.Fatalf("stored active = %+v", active)
	}
	restarted, _, _ := newTestTracker(t, db)
	if _, err := restarted.Start("CP1", 2, "TAG3", 0, t0); err != nil {
		t.Errorf("connector 2 after restart: %v", err)
	}
}

func TestStationAssignedNumericIdAdvancesSequence(t *testing.T) {
	tracker, _, _ := newTestTracker(t, internal.NewMemoryDB())
	if _, err := tracker.StartWithId("CP1", "10", 1, "TAG", 0, t0); err != nil {
		t.Fatal(err)
	}
	tx, err := tracker.Start("CP1", 2, "TAG", 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if tx.TransactionId != "11" {
		t.Errorf("id = %s; want 11", tx.TransactionId)
	}
}

func TestRejectedStopSamplesAreLogged(t *testing.T) {
	log := &featureLog{}
	tracker, err := New(internal.NewMemoryDB(), nil, log)
	if err != nil {
		t.Fatal(err)
	}
	tx, _ := tracker.Start("CP1", 1, "TAG1", 1000, t0)
	samples := []Sample{
		{Value: 3000, Time: t0.Add(10 * time.Minute)},
		{Value: 2000, Time: t0.Add(20 * time.Minute)},
	}
	stopped, err := tracker.Stop("CP1", tx.TransactionId, 3500, t0.Add(time.Hour), "Local", samples)
	if err != nil {
		t.Fatal(err)
	}
	if stopped.MeterLatest != 3500 {
		t.Errorf("meter latest = %d", stopped.MeterLatest)
	}
	if n := log.count("meter value 2000 below latest 3000"); n != 1 {
		t.Errorf("rejected sample logged %d times", n)
	}
}

func TestFinishedTransactionKeepsAmount(t *testing.T) {
	tracker, _, _ := newTestTracker(t, internal.NewMemoryDB())
	tx, _ := tracker.Start("CP1", 1, "TAG1", 0, t0)
	if _, err := tracker.Stop("CP1", tx.TransactionId, 2000, t0.Add(time.Hour), "Local", nil); err != nil {
		t.Fatal(err)
	}
	finished, ok := tracker.Get("CP1", tx.TransactionId)
	if !ok || math.Abs(finished.Amount-1) > 1e-9 {
		t.Errorf("finished = %+v", finished)
	}
}
