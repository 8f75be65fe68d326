package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"evcsms/events"
	"evcsms/models"
)

type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
)

const (
	maxBuckets = 10000
	// closed intervals older than this are dropped from memory; the log store keeps them
	historyRetention = time.Hour
)

var (
	ErrInvalidRange       = errors.New("invalid time range")
	ErrInvalidGranularity = errors.New("granularity must be hour or day")
)

func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Hour, "":
		return Hour, nil
	case Day:
		return Day, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidGranularity, s)
}

type Bucket struct {
	Period string    `json:"period"`
	Start  time.Time `json:"start"`
	Count  int       `json:"count"`
}

type TransactionBucket struct {
	Period       string    `json:"period"`
	Start        time.Time `json:"start"`
	Count        int       `json:"count"`
	TotalKwh     float64   `json:"total_kwh"`
	TotalRevenue float64   `json:"total_revenue"`
}

type TransactionStore interface {
	GetFinishedTransactions(from, to time.Time) ([]*models.Transaction, error)
}

type LogStore interface {
	GetLogTimes(from, to time.Time) ([]time.Time, error)
	GetConnectionLog(to time.Time) ([]*models.LogEntry, error)
}

// PriceFunc returns the price per kWh of the station at the given moment
type PriceFunc func(chargePointId string, ts time.Time) float64

type interval struct {
	from time.Time
	to   time.Time
	open bool
}

// history holds the connection intervals of every identity
type history map[string][]*interval

func (h history) connected(identity string, ts time.Time) {
	h.disconnected(identity, ts)
	h[identity] = append(h[identity], &interval{from: ts, open: true})
}

func (h history) disconnected(identity string, ts time.Time) {
	list := h[identity]
	if len(list) > 0 && list[len(list)-1].open {
		list[len(list)-1].to = ts
		list[len(list)-1].open = false
	}
}

// prune drops the closed intervals of the identity that ended before the cutoff
func (h history) prune(identity string, cutoff time.Time) {
	list := h[identity]
	kept := list[:0]
	for _, iv := range list {
		if iv.open || !iv.to.Before(cutoff) {
			kept = append(kept, iv)
		}
	}
	if len(kept) == 0 {
		delete(h, identity)
		return
	}
	h[identity] = kept
}

func (h history) open(identity string) bool {
	list := h[identity]
	return len(list) > 0 && list[len(list)-1].open
}

// settle ends the open intervals that the live history does not confirm; they belong to
// sessions lost without a DISCONNECTION entry
func (h history) settle(live history) {
	for identity, list := range h {
		last := list[len(list)-1]
		if last.open && !live.open(identity) {
			last.to = last.from
			last.open = false
		}
	}
}

type Aggregator struct {
	mutex        sync.Mutex
	intervals    history
	location     *time.Location
	transactions TransactionStore
	logs         LogStore
	price        PriceFunc
	now          func() time.Time
}

func NewAggregator(location *time.Location, transactions TransactionStore, logs LogStore, price PriceFunc) *Aggregator {
	if location == nil {
		location = time.UTC
	}
	return &Aggregator{
		intervals:    make(history),
		location:     location,
		transactions: transactions,
		logs:         logs,
		price:        price,
		now:          time.Now,
	}
}

func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// OnEvent keeps the recent connection history that may not have reached the log store yet
func (a *Aggregator) OnEvent(event events.Event) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	switch event.Kind {
	case events.Connected:
		a.intervals.connected(event.ChargePointId, event.Time)
	case events.Disconnected:
		a.intervals.disconnected(event.ChargePointId, event.Time)
	default:
		return
	}
	a.intervals.prune(event.ChargePointId, a.now().Add(-historyRetention))
}

type window struct {
	start time.Time
	end   time.Time
	last  bool
}

func (w window) contains(t time.Time) bool {
	if t.Before(w.start) {
		return false
	}
	return t.Before(w.end) || (w.last && t.Equal(w.end))
}

func (w window) overlaps(from, to time.Time) bool {
	if to.Before(w.start) {
		return false
	}
	return from.Before(w.end) || (w.last && from.Equal(w.end))
}

func truncate(t time.Time, granularity Granularity, location *time.Location) time.Time {
	t = t.In(location)
	if granularity == Day {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, location)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, location)
}

func next(t time.Time, granularity Granularity) time.Time {
	if granularity == Day {
		return t.AddDate(0, 0, 1)
	}
	return t.Add(time.Hour)
}

func label(t time.Time, granularity Granularity) string {
	if granularity == Day {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:00")
}

// windows splits [start, end] into aligned buckets; the last one includes end
func (a *Aggregator) windows(start, end time.Time, granularity Granularity) ([]window, error) {
	if granularity != Hour && granularity != Day {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGranularity, granularity)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	var list []window
	for t := truncate(start, granularity, a.location); t.Before(end) || len(list) == 0; t = next(t, granularity) {
		if len(list) == maxBuckets {
			return nil, fmt.Errorf("%w: more than %d buckets", ErrInvalidRange, maxBuckets)
		}
		list = append(list, window{start: t, end: next(t, granularity)})
	}
	list[len(list)-1].end = end
	list[len(list)-1].last = true
	return list, nil
}

func index(list []window, t time.Time) int {
	for i, w := range list {
		if w.contains(t) {
			return i
		}
	}
	return -1
}

// storedHistory replays the CONNECTION and DISCONNECTION entries of the log store
func (a *Aggregator) storedHistory(end time.Time) (history, error) {
	entries, err := a.logs.GetConnectionLog(end)
	if err != nil {
		return nil, fmt.Errorf("read connection log: %w", err)
	}
	h := make(history)
	for _, entry := range entries {
		switch entry.MessageType {
		case models.MessageTypeConnection:
			h.connected(entry.ChargePointId, entry.CreatedAt)
		case models.MessageTypeDisconnection:
			h.disconnected(entry.ChargePointId, entry.CreatedAt)
		}
	}
	return h, nil
}

// overlaps reports whether any interval of the identity touches the window
func overlaps(list []*interval, w window, start, end, now time.Time) bool {
	for _, iv := range list {
		to := iv.to
		if iv.open {
			to = now
		}
		if w.overlaps(iv.from, to) && !to.Before(start) && !iv.from.After(end) {
			return true
		}
	}
	return false
}

// ConnectionMetrics counts distinct identities connected at some point of every bucket
func (a *Aggregator) ConnectionMetrics(start, end time.Time, granularity Granularity) ([]Bucket, error) {
	list, err := a.windows(start, end, granularity)
	if err != nil {
		return nil, err
	}
	stored, err := a.storedHistory(end)
	if err != nil {
		return nil, err
	}
	now := a.now()
	result := make([]Bucket, len(list))
	a.mutex.Lock()
	defer a.mutex.Unlock()
	stored.settle(a.intervals)
	identities := make(map[string]bool, len(stored)+len(a.intervals))
	for identity := range stored {
		identities[identity] = true
	}
	for identity := range a.intervals {
		identities[identity] = true
	}
	for i, w := range list {
		result[i] = Bucket{Period: label(w.start, granularity), Start: w.start}
		for identity := range identities {
			if overlaps(stored[identity], w, start, end, now) || overlaps(a.intervals[identity], w, start, end, now) {
				result[i].Count++
			}
		}
	}
	return result, nil
}

// TransactionMetrics aggregates finished transactions by their start time
func (a *Aggregator) TransactionMetrics(start, end time.Time, granularity Granularity) ([]TransactionBucket, error) {
	list, err := a.windows(start, end, granularity)
	if err != nil {
		return nil, err
	}
	transactions, err := a.transactions.GetFinishedTransactions(start, end)
	if err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}
	result := make([]TransactionBucket, len(list))
	for i, w := range list {
		result[i] = TransactionBucket{Period: label(w.start, granularity), Start: w.start}
	}
	for _, transaction := range transactions {
		if transaction.TimeStart.Before(start) || transaction.TimeStart.After(end) {
			continue
		}
		i := index(list, transaction.TimeStart)
		if i < 0 {
			continue
		}
		result[i].Count++
		result[i].TotalKwh += transaction.KwhConsumed
		if a.price != nil {
			result[i].TotalRevenue += transaction.KwhConsumed * a.price(transaction.ChargePointId, transaction.TimeStart)
		}
	}
	return result, nil
}

// MessageMetrics counts logged messages per bucket
func (a *Aggregator) MessageMetrics(start, end time.Time, granularity Granularity) ([]Bucket, error) {
	list, err := a.windows(start, end, granularity)
	if err != nil {
		return nil, err
	}
	times, err := a.logs.GetLogTimes(start, end)
	if err != nil {
		return nil, fmt.Errorf("read log times: %w", err)
	}
	result := make([]Bucket, len(list))
	for i, w := range list {
		result[i] = Bucket{Period: label(w.start, granularity), Start: w.start}
	}
	for _, t := range times {
		if i := index(list, t); i >= 0 {
			result[i].Count++
		}
	}
	return result, nil
}
