package messagelog

import (
	"context"
	"sync"
	"time"

	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

type Store interface {
	AddLogEntry(entry *models.LogEntry) error
	GetLogEntries(filter models.LogFilter, limit, offset int) ([]*models.LogEntry, int64, error)
	GetMessageTypes() ([]string, error)
}

type item struct {
	entry   *models.LogEntry
	flushed chan struct{}
}

// Sink persists protocol messages in arrival order. Append blocks when the
// queue is full instead of dropping entries.
type Sink struct {
	store   Store
	logger  internal.LogHandler
	queue   chan item
	mutex   sync.RWMutex
	closed  bool
	stopped chan struct{}
}

func NewSink(store Store, logger internal.LogHandler, queueLength int) *Sink {
	if queueLength <= 0 {
		queueLength = 1000
	}
	s := &Sink{
		store:   store,
		logger:  logger,
		queue:   make(chan item, queueLength),
		stopped: make(chan struct{}),
	}
	go s.writer()
	return s
}

func (s *Sink) writer() {
	defer close(s.stopped)
	for it := range s.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		s.write(it.entry)
	}
}

func (s *Sink) write(entry *models.LogEntry) {
	if err := s.store.AddLogEntry(entry); err != nil {
		s.logger.Error("save log entry", err)
	}
}

func (s *Sink) Append(entry *models.LogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	counters.CountMessage(string(entry.Direction), entry.MessageType)

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		s.write(entry)
		return
	}
	s.queue <- item{entry: entry}
}

// Flush waits until every entry appended before the call is stored
func (s *Sink) Flush() {
	s.mutex.RLock()
	if s.closed {
		s.mutex.RUnlock()
		return
	}
	flushed := make(chan struct{})
	s.queue <- item{flushed: flushed}
	s.mutex.RUnlock()
	<-flushed
}

func (s *Sink) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mutex.Unlock()
	<-s.stopped
}

func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Query returns one page of entries, newest first, and the total number of matches
func (s *Sink) Query(ctx context.Context, filter models.LogFilter, limit, offset int) ([]*models.LogEntry, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	limit, offset = NormalizePage(limit, offset)
	return s.store.GetLogEntries(filter, limit, offset)
}

func (s *Sink) MessageTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetMessageTypes()
}
