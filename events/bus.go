package events

import (
	"sync"
	"time"
)

type Kind string

const (
	Connected          Kind = "connected"
	Booted             Kind = "booted"
	BootRejected       Kind = "boot_rejected"
	Disconnected       Kind = "disconnected"
	StatusChanged      Kind = "status"
	TransactionStarted Kind = "transaction_started"
	TransactionStopped Kind = "transaction_stopped"
)

type Event struct {
	Kind          Kind      `json:"kind"`
	ChargePointId string    `json:"charge_point_id"`
	SessionId     string    `json:"session_id,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	ConnectorId   int       `json:"connector_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	TransactionId string    `json:"transaction_id,omitempty"`
	IdTag         string    `json:"id_tag,omitempty"`
	Consumed      float64   `json:"consumed,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	Time          time.Time `json:"time"`
}

type Handler func(event Event)

// Bus fans events out to subscribers. Publish never blocks: every subscriber has
// its own queue drained by a dedicated goroutine, so a subscriber sees events in
// publish order.
type Bus struct {
	mutex       sync.RWMutex
	subscribers map[int]*subscriber
	nextId      int
	closed      bool
}

type subscriber struct {
	name    string
	handler Handler
	mutex   sync.Mutex
	queue   []Event
	notify  chan struct{}
	done    chan struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]*subscriber)}
}

// Subscribe registers a handler and returns the function removing it
func (b *Bus) Subscribe(name string, handler Handler) func() {
	s := &subscriber{
		name:    name,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return func() {}
	}
	id := b.nextId
	b.nextId++
	b.subscribers[id] = s
	b.mutex.Unlock()

	go s.pump()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mutex.Lock()
			delete(b.subscribers, id)
			b.mutex.Unlock()
			close(s.done)
		})
	}
}

func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, s := range b.subscribers {
		s.push(event)
	}
}

func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subscribers {
		delete(b.subscribers, id)
		close(s.done)
	}
}

func (s *subscriber) push(event Event) {
	s.mutex.Lock()
	s.queue = append(s.queue, event)
	s.mutex.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mutex.Lock()
			if len(s.queue) == 0 {
				s.mutex.Unlock()
				break
			}
			batch := s.queue
			s.queue = nil
			s.mutex.Unlock()
			for _, event := range batch {
				s.handler(event)
			}
		}
	}
}
