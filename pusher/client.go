package pusher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evcsms/events"
	"evcsms/internal"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
)

const featureName = "Pusher"

// EventPusher forwards bus events to a NATS subject per event kind. Publishing
// goes through a circuit breaker, so an unreachable broker costs nothing while open.
type EventPusher struct {
	conn    *nats.Conn
	publish func(subject string, data []byte) error
	subject string
	breaker *gobreaker.CircuitBreaker
	logger  internal.LogHandler
}

func NewPusher(url, subject string, logger internal.LogHandler) (*EventPusher, error) {
	if subject == "" {
		return nil, errors.New("missed subject parameter in nats configuration")
	}
	conn, err := nats.Connect(url,
		nats.Name("evcsms"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	p := newPusher(conn.Publish, subject, logger)
	p.conn = conn
	return p, nil
}

func newPusher(publish func(string, []byte) error, subject string, logger internal.LogHandler) *EventPusher {
	p := &EventPusher{
		publish: publish,
		subject: subject,
		logger:  logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nats-events",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("%s: circuit %s changed from %s to %s", featureName, name, from, to))
		},
	})
	return p
}

func Subject(base string, kind events.Kind) string {
	return base + "." + string(kind)
}

func (p *EventPusher) OnEvent(event events.Event) {
	if err := p.Send(event); err != nil {
		p.logger.Debug(fmt.Sprintf("%s: %s %s: %v", featureName, event.Kind, event.ChargePointId, err))
	}
}

func (p *EventPusher) Send(event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publish(Subject(p.subject, event.Kind), data)
	})
	return err
}

func (p *EventPusher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}
