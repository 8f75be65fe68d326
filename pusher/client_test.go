package pusher

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"evcsms/events"

	"github.com/sony/gobreaker"
)

type nopLogger struct{}

func (nopLogger) FeatureEvent(feature, id, text string) {}
func (nopLogger) Debug(text string)                     {}
func (nopLogger) Warn(text string)                      {}
func (nopLogger) Error(text string, err error)          {}
func (nopLogger) RawDataEvent(direction, data string)   {}

type broker struct {
	mutex    sync.Mutex
	fail     bool
	calls    int
	subjects []string
	payloads [][]byte
}

func (b *broker) publish(subject string, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.calls++
	if b.fail {
		return errors.New("no servers available")
	}
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, data)
	return nil
}

func TestSendPublishesToKindSubject(t *testing.T) {
	b := &broker{}
	p := newPusher(b.publish, "ocpp.events", nopLogger{})
	event := events.Event{
		Kind:          events.TransactionStarted,
		ChargePointId: "CP-1",
		TransactionId: "7",
		Time:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.Send(event); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(b.subjects) != 1 || b.subjects[0] != "ocpp.events.transaction_started" {
		t.Fatalf("subjects %v", b.subjects)
	}
	var got events.Event
	if err := json.Unmarshal(b.payloads[0], &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.ChargePointId != "CP-1" || got.TransactionId != "7" {
		t.Errorf("payload %+v", got)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	b := &broker{fail: true}
	p := newPusher(b.publish, "ocpp.events", nopLogger{})
	event := events.Event{Kind: events.Connected, ChargePointId: "CP-1"}
	for i := 0; i < 3; i++ {
		if err := p.Send(event); err == nil {
			t.Fatal("expected publish error")
		}
	}
	err := p.Send(event)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state, got %v", err)
	}
	if b.calls != 3 {
		t.Errorf("broker called %d times while open", b.calls)
	}
}
