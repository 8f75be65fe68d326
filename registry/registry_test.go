package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"evcsms/events"
	"evcsms/internal"
)

type fakeSocket struct {
	mutex   sync.Mutex
	written  [][]byte
	closed   bool
	writeErr error
}

// stuckSocket blocks in Close until released
type stuckSocket struct {
	fakeSocket
	release chan struct{}
}

func (s *stuckSocket) Close() error {
	<-s.release
	return s.fakeSocket.Close()
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) RemoteAddr() string {
	return "127.0.0.1:1000"
}

func (s *fakeSocket) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

type recorder struct {
	mutex  sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(event events.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) kinds() []events.Kind {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	kinds := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type clock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *clock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry() (*Registry, *recorder, *clock) {
	rec := &recorder{}
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New(rec, internal.NewLogger(time.UTC), 70*time.Second, 30*time.Second, 10*time.Minute)
	r.SetClock(clk.now)
	return r, rec, clk
}

func TestRegisterSupersedesLiveConnection(t *testing.T) {
	r, rec, _ := newTestRegistry()

	first := &fakeSocket{}
	old := r.Register("CP1", first, "ocpp1.6")
	second := &fakeSocket{}
	current := r.Register("CP1", second, "ocpp1.6")

	if !first.isClosed() {
		t.Error("superseded socket was not closed")
	}
	if second.isClosed() {
		t.Error("new socket must stay open")
	}
	if old.SessionId() == current.SessionId() {
		t.Error("session ids must differ")
	}
	if r.Get("CP1") != current {
		t.Error("registry must hold the new connection")
	}
	if old.State() != StateDisconnected {
		t.Errorf("old state = %s", old.State())
	}

	want := []events.Kind{events.Connected, events.Disconnected, events.Connected}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v; want %v", got, want)
		}
	}
	if rec.events[1].Reason != ReasonSuperseded || rec.events[1].SessionId != old.SessionId() {
		t.Errorf("disconnect event = %+v", rec.events[1])
	}

	stats := r.Stats()
	if stats.Total != 1 || stats.Connected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLateDisconnectOfOldSessionIsIgnored(t *testing.T) {
	r, rec, _ := newTestRegistry()
	old := r.Register("CP1", &fakeSocket{}, "ocpp1.6")
	current := r.Register("CP1", &fakeSocket{}, "ocpp1.6")

	// the reader of the old socket notices the close afterwards
	r.MarkDisconnected(old, ReasonSocketClosed)

	if current.State() != StateConnected {
		t.Errorf("current state = %s", current.State())
	}
	if n := len(rec.kinds()); n != 3 {
		t.Errorf("expected 3 events, got %d", n)
	}
}

func TestSweepClosesSilentConnections(t *testing.T) {
	r, rec, clk := newTestRegistry()
	socket := &fakeSocket{}
	conn := r.Register("CP1", socket, "ocpp2.0.1")

	clk.advance(60 * time.Second)
	r.Sweep()
	if socket.isClosed() {
		t.Fatal("connection closed before timeout")
	}
	r.Touch(conn)

	clk.advance(71 * time.Second)
	if r.IsConnected(conn) {
		t.Error("silent connection reported connected")
	}
	r.Sweep()
	if !socket.isClosed() {
		t.Fatal("silent connection was not closed")
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != events.Disconnected || last.Reason != ReasonHeartbeatTimeout {
		t.Errorf("last event = %+v", last)
	}

	// retained for display
	if len(r.List()) != 1 || len(r.ListConnected()) != 0 {
		t.Errorf("list = %d, connected = %d", len(r.List()), len(r.ListConnected()))
	}
	clk.advance(11 * time.Minute)
	r.Sweep()
	if r.Get("CP1") != nil {
		t.Error("disconnected entry not evicted after retention")
	}
}

func TestConnectorStatusAndBoot(t *testing.T) {
	r, rec, _ := newTestRegistry()
	conn := r.Register("CP1", &fakeSocket{}, "ocpp1.6")

	r.SetBootInfo(conn, BootInfo{Vendor: "V", Model: "M"})
	if conn.State() != StateBooted {
		t.Errorf("state = %s", conn.State())
	}
	r.UpdateConnectorStatus(conn, 1, "Charging", "NoError", "")
	r.UpdateConnectorStatus(conn, 2, "Faulted", "GroundFailure", "leak")

	summary, ok := r.Summary("CP1")
	if !ok {
		t.Fatal("summary missing")
	}
	if summary.BootInfo.Vendor != "V" || summary.Connectors[1] != "Charging" || summary.Connectors[2] != "Faulted" {
		t.Errorf("summary = %+v", summary)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != events.StatusChanged {
		t.Errorf("events = %v", kinds)
	}
	if last := rec.events[len(rec.events)-1]; last.ErrorCode != "GroundFailure" || last.Reason != "leak" {
		t.Errorf("status event = %+v", last)
	}

	r.RejectBoot(conn, "disabled")
	if kinds = rec.kinds(); kinds[len(kinds)-1] != events.BootRejected {
		t.Errorf("events = %v", kinds)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	r, _, _ := newTestRegistry()
	socket := &fakeSocket{}
	conn := r.Register("CP1", socket, "ocpp1.6")

	if err := r.Send(conn, []byte("[]")); err != nil {
		t.Fatalf("send: %v", err)
	}
	r.Close(conn, ReasonShutdown)
	if err := r.Send(conn, []byte("[]")); err != ErrConnectionClosed {
		t.Errorf("send after close = %v", err)
	}
	if len(socket.written) != 1 {
		t.Errorf("written %d frames", len(socket.written))
	}
}

func TestStatsByVersion(t *testing.T) {
	r, _, _ := newTestRegistry()
	r.Register("CP1", &fakeSocket{}, "ocpp1.6")
	r.Register("CP2", &fakeSocket{}, "ocpp2.0.1")
	gone := r.Register("CP3", &fakeSocket{}, "ocpp1.6")
	r.Close(gone, ReasonSocketClosed)

	stats := r.Stats()
	if stats.Total != 3 || stats.Connected != 2 || stats.Disconnected != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByVersion["ocpp1.6"] != 1 || stats.ByVersion["ocpp2.0.1"] != 1 {
		t.Errorf("by version = %v", stats.ByVersion)
	}
}

func TestFailedWriteClosesSession(t *testing.T) {
	r, rec, _ := newTestRegistry()
	socket := &fakeSocket{writeErr: errors.New("i/o timeout")}
	conn := r.Register("CP1", socket, "ocpp1.6")

	if err := r.Send(conn, []byte("[]")); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("send = %v", err)
	}
	if !conn.IsClosed() || !socket.isClosed() {
		t.Error("session left open after failed write")
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != events.Disconnected || last.Reason != ReasonWriteFailed {
		t.Errorf("last event = %+v", last)
	}
}

func TestSupersedeDoesNotBlockOtherStations(t *testing.T) {
	r, rec, _ := newTestRegistry()
	stuck := &stuckSocket{release: make(chan struct{})}
	r.Register("CP1", stuck, "ocpp1.6")
	r.Register("CP2", &fakeSocket{}, "ocpp1.6")

	replaced := make(chan *Connection)
	go func() {
		replaced <- r.Register("CP1", &fakeSocket{}, "ocpp1.6")
	}()

	looked := make(chan struct{})
	go func() {
		_ = r.Online("CP2")
		_ = r.List()
		r.Register("CP3", &fakeSocket{}, "ocpp2.0.1")
		close(looked)
	}()
	select {
	case <-looked:
	case <-time.After(time.Second):
		t.Fatal("other stations blocked while a superseded socket closes")
	}

	close(stuck.release)
	current := <-replaced
	if r.Get("CP1") != current {
		t.Error("registry must hold the new connection")
	}

	var cp1 []events.Kind
	rec.mutex.Lock()
	for _, e := range rec.events {
		if e.ChargePointId == "CP1" {
			cp1 = append(cp1, e.Kind)
		}
	}
	rec.mutex.Unlock()
	want := []events.Kind{events.Connected, events.Disconnected, events.Connected}
	if len(cp1) != len(want) {
		t.Fatalf("CP1 events = %v; want %v", cp1, want)
	}
	for i := range want {
		if cp1[i] != want[i] {
			t.Fatalf("CP1 events = %v; want %v", cp1, want)
		}
	}
}
