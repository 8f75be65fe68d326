package server

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/models"
	"evcsms/ocpp"
	"evcsms/registry"
	"evcsms/types"
)

type socket struct {
	frames chan []byte
	closed chan struct{}
}

func newSocket() *socket {
	return &socket{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *socket) WriteMessage(data []byte) error {
	s.frames <- data
	return nil
}

func (s *socket) Close() error {
	close(s.closed)
	return nil
}

func (s *socket) RemoteAddr() string { return "127.0.0.1:5000" }

func (s *socket) next(t *testing.T) ocpp.Envelope {
	t.Helper()
	select {
	case data := <-s.frames:
		envelope, err := ocpp.Decode(data)
		if err != nil {
			t.Fatalf("decode outbound frame %s: %v", data, err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatal("no frame written")
	}
	return nil
}

func (s *socket) silent(t *testing.T) {
	t.Helper()
	select {
	case data := <-s.frames:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() *config.Config {
	conf := &config.Config{TimeZone: "UTC"}
	conf.Listen.BindIP = "127.0.0.1"
	conf.Listen.Port = "0"
	conf.Api.BindIP = "127.0.0.1"
	conf.Api.Port = "0"
	conf.Ocpp.HeartbeatInterval = 30 * time.Second
	conf.Ocpp.SweepInterval = time.Second
	conf.Ocpp.PendingSweep = 10 * time.Millisecond
	conf.Ocpp.Retention = time.Minute
	conf.Ocpp.WriteTimeout = time.Second
	conf.Commands.DefaultTimeout = 200 * time.Millisecond
	conf.Commands.ResetTimeout = 200 * time.Millisecond
	conf.Commands.UnlockTimeout = 200 * time.Millisecond
	conf.Billing.PricePerKwh = 0.3
	return conf
}

func newTestSystem(t *testing.T, conf *config.Config) (*CentralSystem, *internal.MemoryDB) {
	t.Helper()
	db := internal.NewMemoryDB()
	cs, err := NewCentralSystem(conf, db, internal.NewLogger(time.UTC))
	if err != nil {
		t.Fatalf("new central system: %v", err)
	}
	t.Cleanup(cs.Shutdown)
	return cs, db
}

func connect(cs *CentralSystem, identity, protocol string) (*registry.Connection, *socket) {
	ws := newSocket()
	return cs.OnConnect(identity, ws, protocol), ws
}

// call sends a CALL frame and returns the decoded answer
func call(t *testing.T, cs *CentralSystem, conn *registry.Connection, ws *socket, id, action, payload string) ocpp.Envelope {
	t.Helper()
	frame := `[2,"` + id + `","` + action + `",` + payload + `]`
	cs.OnMessage(conn, []byte(frame))
	envelope := ws.next(t)
	if envelope.GetUniqueId() != id {
		t.Fatalf("answer id %s, want %s", envelope.GetUniqueId(), id)
	}
	return envelope
}

func result(t *testing.T, envelope ocpp.Envelope, value interface{}) {
	t.Helper()
	callResult, ok := envelope.(*ocpp.CallResult)
	if !ok {
		t.Fatalf("answer is %T: %+v", envelope, envelope)
	}
	if err := json.Unmarshal(callResult.Payload, value); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func callError(t *testing.T, envelope ocpp.Envelope) *ocpp.CallError {
	t.Helper()
	ce, ok := envelope.(*ocpp.CallError)
	if !ok {
		t.Fatalf("answer is %T, want CALLERROR", envelope)
	}
	return ce
}

func boot(t *testing.T, cs *CentralSystem, conn *registry.Connection, ws *socket) {
	t.Helper()
	var response struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	result(t, call(t, cs, conn, ws, "boot", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`), &response)
	if response.Status != "Accepted" {
		t.Fatalf("boot status %s", response.Status)
	}
	if response.Interval != 30 {
		t.Errorf("interval %d, want 30", response.Interval)
	}
}

func TestBootAndHeartbeatKeepStationConnected(t *testing.T) {
	cs, db := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)

	boot(t, cs, conn, ws)
	if conn.State() != registry.StateBooted {
		t.Fatalf("state %s after boot", conn.State())
	}
	for i := 0; i < 3; i++ {
		var response struct {
			CurrentTime string `json:"currentTime"`
		}
		result(t, call(t, cs, conn, ws, "hb"+strconv.Itoa(i), "Heartbeat", `{}`), &response)
		if response.CurrentTime == "" {
			t.Error("heartbeat without current time")
		}
	}
	if conn.State() != registry.StateActive {
		t.Errorf("state %s after heartbeat", conn.State())
	}

	active := cs.GetActiveConnections()
	if len(active) != 1 {
		t.Fatalf("active connections %d", len(active))
	}
	if !active[0].IsConnected || active[0].BootInfo.Vendor != "Acme" {
		t.Errorf("summary %+v", active[0])
	}
	chargePoint, err := db.GetChargePoint("CP001")
	if err != nil {
		t.Fatalf("charge point not stored: %v", err)
	}
	if !chargePoint.IsEnabled || chargePoint.Model != "X1" {
		t.Errorf("charge point %+v", chargePoint)
	}
}

func TestCallBeforeBootIsRefused(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)

	ce := callError(t, call(t, cs, conn, ws, "1", "Heartbeat", `{}`))
	if ce.ErrorCode != string(ocpp.SecurityError) {
		t.Errorf("error code %s", ce.ErrorCode)
	}
	if conn.State() != registry.StateConnected {
		t.Errorf("state %s", conn.State())
	}
}

func TestUnknownActionIsNotImplemented(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)

	ce := callError(t, call(t, cs, conn, ws, "2", "FlyToTheMoon", `{}`))
	if ce.ErrorCode != string(ocpp.NotImplemented) {
		t.Errorf("error code %s", ce.ErrorCode)
	}
}

func TestBadPayloadIsFormationViolation(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)

	ce := callError(t, call(t, cs, conn, ws, "3", "StartTransaction", `{"connectorId":"one"}`))
	if ce.ErrorCode != string(ocpp.FormationViolation) {
		t.Errorf("error code %s", ce.ErrorCode)
	}
}

func TestMalformedFrameIsLoggedAndIgnored(t *testing.T) {
	cs, db := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)

	cs.OnMessage(conn, []byte(`[2,"x1","Heartbeat"`))
	ws.silent(t)
	if conn.IsClosed() {
		t.Fatal("connection closed on malformed frame")
	}

	cs.messageLog.Flush()
	entries, _, err := db.GetLogEntries(models.LogFilter{MessageType: models.MessageTypeMalformed}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("malformed entries %d", len(entries))
	}
	var text string
	if err = json.Unmarshal(entries[0].Payload, &text); err != nil || text != `[2,"x1","Heartbeat"` {
		t.Errorf("payload %s", entries[0].Payload)
	}
}

func TestPendingBootForUnknownStation(t *testing.T) {
	conf := testConfig()
	conf.Ocpp.RejectUnknown = true
	cs, _ := newTestSystem(t, conf)
	conn, ws := connect(cs, "CP404", types.SubProtocol16)

	var response struct {
		Status string `json:"status"`
	}
	result(t, call(t, cs, conn, ws, "b", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`), &response)
	if response.Status != "Pending" {
		t.Errorf("status %s", response.Status)
	}
	if conn.State() != registry.StateConnected {
		t.Errorf("state %s", conn.State())
	}
}

func TestDisabledStationIsRejected(t *testing.T) {
	cs, db := newTestSystem(t, testConfig())
	_ = db.SaveChargePoint(&models.ChargePoint{Id: "CP009", IsEnabled: false})
	conn, ws := connect(cs, "CP009", types.SubProtocol16)

	var response struct {
		Status string `json:"status"`
	}
	result(t, call(t, cs, conn, ws, "b", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`), &response)
	if response.Status != "Rejected" {
		t.Errorf("status %s", response.Status)
	}
}

func TestTransactionWithOutOfOrderMeterValue(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)

	var started struct {
		TransactionId int `json:"transactionId"`
		IdTagInfo     struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	result(t, call(t, cs, conn, ws, "s", "StartTransaction",
		`{"connectorId":1,"idTag":"TAG1","meterStart":1000,"timestamp":"2024-01-01T10:00:00Z"}`), &started)
	if started.IdTagInfo.Status != "Accepted" || started.TransactionId == 0 {
		t.Fatalf("start %+v", started)
	}
	txId := strconv.Itoa(started.TransactionId)

	meter := func(id string, value int) {
		var empty struct{}
		payload := `{"connectorId":1,"transactionId":` + txId + `,"meterValue":[{"timestamp":"2024-01-01T10:10:00Z","sampledValue":[{"value":"` + strconv.Itoa(value) + `"}]}]}`
		result(t, call(t, cs, conn, ws, id, "MeterValues", payload), &empty)
	}
	meter("m1", 1500)
	meter("m2", 1400)

	transaction, ok := cs.transactions.Get("CP001", txId)
	if !ok || transaction.MeterLatest != 1500 {
		t.Fatalf("transaction after meter values %+v", transaction)
	}

	var duplicate struct {
		TransactionId int `json:"transactionId"`
		IdTagInfo     struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	result(t, call(t, cs, conn, ws, "s2", "StartTransaction",
		`{"connectorId":1,"idTag":"TAG2","meterStart":1500,"timestamp":"2024-01-01T10:15:00Z"}`), &duplicate)
	if duplicate.IdTagInfo.Status != "ConcurrentTx" || duplicate.TransactionId != 0 {
		t.Errorf("duplicate start %+v", duplicate)
	}

	var stopped struct{}
	result(t, call(t, cs, conn, ws, "e", "StopTransaction",
		`{"transactionId":`+txId+`,"meterStop":1800,"timestamp":"2024-01-01T11:00:00Z"}`), &stopped)

	transaction, _ = cs.transactions.Get("CP001", txId)
	if transaction.Status != models.TransactionCompleted {
		t.Errorf("status %s", transaction.Status)
	}
	if transaction.KwhConsumed != 0.8 {
		t.Errorf("consumed %v, want 0.8", transaction.KwhConsumed)
	}
	if transaction.Reason != "Local" {
		t.Errorf("reason %s", transaction.Reason)
	}
	if len(cs.GetActiveTransactions("CP001")) != 0 {
		t.Error("transaction still active")
	}
}

func TestTransactionEvent201(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CS201", types.SubProtocol201)

	var booted struct {
		Status string `json:"status"`
	}
	result(t, call(t, cs, conn, ws, "b", "BootNotification",
		`{"reason":"PowerUp","chargingStation":{"model":"M","vendorName":"Acme"}}`), &booted)
	if booted.Status != "Accepted" {
		t.Fatalf("boot %s", booted.Status)
	}

	event := func(id, eventType, meter string) {
		var response struct{}
		payload := `{"eventType":"` + eventType + `","timestamp":"2024-01-01T10:00:00Z","triggerReason":"Authorized","seqNo":0,` +
			`"transactionInfo":{"transactionId":"tx-1"},"evse":{"id":2},` +
			`"meterValue":[{"timestamp":"2024-01-01T10:00:00Z","sampledValue":[{"value":` + meter + `}]}]}`
		result(t, call(t, cs, conn, ws, id, "TransactionEvent", payload), &response)
	}
	event("t1", "Started", "2000")
	event("t2", "Updated", "2600")
	event("t3", "Ended", "3000")

	transaction, ok := cs.transactions.Get("CS201", "tx-1")
	if !ok {
		t.Fatal("transaction not tracked")
	}
	if transaction.ConnectorId != 2 || transaction.MeterStart != 2000 {
		t.Errorf("transaction %+v", transaction)
	}
	if !transaction.IsFinished() || transaction.KwhConsumed != 1 {
		t.Errorf("transaction not finished correctly %+v", transaction)
	}
}

func TestDisconnectMarksSession(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)

	cs.OnDisconnect(conn, nil)
	if len(cs.GetActiveConnections()) != 0 {
		t.Error("station still listed as active")
	}
	stats := cs.GetConnectionStats()
	if stats.Total != 1 || stats.Disconnected != 1 {
		t.Errorf("stats %+v", stats)
	}
}

func TestCommandToOfflineStation(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())

	res := cs.SendReset(context.Background(), "CP404", "Soft")
	if res.Success || res.Error != ErrorStationOffline {
		t.Errorf("result %+v", res)
	}
}

func TestCommandTimeout(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs.pending.Start(ctx)

	res := cs.SendReset(ctx, "CP001", "Soft")
	if res.Success || res.Error != ErrorCommandTimeout {
		t.Errorf("result %+v", res)
	}
	if _, ok := ws.next(t).(*ocpp.Call); !ok {
		t.Error("reset call not written")
	}
}

func TestCommandAnswered(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)

	go func() {
		data := <-ws.frames
		envelope, err := ocpp.Decode(data)
		if err != nil {
			return
		}
		cs.OnMessage(conn, []byte(`[3,"`+envelope.GetUniqueId()+`",{"status":"Rejected"}]`))
	}()
	res := cs.SendUnlockConnector(context.Background(), "CP001", 1)
	if res.Success || res.Status != "Rejected" || res.Error != ErrorRejected {
		t.Errorf("result %+v", res)
	}
}

func TestForceStopTransaction(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	started, err := cs.transactions.Start("CP001", 1, "TAG", 100, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err = cs.transactions.MeterValue("CP001", 1, started.TransactionId, 600, time.Now()); err != nil {
		t.Fatal(err)
	}

	res := cs.ForceStopTransaction("CP001", started.TransactionId)
	if !res.Success {
		t.Fatalf("result %+v", res)
	}
	transaction, _ := cs.transactions.Get("CP001", started.TransactionId)
	if transaction.Reason != reasonForcedStop || transaction.KwhConsumed != 0.5 {
		t.Errorf("transaction %+v", transaction)
	}
	if again := cs.ForceStopTransaction("CP001", started.TransactionId); again.Success {
		t.Error("finished transaction stopped twice")
	}
}
