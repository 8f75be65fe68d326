package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"evcsms/alerts"
	"evcsms/models"
	"evcsms/registry"
	"evcsms/types"
)

func serve(cs *CentralSystem, method, target, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	cs.api.httpServer.Handler.ServeHTTP(recorder, request)
	return recorder
}

func TestApiConnections(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)
	connect(cs, "CP002", types.SubProtocol201)

	response := serve(cs, http.MethodGet, "/api/connections?connected=true", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status %d", response.Code)
	}
	var summaries []registry.Summary
	if err := json.Unmarshal(response.Body.Bytes(), &summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Errorf("connections %d", len(summaries))
	}

	response = serve(cs, http.MethodGet, "/api/connections/CP001", "")
	var summary registry.Summary
	if err := json.Unmarshal(response.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.BootInfo.Vendor != "Acme" {
		t.Errorf("summary %+v", summary)
	}

	callError(t, call(t, cs, conn, ws, "x", "Unknown", `{}`))
	response = serve(cs, http.MethodGet, "/api/connections/CP001/errors", "")
	var errorsToday struct {
		ErrorsToday int `json:"errors_today"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &errorsToday); err != nil {
		t.Fatal(err)
	}
	if errorsToday.ErrorsToday != 1 {
		t.Errorf("errors today %d", errorsToday.ErrorsToday)
	}

	if response = serve(cs, http.MethodGet, "/api/connections/CP404", ""); response.Code != http.StatusNotFound {
		t.Errorf("unknown station status %d", response.Code)
	}

	response = serve(cs, http.MethodGet, "/api/stats", "")
	var stats registry.Stats
	if err := json.Unmarshal(response.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Connected != 2 || stats.ByVersion[types.SubProtocol201] != 1 {
		t.Errorf("stats %+v", stats)
	}
}

func TestApiLogs(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())
	conn, ws := connect(cs, "CP001", types.SubProtocol16)
	boot(t, cs, conn, ws)
	cs.messageLog.Flush()

	response := serve(cs, http.MethodGet, "/api/logs?charge_point_id=CP001&direction=OUT", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status %d", response.Code)
	}
	var page LogPage
	if err := json.Unmarshal(response.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entries[0].MessageType != "CALLRESULT" || page.Entries[0].Action != "BootNotification" {
		t.Errorf("page %+v", page)
	}

	if response = serve(cs, http.MethodGet, "/api/logs?limit=abc", ""); response.Code != http.StatusBadRequest {
		t.Errorf("bad limit status %d", response.Code)
	}
}

func TestApiMetricsValidation(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())

	tests := []struct {
		target string
		status int
	}{
		{"/api/metrics/connections?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z", http.StatusOK},
		{"/api/metrics/transactions?start=2024-01-01T00:00:00Z&end=2024-01-03T00:00:00Z&granularity=day", http.StatusOK},
		{"/api/metrics/messages?granularity=week", http.StatusBadRequest},
		{"/api/metrics/connections?start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z", http.StatusBadRequest},
		{"/api/metrics/connections?start=yesterday", http.StatusBadRequest},
		{"/api/metrics/energy", http.StatusNotFound},
	}
	for _, tt := range tests {
		if response := serve(cs, http.MethodGet, tt.target, ""); response.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.target, response.Code, tt.status)
		}
	}
}

func TestApiCommandOffline(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())

	response := serve(cs, http.MethodPost, "/api/command/CP404/reset", `{"type":"Hard"}`)
	if response.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", response.Code)
	}
	var result CommandResult
	if err := json.Unmarshal(response.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Error != ErrorStationOffline {
		t.Errorf("result %+v", result)
	}

	if response = serve(cs, http.MethodPost, "/api/command/CP404/explode", ""); response.Code != http.StatusNotFound {
		t.Errorf("unknown command status %d", response.Code)
	}
	if response = serve(cs, http.MethodPost, "/api/command/CP404/reset", "{"); response.Code != http.StatusBadRequest {
		t.Errorf("broken body status %d", response.Code)
	}
}

func TestApiReserveCommand(t *testing.T) {
	cs, _ := newTestSystem(t, testConfig())

	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	response := serve(cs, http.MethodPost, "/api/command/CP404/reserve",
		`{"connector_id":1,"reservation_id":7,"id_tag":"TAG","expiry_date":"`+expiry+`"}`)
	if response.Code != http.StatusServiceUnavailable {
		t.Errorf("offline status %d", response.Code)
	}
	response = serve(cs, http.MethodPost, "/api/command/CP404/reserve", `{"connector_id":1,"reservation_id":7,"id_tag":"TAG","expiry_date":"tomorrow"}`)
	if response.Code != http.StatusBadRequest {
		t.Errorf("bad expiry status %d", response.Code)
	}
	response = serve(cs, http.MethodPost, "/api/command/CP404/cancel-reservation", `{"reservation_id":7}`)
	if response.Code != http.StatusServiceUnavailable {
		t.Errorf("cancel status %d", response.Code)
	}
}

func TestApiAlerts(t *testing.T) {
	cs, db := newTestSystem(t, testConfig())
	_ = db.SaveChargePoint(&models.ChargePoint{Id: "CP009", IsEnabled: false})
	conn, ws := connect(cs, "CP009", types.SubProtocol16)
	call(t, cs, conn, ws, "b", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`)

	// alerts are raised by a bus subscriber
	var page alerts.Page
	deadline := time.Now().Add(2 * time.Second)
	for {
		response := serve(cs, http.MethodGet, "/api/alerts?charge_point_id=CP009", "")
		if response.Code != http.StatusOK {
			t.Fatalf("status %d", response.Code)
		}
		if err := json.Unmarshal(response.Body.Bytes(), &page); err != nil {
			t.Fatal(err)
		}
		if page.Total > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if page.Total != 1 || page.Alerts[0].Type != models.AlertBootRejected || page.Alerts[0].Severity != models.SeverityCritical {
		t.Fatalf("page %+v", page)
	}

	response := serve(cs, http.MethodGet, "/api/alerts/stats", "")
	var stats models.AlertStats
	if err := json.Unmarshal(response.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Unacknowledged != 1 {
		t.Errorf("stats %+v", stats)
	}

	if response = serve(cs, http.MethodPost, "/api/alerts/"+page.Alerts[0].Id+"/acknowledge", ""); response.Code != http.StatusNoContent {
		t.Errorf("acknowledge status %d", response.Code)
	}
	if response = serve(cs, http.MethodPost, "/api/alerts/unknown/acknowledge", ""); response.Code != http.StatusNotFound {
		t.Errorf("unknown alert status %d", response.Code)
	}
	response = serve(cs, http.MethodGet, "/api/alerts", "")
	if err := json.Unmarshal(response.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("unacknowledged after acknowledge %+v", page)
	}
	response = serve(cs, http.MethodGet, "/api/alerts?include_acknowledged=true&limit=abc", "")
	if response.Code != http.StatusBadRequest {
		t.Errorf("bad limit status %d", response.Code)
	}
}
