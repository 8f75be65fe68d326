package presence

import (
	"testing"
	"time"

	"evcsms/registry"
)

func TestKey(t *testing.T) {
	if got := Key("CP-1"); got != "ocpp:presence:CP-1" {
		t.Errorf("Key() = %q", got)
	}
}

func TestSummaryEncoding(t *testing.T) {
	connected := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	summary := registry.Summary{
		ChargePointId: "CP-1",
		SessionId:     "s-1",
		Protocol:      "ocpp1.6",
		State:         registry.StateActive,
		IsConnected:   true,
		ConnectedAt:   connected,
		Connectors:    map[int]string{1: "Charging"},
	}
	data, err := encode(summary)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionId != "s-1" || got.State != registry.StateActive || !got.ConnectedAt.Equal(connected) {
		t.Errorf("decoded %+v", got)
	}
	if got.Connectors[1] != "Charging" {
		t.Errorf("connectors %v", got.Connectors)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not json")); err == nil {
		t.Error("expected error")
	}
}
