package server

import (
	"testing"

	"evcsms/ocpp"
	"evcsms/registry"
	"evcsms/types"
)

func TestAdmit(t *testing.T) {
	tests := []struct {
		state   registry.State
		version string
		action  string
		code    ocpp.ErrorCode
		ok      bool
	}{
		{registry.StateConnected, types.SubProtocol16, "BootNotification", "", true},
		{registry.StateConnected, types.SubProtocol16, "Heartbeat", ocpp.SecurityError, false},
		{registry.StateConnected, types.SubProtocol201, "TransactionEvent", ocpp.SecurityError, false},
		{registry.StateConnected, types.SubProtocol16, "Unknown", ocpp.NotImplemented, false},
		{registry.StateBooted, types.SubProtocol16, "StartTransaction", "", true},
		{registry.StateActive, types.SubProtocol201, "TransactionEvent", "", true},
		{registry.StateActive, types.SubProtocol201, "StartTransaction", ocpp.NotImplemented, false},
		{registry.StateActive, types.SubProtocol16, "BootNotification", "", true},
		{registry.StateDisconnected, types.SubProtocol16, "Heartbeat", ocpp.GenericError, false},
	}
	for _, tt := range tests {
		code, ok := admit(tt.state, tt.version, tt.action)
		if ok != tt.ok || code != tt.code {
			t.Errorf("admit(%s, %s, %s) = %s, %v; want %s, %v", tt.state, tt.version, tt.action, code, ok, tt.code, tt.ok)
		}
	}
}

func TestNegotiateProtocol(t *testing.T) {
	s := NewServer(testConfig(), nil)
	tests := []struct {
		offered  []string
		protocol string
		ok       bool
	}{
		{nil, types.SubProtocol16, true},
		{[]string{types.SubProtocol201, types.SubProtocol16}, types.SubProtocol201, true},
		{[]string{"ocpp1.5", types.SubProtocol16}, types.SubProtocol16, true},
		{[]string{"ocpp1.5"}, "", false},
	}
	for _, tt := range tests {
		protocol, ok := s.negotiateProtocol(tt.offered)
		if protocol != tt.protocol || ok != tt.ok {
			t.Errorf("negotiateProtocol(%v) = %s, %v", tt.offered, protocol, ok)
		}
	}
}
