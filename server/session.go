package server

import (
	"evcsms/ocpp"
	"evcsms/ocpp/core"
	"evcsms/registry"
)

// admit decides whether an inbound call may be processed in the current session state.
// Unknown actions are refused in any state.
func admit(state registry.State, version, action string) (ocpp.ErrorCode, bool) {
	if !ocpp.IsKnownAction(version, action) {
		return ocpp.NotImplemented, false
	}
	switch state {
	case registry.StateConnected:
		if action != core.BootNotificationFeatureName {
			return ocpp.SecurityError, false
		}
	case registry.StateDisconnected:
		return ocpp.GenericError, false
	}
	return "", true
}

// advance applies the state change that follows a handled call. BootNotification and
// StatusNotification set their own state through the registry.
func (cs *CentralSystem) advance(conn *registry.Connection, action string) {
	switch action {
	case core.BootNotificationFeatureName, core.StatusNotificationFeatureName:
		return
	}
	switch conn.State() {
	case registry.StateBooted, registry.StateActive:
		cs.registry.SetState(conn, registry.StateActive)
	}
}
