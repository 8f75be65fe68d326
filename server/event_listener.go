package server

import (
	"encoding/json"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
	"evcsms/registry"
	"evcsms/types"
)

// eventListener turns bus events into audit log entries, gauges and operator notifications
type eventListener struct {
	messageLog    MessageLog
	registry      *registry.Registry
	eventHandlers []internal.EventHandler
}

type MessageLog interface {
	Append(entry *models.LogEntry)
}

func newEventListener(messageLog MessageLog, registry *registry.Registry) *eventListener {
	return &eventListener{
		messageLog: messageLog,
		registry:   registry,
	}
}

func (l *eventListener) AddEventHandler(handler internal.EventHandler) {
	l.eventHandlers = append(l.eventHandlers, handler)
}

func (l *eventListener) OnEvent(event events.Event) {
	switch event.Kind {
	case events.Connected:
		l.logConnection(event, models.MessageTypeConnection)
		l.observeConnections()
		l.notify(event, internal.EventConnected, func(h internal.EventHandler, m *internal.EventMessage) {
			h.OnConnectionChange(m)
		})
	case events.Disconnected:
		l.logConnection(event, models.MessageTypeDisconnection)
		l.observeConnections()
		l.notify(event, internal.EventDisconnected, func(h internal.EventHandler, m *internal.EventMessage) {
			h.OnConnectionChange(m)
		})
	case events.StatusChanged:
		l.notify(event, internal.EventStatusChanged, func(h internal.EventHandler, m *internal.EventMessage) {
			h.OnStatusNotification(m)
		})
	case events.TransactionStarted:
		l.notify(event, internal.EventTransactionStarted, func(h internal.EventHandler, m *internal.EventMessage) {
			h.OnTransactionStart(m)
		})
	case events.TransactionStopped:
		l.notify(event, internal.EventTransactionStopped, func(h internal.EventHandler, m *internal.EventMessage) {
			h.OnTransactionStop(m)
		})
	}
}

func (l *eventListener) logConnection(event events.Event, messageType string) {
	payload, _ := json.Marshal(struct {
		SessionId string `json:"session_id"`
		Protocol  string `json:"protocol"`
		Reason    string `json:"reason,omitempty"`
	}{event.SessionId, event.Protocol, event.Reason})
	l.messageLog.Append(&models.LogEntry{
		ChargePointId: event.ChargePointId,
		Direction:     models.DirectionIn,
		MessageType:   messageType,
		Payload:       payload,
		CreatedAt:     event.Time,
	})
}

func (l *eventListener) observeConnections() {
	stats := l.registry.Stats()
	for _, protocol := range []string{types.SubProtocol16, types.SubProtocol201} {
		counters.ObserveConnections(protocol, stats.ByVersion[protocol])
	}
}

func (l *eventListener) notify(event events.Event, eventType string, call func(internal.EventHandler, *internal.EventMessage)) {
	if len(l.eventHandlers) == 0 {
		return
	}
	message := &internal.EventMessage{
		Type:          eventType,
		ChargePointId: event.ChargePointId,
		ConnectorId:   event.ConnectorId,
		Time:          event.Time,
		IdTag:         event.IdTag,
		TransactionId: event.TransactionId,
		Status:        event.Status,
		Info:          event.Reason,
		Consumed:      event.Consumed,
		Amount:        event.Amount,
	}
	for _, handler := range l.eventHandlers {
		call(handler, message)
	}
}
