package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "connections_active",
	Help:      "Number of active ws connections",
}, []string{"protocol"})

var activeTransactionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "transactions_active",
	Help:      "Number of active transactions",
})

var pendingRequestsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "pending_requests",
	Help:      "Number of commands waiting for a reply",
})

func ObserveConnections(protocol string, count int) {
	if len(protocol) == 0 {
		return
	}
	connectionsGauge.With(prometheus.Labels{"protocol": protocol}).Set(float64(count))
}

func ObserveTransactions(count int) {
	activeTransactionsGauge.Set(float64(count))
}

func ObservePendingRequests(count int) {
	pendingRequestsGauge.Set(float64(count))
}

var messageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "messages_total",
	Help:      "Total number of logged messages.",
}, []string{"direction", "message_type"})

func CountMessage(direction, messageType string) {
	if len(direction) == 0 || len(messageType) == 0 {
		return
	}
	messageCounter.With(prometheus.Labels{"direction": direction, "message_type": messageType}).Inc()
}

var errorCounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "call_error_count",
	Help:      "Total number of CALLERROR frames by error code.",
}, []string{"direction", "code", "charge_point_id"})

func ObserveError(direction, chargePointId, code string) {
	if len(code) == 0 || len(chargePointId) == 0 {
		return
	}
	errorCounts.With(prometheus.Labels{"direction": direction, "code": code, "charge_point_id": chargePointId}).Inc()
}

var commandCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "command_count",
	Help:      "Total number of commands sent to stations by outcome.",
}, []string{"action", "result"})

func CountCommand(action, result string) {
	if len(action) == 0 {
		return
	}
	commandCounter.With(prometheus.Labels{"action": action, "result": result}).Inc()
}

var transactionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "transaction_count",
	Help:      "Total number of transactions.",
}, []string{"charge_point_id"})

func CountTransaction(chargePointId string) {
	if len(chargePointId) == 0 {
		return
	}
	transactionCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Inc()
}

var powerCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "consumed_kwh",
	Help:      "Consumed energy of finished transactions.",
}, []string{"charge_point_id"})

func CountConsumedPower(chargePointId string, power float64) {
	if len(chargePointId) == 0 || power <= 0 {
		return
	}
	powerCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Add(power)
}

var revenueCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "revenue",
	Help:      "Billed amount of finished transactions.",
}, []string{"charge_point_id"})

func CountRevenue(chargePointId string, amount float64) {
	if len(chargePointId) == 0 || amount <= 0 {
		return
	}
	revenueCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Add(amount)
}
