package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcsms/alerts"
	"evcsms/billing"
	"evcsms/dispatcher"
	"evcsms/events"
	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/internal/errorlistener"
	"evcsms/messagelog"
	"evcsms/metrics"
	"evcsms/models"
	"evcsms/ocpp"
	"evcsms/pending"
	"evcsms/presence"
	"evcsms/pusher"
	"evcsms/registry"
	"evcsms/telegram"
	"evcsms/transaction"
)

const shutdownTimeout = 5 * time.Second

type CentralSystem struct {
	conf         *config.Config
	server       *Server
	api          *Api
	logger       internal.LogHandler
	database     internal.Database
	location     *time.Location
	bus          *events.Bus
	registry     *registry.Registry
	pending      *pending.Tracker
	dispatcher   *dispatcher.Dispatcher
	transactions *transaction.Tracker
	messageLog   *messagelog.Sink
	aggregator   *metrics.Aggregator
	alerts       *alerts.Service
	errors       *errorlistener.ErrorListener
	handler      *SystemHandler
	listener     *eventListener
	presence     *presence.Store
	pusher       *pusher.EventPusher
	tariffs      *billing.Tariffs
	cancel       context.CancelFunc
	stopOnce     sync.Once
}

// NewCentralSystem builds the protocol engine on top of the given store. Optional
// integrations are connected when enabled in the configuration.
func NewCentralSystem(conf *config.Config, database internal.Database, logger internal.LogHandler) (*CentralSystem, error) {
	cs := &CentralSystem{
		conf:     conf,
		database: database,
		logger:   logger,
		location: conf.Location(),
		bus:      events.NewBus(),
	}

	cs.registry = registry.New(cs.bus, logger, conf.HeartbeatTimeout(), conf.Ocpp.SweepInterval, conf.Ocpp.Retention)
	cs.pending = pending.NewTracker(logger, conf.Ocpp.PendingSweep)
	cs.messageLog = messagelog.NewSink(database, logger, conf.Commands.LogQueueLength)
	cs.dispatcher = dispatcher.New(cs.registry, cs.pending, cs.messageLog, logger, dispatcher.Timeouts{
		Default: conf.Commands.DefaultTimeout,
		Reset:   conf.Commands.ResetTimeout,
		Unlock:  conf.Commands.UnlockTimeout,
	})
	cs.errors = errorlistener.NewErrorListener(logger, cs.location)

	transactions, err := transaction.New(database, cs.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("transaction tracker setup failed: %w", err)
	}
	cs.transactions = transactions

	// billing
	price := billing.FlatPrice(conf.Billing.PricePerKwh)
	if conf.Postgres.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		tariffs, err := billing.NewTariffs(ctx, conf.Postgres.Url, conf.Billing.PricePerKwh, logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("tariff database setup failed: %w", err)
		}
		cs.tariffs = tariffs
		price = tariffs.Price
	}
	affleck := billing.NewAffleck(price)
	affleck.SetLogger(logger)
	cs.transactions.SetBilling(affleck)

	cs.aggregator = metrics.NewAggregator(cs.location, database, database, metrics.PriceFunc(price))

	// system events handler
	cs.handler = NewSystemHandler(cs.registry, cs.transactions, database, logger)
	cs.handler.SetParameters(conf.Ocpp.HeartbeatInterval, conf.Ocpp.RejectUnknown)

	cs.listener = newEventListener(cs.messageLog, cs.registry)
	cs.bus.Subscribe("dispatcher", cs.dispatcher.OnEvent)
	cs.bus.Subscribe("aggregator", cs.aggregator.OnEvent)
	cs.bus.Subscribe("listener", cs.listener.OnEvent)

	cs.alerts = alerts.New(database, logger, conf.Alerts.Cooldown)
	cs.bus.Subscribe("alerts", cs.alerts.OnEvent)

	if conf.Redis.Enabled {
		store, err := presence.NewStore(conf.Redis.Address, conf.Redis.Password, conf.Redis.DB, conf.Redis.TTL, cs.registry, logger)
		if err != nil {
			return nil, fmt.Errorf("redis setup failed: %w", err)
		}
		cs.presence = store
		cs.bus.Subscribe("presence", store.OnEvent)
		logger.Debug("redis presence is configured and enabled")
	}

	if conf.Nats.Enabled {
		eventPusher, err := pusher.NewPusher(conf.Nats.Url, conf.Nats.Subject, logger)
		if err != nil {
			return nil, fmt.Errorf("nats setup failed: %w", err)
		}
		cs.pusher = eventPusher
		cs.bus.Subscribe("pusher", eventPusher.OnEvent)
		logger.Debug("nats event feed is configured and enabled")
	}

	if conf.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(conf.Telegram.ApiKey, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %w", err)
		}
		telegramBot.SetDatabase(database)
		telegramBot.SetStatusSource(cs.registry)
		telegramBot.Start(conf.Telegram.ChatIds)
		cs.listener.AddEventHandler(telegramBot)
		cs.alerts.SetNotifier(telegramBot)
		logger.Debug("telegram bot is configured and enabled")
	}

	// websocket listener
	cs.server = NewServer(conf, logger)
	cs.server.SetConnectionHandler(cs)

	// api server
	cs.api = NewApi(conf, cs, logger)

	return cs, nil
}

// Start runs the background sweeps and both listeners until the context is done
// or a listener fails
func (cs *CentralSystem) Start(ctx context.Context) error {
	ctx, cs.cancel = context.WithCancel(ctx)
	cs.registry.Start(ctx)
	cs.pending.Start(ctx)

	failed := make(chan error, 2)
	go func() {
		if err := cs.server.Start(); err != nil {
			failed <- fmt.Errorf("websocket server failed: %w", err)
		}
	}()
	go func() {
		if err := cs.api.Start(); err != nil {
			failed <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-failed:
	}
	cs.Shutdown()
	return err
}

func (cs *CentralSystem) Shutdown() {
	cs.stopOnce.Do(cs.shutdown)
}

func (cs *CentralSystem) shutdown() {
	if cs.cancel != nil {
		cs.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := cs.server.Shutdown(ctx); err != nil {
		cs.logger.Error("websocket server shutdown", err)
	}
	if err := cs.api.Shutdown(ctx); err != nil {
		cs.logger.Error("api server shutdown", err)
	}
	cs.registry.CloseAll()
	cs.bus.Close()
	cs.messageLog.Close()
	if cs.presence != nil {
		if err := cs.presence.Close(); err != nil {
			cs.logger.Error("redis close", err)
		}
	}
	if cs.pusher != nil {
		cs.pusher.Close()
	}
	if cs.tariffs != nil {
		cs.tariffs.Close()
	}
}

func (cs *CentralSystem) OnConnect(identity string, socket registry.Socket, protocol string) *registry.Connection {
	return cs.registry.Register(identity, socket, protocol)
}

func (cs *CentralSystem) OnDisconnect(conn *registry.Connection, err error) {
	cs.registry.MarkDisconnected(conn, registry.ReasonSocketClosed)
}

// OnMessage handles one inbound frame. Anomalies are answered or logged, the
// connection is never dropped because of its content.
func (cs *CentralSystem) OnMessage(conn *registry.Connection, data []byte) {
	cs.logger.RawDataEvent("IN", string(data))
	cs.registry.Touch(conn)
	chargePointId := conn.Identity()

	envelope, err := ocpp.Decode(data)
	if err != nil {
		cs.logger.Warn(fmt.Sprintf("%s: %v", chargePointId, err))
		cs.messageLog.Append(&models.LogEntry{
			ChargePointId: chargePointId,
			Direction:     models.DirectionIn,
			MessageType:   models.MessageTypeMalformed,
			MessageId:     ocpp.PeekUniqueId(data),
			Payload:       rawPayload(data),
		})
		return
	}

	switch message := envelope.(type) {
	case *ocpp.Call:
		cs.logIncoming(chargePointId, message, message.Action, message.Payload)
		cs.handleCall(conn, message)
	case *ocpp.CallResult:
		cs.logIncoming(chargePointId, message, "", message.Payload)
		cs.dispatcher.OnCallResult(conn, message)
	case *ocpp.CallError:
		cs.logIncoming(chargePointId, message, "", callErrorPayload(message))
		cs.errors.OnError(&errorlistener.ErrorData{
			ChargePointId: chargePointId,
			Direction:     string(models.DirectionIn),
			Code:          message.ErrorCode,
			Description:   message.ErrorDescription,
			Time:          time.Now(),
		})
		cs.dispatcher.OnCallError(conn, message)
	}
}

func (cs *CentralSystem) handleCall(conn *registry.Connection, call *ocpp.Call) {
	version := conn.Protocol()
	if code, ok := admit(conn.State(), version, call.Action); !ok {
		cs.logger.FeatureEvent(call.Action, conn.Identity(), fmt.Sprintf("refused in state %s: %s", conn.State(), code))
		cs.replyError(conn, call, code, fmt.Sprintf("%s not accepted in state %s", call.Action, conn.State()))
		return
	}

	request, err := ocpp.ParseRequest(version, call.Action, call.Payload)
	if err != nil {
		cs.logger.Warn(fmt.Sprintf("%s: %s: %v", conn.Identity(), call.Action, err))
		cs.replyError(conn, call, ocpp.FormationViolation, err.Error())
		return
	}

	response, err := cs.handler.Handle(conn, request)
	if err != nil {
		cs.logger.Error(fmt.Sprintf("handling %s from %s", call.Action, conn.Identity()), err)
		code := ocpp.InternalError
		if errors.Is(err, ocpp.ErrUnknownAction) {
			code = ocpp.NotImplemented
		}
		cs.replyError(conn, call, code, err.Error())
		return
	}
	cs.advance(conn, call.Action)

	result, err := ocpp.NewCallResult(call.UniqueId, response)
	if err != nil {
		cs.logger.Error("encode response", err)
		cs.replyError(conn, call, ocpp.InternalError, "response encoding failed")
		return
	}
	cs.send(conn, result, call.Action, result.Payload)
}

func (cs *CentralSystem) replyError(conn *registry.Connection, call *ocpp.Call, code ocpp.ErrorCode, description string) {
	callError := ocpp.NewCallError(call.UniqueId, code, description)
	cs.errors.OnError(&errorlistener.ErrorData{
		ChargePointId: conn.Identity(),
		Direction:     string(models.DirectionOut),
		Code:          string(code),
		Description:   description,
		Time:          time.Now(),
	})
	cs.send(conn, callError, call.Action, callErrorPayload(callError))
}

func (cs *CentralSystem) send(conn *registry.Connection, envelope ocpp.Envelope, action string, payload json.RawMessage) {
	data, err := ocpp.Encode(envelope)
	if err != nil {
		cs.logger.Error("encode envelope", err)
		return
	}
	if err = cs.registry.Send(conn, data); err != nil {
		cs.logger.FeatureEvent(action, conn.Identity(), fmt.Sprintf("response not sent: %v", err))
		return
	}
	cs.logger.RawDataEvent("OUT", string(data))
	cs.messageLog.Append(&models.LogEntry{
		ChargePointId: conn.Identity(),
		Direction:     models.DirectionOut,
		MessageType:   envelope.GetMessageType().String(),
		Action:        action,
		MessageId:     envelope.GetUniqueId(),
		Payload:       payload,
	})
}

func (cs *CentralSystem) logIncoming(chargePointId string, envelope ocpp.Envelope, action string, payload json.RawMessage) {
	cs.messageLog.Append(&models.LogEntry{
		ChargePointId: chargePointId,
		Direction:     models.DirectionIn,
		MessageType:   envelope.GetMessageType().String(),
		Action:        action,
		MessageId:     envelope.GetUniqueId(),
		Payload:       payload,
	})
}

func callErrorPayload(callError *ocpp.CallError) json.RawMessage {
	details := callError.ErrorDetails
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	payload, _ := json.Marshal(struct {
		ErrorCode        string          `json:"errorCode"`
		ErrorDescription string          `json:"errorDescription"`
		ErrorDetails     json.RawMessage `json:"errorDetails"`
	}{callError.ErrorCode, callError.ErrorDescription, details})
	return payload
}

// rawPayload keeps a frame that is not valid JSON as a JSON string
func rawPayload(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
