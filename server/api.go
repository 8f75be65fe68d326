package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/metrics"
	"evcsms/models"

	"github.com/julienschmidt/httprouter"
)

const (
	apiEndpoint    = "/api"
	maxRequestBody = 64 << 10
)

// Api exposes the query and command surface over HTTP
type Api struct {
	conf       *config.Config
	httpServer *http.Server
	system     *CentralSystem
	logger     internal.LogHandler
}

type commandRequest struct {
	ConnectorId   int      `json:"connector_id"`
	Type          string   `json:"type"`
	Message       string   `json:"message"`
	Availability  string   `json:"availability"`
	Keys          []string `json:"keys"`
	Key           string   `json:"key"`
	Value         string   `json:"value"`
	IdTag         string   `json:"id_tag"`
	TransactionId string   `json:"transaction_id"`
	ReservationId int      `json:"reservation_id"`
	ExpiryDate    string   `json:"expiry_date"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewApi(conf *config.Config, system *CentralSystem, logger internal.LogHandler) *Api {
	api := Api{
		conf:   conf,
		system: system,
		logger: logger,
	}
	router := httprouter.New()
	api.Register(router)
	api.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", conf.Api.BindIP, conf.Api.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &api
}

func (a *Api) Register(router *httprouter.Router) {
	router.GET(apiEndpoint+"/connections", a.handleConnections)
	router.GET(apiEndpoint+"/connections/:id", a.handleConnection)
	router.GET(apiEndpoint+"/connections/:id/errors", a.handleErrors)
	router.GET(apiEndpoint+"/stats", a.handleStats)
	router.GET(apiEndpoint+"/logs", a.handleLogs)
	router.GET(apiEndpoint+"/logs/:id", a.handleStationLogs)
	router.GET(apiEndpoint+"/message-types", a.handleMessageTypes)
	router.GET(apiEndpoint+"/metrics/:kind", a.handleMetrics)
	router.GET(apiEndpoint+"/transactions", a.handleTransactions)
	router.POST(apiEndpoint+"/transactions/:id/:transaction/stop", a.handleForceStop)
	router.POST(apiEndpoint+"/command/:id/:action", a.handleCommand)
	router.GET(apiEndpoint+"/alerts", a.handleAlerts)
	router.GET(apiEndpoint+"/alerts/stats", a.handleAlertStats)
	router.POST(apiEndpoint+"/alerts/:id/acknowledge", a.handleAcknowledge)
}

func (a *Api) Start() error {
	a.logger.Debug(fmt.Sprintf("api listening on %s", a.httpServer.Addr))
	err := a.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *Api) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *Api) writeJson(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		a.logger.Error("api: encode response", err)
	}
}

func (a *Api) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	a.logger.Warn(fmt.Sprintf("api: %s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err))
	a.writeJson(w, status, errorResponse{Error: err.Error()})
}

func queryInt(r *http.Request, name string) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, value)
	}
	return i, nil
}

func queryTime(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %s", name, value)
	}
	return t, nil
}

func (a *Api) handleConnections(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.URL.Query().Get("connected") == "true" {
		a.writeJson(w, http.StatusOK, a.system.GetActiveConnections())
		return
	}
	a.writeJson(w, http.StatusOK, a.system.GetConnections())
}

func (a *Api) handleConnection(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	summary, err := a.system.GetConnection(r.Context(), params.ByName("id"))
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if summary == nil {
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("charge point %s not found", params.ByName("id")))
		return
	}
	a.writeJson(w, http.StatusOK, summary)
}

func (a *Api) handleErrors(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	a.writeJson(w, http.StatusOK, struct {
		ChargePointId string `json:"charge_point_id"`
		ErrorsToday   int    `json:"errors_today"`
	}{params.ByName("id"), a.system.GetErrorsToday(params.ByName("id"))})
}

func (a *Api) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	a.writeJson(w, http.StatusOK, a.system.GetConnectionStats())
}

func (a *Api) handleLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	query := r.URL.Query()
	filter := models.LogFilter{
		ChargePointId: query.Get("charge_point_id"),
		MessageType:   query.Get("message_type"),
		Direction:     models.Direction(query.Get("direction")),
		Action:        query.Get("action"),
	}
	page, err := a.system.GetLogs(r.Context(), filter, limit, offset)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, page)
}

func (a *Api) handleStationLogs(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	page, err := a.system.GetLogsByStation(r.Context(), params.ByName("id"), limit)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, page)
}

func (a *Api) handleMessageTypes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	messageTypes, err := a.system.GetMessageTypes(r.Context())
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, messageTypes)
}

// handleMetrics serves connection, transaction and message buckets; the range
// defaults to the last 24 hours
func (a *Api) handleMetrics(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	now := time.Now()
	start, err := queryTime(r, "start", now.Add(-24*time.Hour))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	end, err := queryTime(r, "end", now)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	granularity, err := metrics.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var result interface{}
	switch params.ByName("kind") {
	case "connections":
		result, err = a.system.GetConnectionMetrics(start, end, granularity)
	case "transactions":
		result, err = a.system.GetTransactionMetrics(start, end, granularity)
	case "messages":
		result, err = a.system.GetMessageMetrics(start, end, granularity)
	default:
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown metrics %s", params.ByName("kind")))
		return
	}
	if errors.Is(err, metrics.ErrInvalidRange) {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, result)
}

func (a *Api) handleAlerts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	query := r.URL.Query()
	filter := models.AlertFilter{
		ChargePointId:       query.Get("charge_point_id"),
		Severity:            models.AlertSeverity(query.Get("severity")),
		IncludeAcknowledged: query.Get("include_acknowledged") == "true",
	}
	page, err := a.system.GetAlerts(filter, limit, offset)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, page)
}

func (a *Api) handleAlertStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := a.system.GetAlertStats()
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJson(w, http.StatusOK, stats)
}

func (a *Api) handleAcknowledge(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := a.system.AcknowledgeAlert(params.ByName("id"))
	if errors.Is(err, models.ErrAlertNotFound) {
		a.writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Api) handleTransactions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.writeJson(w, http.StatusOK, a.system.GetActiveTransactions(r.URL.Query().Get("charge_point_id")))
}

func (a *Api) handleForceStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	result := a.system.ForceStopTransaction(params.ByName("id"), params.ByName("transaction"))
	a.writeJson(w, commandStatus(result), result)
}

func (a *Api) handleCommand(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var request commandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err = json.Unmarshal(body, &request); err != nil {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("parse command: %w", err))
			return
		}
	}

	identity := params.ByName("id")
	ctx := r.Context()
	var result *CommandResult
	switch params.ByName("action") {
	case "reset":
		result = a.system.SendReset(ctx, identity, request.Type)
	case "unlock":
		result = a.system.SendUnlockConnector(ctx, identity, request.ConnectorId)
	case "trigger":
		result = a.system.SendTriggerMessage(ctx, identity, request.Message, request.ConnectorId)
	case "availability":
		result = a.system.SendChangeAvailability(ctx, identity, request.ConnectorId, request.Availability)
	case "get-configuration":
		result = a.system.SendGetConfiguration(ctx, identity, request.Keys)
	case "change-configuration":
		result = a.system.SendChangeConfiguration(ctx, identity, request.Key, request.Value)
	case "remote-start":
		result = a.system.SendRemoteStart(ctx, identity, request.IdTag, request.ConnectorId)
	case "remote-stop":
		result = a.system.SendRemoteStop(ctx, identity, request.TransactionId)
	case "reserve":
		expiry, err := time.Parse(time.RFC3339, request.ExpiryDate)
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid expiry_date: %s", request.ExpiryDate))
			return
		}
		result = a.system.SendReserveNow(ctx, identity, request.ConnectorId, request.ReservationId, expiry, request.IdTag)
	case "cancel-reservation":
		result = a.system.SendCancelReservation(ctx, identity, request.ReservationId)
	default:
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown command %s", params.ByName("action")))
		return
	}
	a.writeJson(w, commandStatus(result), result)
}

// commandStatus maps a result to the http status; a station rejection is still a delivered answer
func commandStatus(result *CommandResult) int {
	switch result.Error {
	case "", ErrorRejected:
		return http.StatusOK
	case ErrorStationOffline, ErrorConnectionClosed:
		return http.StatusServiceUnavailable
	case ErrorCommandTimeout:
		return http.StatusGatewayTimeout
	case ErrorInvalidRequest, ErrorNotSupported:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
