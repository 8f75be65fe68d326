package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/registry"
	"evcsms/types"
	"evcsms/utility"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsEndpoint   = "/ocpp/ws/:id"
	maxFrameSize = 1 << 20
	closeTimeout = time.Second
)

// ConnectionHandler receives the lifecycle of every upgraded station socket
type ConnectionHandler interface {
	OnConnect(identity string, socket registry.Socket, protocol string) *registry.Connection
	OnMessage(conn *registry.Connection, data []byte)
	OnDisconnect(conn *registry.Connection, err error)
}

type Server struct {
	conf               *config.Config
	httpServer         *http.Server
	upgrader           websocket.Upgrader
	supportedProtocols []string
	handler            ConnectionHandler
	logger             internal.LogHandler
}

// WebSocket implements registry.Socket on top of a gorilla connection
type WebSocket struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration
}

func (ws *WebSocket) ID() string {
	return ws.id
}

// WriteMessage fails once the station has not drained the frame within the write timeout
func (ws *WebSocket) WriteMessage(data []byte) error {
	if ws.writeTimeout > 0 {
		if err := ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout)); err != nil {
			return err
		}
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame before dropping the connection; the peer may already be gone
func (ws *WebSocket) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeTimeout))
	return ws.conn.Close()
}

func (ws *WebSocket) RemoteAddr() string {
	return ws.conn.RemoteAddr().String()
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	server := Server{
		conf:               conf,
		logger:             logger,
		supportedProtocols: []string{types.SubProtocol16, types.SubProtocol201},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &server
}

func (s *Server) SetConnectionHandler(handler ConnectionHandler) {
	s.handler = handler
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
}

// negotiateProtocol picks the first offered sub-protocol we support; a client offering
// nothing is treated as a 1.6 station
func (s *Server) negotiateProtocol(offered []string) (string, bool) {
	if len(offered) == 0 {
		return types.SubProtocol16, true
	}
	for _, proto := range offered {
		if utility.Contains(s.supportedProtocols, proto) {
			return proto, true
		}
	}
	return "", false
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s for %s", r.RemoteAddr, id))
	if id == "" {
		http.Error(w, "missing charge point identity", http.StatusBadRequest)
		return
	}

	offered := websocket.Subprotocols(r)
	protocol, ok := s.negotiateProtocol(offered)
	if !ok {
		s.logger.Warn(fmt.Sprintf("%s: unsupported sub-protocols %v", id, offered))
		http.Error(w, "unsupported sub-protocol", http.StatusBadRequest)
		return
	}

	responseHeader := http.Header{}
	if len(offered) > 0 {
		responseHeader.Add("Sec-WebSocket-Protocol", protocol)
	}
	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.logger.Error("upgrade failed", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	s.logger.Debug(fmt.Sprintf("upgraded socket for %s (%s) and ready to receive data", id, protocol))
	ws := &WebSocket{
		conn:         conn,
		id:           id,
		writeTimeout: s.conf.Ocpp.WriteTimeout,
	}
	session := s.handler.OnConnect(id, ws, protocol)
	go s.messageReader(ws, session)
}

// messageReader processes the frames of one connection in arrival order
func (s *Server) messageReader(ws *WebSocket, session *registry.Connection) {
	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, 3001) {
				s.logger.Debug(fmt.Sprintf("id %s leaving session", ws.id))
			} else {
				s.logger.Debug(fmt.Sprintf("id %s is closing session: %s", ws.id, err))
			}
			s.handler.OnDisconnect(session, err)
			return
		}
		s.handler.OnMessage(session, message)
	}
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	if s.handler == nil {
		return utility.Err("connection handler not set")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		s.logger.Debug("starting https TLS server")
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Debug("starting http server")
		err = s.httpServer.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
