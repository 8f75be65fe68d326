package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"evcsms/events"
	"evcsms/internal"
	"evcsms/utility"
)

const featureName = "Registry"

const (
	ReasonSuperseded       = "superseded"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonSocketClosed     = "socket closed"
	ReasonShutdown         = "shutdown"
	ReasonWriteFailed      = "write failed"
)

type Publisher interface {
	Publish(event events.Event)
}

type Stats struct {
	Total        int            `json:"total"`
	Connected    int            `json:"connected"`
	Disconnected int            `json:"disconnected"`
	ByVersion    map[string]int `json:"by_version"`
}

type Registry struct {
	mutex            sync.RWMutex
	connections      map[string]*Connection
	identityLocks    sync.Map
	publisher        Publisher
	logger           internal.LogHandler
	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	retention        time.Duration
	now              func() time.Time
}

func New(publisher Publisher, logger internal.LogHandler, heartbeatTimeout, sweepInterval, retention time.Duration) *Registry {
	return &Registry{
		connections:      make(map[string]*Connection),
		publisher:        publisher,
		logger:           logger,
		heartbeatTimeout: heartbeatTimeout,
		sweepInterval:    sweepInterval,
		retention:        retention,
		now:              time.Now,
	}
}

func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) HeartbeatTimeout() time.Duration {
	return r.heartbeatTimeout
}

// Register installs a new session for the identity; a live session of the same
// identity is closed first and reported as superseded
func (r *Registry) Register(identity string, socket Socket, protocol string) *Connection {
	now := r.now()
	conn := &Connection{
		identity:        identity,
		sessionId:       utility.NewUUID(),
		protocol:        protocol,
		socket:          socket,
		connectedAt:     now,
		state:           StateConnected,
		lastHeartbeatAt: now,
		lastMessageAt:   now,
		connectors:      make(map[int]string),
	}

	lock := r.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	r.mutex.Lock()
	old := r.connections[identity]
	r.connections[identity] = conn
	r.mutex.Unlock()

	if old != nil {
		r.close(old, ReasonSuperseded)
	}
	r.logger.FeatureEvent(featureName, identity, fmt.Sprintf("connected: %s; session %s; %s", protocol, conn.sessionId, socket.RemoteAddr()))
	r.publish(events.Event{
		Kind:          events.Connected,
		ChargePointId: identity,
		SessionId:     conn.sessionId,
		Protocol:      protocol,
		Time:          now,
	})
	return conn
}

// identityLock orders the registrations of one identity without blocking the others
func (r *Registry) identityLock(identity string) *sync.Mutex {
	lock, _ := r.identityLocks.LoadOrStore(identity, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (r *Registry) Get(identity string) *Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.connections[identity]
}

// IsConnected reports whether the connection is open and heard from within the heartbeat timeout
func (r *Registry) IsConnected(conn *Connection) bool {
	if conn == nil {
		return false
	}
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.alive(r.now(), r.heartbeatTimeout)
}

// Online returns the live connection of the identity or nil
func (r *Registry) Online(identity string) *Connection {
	conn := r.Get(identity)
	if !r.IsConnected(conn) {
		return nil
	}
	return conn
}

func (r *Registry) snapshot() []*Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	list := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		list = append(list, conn)
	}
	return list
}

// List returns summaries of all known connections, including recently disconnected ones
func (r *Registry) List() []Summary {
	now := r.now()
	list := make([]Summary, 0)
	for _, conn := range r.snapshot() {
		list = append(list, conn.summary(now, r.heartbeatTimeout))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ChargePointId < list[j].ChargePointId
	})
	return list
}

func (r *Registry) ListConnected() []Summary {
	list := make([]Summary, 0)
	for _, s := range r.List() {
		if s.IsConnected {
			list = append(list, s)
		}
	}
	return list
}

func (r *Registry) Summary(identity string) (Summary, bool) {
	conn := r.Get(identity)
	if conn == nil {
		return Summary{}, false
	}
	return conn.summary(r.now(), r.heartbeatTimeout), true
}

func (r *Registry) Stats() Stats {
	stats := Stats{ByVersion: make(map[string]int)}
	for _, s := range r.List() {
		stats.Total++
		if s.IsConnected {
			stats.Connected++
			stats.ByVersion[s.Protocol]++
		} else {
			stats.Disconnected++
		}
	}
	return stats
}

// Touch records inbound activity on the connection
func (r *Registry) Touch(conn *Connection) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.lastMessageAt = r.now()
}

func (r *Registry) TouchHeartbeat(conn *Connection) {
	now := r.now()
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.lastHeartbeatAt = now
	conn.lastMessageAt = now
}

// SetState moves the session to the given state; a closed session stays Disconnected
func (r *Registry) SetState(conn *Connection, state State) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed || conn.state == state {
		return
	}
	conn.state = state
}

// SetBootInfo stores the station description and moves the session to Booted
func (r *Registry) SetBootInfo(conn *Connection, info BootInfo) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed {
		return
	}
	conn.bootInfo = info
	conn.state = StateBooted
	r.publish(events.Event{
		Kind:          events.Booted,
		ChargePointId: conn.identity,
		SessionId:     conn.sessionId,
		Protocol:      conn.protocol,
		Time:          r.now(),
	})
}

// RejectBoot reports a refused registration; the session stays in its current state
func (r *Registry) RejectBoot(conn *Connection, reason string) {
	r.publish(events.Event{
		Kind:          events.BootRejected,
		ChargePointId: conn.identity,
		SessionId:     conn.sessionId,
		Protocol:      conn.protocol,
		Reason:        reason,
		Time:          r.now(),
	})
}

// UpdateConnectorStatus stores the connector status; errorCode and info are passed on with the event
func (r *Registry) UpdateConnectorStatus(conn *Connection, connectorId int, status, errorCode, info string) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed {
		return
	}
	conn.connectors[connectorId] = status
	r.publish(events.Event{
		Kind:          events.StatusChanged,
		ChargePointId: conn.identity,
		SessionId:     conn.sessionId,
		Protocol:      conn.protocol,
		ConnectorId:   connectorId,
		Status:        status,
		ErrorCode:     errorCode,
		Reason:        info,
		Time:          r.now(),
	})
}

// Send writes one frame; a failed write leaves the socket unusable, so the session is closed
func (r *Registry) Send(conn *Connection, data []byte) error {
	err := conn.send(data)
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		return err
	}
	r.close(conn, ReasonWriteFailed)
	return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
}

// MarkDisconnected is called when the transport of the connection has gone away
func (r *Registry) MarkDisconnected(conn *Connection, reason string) {
	r.close(conn, reason)
}

// Close closes the socket of the connection and reports it disconnected
func (r *Registry) Close(conn *Connection, reason string) {
	r.close(conn, reason)
}

// close marks the session under its mutex and releases it before touching the socket
func (r *Registry) close(conn *Connection, reason string) {
	conn.mutex.Lock()
	if conn.closed {
		conn.mutex.Unlock()
		return
	}
	now := r.now()
	conn.closed = true
	conn.state = StateDisconnected
	conn.disconnectedAt = now
	conn.reason = reason
	conn.mutex.Unlock()

	if err := conn.socket.Close(); err != nil {
		r.logger.Debug(fmt.Sprintf("close socket %s: %v", conn.identity, err))
	}
	r.logger.FeatureEvent(featureName, conn.identity, fmt.Sprintf("disconnected: %s; session %s", reason, conn.sessionId))
	r.publish(events.Event{
		Kind:          events.Disconnected,
		ChargePointId: conn.identity,
		SessionId:     conn.sessionId,
		Protocol:      conn.protocol,
		Reason:        reason,
		Time:          now,
	})
}

// Sweep closes silent connections and evicts disconnected entries past retention
func (r *Registry) Sweep() {
	now := r.now()
	for _, conn := range r.snapshot() {
		conn.mutex.Lock()
		closed := conn.closed
		silent := !closed && now.Sub(conn.lastMessageAt) > r.heartbeatTimeout
		expired := closed && now.Sub(conn.disconnectedAt) > r.retention
		conn.mutex.Unlock()

		if silent {
			r.close(conn, ReasonHeartbeatTimeout)
			continue
		}
		if expired {
			r.mutex.Lock()
			if r.connections[conn.identity] == conn {
				delete(r.connections, conn.identity)
			}
			r.mutex.Unlock()
		}
	}
}

func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// CloseAll closes every open connection
func (r *Registry) CloseAll() {
	for _, conn := range r.snapshot() {
		r.close(conn, ReasonShutdown)
	}
}

func (r *Registry) publish(event events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(event)
	}
}
