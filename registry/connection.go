package registry

import (
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateConnected    State = "Connected"
	StateBooted       State = "Booted"
	StateActive       State = "Active"
	StateDisconnected State = "Disconnected"
)

var ErrConnectionClosed = errors.New("connection closed")

// Socket is the transport end of one station connection
type Socket interface {
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

type BootInfo struct {
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

type Connection struct {
	identity    string
	sessionId   string
	protocol    string
	socket      Socket
	connectedAt time.Time

	mutex           sync.Mutex
	writeMutex      sync.Mutex
	state           State
	closed          bool
	lastHeartbeatAt time.Time
	lastMessageAt   time.Time
	disconnectedAt  time.Time
	reason          string
	bootInfo        BootInfo
	connectors      map[int]string
}

type Summary struct {
	ChargePointId   string         `json:"charge_point_id"`
	SessionId       string         `json:"session_id"`
	Protocol        string         `json:"protocol"`
	State           State          `json:"state"`
	IsConnected     bool           `json:"is_connected"`
	RemoteAddr      string         `json:"remote_addr"`
	ConnectedAt     time.Time      `json:"connected_at"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	LastMessageAt   time.Time      `json:"last_message_at"`
	DisconnectedAt  *time.Time     `json:"disconnected_at,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	BootInfo        BootInfo       `json:"boot_info"`
	Connectors      map[int]string `json:"connectors"`
}

func (c *Connection) Identity() string {
	return c.identity
}

func (c *Connection) SessionId() string {
	return c.sessionId
}

func (c *Connection) Protocol() string {
	return c.protocol
}

func (c *Connection) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *Connection) IsClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *Connection) BootInfo() BootInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bootInfo
}

func (c *Connection) ConnectorStatus(connectorId int) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	status, ok := c.connectors[connectorId]
	return status, ok
}

// alive must be called with the mutex held
func (c *Connection) alive(now time.Time, timeout time.Duration) bool {
	return !c.closed && now.Sub(c.lastMessageAt) <= timeout
}

func (c *Connection) summary(now time.Time, timeout time.Duration) Summary {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := Summary{
		ChargePointId:   c.identity,
		SessionId:       c.sessionId,
		Protocol:        c.protocol,
		State:           c.state,
		IsConnected:     c.alive(now, timeout),
		RemoteAddr:      c.socket.RemoteAddr(),
		ConnectedAt:     c.connectedAt,
		LastHeartbeatAt: c.lastHeartbeatAt,
		LastMessageAt:   c.lastMessageAt,
		Reason:          c.reason,
		BootInfo:        c.bootInfo,
		Connectors:      make(map[int]string, len(c.connectors)),
	}
	if c.closed {
		disconnectedAt := c.disconnectedAt
		s.DisconnectedAt = &disconnectedAt
	}
	for id, status := range c.connectors {
		s.Connectors[id] = status
	}
	return s
}

// send writes one frame; frames of a connection never interleave
func (c *Connection) send(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.socket.WriteMessage(data)
}
