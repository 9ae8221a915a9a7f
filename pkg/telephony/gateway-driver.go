package telephony

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ============================================
// GATEWAY DRIVER
// WebSocket line to the SIP/telephony gateway
// ============================================

const (
	gatewayReadTimeout  = 60 * time.Second
	gatewayWriteTimeout = 10 * time.Second
	gatewayPingInterval = 30 * time.Second
)

// gatewayEvent is a message from the gateway about a call leg.
type gatewayEvent struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Caller string `json:"caller"`
}

// gatewayCommand is a command sent back to the gateway for a call leg.
type gatewayCommand struct {
	Command string `json:"command"`
	CallID  string `json:"call_id"`
}

// GatewayDriver accepts WebSocket connections from the telephony gateway
// and feeds incoming-call events to the session manager. Call commands
// (ringing, answer, hangup) travel back over the same connection.
type GatewayDriver struct {
	manager  *Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewGatewayDriver creates a driver bound to a session manager.
func NewGatewayDriver(manager *Manager, logger *zap.Logger) *GatewayDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayDriver{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and serves gateway traffic until
// the connection drops. Any calls still open when the connection dies are
// marked disconnected so their sessions wind down.
func (d *GatewayDriver) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Error("gateway upgrade failed", zap.Error(err))
		return
	}

	d.logger.Info("gateway connected", zap.String("remote", conn.RemoteAddr().String()))

	gw := &gatewayConn{
		conn:   conn,
		driver: d,
		calls:  make(map[string]*gatewayCall),
		done:   make(chan struct{}),
	}

	go gw.keepalive()
	gw.readPump()
}

// gatewayConn is one live gateway connection and the call legs it owns.
type gatewayConn struct {
	conn   *websocket.Conn
	driver *GatewayDriver

	writeMu sync.Mutex

	mu    sync.Mutex
	calls map[string]*gatewayCall

	done     chan struct{}
	doneOnce sync.Once
}

// readPump consumes gateway events until the connection fails.
func (gw *gatewayConn) readPump() {
	defer gw.close()

	gw.conn.SetReadDeadline(time.Now().Add(gatewayReadTimeout))
	gw.conn.SetPingHandler(func(string) error {
		gw.conn.SetReadDeadline(time.Now().Add(gatewayReadTimeout))
		return gw.writeControl(websocket.PongMessage)
	})
	gw.conn.SetPongHandler(func(string) error {
		gw.conn.SetReadDeadline(time.Now().Add(gatewayReadTimeout))
		return nil
	})

	for {
		_, data, err := gw.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				gw.driver.logger.Warn("gateway read error", zap.Error(err))
			}
			return
		}
		gw.conn.SetReadDeadline(time.Now().Add(gatewayReadTimeout))

		var evt gatewayEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			gw.driver.logger.Warn("malformed gateway event", zap.Error(err))
			continue
		}
		gw.handleEvent(evt)
	}
}

func (gw *gatewayConn) handleEvent(evt gatewayEvent) {
	switch evt.Event {
	case "incoming":
		call := &gatewayCall{id: evt.CallID, gw: gw}
		gw.mu.Lock()
		gw.calls[evt.CallID] = call
		gw.mu.Unlock()

		gw.driver.manager.OnIncomingCall(call, evt.Caller)

	case "disconnected":
		gw.mu.Lock()
		call := gw.calls[evt.CallID]
		delete(gw.calls, evt.CallID)
		gw.mu.Unlock()

		if call != nil {
			call.disconnected.Store(true)
		}

	default:
		gw.driver.logger.Debug("ignoring gateway event", zap.String("event", evt.Event))
	}
}

// keepalive pings the gateway so half-open connections get noticed.
func (gw *gatewayConn) keepalive() {
	ticker := time.NewTicker(gatewayPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gw.done:
			return
		case <-ticker.C:
			if err := gw.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (gw *gatewayConn) writeControl(messageType int) error {
	gw.writeMu.Lock()
	defer gw.writeMu.Unlock()
	return gw.conn.WriteControl(messageType, nil, time.Now().Add(gatewayWriteTimeout))
}

func (gw *gatewayConn) writeCommand(cmd gatewayCommand) error {
	gw.writeMu.Lock()
	defer gw.writeMu.Unlock()

	gw.conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	return gw.conn.WriteJSON(cmd)
}

// close tears down the connection. Legs still open are marked
// disconnected so their sessions stop waiting on a dead line.
func (gw *gatewayConn) close() {
	gw.doneOnce.Do(func() {
		close(gw.done)

		gw.mu.Lock()
		for _, call := range gw.calls {
			call.disconnected.Store(true)
		}
		gw.calls = make(map[string]*gatewayCall)
		gw.mu.Unlock()

		gw.conn.Close()
		gw.driver.logger.Info("gateway disconnected")
	})
}

// gatewayCall is one call leg on a gateway connection. It satisfies
// CallControl by sending commands over the shared socket.
type gatewayCall struct {
	id           string
	gw           *gatewayConn
	disconnected atomic.Bool
}

func (c *gatewayCall) SendRinging() error {
	return c.gw.writeCommand(gatewayCommand{Command: "ringing", CallID: c.id})
}

func (c *gatewayCall) Answer() error {
	return c.gw.writeCommand(gatewayCommand{Command: "answer", CallID: c.id})
}

func (c *gatewayCall) Hangup() error {
	return c.gw.writeCommand(gatewayCommand{Command: "hangup", CallID: c.id})
}

func (c *gatewayCall) RemoteDisconnected() bool {
	return c.disconnected.Load()
}
