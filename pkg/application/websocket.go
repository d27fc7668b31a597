package application

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var (
	ErrConnectionClosed = serrors.NewError("WS_CONNECTION_CLOSED", "websocket connection closed", "")
	ErrSlowConsumer     = serrors.NewError("WS_SLOW_CONSUMER", "websocket send buffer is full", "")
)

type HuberOptions struct {
	Logger      *logrus.Logger
	CheckOrigin func(r *http.Request) bool
	// OnConnect runs after the upgrade and before the connection joins its
	// channels. Returning an error closes the connection.
	OnConnect func(r *http.Request, conn *Connection) error
}

type WsCallback func(ctx context.Context, conn *Connection) error

// Huber fans messages out to websocket connections grouped by channel.
type Huber interface {
	http.Handler
	ServeChannel(w http.ResponseWriter, r *http.Request, channels ...string) error
	Broadcast(channel string, message []byte) int
	ForEach(channel string, f WsCallback) error
	ConnectionsInChannel(channel string) int
}

// Connection is one upgraded client. Writes go through a buffered queue
// drained by a single writer goroutine.
type Connection struct {
	conn *websocket.Conn
	ctx  context.Context
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Context carries the request values (localizer, logger) captured at upgrade.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) SendMessage(message []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *Connection) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func NewHub(opts *HuberOptions) Huber {
	var logger *logrus.Entry
	if opts.Logger != nil {
		logger = logrus.NewEntry(opts.Logger).WithField("component", "ws")
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &huber{
		logger:    logging.OrNop(logger),
		onConnect: opts.OnConnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		channels: make(map[string]map[*Connection]struct{}),
	}
}

type huber struct {
	logger    *logrus.Entry
	onConnect func(r *http.Request, conn *Connection) error
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]map[*Connection]struct{}
}

// ServeHTTP subscribes to the channels listed in the "channel" query values.
func (h *huber) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.ServeChannel(w, r, r.URL.Query()["channel"]...); err != nil {
		h.logger.WithError(err).Debug("ws: connection ended")
	}
}

// ServeChannel upgrades the request and blocks until the client goes away.
func (h *huber) ServeChannel(w http.ResponseWriter, r *http.Request, channels ...string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := &Connection{
		conn: ws,
		ctx:  context.WithoutCancel(r.Context()),
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	if h.onConnect != nil {
		if err := h.onConnect(r, conn); err != nil {
			_ = ws.Close()
			return err
		}
	}
	h.join(conn, channels)
	defer h.leave(conn, channels)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn)
	}()
	err = h.readPump(conn)
	_ = conn.Close()
	<-writerDone
	return err
}

func (h *huber) join(conn *Connection, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		set, ok := h.channels[ch]
		if !ok {
			set = make(map[*Connection]struct{})
			h.channels[ch] = set
		}
		set[conn] = struct{}{}
	}
}

func (h *huber) leave(conn *Connection, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		delete(h.channels[ch], conn)
		if len(h.channels[ch]) == 0 {
			delete(h.channels, ch)
		}
	}
}

// readPump only tracks liveness; clients do not send commands over the socket.
func (h *huber) readPump(conn *Connection) error {
	ws := conn.conn
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

func (h *huber) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	ws := conn.conn
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case msg := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.WithError(err).Debug("ws: write failed")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *huber) connections(channel string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.channels[channel]
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *huber) ConnectionsInChannel(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *huber) ForEach(channel string, f WsCallback) error {
	for _, conn := range h.connections(channel) {
		if err := f(conn.ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast queues message on every connection of channel and returns how
// many accepted it.
func (h *huber) Broadcast(channel string, message []byte) int {
	sent := 0
	for _, conn := range h.connections(channel) {
		if err := conn.SendMessage(message); err != nil {
			h.logger.WithError(err).WithField("channel", channel).Debug("ws: message dropped")
			continue
		}
		sent++
	}
	return sent
}
