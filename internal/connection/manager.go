package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Envelope is the wire frame: an event name plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Handler func(data json.RawMessage)

// StatusEvent describes a connection transition. Err is set when a connect
// attempt failed; Reason carries the close reason of a dropped connection.
type StatusEvent struct {
	Status Status
	Err    string
	Reason string
}

type StatusHandler func(ev StatusEvent)

// EventUserOnline announces the authenticated user after a successful
// connect so the server can route room-scoped events to this connection.
const EventUserOnline = "user-online"

var (
	ErrNoToken      = errors.New("no auth token")
	ErrNotConnected = errors.New("not connected")
)

type Options struct {
	URL            string
	Token          string
	UserID         string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
}

// Manager owns a single websocket connection and a registry of event
// listeners that survives reconnects. It is constructed once at the
// composition root and passed to every consumer.
type Manager struct {
	opts Options

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	status     Status
	gen        int
	handlers   map[string]map[int]Handler
	statusSubs map[int]StatusHandler
	nextID     int
	reconnect  *time.Timer
}

func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Manager{
		opts:       opts,
		handlers:   map[string]map[int]Handler{},
		statusSubs: map[int]StatusHandler{},
	}
}

// Get returns the live connection handle, or nil when there is none or no
// auth token is configured. It never blocks.
func (m *Manager) Get() *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.Token == "" {
		return nil
	}
	return m.conn
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Init establishes the connection if none exists. It is idempotent: a live
// connection or an in-flight connect attempt makes it a no-op.
func (m *Manager) Init() error {
	m.mu.Lock()
	if m.conn != nil || m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	if m.opts.Token == "" {
		m.mu.Unlock()
		return ErrNoToken
	}
	m.status = StatusConnecting
	m.mu.Unlock()
	m.emitStatus(StatusEvent{Status: StatusConnecting})

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.opts.Token)

	conn, resp, err := dialer.Dial(m.opts.URL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		m.mu.Lock()
		m.status = StatusDisconnected
		m.mu.Unlock()
		log.Printf("connection: connect to %s failed: %v", m.opts.URL, err)
		m.emitStatus(StatusEvent{Status: StatusDisconnected, Err: err.Error()})
		return fmt.Errorf("connect %s: %w", m.opts.URL, err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.conn = conn
	m.status = StatusConnected
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	if m.opts.UserID != "" {
		if err := m.Emit(EventUserOnline, m.opts.UserID); err != nil {
			log.Printf("connection: presence announce failed: %v", err)
		}
	}
	m.emitStatus(StatusEvent{Status: StatusConnected})
	return nil
}

// Reconnect tears down the current connection and dials again. Used by
// callers that detected a broken but not-yet-recovered connection.
func (m *Manager) Reconnect() error {
	m.Disconnect()
	return m.Init()
}

// Disconnect releases the connection. Get returns nil afterwards until Init
// is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++ // orphan the read loop
	m.status = StatusDisconnected
	m.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
	m.emitStatus(StatusEvent{Status: StatusDisconnected, Reason: "client disconnect"})
}

// Emit sends one event envelope. It fails fast when no connection exists;
// queueing while offline is the caller's concern.
func (m *Manager) Emit(event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// On registers a listener for one event name. The registration survives
// reconnects; it lasts until the returned subscription is cancelled.
func (m *Manager) On(event string, fn Handler) *Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.handlers[event] == nil {
		m.handlers[event] = map[int]Handler{}
	}
	m.handlers[event][id] = fn
	m.mu.Unlock()

	return NewSubscription(func() {
		m.mu.Lock()
		if set, ok := m.handlers[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.handlers, event)
			}
		}
		m.mu.Unlock()
	})
}

// OnStatus registers a listener for connection transitions.
func (m *Manager) OnStatus(fn StatusHandler) *Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.statusSubs[id] = fn
	m.mu.Unlock()

	return NewSubscription(func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	})
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, gen, err)
			return
		}

		var env Envelope
		if uerr := json.Unmarshal(payload, &env); uerr != nil || env.Event == "" {
			log.Printf("connection: dropping malformed frame: %v", uerr)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env Envelope) {
	m.mu.Lock()
	fns := make([]Handler, 0, len(m.handlers[env.Event]))
	for _, fn := range m.handlers[env.Event] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(env.Data)
	}
}

func (m *Manager) handleDrop(conn *websocket.Conn, gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		// Disconnect already took over this connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.status = StatusDisconnected

	// Only a server-initiated disconnect gets one delayed reconnect attempt
	// at this layer; everything else is left to the consumers.
	if websocket.IsCloseError(err, websocket.CloseGoingAway) && m.reconnect == nil {
		m.reconnect = time.AfterFunc(m.opts.ReconnectDelay, func() {
			m.mu.Lock()
			m.reconnect = nil
			m.mu.Unlock()
			if ierr := m.Init(); ierr != nil {
				log.Printf("connection: scheduled reconnect failed: %v", ierr)
			}
		})
	}
	m.mu.Unlock()

	conn.Close()
	log.Printf("connection: dropped: %v", err)
	m.emitStatus(StatusEvent{Status: StatusDisconnected, Reason: closeReason(err)})
}

func (m *Manager) emitStatus(ev StatusEvent) {
	m.mu.Lock()
	fns := make([]StatusHandler, 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("close %d", ce.Code)
	}
	return "transport close"
}
