// Package testserver is an in-process stand-in for the tracking backend.
// It speaks the same REST routes and websocket events as the real server and
// is consumed by the connection and tracking package tests.
package testserver

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Carrier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Shipment struct {
	Active  bool
	Last    *Location
	History []Location
	Company *Carrier
	ETA     string
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
}

type Server struct {
	App *fiber.App

	ln net.Listener

	mu           sync.Mutex
	shipments    map[string]*Shipment
	clients      map[*client]struct{}
	online       []string
	joins        []string
	leaves       []string
	failSnapshot bool
	failCommands bool
}

func New() *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	s := &Server{
		App:       app,
		shipments: map[string]*Shipment{},
		clients:   map[*client]struct{}{},
	}
	s.registerRoutes()
	return s
}

// Start listens on an ephemeral port and returns the HTTP base URL and the
// websocket URL.
func (s *Server) Start() (apiURL, wsURL string, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", err
	}
	s.ln = ln
	go func() {
		_ = s.App.Listener(ln)
	}()
	addr := ln.Addr().String()
	return "http://" + addr, "ws://" + addr + "/socket", nil
}

func (s *Server) Stop() {
	_ = s.App.Shutdown()
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

func (s *Server) registerRoutes() {
	shipments := s.App.Group("/shipments")

	shipments.Get("/:id/tracking", func(c *fiber.Ctx) error {
		s.mu.Lock()
		fail := s.failSnapshot
		sh := s.shipmentLocked(c.Params("id"))
		snapshot := fiber.Map{
			"isTrackingActive": sh.Active,
			"lastLocation":     sh.Last,
			"locationHistory":  sh.History,
			"logisticsCompany": sh.Company,
			"eta":              sh.ETA,
		}
		s.mu.Unlock()

		if fail {
			return c.Status(fiber.StatusInternalServerError).
				JSON(fiber.Map{"success": false, "message": "snapshot unavailable"})
		}
		return c.JSON(fiber.Map{"success": true, "tracking": snapshot})
	})

	shipments.Post("/:id/start-tracking", func(c *fiber.Ctx) error {
		return s.setActive(c, true, "trackingStarted")
	})

	shipments.Post("/:id/stop-tracking", func(c *fiber.Ctx) error {
		return s.setActive(c, false, "trackingStopped")
	})

	shipments.Post("/:id/location", func(c *fiber.Ctx) error {
		var loc Location
		if err := c.BodyParser(&loc); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		s.mu.Lock()
		if s.failCommands {
			s.mu.Unlock()
			return fiber.NewError(fiber.StatusInternalServerError, "location rejected")
		}
		id := c.Params("id")
		if loc.Timestamp.IsZero() {
			loc.Timestamp = time.Now()
		}
		sh := s.shipmentLocked(id)
		sh.Last = &loc
		sh.History = append(sh.History, loc)
		s.mu.Unlock()

		s.Broadcast(id, "locationUpdate", fiber.Map{"shipmentId": id, "location": loc})
		return c.SendStatus(fiber.StatusOK)
	})

	s.App.Get("/socket", websocket.New(s.handleSocket))
}

func (s *Server) setActive(c *fiber.Ctx, active bool, event string) error {
	s.mu.Lock()
	if s.failCommands {
		s.mu.Unlock()
		return fiber.NewError(fiber.StatusInternalServerError, "command rejected")
	}
	id := c.Params("id")
	s.shipmentLocked(id).Active = active
	s.mu.Unlock()

	s.Broadcast(id, event, fiber.Map{"shipmentId": id})
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleSocket(conn *websocket.Conn) {
	cl := &client{
		conn:  conn,
		send:  make(chan []byte, 64),
		rooms: map[string]bool{},
	}

	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		s.mu.Unlock()
		close(cl.send)
	}()

	done := make(chan struct{})
	go func() {
		for msg := range cl.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		close(done)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env envelope
		if json.Unmarshal(payload, &env) != nil {
			continue
		}
		s.handleEvent(cl, env)
	}
	<-done
}

func (s *Server) handleEvent(cl *client, env envelope) {
	var id string
	_ = json.Unmarshal(env.Data, &id)

	switch env.Event {
	case "user-online":
		s.mu.Lock()
		s.online = append(s.online, id)
		s.mu.Unlock()
	case "join-shipment-tracking":
		s.mu.Lock()
		cl.rooms[id] = true
		s.joins = append(s.joins, id)
		sh := s.shipmentLocked(id)
		status := fiber.Map{"isTrackingActive": sh.Active, "lastLocation": sh.Last}
		s.mu.Unlock()
		s.sendTo(cl, "tracking-status", status)
	case "leave-shipment-tracking":
		s.mu.Lock()
		delete(cl.rooms, id)
		s.leaves = append(s.leaves, id)
		s.mu.Unlock()
	}
}

// Broadcast sends one event to every client joined to the shipment's room.
func (s *Server) Broadcast(shipmentID, event string, data any) {
	payload := mustEnvelope(event, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients {
		if !cl.rooms[shipmentID] {
			continue
		}
		select {
		case cl.send <- payload:
		default:
		}
	}
}

// EmitAll sends one event to every connected client regardless of rooms.
func (s *Server) EmitAll(event string, data any) {
	payload := mustEnvelope(event, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients {
		select {
		case cl.send <- payload:
		default:
		}
	}
}

// KickClients closes every connection with the given close code, simulating
// a server-initiated disconnect.
func (s *Server) KickClients(code int) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for cl := range s.clients {
		conns = append(conns, cl.conn)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, "server closing"), deadline)
	}
	// give clients a moment to read the close frame before tearing down TCP
	time.Sleep(100 * time.Millisecond)
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *Server) sendTo(cl *client, event string, data any) {
	select {
	case cl.send <- mustEnvelope(event, data):
	default:
	}
}

func (s *Server) SetShipment(id string, sh Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := sh
	s.shipments[id] = &copied
}

func (s *Server) SetFailSnapshot(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSnapshot = fail
}

func (s *Server) SetFailCommands(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommands = fail
}

func (s *Server) OnlineUsers() []string { return s.copyList(&s.online) }

func (s *Server) Joins() []string { return s.copyList(&s.joins) }

func (s *Server) Leaves() []string { return s.copyList(&s.leaves) }

// ClientCount reports how many websocket clients are currently connected.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) copyList(list *[]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(*list))
	copy(out, *list)
	return out
}

func (s *Server) shipmentLocked(id string) *Shipment {
	if s.shipments[id] == nil {
		s.shipments[id] = &Shipment{}
	}
	return s.shipments[id]
}

func mustEnvelope(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	payload, _ := json.Marshal(envelope{Event: event, Data: raw})
	return payload
}
