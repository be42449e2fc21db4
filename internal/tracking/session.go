package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"shiptrack/internal/connection"
	"shiptrack/internal/notify"
)

// Channel is the slice of the connection manager a session depends on. A
// fake implementation substitutes for *connection.Manager in tests.
type Channel interface {
	Init() error
	Status() connection.Status
	Emit(event string, data any) error
	On(event string, fn connection.Handler) *connection.Subscription
	OnStatus(fn connection.StatusHandler) *connection.Subscription
}

var _ Channel = (*connection.Manager)(nil)

var ErrDisposed = errors.New("session disposed")

const reconcileTimeout = 10 * time.Second

type SessionConfig struct {
	HistoryLimit int
	// RetryDelay is the pause before re-running connection init after a
	// connect error.
	RetryDelay time.Duration
}

// Session is the per-shipment tracking state machine. It bootstraps from the
// one-shot snapshot, subscribes to live updates, and is the only writer of
// its tracking state.
type Session struct {
	api      *Client
	channel  Channel
	notifier *notify.Center
	cfg      SessionConfig

	mu         sync.Mutex
	shipmentID string
	state      State
	lastErr    string
	carrier    *Carrier
	eta        string
	lastSample *LocationSample
	history    *History
	connStatus connection.Status
	subs       []*connection.Subscription
	retry      *time.Timer
	joined     bool

	changeSubs map[int]func(TrackingState)
	nextChange int
}

func NewSession(api *Client, channel Channel, notifier *notify.Center, cfg SessionConfig) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &Session{
		api:      api,
		channel:  channel,
		notifier: notifier,
		cfg:      cfg,
		state:    StateUninitialized,
	}
}

// Initialize binds the session to a shipment: snapshot fetch, connection
// init, listener registration, room join — in that order. Re-entry with the
// same shipment id while initialized is a no-op; a different id releases the
// previous subscription first.
func (s *Session) Initialize(ctx context.Context, shipmentID string) error {
	if strings.TrimSpace(shipmentID) == "" {
		return errors.New("shipment id required")
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.shipmentID == shipmentID &&
		(s.state == StateLoading || s.state == StateIdle || s.state == StateActive) {
		s.mu.Unlock()
		return nil
	}
	s.releaseLocked()
	s.shipmentID = shipmentID
	s.state = StateLoading
	s.lastErr = ""
	s.lastSample = nil
	s.carrier = nil
	s.eta = ""
	s.history = NewHistory(s.cfg.HistoryLimit)
	s.mu.Unlock()
	s.notifyChange()

	snap, err := s.api.Snapshot(ctx, shipmentID)
	if err != nil {
		s.fail(shipmentID, "failed to load tracking info")
		return err
	}

	s.mu.Lock()
	if s.state == StateDisposed || s.shipmentID != shipmentID {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.history.Extend(snap.LocationHistory)
	if snap.LastLocation != nil && snap.LastLocation.Valid() {
		cp := *snap.LastLocation
		s.lastSample = &cp
	}
	s.carrier = snap.LogisticsCompany
	s.eta = snap.ETA
	if snap.IsTrackingActive {
		s.state = StateActive
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.notifyChange()

	if s.channel == nil {
		s.fail(shipmentID, "connection unavailable")
		return errors.New("connection unavailable")
	}
	if err := s.channel.Init(); err != nil {
		s.fail(shipmentID, "connection unavailable")
		return fmt.Errorf("connection unavailable: %w", err)
	}

	s.mu.Lock()
	if s.state == StateDisposed || s.shipmentID != shipmentID {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.subs = append(s.subs,
		s.channel.On(EventTrackingStatus, s.handleStatusEvent),
		s.channel.On(EventLocationUpdate, s.handleLocationEvent),
		s.channel.On(EventTrackingStarted, func(data json.RawMessage) { s.handleFlip(data, true) }),
		s.channel.On(EventTrackingStopped, func(data json.RawMessage) { s.handleFlip(data, false) }),
		s.channel.On(EventTrackingError, s.handleErrorEvent),
		s.channel.OnStatus(s.handleConnStatus),
	)
	s.connStatus = s.channel.Status()
	s.joined = true
	s.mu.Unlock()

	if err := s.channel.Emit(EventJoinTracking, shipmentID); err != nil {
		// the connection may be mid-recovery; the next Connected event rejoins
		log.Printf("tracking: join %s failed: %v", shipmentID, err)
	}
	s.notifyChange()
	return nil
}

// Retry re-enters Loading from the Error state.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("retry in state %s", s.state)
	}
	id := s.shipmentID
	s.mu.Unlock()
	return s.Initialize(ctx, id)
}

// StartTracking asks the backend to activate tracking. The session does not
// flip its own state; it waits for the trackingStarted confirmation event.
func (s *Session) StartTracking(ctx context.Context) error {
	id, err := s.boundShipment()
	if err != nil {
		return err
	}
	if err := s.api.StartTracking(ctx, id); err != nil {
		s.notifier.Error("failed to start tracking")
		return err
	}
	return nil
}

// StopTracking mirrors StartTracking for deactivation.
func (s *Session) StopTracking(ctx context.Context) error {
	id, err := s.boundShipment()
	if err != nil {
		return err
	}
	if err := s.api.StopTracking(ctx, id); err != nil {
		s.notifier.Error("failed to stop tracking")
		return err
	}
	return nil
}

// UpdateLocation reports one position for the bound shipment. Invalid
// samples are rejected before any network call.
func (s *Session) UpdateLocation(ctx context.Context, sample LocationSample) error {
	id, err := s.boundShipment()
	if err != nil {
		return err
	}
	if !sample.Valid() {
		return fmt.Errorf("invalid location sample: lat=%v lng=%v", sample.Lat, sample.Lng)
	}
	if err := s.api.PushLocation(ctx, id, sample); err != nil {
		s.notifier.Error("failed to send location update")
		return err
	}
	return nil
}

// Dispose leaves the update room and deregisters every listener. Idempotent;
// a disposed session accepts no further mutation.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.releaseLocked()
	s.state = StateDisposed
	s.mu.Unlock()
	s.notifyChange()
}

// View returns a point-in-time copy of the session state.
func (s *Session) View() TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// OnChange registers a callback invoked with a fresh state copy after every
// mutation.
func (s *Session) OnChange(fn func(TrackingState)) *connection.Subscription {
	s.mu.Lock()
	if s.changeSubs == nil {
		s.changeSubs = map[int]func(TrackingState){}
	}
	id := s.nextChange
	s.nextChange++
	s.changeSubs[id] = fn
	s.mu.Unlock()

	return connection.NewSubscription(func() {
		s.mu.Lock()
		delete(s.changeSubs, id)
		s.mu.Unlock()
	})
}

func (s *Session) boundShipment() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return "", ErrDisposed
	}
	if s.shipmentID == "" {
		return "", errors.New("no shipment bound")
	}
	return s.shipmentID, nil
}

func (s *Session) fail(shipmentID, message string) {
	s.mu.Lock()
	if s.state == StateDisposed || s.shipmentID != shipmentID {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = message
	s.mu.Unlock()
	s.notifyChange()
}

// releaseLocked cancels listeners, stops the retry timer, and leaves the
// update room. Callers hold s.mu.
func (s *Session) releaseLocked() {
	subs := s.subs
	s.subs = nil
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	joined := s.joined
	s.joined = false
	id := s.shipmentID

	for _, sub := range subs {
		sub.Cancel()
	}
	if joined && id != "" && s.channel != nil {
		if err := s.channel.Emit(EventLeaveTracking, id); err != nil &&
			!errors.Is(err, connection.ErrNotConnected) {
			log.Printf("tracking: leave %s failed: %v", id, err)
		}
	}
}

func (s *Session) handleStatusEvent(data json.RawMessage) {
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("tracking: bad status payload: %v", err)
		return
	}

	s.mu.Lock()
	if s.state != StateIdle && s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if p.IsTrackingActive {
		s.state = StateActive
	} else {
		s.state = StateIdle
	}
	if p.LastLocation != nil && p.LastLocation.Valid() {
		cp := *p.LastLocation
		s.lastSample = &cp
	}
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Session) handleLocationEvent(data json.RawMessage) {
	var p locationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("tracking: bad location payload: %v", err)
		return
	}

	s.mu.Lock()
	if s.state == StateDisposed || p.ShipmentID != s.shipmentID {
		s.mu.Unlock()
		return
	}
	if !p.Location.Valid() {
		s.mu.Unlock()
		log.Printf("tracking: dropping unrenderable sample for %s", p.ShipmentID)
		return
	}
	cp := p.Location
	s.lastSample = &cp
	s.history.Append(p.Location)
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Session) handleFlip(data json.RawMessage, active bool) {
	var p shipmentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("tracking: bad shipment payload: %v", err)
		return
	}

	s.mu.Lock()
	if p.ShipmentID != s.shipmentID || (s.state != StateIdle && s.state != StateActive) {
		s.mu.Unlock()
		return
	}
	if active {
		s.state = StateActive
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if active {
		s.notifier.Info("tracking started")
	} else {
		s.notifier.Info("tracking stopped")
	}
	s.notifyChange()
}

func (s *Session) handleErrorEvent(data json.RawMessage) {
	var p errorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("tracking: bad error payload: %v", err)
		return
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.lastErr = p.Message
	s.mu.Unlock()

	s.notifier.Error(p.Message)
	s.notifyChange()
}

func (s *Session) handleConnStatus(ev connection.StatusEvent) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.connStatus = ev.Status
	id := s.shipmentID
	joined := s.joined

	if ev.Status == connection.StatusDisconnected && ev.Err != "" && s.retry == nil {
		s.retry = time.AfterFunc(s.cfg.RetryDelay, s.retryConnect)
	}
	s.mu.Unlock()

	if ev.Status == connection.StatusConnected && joined && id != "" {
		if err := s.channel.Emit(EventJoinTracking, id); err != nil {
			log.Printf("tracking: rejoin %s failed: %v", id, err)
		}
		// a disconnect window may have dropped events; reconcile from the
		// authoritative snapshot
		go s.reconcile(id)
	}
	s.notifyChange()
}

func (s *Session) retryConnect() {
	s.mu.Lock()
	s.retry = nil
	disposed := s.state == StateDisposed
	s.mu.Unlock()
	if disposed {
		return
	}
	if err := s.channel.Init(); err != nil {
		log.Printf("tracking: reconnect attempt failed: %v", err)
	}
}

func (s *Session) reconcile(shipmentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	snap, err := s.api.Snapshot(ctx, shipmentID)
	if err != nil {
		log.Printf("tracking: reconcile %s failed: %v", shipmentID, err)
		return
	}

	s.mu.Lock()
	if s.shipmentID != shipmentID || (s.state != StateIdle && s.state != StateActive) {
		s.mu.Unlock()
		return
	}
	if snap.IsTrackingActive {
		s.state = StateActive
	} else {
		s.state = StateIdle
	}
	if snap.LastLocation != nil && snap.LastLocation.Valid() {
		cp := *snap.LastLocation
		s.lastSample = &cp
	}
	s.carrier = snap.LogisticsCompany
	s.eta = snap.ETA
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Session) viewLocked() TrackingState {
	ts := TrackingState{
		ShipmentID: s.shipmentID,
		State:      s.state,
		IsActive:   s.state == StateActive,
		ETA:        s.eta,
		Connection: s.connStatus,
		LastError:  s.lastErr,
	}
	if s.lastSample != nil {
		cp := *s.lastSample
		ts.LastSample = &cp
	}
	if s.carrier != nil {
		cp := *s.carrier
		ts.Carrier = &cp
	}
	if s.history != nil {
		ts.History = s.history.Samples()
	}
	return ts
}

func (s *Session) notifyChange() {
	s.mu.Lock()
	ts := s.viewLocked()
	fns := make([]func(TrackingState), 0, len(s.changeSubs))
	for _, fn := range s.changeSubs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ts)
	}
}
