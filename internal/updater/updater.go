// Package updater is the device-side counterpart of a tracking session: it
// samples positions and pushes them through the session's update action.
package updater

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"shiptrack/internal/connection"
	"shiptrack/internal/notify"
	"shiptrack/internal/tracking"
)

type Position struct {
	Lat       float64
	Lng       float64
	Speed     float64
	Heading   float64
	Timestamp time.Time
}

// PositionSource abstracts the device geolocation API. Watch registers a
// continuous position watch and returns a stop function; Current reads one
// position.
type PositionSource interface {
	Current(ctx context.Context) (Position, error)
	Watch(fn func(Position)) (stop func(), err error)
}

// Sink is the slice of the tracking session the updater needs.
type Sink interface {
	UpdateLocation(ctx context.Context, sample tracking.LocationSample) error
}

const pushTimeout = 10 * time.Second

type Updater struct {
	sink     Sink
	source   PositionSource
	notifier *notify.Center

	mu     sync.Mutex
	stop   func()
	closed bool
}

func New(sink Sink, source PositionSource, notifier *notify.Center) *Updater {
	return &Updater{sink: sink, source: source, notifier: notifier}
}

// SetActive starts the device watch on the inactive-to-active transition and
// stops it on the way back. Redundant calls are no-ops.
func (u *Updater) SetActive(active bool) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}

	if !active {
		stop := u.stop
		u.stop = nil
		u.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}

	if u.stop != nil {
		u.mu.Unlock()
		return
	}
	if u.source == nil {
		u.mu.Unlock()
		u.notifier.Error("geolocation is not available on this device")
		return
	}
	stop, err := u.source.Watch(u.handleSample)
	if err != nil {
		u.mu.Unlock()
		u.notifier.Error("could not access device location")
		log.Printf("updater: watch failed: %v", err)
		return
	}
	u.stop = stop
	u.mu.Unlock()
}

// Watching reports whether a device watch is currently held.
func (u *Updater) Watching() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stop != nil
}

// PushCurrent reads one position and reports it.
func (u *Updater) PushCurrent(ctx context.Context) error {
	if u.source == nil {
		return errors.New("no position source")
	}
	p, err := u.source.Current(ctx)
	if err != nil {
		u.notifier.Error("could not read device location")
		return err
	}
	return u.sink.UpdateLocation(ctx, sampleFrom(p))
}

// Bind ties the watch lifecycle to the session's active flag.
func (u *Updater) Bind(s *tracking.Session) *connection.Subscription {
	return s.OnChange(func(ts tracking.TrackingState) {
		u.SetActive(ts.IsActive)
	})
}

// Close releases the device watch. Idempotent; the watch handle must never
// outlive the updater.
func (u *Updater) Close() {
	u.mu.Lock()
	u.closed = true
	stop := u.stop
	u.stop = nil
	u.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (u *Updater) handleSample(p Position) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := u.sink.UpdateLocation(ctx, sampleFrom(p)); err != nil {
		// the sink surfaces its own notification; keep the watch running
		log.Printf("updater: location push failed: %v", err)
	}
}

func sampleFrom(p Position) tracking.LocationSample {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return tracking.LocationSample{
		Lat:       p.Lat,
		Lng:       p.Lng,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Timestamp: ts,
	}
}
