// Package view derives display state from a tracking session. It owns only
// UI toggles; every tracking mutation flows through the session.
package view

import (
	"strings"
	"sync"
	"time"

	"shiptrack/internal/geo"
	"shiptrack/internal/tracking"
)

type Coordinate struct {
	Lat float64
	Lng float64
}

const (
	FallbackZoom = 5
	FocusZoom    = 15

	linkCopiedFlash = 2 * time.Second
)

// Model holds the local-only view state: the camera-follow toggle and the
// transient "link copied" flash.
type Model struct {
	fallback Coordinate

	mu          sync.Mutex
	follow      bool
	copiedUntil time.Time
	now         func() time.Time
}

func NewModel(fallback Coordinate) *Model {
	return &Model{
		fallback: fallback,
		follow:   true,
		now:      time.Now,
	}
}

// Center returns the map camera target and zoom: the last renderable sample
// when one exists, otherwise the fallback center zoomed out.
func (m *Model) Center(ts tracking.TrackingState) (Coordinate, int) {
	if ts.LastSample != nil && ts.LastSample.Valid() {
		return Coordinate{Lat: ts.LastSample.Lat, Lng: ts.LastSample.Lng}, FocusZoom
	}
	return m.fallback, FallbackZoom
}

func (m *Model) SetFollow(follow bool) {
	m.mu.Lock()
	m.follow = follow
	m.mu.Unlock()
}

// Follow reports whether the camera recenters on every new sample. When off,
// the user pans freely and is never overridden.
func (m *Model) Follow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.follow
}

// MarkLinkCopied starts the transient copied flash.
func (m *Model) MarkLinkCopied() {
	m.mu.Lock()
	m.copiedUntil = m.now().Add(linkCopiedFlash)
	m.mu.Unlock()
}

func (m *Model) LinkCopied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.copiedUntil)
}

// Polyline is the history trail filtered to renderable coordinates.
func Polyline(history []tracking.LocationSample) []Coordinate {
	out := make([]Coordinate, 0, len(history))
	for _, s := range history {
		if s.Valid() {
			out = append(out, Coordinate{Lat: s.Lat, Lng: s.Lng})
		}
	}
	return out
}

// TrailDistanceKm sums the great-circle legs of the trail.
func TrailDistanceKm(history []tracking.LocationSample) float64 {
	var total float64
	var prev *tracking.LocationSample
	for i := range history {
		s := history[i]
		if !s.Valid() {
			continue
		}
		if prev != nil {
			total += geo.HaversineKm(prev.Lat, prev.Lng, s.Lat, s.Lng)
		}
		prev = &history[i]
	}
	return total
}

// StatusLabel maps session state to the badge text.
func StatusLabel(ts tracking.TrackingState) string {
	switch ts.State {
	case tracking.StateLoading:
		return "Loading"
	case tracking.StateActive:
		return "Active"
	case tracking.StateIdle:
		return "Inactive"
	case tracking.StateError:
		return "Error"
	case tracking.StateDisposed:
		return "Closed"
	default:
		return "Not started"
	}
}

// ShareLink builds the public tracking URL for a shipment.
func ShareLink(origin, shipmentID string) string {
	return strings.TrimRight(origin, "/") + "/track/" + shipmentID
}
