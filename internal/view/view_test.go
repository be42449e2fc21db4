package view

import (
	"testing"
	"time"

	"shiptrack/internal/tracking"
)

func TestCenterFallsBack(t *testing.T) {
	m := NewModel(Coordinate{Lat: 51.5074, Lng: -0.1278})

	center, zoom := m.Center(tracking.TrackingState{})
	if center.Lat != 51.5074 || zoom != FallbackZoom {
		t.Fatalf("expected fallback center, got %+v zoom %d", center, zoom)
	}

	center, zoom = m.Center(tracking.TrackingState{
		LastSample: &tracking.LocationSample{Lat: 48.8566, Lng: 2.3522},
	})
	if center.Lat != 48.8566 || zoom != FocusZoom {
		t.Fatalf("expected sample center, got %+v zoom %d", center, zoom)
	}
}

func TestFollowToggle(t *testing.T) {
	m := NewModel(Coordinate{})
	if !m.Follow() {
		t.Fatalf("follow should default on")
	}
	m.SetFollow(false)
	if m.Follow() {
		t.Fatalf("expected follow off")
	}
}

func TestPolylineFiltersInvalid(t *testing.T) {
	line := Polyline([]tracking.LocationSample{
		{Lat: 51.5, Lng: -0.12},
		{Lat: 200, Lng: 0},
		{Lat: 51.6, Lng: -0.10},
	})
	if len(line) != 2 {
		t.Fatalf("expected invalid point filtered, got %d", len(line))
	}
}

func TestTrailDistance(t *testing.T) {
	// London to Paris and back ~ 680-700 km
	d := TrailDistanceKm([]tracking.LocationSample{
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: 48.8566, Lng: 2.3522},
		{Lat: 51.5074, Lng: -0.1278},
	})
	if d < 660 || d > 720 {
		t.Fatalf("unexpected trail distance: %v", d)
	}
	if TrailDistanceKm(nil) != 0 {
		t.Fatalf("expected zero distance for empty trail")
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[tracking.State]string{
		tracking.StateUninitialized: "Not started",
		tracking.StateLoading:       "Loading",
		tracking.StateIdle:          "Inactive",
		tracking.StateActive:        "Active",
		tracking.StateError:         "Error",
		tracking.StateDisposed:      "Closed",
	}
	for state, want := range cases {
		if got := StatusLabel(tracking.TrackingState{State: state}); got != want {
			t.Fatalf("state %v: expected %q, got %q", state, want, got)
		}
	}
}

func TestShareLink(t *testing.T) {
	if got := ShareLink("http://localhost:3000/", "ship-1"); got != "http://localhost:3000/track/ship-1" {
		t.Fatalf("unexpected link: %s", got)
	}
}

func TestLinkCopiedFlashExpires(t *testing.T) {
	m := NewModel(Coordinate{})
	current := time.Now()
	m.now = func() time.Time { return current }

	if m.LinkCopied() {
		t.Fatalf("flash should start cleared")
	}
	m.MarkLinkCopied()
	if !m.LinkCopied() {
		t.Fatalf("expected flash set")
	}

	current = current.Add(3 * time.Second)
	if m.LinkCopied() {
		t.Fatalf("expected flash expired")
	}
}
