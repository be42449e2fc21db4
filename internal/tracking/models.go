package tracking

import (
	"time"

	"shiptrack/internal/connection"
	"shiptrack/internal/geo"
)

// LocationSample is one reported position. Speed and heading default to zero
// when the device omits them; address is the optional reverse-geocoded label.
type LocationSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the sample is renderable. Samples failing this are
// dropped, never stored.
func (s LocationSample) Valid() bool {
	return geo.ValidCoordinate(s.Lat, s.Lng)
}

// Carrier holds the display fields of the logistics company on a shipment.
type Carrier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Snapshot is the authoritative tracking state returned by the one-shot
// bootstrap endpoint.
type Snapshot struct {
	IsTrackingActive bool             `json:"isTrackingActive"`
	LastLocation     *LocationSample  `json:"lastLocation"`
	LocationHistory  []LocationSample `json:"locationHistory"`
	LogisticsCompany *Carrier         `json:"logisticsCompany"`
	ETA              string           `json:"eta"`
}

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateIdle
	StateActive
	StateError
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateDisposed:
		return "disposed"
	default:
		return "uninitialized"
	}
}

// TrackingState is a point-in-time copy of a session's state, safe for the
// view layer to read without touching session internals.
type TrackingState struct {
	ShipmentID string
	State      State
	IsActive   bool
	LastSample *LocationSample
	History    []LocationSample
	Carrier    *Carrier
	ETA        string
	Connection connection.Status
	LastError  string
}

// Wire event names shared with the backend.
const (
	EventJoinTracking    = "join-shipment-tracking"
	EventLeaveTracking   = "leave-shipment-tracking"
	EventTrackingStatus  = "tracking-status"
	EventLocationUpdate  = "locationUpdate"
	EventTrackingStarted = "trackingStarted"
	EventTrackingStopped = "trackingStopped"
	EventTrackingError   = "tracking-error"
)

type statusPayload struct {
	IsTrackingActive bool            `json:"isTrackingActive"`
	LastLocation     *LocationSample `json:"lastLocation"`
}

type locationPayload struct {
	ShipmentID string         `json:"shipmentId"`
	Location   LocationSample `json:"location"`
}

type shipmentPayload struct {
	ShipmentID string `json:"shipmentId"`
}

type errorPayload struct {
	Message string `json:"message"`
}
