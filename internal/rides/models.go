// Package rides holds the domain model and the typed store facade for ride
// records. Driver rides and hitchhiker requests are tagged variants persisted
// under a single per-user document.
package rides

import (
	"fmt"
	"strings"
	"time"

	"github.com/kfirel/hiker/pkg/geo"
)

// Role tags a record as a driver ride or a hitchhiker request.
type Role string

const (
	RoleDriver     Role = "driver"
	RoleHitchhiker Role = "hitchhiker"
)

// ParseRole validates a role string from tool arguments.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDriver:
		return RoleDriver, nil
	case RoleHitchhiker:
		return RoleHitchhiker, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// ChatMessage is one entry in a user's conversation history.
type ChatMessage struct {
	Role      string    `json:"role"` // user | assistant
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RouteData is the driving polyline attached asynchronously to a record.
// Once populated it may be refreshed but never cleared to a partial state.
type RouteData struct {
	Polyline    []geo.Point `json:"polyline"`
	DistanceKm  float64     `json:"distance_km"`
	ThresholdKm float64     `json:"threshold_km"`
}

// DriverRide is a driver's listed trip. Temporal shape is either recurring
// (Days + DepartureTime, optional ReturnTime) or one-shot (TravelDate +
// DepartureTime).
type DriverRide struct {
	RideID         string     `json:"ride_id"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	Days           []string   `json:"days,omitempty"`           // recurring: lowercase weekday names
	DepartureTime  string     `json:"departure_time"`           // HH:MM
	ReturnTime     string     `json:"return_time,omitempty"`    // HH:MM, recurring only
	TravelDate     string     `json:"travel_date,omitempty"`    // YYYY-MM-DD, one-shot only
	AvailableSeats int        `json:"available_seats"`
	Notes          string     `json:"notes,omitempty"`
	RouteData      *RouteData `json:"route_data,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModified   time.Time  `json:"last_modified"`
}

// Recurring reports whether the ride repeats on a weekday set.
func (d *DriverRide) Recurring() bool {
	return len(d.Days) > 0
}

// Fingerprint identifies a ride up to its normalized content, used to reject
// duplicate creations.
func (d *DriverRide) Fingerprint(normalize func(string) string) string {
	return strings.Join([]string{
		string(RoleDriver),
		normalize(d.Origin),
		normalize(d.Destination),
		strings.ToLower(strings.Join(d.Days, ",")),
		d.DepartureTime,
		d.ReturnTime,
		d.TravelDate,
	}, "|")
}

// HitchhikerRequest is a hitchhiker's travel request. Temporal shape is either
// one-shot (TravelDate + DepartureTime) or a flexible [Earliest, Latest]
// window on TravelDate.
type HitchhikerRequest struct {
	RequestID          string     `json:"request_id"`
	Origin             string     `json:"origin"`
	Destination        string     `json:"destination"`
	TravelDate         string     `json:"travel_date"`             // YYYY-MM-DD
	DepartureTime      string     `json:"departure_time,omitempty"` // HH:MM, one-shot
	Earliest           string     `json:"earliest,omitempty"`       // HH:MM, flexible window
	Latest             string     `json:"latest,omitempty"`         // HH:MM, flexible window
	FlexibilityMinutes int        `json:"flexibility_minutes"`
	Notes              string     `json:"notes,omitempty"`
	RouteData          *RouteData `json:"route_data,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Flexible reports whether the request carries an explicit time window.
func (h *HitchhikerRequest) Flexible() bool {
	return h.Earliest != "" && h.Latest != ""
}

// Fingerprint identifies a request up to its normalized content.
func (h *HitchhikerRequest) Fingerprint(normalize func(string) string) string {
	return strings.Join([]string{
		string(RoleHitchhiker),
		normalize(h.Origin),
		normalize(h.Destination),
		h.TravelDate,
		h.DepartureTime,
		h.Earliest,
		h.Latest,
	}, "|")
}

// User is the per-phone document. Phone numbers are opaque provider strings.
type User struct {
	PhoneNumber        string              `json:"phone_number"`
	DisplayName        string              `json:"display_name,omitempty"`
	DriverRides        []DriverRide        `json:"driver_rides"`
	HitchhikerRequests []HitchhikerRequest `json:"hitchhiker_requests"`
	ChatHistory        []ChatMessage       `json:"chat_history"`
	LastSeen           time.Time           `json:"last_seen"`
}

// FindRide returns the ride with the given id, or nil.
func (u *User) FindRide(rideID string) *DriverRide {
	for i := range u.DriverRides {
		if u.DriverRides[i].RideID == rideID {
			return &u.DriverRides[i]
		}
	}
	return nil
}

// FindRequest returns the request with the given id, or nil.
func (u *User) FindRequest(requestID string) *HitchhikerRequest {
	for i := range u.HitchhikerRequests {
		if u.HitchhikerRequests[i].RequestID == requestID {
			return &u.HitchhikerRequests[i]
		}
	}
	return nil
}

// Match pairs a compatible driver ride with a hitchhiker request. Ephemeral;
// a suggestion surfaced to both parties, not a contract.
type Match struct {
	DriverPhone        string            `json:"driver_phone"`
	DriverName         string            `json:"driver_name,omitempty"`
	HitchhikerPhone    string            `json:"hitchhiker_phone"`
	HitchhikerName     string            `json:"hitchhiker_name,omitempty"`
	Ride               DriverRide        `json:"ride"`
	Request            HitchhikerRequest `json:"request"`
	Date               string            `json:"date"`        // matched trip date, YYYY-MM-DD
	DriverTime         string            `json:"driver_time"` // HH:MM of the matched driver candidate
	Reverse            bool              `json:"reverse"`     // matched against the driver's return leg
	TimeDeltaMinutes   int               `json:"time_delta_minutes"`
	CorridorDistanceKm float64           `json:"corridor_distance_km"`
	ReasonCode         string            `json:"reason_code"`
}

// Reason codes attached to matches, by decreasing exactness.
const (
	ReasonExact    = "exact"     // origin and destination both name-exact
	ReasonCorridor = "corridor"  // at least one endpoint matched by corridor containment
	ReasonCoarse   = "coarse"    // name-exact fallback while route data is absent
)
