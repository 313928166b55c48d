package notify

import (
	"fmt"
	"strings"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/geo"
)

// FormatForHitchhiker renders a match message addressed to the hitchhiker,
// describing the driver. Matched parties exchange phone numbers.
func FormatForHitchhiker(m rides.Match) string {
	var b strings.Builder
	b.WriteString("🚗 נמצא נהג מתאים לבקשה שלך!\n")
	if m.DriverName != "" {
		fmt.Fprintf(&b, "נהג: %s\n", m.DriverName)
	}
	fmt.Fprintf(&b, "מסלול: %s ← %s\n", m.Request.Destination, m.Request.Origin)
	fmt.Fprintf(&b, "תאריך: %s בשעה %s\n", m.Date, m.DriverTime)
	if minutes := tripMinutes(m.Ride); minutes > 0 {
		fmt.Fprintf(&b, "זמן נסיעה משוער: כ-%d דקות\n", minutes)
	}
	if m.Ride.Notes != "" {
		fmt.Fprintf(&b, "הערות הנהג: %s\n", m.Ride.Notes)
	}
	fmt.Fprintf(&b, "טלפון ליצירת קשר: %s", m.DriverPhone)
	return b.String()
}

// FormatForDriver renders a match message addressed to the driver, describing
// the hitchhiker.
func FormatForDriver(m rides.Match) string {
	var b strings.Builder
	b.WriteString("🙋 נמצא טרמפיסט לנסיעה שלך!\n")
	if m.HitchhikerName != "" {
		fmt.Fprintf(&b, "טרמפיסט: %s\n", m.HitchhikerName)
	}
	fmt.Fprintf(&b, "מסלול: %s ← %s\n", m.Request.Destination, m.Request.Origin)
	fmt.Fprintf(&b, "תאריך: %s בשעה %s\n", m.Date, m.DriverTime)
	if minutes := tripMinutes(m.Ride); minutes > 0 {
		fmt.Fprintf(&b, "זמן נסיעה משוער: כ-%d דקות\n", minutes)
	}
	if m.Request.Notes != "" {
		fmt.Fprintf(&b, "הערות: %s\n", m.Request.Notes)
	}
	fmt.Fprintf(&b, "טלפון ליצירת קשר: %s", m.HitchhikerPhone)
	return b.String()
}

// tripMinutes estimates the trip duration from attached route data. Zero when
// the ride has no route yet.
func tripMinutes(r rides.DriverRide) int {
	if r.RouteData == nil || r.RouteData.DistanceKm <= 0 {
		return 0
	}
	return geo.EstimateDuration(r.RouteData.DistanceKm)
}
