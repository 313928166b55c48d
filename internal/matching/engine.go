// Package matching pairs hitchhiker requests with driver rides whose routes
// pass near the requested endpoints. The engine is pure with respect to the
// store snapshot it scans; it never mutates records.
package matching

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/kfirel/hiker/pkg/logger"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"
)

// horizonDays bounds the expansion of recurring rides.
const horizonDays = 7

// Engine evaluates compatibility between drivers and hitchhikers.
type Engine struct {
	gaz   *gazetteer.Gazetteer
	store *rides.Store
	now   func() time.Time
}

// NewEngine creates a matching engine.
func NewEngine(gaz *gazetteer.Gazetteer, store *rides.Store) *Engine {
	return &Engine{gaz: gaz, store: store, now: time.Now}
}

// SetClock overrides the engine's notion of "now". Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// MatchRequest finds driver rides compatible with a new hitchhiker request.
func (e *Engine) MatchRequest(ctx context.Context, prefix, phone string, req rides.HitchhikerRequest, displayName string) ([]rides.Match, error) {
	drivers, err := e.store.ScanDrivers(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []rides.Match
	for _, d := range drivers {
		if d.Phone == phone {
			continue
		}
		h := rides.HitchhikerRecord{Phone: phone, DisplayName: displayName, Request: req}
		out = append(out, e.evaluate(ctx, d, h)...)
	}

	rank(out)
	return out, nil
}

// MatchRide finds hitchhiker requests compatible with a new driver ride.
func (e *Engine) MatchRide(ctx context.Context, prefix, phone string, ride rides.DriverRide, displayName string) ([]rides.Match, error) {
	hikers, err := e.store.ScanHitchhikers(ctx, prefix)
	if err != nil {
		return nil, err
	}

	d := rides.DriverRecord{Phone: phone, DisplayName: displayName, Ride: ride}

	var out []rides.Match
	for _, h := range hikers {
		if h.Phone == phone {
			continue
		}
		out = append(out, e.evaluate(ctx, d, h)...)
	}

	rank(out)
	return out, nil
}

// candidate is one concrete driver trip after temporal expansion. Reverse
// legs of recurring rides swap origin and destination.
type candidate struct {
	date        string
	timeMinutes int
	reverse     bool
	origin      string
	destination string
}

// evaluate applies every compatibility predicate of one (driver, hitchhiker)
// pair across all expanded driver trips. Errors on a single pair are logged
// and skipped; they never abort the scan.
func (e *Engine) evaluate(ctx context.Context, d rides.DriverRecord, h rides.HitchhikerRecord) []rides.Match {
	if d.Ride.AvailableSeats < 1 {
		return nil
	}

	window, ok := requestWindow(h.Request)
	if !ok {
		logger.DebugContext(ctx, "request has no usable time window",
			zap.String("phone", h.Phone), zap.String("id", h.Request.RequestID))
		return nil
	}

	var corridor *corridorIndex
	if rd := d.Ride.RouteData; rd != nil && len(rd.Polyline) > 0 {
		corridor = newCorridorIndex(rd)
	}

	var out []rides.Match
	for _, c := range expandDriver(d.Ride, e.now()) {
		if c.date != h.Request.TravelDate {
			continue
		}
		if c.timeMinutes < window.lo || c.timeMinutes > window.hi {
			continue
		}

		spatial, ok := e.spatial(c, h.Request, corridor)
		if !ok {
			continue
		}

		out = append(out, rides.Match{
			DriverPhone:        d.Phone,
			DriverName:         d.DisplayName,
			HitchhikerPhone:    h.Phone,
			HitchhikerName:     h.DisplayName,
			Ride:               d.Ride,
			Request:            h.Request,
			Date:               c.date,
			DriverTime:         rides.FormatClock(c.timeMinutes),
			Reverse:            c.reverse,
			TimeDeltaMinutes:   window.delta(c.timeMinutes),
			CorridorDistanceKm: spatial.distanceKm,
			ReasonCode:         spatial.reason,
		})
	}
	return out
}

type spatialResult struct {
	distanceKm float64
	reason     string
}

// spatial checks origin and destination compatibility for one driver trip.
// With route data: exact name match or corridor containment. Without it:
// exact normalized match (or same settlement) only.
func (e *Engine) spatial(c candidate, req rides.HitchhikerRequest, corridor *corridorIndex) (spatialResult, bool) {
	destExact := e.sameLabel(req.Destination, c.destination)
	originExact := e.sameLabel(req.Origin, c.origin)

	if destExact && originExact {
		reason := rides.ReasonExact
		if corridor == nil {
			reason = rides.ReasonCoarse
		}
		return spatialResult{distanceKm: 0, reason: reason}, true
	}

	if corridor == nil {
		return spatialResult{}, false
	}

	var destKm, originKm float64
	if !destExact {
		p, ok := e.gaz.LookupPoint(req.Destination)
		if !ok {
			return spatialResult{}, false
		}
		km, on := corridor.contains(p)
		if !on {
			return spatialResult{}, false
		}
		destKm = km
	}
	if !originExact {
		p, ok := e.gaz.LookupPoint(req.Origin)
		if !ok {
			return spatialResult{}, false
		}
		km, on := corridor.contains(p)
		if !on {
			return spatialResult{}, false
		}
		originKm = km
	}

	return spatialResult{
		distanceKm: math.Max(destKm, originKm),
		reason:     rides.ReasonCorridor,
	}, true
}

// sameLabel reports whether two place labels normalize to the same string or
// resolve to the same gazetteer entry.
func (e *Engine) sameLabel(a, b string) bool {
	if gazetteer.Normalize(a) == gazetteer.Normalize(b) {
		return true
	}
	return e.gaz.SameSettlement(a, b)
}

// corridorIndex holds a route's polyline with an H3 cell cover used to prune
// containment tests before the exact segment scan.
type corridorIndex struct {
	polyline    []geo.Point
	thresholdKm float64
	cells       map[h3.Cell]struct{}
}

func newCorridorIndex(rd *rides.RouteData) *corridorIndex {
	return &corridorIndex{
		polyline:    rd.Polyline,
		thresholdKm: rd.ThresholdKm,
		cells:       geo.CorridorCells(rd.Polyline),
	}
}

func (ci *corridorIndex) contains(p geo.Point) (float64, bool) {
	if !geo.NearCorridorCells(p, ci.cells, ci.thresholdKm) {
		return 0, false
	}
	km := geo.PointToPolylineKm(p, ci.polyline)
	return km, km <= ci.thresholdKm
}

// window is the acceptable driver departure interval in minutes since
// midnight, flexibility already applied.
type window struct {
	lo, hi int
	// core interval before flexibility; delta measures distance outside it
	coreLo, coreHi int
}

func (w window) delta(minutes int) int {
	if minutes < w.coreLo {
		return w.coreLo - minutes
	}
	if minutes > w.coreHi {
		return minutes - w.coreHi
	}
	return 0
}

func requestWindow(req rides.HitchhikerRequest) (window, bool) {
	flex := req.FlexibilityMinutes
	if flex < 0 {
		flex = 0
	}

	if req.Flexible() {
		lo, err := rides.ParseClock(req.Earliest)
		if err != nil {
			return window{}, false
		}
		hi, err := rides.ParseClock(req.Latest)
		if err != nil {
			return window{}, false
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return window{lo: lo - flex, hi: hi + flex, coreLo: lo, coreHi: hi}, true
	}

	t, err := rides.ParseClock(req.DepartureTime)
	if err != nil {
		return window{}, false
	}
	return window{lo: t - flex, hi: t + flex, coreLo: t, coreHi: t}, true
}

// expandDriver turns a ride into concrete dated trips. Recurring rides expand
// over the next horizonDays local calendar days; a return time adds a reverse
// trip with origin and destination swapped. One-shot rides yield a single
// trip on their travel date.
func expandDriver(ride rides.DriverRide, now time.Time) []candidate {
	dep, err := rides.ParseClock(ride.DepartureTime)
	if err != nil {
		return nil
	}

	if !ride.Recurring() {
		if ride.TravelDate == "" {
			return nil
		}
		return []candidate{{
			date:        ride.TravelDate,
			timeMinutes: dep,
			origin:      ride.Origin,
			destination: ride.Destination,
		}}
	}

	wanted := make(map[time.Weekday]struct{}, len(ride.Days))
	for _, name := range ride.Days {
		if wd, err := rides.ParseWeekday(name); err == nil {
			wanted[wd] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	var ret int
	hasReturn := false
	if ride.ReturnTime != "" {
		if ret, err = rides.ParseClock(ride.ReturnTime); err == nil {
			hasReturn = true
		}
	}

	today := now.In(rides.Location())
	var out []candidate
	for i := 0; i < horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if _, ok := wanted[day.Weekday()]; !ok {
			continue
		}
		date := day.Format(rides.DateLayout)

		out = append(out, candidate{
			date:        date,
			timeMinutes: dep,
			origin:      ride.Origin,
			destination: ride.Destination,
		})
		if hasReturn {
			out = append(out, candidate{
				date:        date,
				timeMinutes: ret,
				reverse:     true,
				origin:      ride.Destination,
				destination: ride.Origin,
			})
		}
	}
	return out
}

// rank orders matches best-first: smallest absolute time delta, then smallest
// corridor distance, then oldest driver listing. The sort is stable so equal
// matches keep scan order.
func rank(matches []rides.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		di, dj := abs(matches[i].TimeDeltaMinutes), abs(matches[j].TimeDeltaMinutes)
		if di != dj {
			return di < dj
		}
		if matches[i].CorridorDistanceKm != matches[j].CorridorDistanceKm {
			return matches[i].CorridorDistanceKm < matches[j].CorridorDistanceKm
		}
		return matches[i].Ride.CreatedAt.Before(matches[j].Ride.CreatedAt)
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
