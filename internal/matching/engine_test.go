package matching

import (
	"context"
	"testing"
	"time"

	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/store"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday. Next Wednesday is 08-26, next Monday is 08-31.
var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, rides.Location())

func newTestEngine(t *testing.T) (*Engine, *rides.Store) {
	t.Helper()

	gaz, err := gazetteer.New()
	require.NoError(t, err)

	s := rides.NewStore(store.NewMemory(), 100)
	e := NewEngine(gaz, s)
	e.SetClock(func() time.Time { return testNow })
	return e, s
}

// interpolate densifies a straight line the way a routing engine would.
func interpolate(a, b geo.Point, steps int) []geo.Point {
	poly := make([]geo.Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		poly = append(poly, geo.Point{
			Lat: a.Lat + f*(b.Lat-a.Lat),
			Lon: a.Lon + f*(b.Lon-a.Lon),
		})
	}
	return poly
}

func TestExactMatchRecurringDriver(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "גברעם",
		Destination:    "תל אביב",
		Days:           []string{"monday"},
		DepartureTime:  "08:00",
		AvailableSeats: 3,
	})
	require.NoError(t, err)

	req := rides.HitchhikerRequest{
		Origin:             "גברעם",
		Destination:        "תל-אביב",
		TravelDate:         "2026-08-31",
		DepartureTime:      "08:10",
		FlexibilityMinutes: 30,
	}

	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "972500000001", m.DriverPhone)
	assert.Equal(t, "972500000002", m.HitchhikerPhone)
	assert.Equal(t, "2026-08-31", m.Date)
	assert.Equal(t, "08:00", m.DriverTime)
	assert.Equal(t, 10, m.TimeDeltaMinutes)
	assert.Equal(t, rides.ReasonCoarse, m.ReasonCode)
	assert.False(t, m.Reverse)
}

func TestRecurringBoundaryFlexibility(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "באר שבע",
		Destination:    "תל אביב",
		Days:           []string{"sunday", "wednesday"},
		DepartureTime:  "08:00",
		AvailableSeats: 2,
	})
	require.NoError(t, err)

	within := rides.HitchhikerRequest{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate: "2026-08-26", DepartureTime: "08:15", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", within, "")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	outside := within
	outside.DepartureTime = "09:00"
	matches, err = e.MatchRequest(ctx, config.PrefixLive, "972500000002", outside, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCorridorMatchJerusalemEilatPicksUpArad(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	jerusalem := geo.Point{Lat: 31.7683, Lon: 35.2137}
	eilat := geo.Point{Lat: 29.5581, Lon: 34.9482}

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "ירושלים",
		Destination:    "אילת",
		TravelDate:     "2026-08-27",
		DepartureTime:  "09:00",
		AvailableSeats: 3,
	})
	require.NoError(t, err)

	require.NoError(t, s.AttachRouteData(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver, rides.RouteData{
		Polyline:    interpolate(jerusalem, eilat, 200),
		DistanceKm:  250,
		ThresholdKm: geo.CorridorThresholdKm(250),
	}))

	req := rides.HitchhikerRequest{
		Origin: "ערד", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, rides.ReasonCorridor, matches[0].ReasonCode)
	assert.Greater(t, matches[0].CorridorDistanceKm, 0.0)
	assert.LessOrEqual(t, matches[0].CorridorDistanceKm, 8.0)
}

func TestCorridorRejectsFarOrigin(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	telAviv := geo.Point{Lat: 32.0853, Lon: 34.7818}
	jerusalem := geo.Point{Lat: 31.7683, Lon: 35.2137}

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "תל אביב",
		Destination:    "ירושלים",
		TravelDate:     "2026-08-27",
		DepartureTime:  "09:00",
		AvailableSeats: 3,
	})
	require.NoError(t, err)

	require.NoError(t, s.AttachRouteData(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver, rides.RouteData{
		Polyline:    interpolate(telAviv, jerusalem, 100),
		DistanceKm:  60,
		ThresholdKm: geo.CorridorThresholdKm(60),
	}))

	// Beer Sheva is nowhere near the Tel Aviv - Jerusalem corridor.
	req := rides.HitchhikerRequest{
		Origin: "באר שבע", Destination: "ירושלים",
		TravelDate: "2026-08-27", DepartureTime: "09:00", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNoRouteDataFallsBackToExactOnly(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "ירושלים",
		Destination:    "אילת",
		TravelDate:     "2026-08-27",
		DepartureTime:  "09:00",
		AvailableSeats: 3,
	})
	require.NoError(t, err)

	// Arad would match by corridor, but without route data only exact
	// normalized labels count.
	corridorOnly := rides.HitchhikerRequest{
		Origin: "ערד", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", corridorOnly, "")
	require.NoError(t, err)
	assert.Empty(t, matches)

	exact := rides.HitchhikerRequest{
		Origin: "ירושלים", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:10", FlexibilityMinutes: 30,
	}
	matches, err = e.MatchRequest(ctx, config.PrefixLive, "972500000002", exact, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, rides.ReasonCoarse, matches[0].ReasonCode)
}

func TestSelfMatchExcluded(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	phone := "972500000001"
	_, err := s.AddRide(ctx, config.PrefixLive, phone, rides.DriverRide{
		Origin: "גברעם", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	req := rides.HitchhikerRequest{
		Origin: "גברעם", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:00", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, phone, req, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestZeroSeatsIneligible(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "גברעם", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	// Matching runs on a snapshot; force seats below the gate.
	rec := rides.DriverRecord{Phone: "972500000001", Ride: *created}
	rec.Ride.AvailableSeats = 0
	h := rides.HitchhikerRecord{Phone: "972500000002", Request: rides.HitchhikerRequest{
		Origin: "גברעם", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:00", FlexibilityMinutes: 30,
	}}
	assert.Empty(t, e.evaluate(ctx, rec, h))
}

func TestReturnLegMatchesReverseTrip(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin:         "תל אביב",
		Destination:    "ירושלים",
		Days:           []string{"monday"},
		DepartureTime:  "08:00",
		ReturnTime:     "17:00",
		AvailableSeats: 3,
	})
	require.NoError(t, err)

	// Hitchhiker travels in the return direction.
	req := rides.HitchhikerRequest{
		Origin: "ירושלים", Destination: "תל אביב",
		TravelDate: "2026-08-31", DepartureTime: "17:00", FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Reverse)
	assert.Equal(t, "17:00", matches[0].DriverTime)
}

func TestFlexibleWindowRequest(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "07:30", AvailableSeats: 3,
	})
	require.NoError(t, err)

	req := rides.HitchhikerRequest{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate:         "2026-08-27",
		Earliest:           "08:00",
		Latest:             "10:00",
		FlexibilityMinutes: 30,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	// 07:30 sits 30 minutes before the core window start.
	assert.Equal(t, 30, matches[0].TimeDeltaMinutes)
}

func TestRankingPrefersSmallerDeltaThenOlderDriver(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "09:00", AvailableSeats: 3,
	})
	require.NoError(t, err)
	_, err = s.AddRide(ctx, config.PrefixLive, "972500000003", rides.DriverRide{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:10", AvailableSeats: 3,
	})
	require.NoError(t, err)

	req := rides.HitchhikerRequest{
		Origin: "באר שבע", Destination: "תל אביב",
		TravelDate: "2026-08-27", DepartureTime: "08:00", FlexibilityMinutes: 60,
	}
	matches, err := e.MatchRequest(ctx, config.PrefixLive, "972500000002", req, "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "972500000003", matches[0].DriverPhone)
	assert.Equal(t, "972500000001", matches[1].DriverPhone)
}

func TestMatchRideFindsWaitingHitchhikers(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.AddRequest(ctx, config.PrefixLive, "972500000002", rides.HitchhikerRequest{
		Origin: "גברעם", Destination: "תל אביב",
		TravelDate: "2026-08-31", DepartureTime: "08:10", FlexibilityMinutes: 30,
	})
	require.NoError(t, err)

	ride := rides.DriverRide{
		Origin: "גברעם", Destination: "תל אביב",
		Days: []string{"monday"}, DepartureTime: "08:00", AvailableSeats: 3,
	}
	matches, err := e.MatchRide(ctx, config.PrefixLive, "972500000001", ride, "דני")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "דני", matches[0].DriverName)
	assert.Equal(t, "972500000002", matches[0].HitchhikerPhone)
}

func TestExpandDriverOneShot(t *testing.T) {
	cands := expandDriver(rides.DriverRide{
		Origin: "א", Destination: "ב",
		TravelDate: "2026-08-27", DepartureTime: "09:30",
	}, testNow)
	require.Len(t, cands, 1)
	assert.Equal(t, "2026-08-27", cands[0].date)
	assert.Equal(t, 9*60+30, cands[0].timeMinutes)
	assert.False(t, cands[0].reverse)
}

func TestExpandDriverRecurringWithReturn(t *testing.T) {
	cands := expandDriver(rides.DriverRide{
		Origin: "א", Destination: "ב",
		Days: []string{"monday", "wednesday"}, DepartureTime: "08:00", ReturnTime: "17:00",
	}, testNow)

	// Two weekdays in the 7-day horizon, two legs each.
	require.Len(t, cands, 4)
	for _, c := range cands {
		if c.reverse {
			assert.Equal(t, "ב", c.origin)
			assert.Equal(t, "א", c.destination)
			assert.Equal(t, 17*60, c.timeMinutes)
		} else {
			assert.Equal(t, "א", c.origin)
			assert.Equal(t, 8*60, c.timeMinutes)
		}
	}
}

func TestExpandDriverInvalidTime(t *testing.T) {
	assert.Empty(t, expandDriver(rides.DriverRide{
		Origin: "א", Destination: "ב",
		TravelDate: "2026-08-27", DepartureTime: "חמש",
	}, testNow))
}
