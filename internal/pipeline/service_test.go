package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/matching"
	"github.com/kfirel/hiker/internal/notify"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/routing"
	"github.com/kfirel/hiker/internal/store"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	calls int
	err   error
}

func (f *fakeRouter) Route(_ context.Context, from, to geo.Point) (*routing.Route, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	// Straight densified line between the endpoints.
	const steps = 100
	poly := make([]geo.Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		fr := float64(i) / float64(steps)
		poly = append(poly, geo.Point{
			Lat: from.Lat + fr*(to.Lat-from.Lat),
			Lon: from.Lon + fr*(to.Lon-from.Lon),
		})
	}
	return &routing.Route{
		Polyline:   poly,
		DistanceKm: geo.Haversine(from, to) * 1.2,
		DurationS:  3600,
	}, nil
}

type recordingSink struct {
	sent map[string]int
}

func (r *recordingSink) SendText(_ context.Context, toPhone, _ string) error {
	if r.sent == nil {
		r.sent = make(map[string]int)
	}
	r.sent[toPhone]++
	return nil
}

type fixture struct {
	svc    *Service
	store  *rides.Store
	router *fakeRouter
	sink   *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gaz, err := gazetteer.New()
	require.NoError(t, err)

	s := rides.NewStore(store.NewMemory(), 100)
	engine := matching.NewEngine(gaz, s)
	engine.SetClock(func() time.Time {
		return time.Date(2026, 8, 25, 12, 0, 0, 0, rides.Location())
	})

	sink := &recordingSink{}
	emitter := notify.NewEmitter(sink, notify.NewMemoryNotifiedSet(), s)
	router := &fakeRouter{}

	return &fixture{
		svc:    New(gaz, router, s, engine, emitter, nil),
		store:  s,
		router: router,
		sink:   sink,
	}
}

func TestProcessAttachesRouteData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ride, err := f.store.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "ירושלים", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	f.svc.Process(ctx, config.PrefixLive, "972500000001", rides.RoleDriver, ride.RideID, true)

	drives, _, err := f.store.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	require.Len(t, drives, 1)
	require.NotNil(t, drives[0].RouteData)
	assert.NotEmpty(t, drives[0].RouteData.Polyline)
	assert.Greater(t, drives[0].RouteData.ThresholdKm, 0.0)
	assert.Equal(t, 1, f.router.calls)
}

func TestProcessGazetteerMissSkipsRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ride, err := f.store.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "מקום לא מוכר", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	f.svc.Process(ctx, config.PrefixLive, "972500000001", rides.RoleDriver, ride.RideID, true)

	drives, _, err := f.store.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	assert.Nil(t, drives[0].RouteData)
	assert.Equal(t, 0, f.router.calls)
}

func TestProcessRoutingFailureLeavesRecordIntact(t *testing.T) {
	f := newFixture(t)
	f.router.err = routing.ErrUnavailable
	ctx := context.Background()

	ride, err := f.store.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "ירושלים", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	f.svc.Process(ctx, config.PrefixLive, "972500000001", rides.RoleDriver, ride.RideID, true)

	drives, _, err := f.store.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Nil(t, drives[0].RouteData)
}

func TestProcessUnlocksCorridorMatchWithoutReNotifyingExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Exact hitchhiker already matched and notified through the coarse path.
	exactReq, err := f.store.AddRequest(ctx, config.PrefixLive, "972500000002", rides.HitchhikerRequest{
		Origin: "ירושלים", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:10", FlexibilityMinutes: 30,
	})
	require.NoError(t, err)

	// Corridor-only hitchhiker waits in Arad.
	_, err = f.store.AddRequest(ctx, config.PrefixLive, "972500000003", rides.HitchhikerRequest{
		Origin: "ערד", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", FlexibilityMinutes: 30,
	})
	require.NoError(t, err)

	ride, err := f.store.AddRide(ctx, config.PrefixLive, "972500000001", rides.DriverRide{
		Origin: "ירושלים", Destination: "אילת",
		TravelDate: "2026-08-27", DepartureTime: "09:00", AvailableSeats: 3,
	})
	require.NoError(t, err)

	// Foreground coarse match announces the exact pair only.
	matches, _, err := f.svc.MatchAndEmit(ctx, config.PrefixLive, "972500000001", rides.RoleDriver, ride.RideID, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, exactReq.RequestID, matches[0].Request.RequestID)
	assert.Equal(t, 1, f.sink.sent["972500000002"])

	// Route attach unlocks the Arad corridor match; the exact pair stays silent.
	f.svc.Process(ctx, config.PrefixLive, "972500000001", rides.RoleDriver, ride.RideID, true)

	assert.Equal(t, 1, f.sink.sent["972500000002"], "exact pair must not be re-notified")
	assert.Equal(t, 1, f.sink.sent["972500000003"], "corridor match should be announced after route attach")
	assert.Equal(t, 2, f.sink.sent["972500000001"], "driver hears about both matches once each")
}

func TestTriggerDropsConcurrentDuplicate(t *testing.T) {
	f := newFixture(t)

	// Simulate an in-flight job by pre-claiming the key Trigger uses.
	f.svc.inflight.Store(config.PrefixLive+"|972500000001|abc", struct{}{})
	f.svc.Trigger(context.Background(), config.PrefixLive, "972500000001", rides.RoleDriver, "abc", true)

	// The router must not have been called for the dropped trigger.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.router.calls)
}

func TestSweepRemovesPastRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.AddRequest(ctx, config.PrefixLive, "972500000002", rides.HitchhikerRequest{
		Origin: "ערד", Destination: "אילת",
		TravelDate: "2026-08-20", DepartureTime: "09:00", FlexibilityMinutes: 30,
	})
	require.NoError(t, err)
	future, err := f.store.AddRequest(ctx, config.PrefixLive, "972500000002", rides.HitchhikerRequest{
		Origin: "ערד", Destination: "אילת",
		TravelDate: "2026-08-30", DepartureTime: "09:00", FlexibilityMinutes: 30,
	})
	require.NoError(t, err)

	sweeper := NewSweeper(f.store, time.Hour)
	sweeper.now = func() time.Time {
		return time.Date(2026, 8, 25, 3, 0, 0, 0, rides.Location())
	}

	removed := sweeper.SweepOnce(ctx, config.PrefixLive)
	assert.Equal(t, 1, removed)

	_, reqs, err := f.store.ListRecords(ctx, config.PrefixLive, "972500000002")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, future.RequestID, reqs[0].RequestID)
}
