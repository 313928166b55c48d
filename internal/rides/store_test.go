package rides_test

import (
	"context"
	"testing"
	"time"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/store"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *rides.Store {
	t.Helper()
	return rides.NewStore(store.NewMemory(), 100)
}

func sampleRide() rides.DriverRide {
	return rides.DriverRide{
		Origin:         "גברעם",
		Destination:    "תל אביב",
		Days:           []string{"monday"},
		DepartureTime:  "08:00",
		AvailableSeats: 3,
	}
}

func sampleRequest() rides.HitchhikerRequest {
	return rides.HitchhikerRequest{
		Origin:             "גברעם",
		Destination:        "תל אביב",
		TravelDate:         "2026-08-31",
		DepartureTime:      "08:10",
		FlexibilityMinutes: 30,
	}
}

func TestAddRideThenList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)
	assert.NotEmpty(t, created.RideID)
	assert.False(t, created.CreatedAt.IsZero())

	drives, reqs, err := s.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Empty(t, reqs)
	assert.Equal(t, created.RideID, drives[0].RideID)
}

func TestAddRideDuplicateFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	// Same content with normalization-equivalent labels is a duplicate.
	dup := sampleRide()
	dup.Destination = "תל-אביב"
	_, err = s.AddRide(ctx, config.PrefixLive, "972500000001", dup)
	assert.ErrorIs(t, err, rides.ErrDuplicateRecord)
}

func TestAddRideDefaultsSeats(t *testing.T) {
	s := newTestStore(t)

	ride := sampleRide()
	ride.AvailableSeats = 0
	created, err := s.AddRide(context.Background(), config.PrefixLive, "972500000001", ride)
	require.NoError(t, err)
	assert.Equal(t, 3, created.AvailableSeats)
}

func TestRemoveRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	require.NoError(t, s.RemoveRecord(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver))

	drives, _, err := s.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	assert.Empty(t, drives)

	err = s.RemoveRecord(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver)
	assert.Error(t, err)
}

func TestUpdateRide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	updated, err := s.UpdateRide(ctx, config.PrefixLive, "972500000001", created.RideID, func(r *rides.DriverRide) error {
		r.Notes = "יוצא מהשער הצהוב"
		r.AvailableSeats = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "יוצא מהשער הצהוב", updated.Notes)
	assert.Equal(t, 2, updated.AvailableSeats)
	assert.True(t, updated.LastModified.After(created.CreatedAt) || updated.LastModified.Equal(created.CreatedAt))
}

func TestAttachRouteDataIsNoopAfterDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)
	require.NoError(t, s.RemoveRecord(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver))

	rd := rides.RouteData{
		Polyline:    []geo.Point{{Lat: 31.59, Lon: 34.61}, {Lat: 32.08, Lon: 34.78}},
		DistanceKm:  60,
		ThresholdKm: 4.5,
	}
	require.NoError(t, s.AttachRouteData(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver, rd))

	drives, _, err := s.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	assert.Empty(t, drives)
}

func TestAttachRouteData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	rd := rides.RouteData{
		Polyline:    []geo.Point{{Lat: 31.59, Lon: 34.61}, {Lat: 32.08, Lon: 34.78}},
		DistanceKm:  60,
		ThresholdKm: 4.5,
	}
	require.NoError(t, s.AttachRouteData(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver, rd))

	drives, _, err := s.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	require.Len(t, drives, 1)
	require.NotNil(t, drives[0].RouteData)
	assert.InDelta(t, 4.5, drives[0].RouteData.ThresholdKm, 1e-9)
	assert.Len(t, drives[0].RouteData.Polyline, 2)
}

func TestPrefixIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixSandbox, "972500000001", sampleRide())
	require.NoError(t, err)
	_, err = s.AddRequest(ctx, config.PrefixSandbox, "972500000002", sampleRequest())
	require.NoError(t, err)

	drivers, err := s.ScanDrivers(ctx, config.PrefixLive)
	require.NoError(t, err)
	assert.Empty(t, drivers)

	hikers, err := s.ScanHitchhikers(ctx, config.PrefixLive)
	require.NoError(t, err)
	assert.Empty(t, hikers)

	drivers, err = s.ScanDrivers(ctx, config.PrefixSandbox)
	require.NoError(t, err)
	assert.Len(t, drivers, 1)
}

func TestInvalidPrefixRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddRide(context.Background(), "staging_", "972500000001", sampleRide())
	assert.Error(t, err)

	_, _, err = s.ListRecords(context.Background(), "x", "972500000001")
	assert.Error(t, err)
}

func TestHistoryTruncation(t *testing.T) {
	s := rides.NewStore(store.NewMemory(), 5)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendHistory(ctx, config.PrefixLive, "972500000001", rides.ChatMessage{
			Role:      "user",
			Text:      rides.FormatClock(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	u, err := s.GetUser(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	require.Len(t, u.ChatHistory, 5)
	// Oldest entries were dropped.
	assert.Equal(t, rides.FormatClock(3), u.ChatHistory[0].Text)
	assert.Equal(t, rides.FormatClock(7), u.ChatHistory[4].Text)
}

func TestRequestFlexibilityClamped(t *testing.T) {
	s := newTestStore(t)

	req := sampleRequest()
	req.FlexibilityMinutes = 999
	created, err := s.AddRequest(context.Background(), config.PrefixLive, "972500000002", req)
	require.NoError(t, err)
	assert.Equal(t, 240, created.FlexibilityMinutes)

	req2 := sampleRequest()
	req2.TravelDate = "2026-09-01"
	req2.FlexibilityMinutes = 0
	created2, err := s.AddRequest(context.Background(), config.PrefixLive, "972500000002", req2)
	require.NoError(t, err)
	assert.Equal(t, 30, created2.FlexibilityMinutes)
}

func TestChangePhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	require.NoError(t, s.ChangePhone(ctx, config.PrefixLive, "972500000001", "972500000099"))

	_, err = s.GetUser(ctx, config.PrefixLive, "972500000001")
	assert.Error(t, err)

	u, err := s.GetUser(ctx, config.PrefixLive, "972500000099")
	require.NoError(t, err)
	assert.Equal(t, "972500000099", u.PhoneNumber)
	assert.Len(t, u.DriverRides, 1)
}

func TestRecordExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.AddRide(ctx, config.PrefixLive, "972500000001", sampleRide())
	require.NoError(t, err)

	assert.True(t, s.RecordExists(ctx, config.PrefixLive, "972500000001", created.RideID, rides.RoleDriver))
	assert.False(t, s.RecordExists(ctx, config.PrefixLive, "972500000001", "missing", rides.RoleDriver))
	assert.False(t, s.RecordExists(ctx, config.PrefixSandbox, "972500000001", created.RideID, rides.RoleDriver))
}
