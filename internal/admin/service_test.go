package admin

import (
	"context"
	"testing"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/store"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(rides.NewStore(store.NewMemory(), 100))
}

func seedUser(t *testing.T, s *Service, prefix, phone string) {
	t.Helper()
	_, err := s.store.AddRide(context.Background(), prefix, phone, rides.DriverRide{
		Origin: "גברעם", Destination: "תל אביב",
		Days: []string{"monday"}, DepartureTime: "08:00", AvailableSeats: 3,
	})
	require.NoError(t, err)
}

func TestHandleCommandList(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")

	reply := s.HandleCommand(ctx, config.PrefixLive, "/a list")
	assert.Contains(t, reply, "972500000001")
	assert.Contains(t, reply, "1 נסיעות")
}

func TestHandleCommandListUserRecords(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")

	reply := s.HandleCommand(ctx, config.PrefixLive, "/a list 972500000001")
	assert.Contains(t, reply, "גברעם")
	assert.Contains(t, reply, "תל אביב")

	reply = s.HandleCommand(ctx, config.PrefixLive, "/a list 972500000099")
	assert.Contains(t, reply, "אין רשומות")
}

func TestHandleCommandDelete(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")

	reply := s.HandleCommand(ctx, config.PrefixLive, "/a del 972500000001")
	assert.Contains(t, reply, "נמחק")

	_, err := s.store.GetUser(ctx, config.PrefixLive, "972500000001")
	assert.Error(t, err)
}

func TestHandleCommandReset(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")

	reply := s.HandleCommand(ctx, config.PrefixLive, "/a reset 972500000001")
	assert.Contains(t, reply, "אופס")

	drives, _, err := s.store.ListRecords(ctx, config.PrefixLive, "972500000001")
	require.NoError(t, err)
	assert.Empty(t, drives)

	// Document survives the reset.
	_, err = s.store.GetUser(ctx, config.PrefixLive, "972500000001")
	assert.NoError(t, err)
}

func TestHandleCommandChangePhone(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")

	reply := s.HandleCommand(ctx, config.PrefixLive, "/a phone 972500000001 972500000009")
	assert.Contains(t, reply, "972500000009")

	drives, _, err := s.store.ListRecords(ctx, config.PrefixLive, "972500000009")
	require.NoError(t, err)
	assert.Len(t, drives, 1)

	_, err = s.store.GetUser(ctx, config.PrefixLive, "972500000001")
	assert.Error(t, err)
}

func TestHandleCommandScopedToPrefix(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	seedUser(t, s, config.PrefixLive, "972500000001")
	seedUser(t, s, config.PrefixSandbox, "972500000002")

	reply := s.HandleCommand(ctx, config.PrefixSandbox, "/a list")
	assert.Contains(t, reply, "972500000002")
	assert.NotContains(t, reply, "972500000001")
}

func TestHandleCommandUsage(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	for _, text := range []string{"/a", "/a bogus", "/a del", "/a phone 123"} {
		assert.Contains(t, s.HandleCommand(ctx, config.PrefixLive, text), "פקודות מנהל", "input %q", text)
	}
}
