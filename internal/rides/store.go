package rides

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/pkg/common"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// ErrDuplicateRecord is returned when a new record carries the same
// normalized fingerprint as an existing one of the same user.
var ErrDuplicateRecord = errors.New("duplicate record")

// ValidatePrefix rejects any namespace other than the live and sandbox ones.
func ValidatePrefix(prefix string) error {
	if prefix != config.PrefixLive && prefix != config.PrefixSandbox {
		return fmt.Errorf("invalid collection prefix %q", prefix)
	}
	return nil
}

// DriverRecord is a scan result pairing a ride with its owner.
type DriverRecord struct {
	Phone       string
	DisplayName string
	Ride        DriverRide
}

// HitchhikerRecord is a scan result pairing a request with its owner.
type HitchhikerRecord struct {
	Phone       string
	DisplayName string
	Request     HitchhikerRequest
}

// Store is the typed facade over the document store. Mutations to the same
// user document are serialized by a per-(prefix, phone) mutex so
// read-modify-write cycles from the orchestrator and the background route
// pipeline cannot interleave.
type Store struct {
	backend    UserStore
	maxHistory int
	locks      sync.Map // "prefix|phone" -> *sync.Mutex
}

// NewStore creates the facade over a backend.
func NewStore(backend UserStore, maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Store{backend: backend, maxHistory: maxHistory}
}

func (s *Store) lockFor(prefix, phone string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(prefix+"|"+phone, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// mutate runs fn on the user's document under the per-user lock and persists
// the result. A nil user is passed when the document does not exist yet;
// fn may return a fresh document to create it.
func (s *Store) mutate(ctx context.Context, prefix, phone string, fn func(u *User) (*User, error)) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}

	mu := s.lockFor(prefix, phone)
	mu.Lock()
	defer mu.Unlock()

	u, err := s.backend.GetUser(ctx, prefix, phone)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("load user: %w", err)
	}

	updated, err := fn(u)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}

	updated.LastSeen = time.Now().UTC()
	if err := s.backend.SaveUser(ctx, prefix, updated); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser loads a user document.
func (s *Store) GetUser(ctx context.Context, prefix, phone string) (*User, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	return s.backend.GetUser(ctx, prefix, phone)
}

// GetOrCreateUser loads the user or creates an empty document. A non-empty
// displayName refreshes the stored one.
func (s *Store) GetOrCreateUser(ctx context.Context, prefix, phone, displayName string) (*User, error) {
	var out *User
	err := s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			u = &User{PhoneNumber: phone}
		}
		if displayName != "" {
			u.DisplayName = displayName
		}
		out = u
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendHistory appends chat messages and truncates to the configured cap,
// oldest first.
func (s *Store) AppendHistory(ctx context.Context, prefix, phone string, msgs ...ChatMessage) error {
	return s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			u = &User{PhoneNumber: phone}
		}
		u.ChatHistory = append(u.ChatHistory, msgs...)
		if over := len(u.ChatHistory) - s.maxHistory; over > 0 {
			u.ChatHistory = u.ChatHistory[over:]
		}
		return u, nil
	})
}

// AddRide appends a new driver ride, assigning its id and timestamps.
// A ride whose fingerprint matches an existing one returns ErrDuplicateRecord.
func (s *Store) AddRide(ctx context.Context, prefix, phone string, ride DriverRide) (*DriverRide, error) {
	if ride.AvailableSeats <= 0 {
		ride.AvailableSeats = 3
	}

	var out *DriverRide
	err := s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			u = &User{PhoneNumber: phone}
		}

		fp := ride.Fingerprint(gazetteer.Normalize)
		for i := range u.DriverRides {
			if u.DriverRides[i].Fingerprint(gazetteer.Normalize) == fp {
				return nil, fmt.Errorf("%w: ride %s", ErrDuplicateRecord, u.DriverRides[i].RideID)
			}
		}

		now := time.Now().UTC()
		ride.RideID = uuid.New().String()
		ride.CreatedAt = now
		ride.LastModified = now
		u.DriverRides = append(u.DriverRides, ride)
		out = &u.DriverRides[len(u.DriverRides)-1]
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddRequest appends a new hitchhiker request, assigning its id.
func (s *Store) AddRequest(ctx context.Context, prefix, phone string, req HitchhikerRequest) (*HitchhikerRequest, error) {
	if req.FlexibilityMinutes <= 0 {
		req.FlexibilityMinutes = 30
	}
	if req.FlexibilityMinutes > 240 {
		req.FlexibilityMinutes = 240
	}

	var out *HitchhikerRequest
	err := s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			u = &User{PhoneNumber: phone}
		}

		fp := req.Fingerprint(gazetteer.Normalize)
		for i := range u.HitchhikerRequests {
			if u.HitchhikerRequests[i].Fingerprint(gazetteer.Normalize) == fp {
				return nil, fmt.Errorf("%w: request %s", ErrDuplicateRecord, u.HitchhikerRequests[i].RequestID)
			}
		}

		req.RequestID = uuid.New().String()
		req.CreatedAt = time.Now().UTC()
		u.HitchhikerRequests = append(u.HitchhikerRequests, req)
		out = &u.HitchhikerRequests[len(u.HitchhikerRequests)-1]
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRide applies a patch function to an existing ride.
func (s *Store) UpdateRide(ctx context.Context, prefix, phone, rideID string, patch func(*DriverRide) error) (*DriverRide, error) {
	var out *DriverRide
	err := s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			return nil, common.ErrNotFound
		}
		ride := u.FindRide(rideID)
		if ride == nil {
			return nil, common.ErrNotFound
		}
		if err := patch(ride); err != nil {
			return nil, err
		}
		if ride.AvailableSeats <= 0 {
			ride.AvailableSeats = 1
		}
		ride.LastModified = time.Now().UTC()
		copied := *ride
		out = &copied
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRequest applies a patch function to an existing request.
func (s *Store) UpdateRequest(ctx context.Context, prefix, phone, requestID string, patch func(*HitchhikerRequest) error) (*HitchhikerRequest, error) {
	var out *HitchhikerRequest
	err := s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			return nil, common.ErrNotFound
		}
		req := u.FindRequest(requestID)
		if req == nil {
			return nil, common.ErrNotFound
		}
		if err := patch(req); err != nil {
			return nil, err
		}
		copied := *req
		out = &copied
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveRecord deletes a ride or request by id.
func (s *Store) RemoveRecord(ctx context.Context, prefix, phone, id string, role Role) error {
	return s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			return nil, common.ErrNotFound
		}

		switch role {
		case RoleDriver:
			for i := range u.DriverRides {
				if u.DriverRides[i].RideID == id {
					u.DriverRides = append(u.DriverRides[:i], u.DriverRides[i+1:]...)
					return u, nil
				}
			}
		case RoleHitchhiker:
			for i := range u.HitchhikerRequests {
				if u.HitchhikerRequests[i].RequestID == id {
					u.HitchhikerRequests = append(u.HitchhikerRequests[:i], u.HitchhikerRequests[i+1:]...)
					return u, nil
				}
			}
		}
		return nil, common.ErrNotFound
	})
}

// RemoveAllRecords clears every ride and request of a user, keeping history.
func (s *Store) RemoveAllRecords(ctx context.Context, prefix, phone string) error {
	return s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			return nil, common.ErrNotFound
		}
		u.DriverRides = nil
		u.HitchhikerRequests = nil
		return u, nil
	})
}

// AttachRouteData upserts route data on a record. Idempotent; a record deleted
// while its route was being computed makes this a silent no-op.
func (s *Store) AttachRouteData(ctx context.Context, prefix, phone, id string, role Role, rd RouteData) error {
	return s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			logger.DebugContext(ctx, "route data attach skipped, user gone",
				zap.String("phone", phone), zap.String("id", id))
			return nil, nil
		}

		switch role {
		case RoleDriver:
			if ride := u.FindRide(id); ride != nil {
				ride.RouteData = &rd
				ride.LastModified = time.Now().UTC()
				return u, nil
			}
		case RoleHitchhiker:
			if req := u.FindRequest(id); req != nil {
				req.RouteData = &rd
				return u, nil
			}
		}

		logger.DebugContext(ctx, "route data attach skipped, record gone",
			zap.String("phone", phone), zap.String("id", id))
		return nil, nil
	})
}

// ListRecords returns the user's rides and requests. A missing user yields
// empty lists.
func (s *Store) ListRecords(ctx context.Context, prefix, phone string) ([]DriverRide, []HitchhikerRequest, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, nil, err
	}

	u, err := s.backend.GetUser(ctx, prefix, phone)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return u.DriverRides, u.HitchhikerRequests, nil
}

// ScanDrivers enumerates every driver ride under the prefix.
func (s *Store) ScanDrivers(ctx context.Context, prefix string) ([]DriverRecord, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	users, err := s.backend.ListUsers(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []DriverRecord
	for _, u := range users {
		for _, ride := range u.DriverRides {
			out = append(out, DriverRecord{Phone: u.PhoneNumber, DisplayName: u.DisplayName, Ride: ride})
		}
	}
	return out, nil
}

// ScanHitchhikers enumerates every hitchhiker request under the prefix.
func (s *Store) ScanHitchhikers(ctx context.Context, prefix string) ([]HitchhikerRecord, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	users, err := s.backend.ListUsers(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []HitchhikerRecord
	for _, u := range users {
		for _, req := range u.HitchhikerRequests {
			out = append(out, HitchhikerRecord{Phone: u.PhoneNumber, DisplayName: u.DisplayName, Request: req})
		}
	}
	return out, nil
}

// RecordExists re-checks a record's presence; used before emitting
// notifications so deleted records are never announced.
func (s *Store) RecordExists(ctx context.Context, prefix, phone, id string, role Role) bool {
	u, err := s.GetUser(ctx, prefix, phone)
	if err != nil {
		return false
	}
	switch role {
	case RoleDriver:
		return u.FindRide(id) != nil
	case RoleHitchhiker:
		return u.FindRequest(id) != nil
	}
	return false
}

// DeleteUser removes a user document entirely.
func (s *Store) DeleteUser(ctx context.Context, prefix, phone string) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}

	mu := s.lockFor(prefix, phone)
	mu.Lock()
	defer mu.Unlock()

	return s.backend.DeleteUser(ctx, prefix, phone)
}

// ResetUser clears a user's records and chat history, keeping the document.
func (s *Store) ResetUser(ctx context.Context, prefix, phone string) error {
	return s.mutate(ctx, prefix, phone, func(u *User) (*User, error) {
		if u == nil {
			return nil, common.ErrNotFound
		}
		u.DriverRides = nil
		u.HitchhikerRequests = nil
		u.ChatHistory = nil
		return u, nil
	})
}

// ChangePhone moves a user document to a new phone key.
func (s *Store) ChangePhone(ctx context.Context, prefix, oldPhone, newPhone string) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}

	u, err := s.backend.GetUser(ctx, prefix, oldPhone)
	if err != nil {
		return err
	}

	u.PhoneNumber = newPhone
	if err := s.backend.SaveUser(ctx, prefix, u); err != nil {
		return fmt.Errorf("save user under new phone: %w", err)
	}
	return s.backend.DeleteUser(ctx, prefix, oldPhone)
}

// ListUsers enumerates all users under the prefix, for the admin surface.
func (s *Store) ListUsers(ctx context.Context, prefix string) ([]*User, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	return s.backend.ListUsers(ctx, prefix)
}

// Ping probes the backend for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
