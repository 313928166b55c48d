// Package admin exposes operator actions over user documents: delete, reset,
// phone migration and listings. The same operations back the /a chat commands
// and the token-guarded HTTP endpoints.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// UserSummary is the listing row returned by ListUsers.
type UserSummary struct {
	PhoneNumber string    `json:"phone_number"`
	DisplayName string    `json:"display_name,omitempty"`
	DriverRides int       `json:"driver_rides"`
	Requests    int       `json:"hitchhiker_requests"`
	LastSeen    time.Time `json:"last_seen"`
}

// Service performs administrative operations against the user store.
type Service struct {
	store *rides.Store
}

// NewService creates an admin service.
func NewService(store *rides.Store) *Service {
	return &Service{store: store}
}

// DeleteUser removes the user document entirely, history included.
func (s *Service) DeleteUser(ctx context.Context, prefix, phone string) error {
	logger.WarnContext(ctx, "admin: deleting user", zap.String("phone", phone), zap.String("prefix", prefix))
	return s.store.DeleteUser(ctx, prefix, phone)
}

// ResetUser clears the user's rides, requests and chat history but keeps the
// document so the next message is treated as a returning user.
func (s *Service) ResetUser(ctx context.Context, prefix, phone string) error {
	logger.WarnContext(ctx, "admin: resetting user", zap.String("phone", phone), zap.String("prefix", prefix))
	return s.store.ResetUser(ctx, prefix, phone)
}

// ChangePhone migrates a user document to a new phone number.
func (s *Service) ChangePhone(ctx context.Context, prefix, oldPhone, newPhone string) error {
	logger.WarnContext(ctx, "admin: migrating phone",
		zap.String("old", oldPhone), zap.String("new", newPhone), zap.String("prefix", prefix))
	return s.store.ChangePhone(ctx, prefix, oldPhone, newPhone)
}

// ListUsers returns a summary row per registered user.
func (s *Service) ListUsers(ctx context.Context, prefix string) ([]UserSummary, error) {
	users, err := s.store.ListUsers(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			PhoneNumber: u.PhoneNumber,
			DisplayName: u.DisplayName,
			DriverRides: len(u.DriverRides),
			Requests:    len(u.HitchhikerRequests),
			LastSeen:    u.LastSeen,
		})
	}
	return out, nil
}

// UserRecords returns one user's rides and requests.
func (s *Service) UserRecords(ctx context.Context, prefix, phone string) ([]rides.DriverRide, []rides.HitchhikerRequest, error) {
	return s.store.ListRecords(ctx, prefix, phone)
}

const commandUsage = `פקודות מנהל:
/a list — רשימת משתמשים
/a list <phone> — הרשומות של משתמש
/a del <phone> — מחיקת משתמש
/a reset <phone> — איפוס רשומות והיסטוריה
/a phone <old> <new> — העברת מספר`

// HandleCommand executes an /a chat command and returns the reply text. The
// caller has already verified the sender is an admin.
func (s *Service) HandleCommand(ctx context.Context, prefix, text string) string {
	fields := strings.Fields(text)
	// fields[0] is the /a marker itself.
	if len(fields) < 2 {
		return commandUsage
	}

	switch fields[1] {
	case "del":
		if len(fields) != 3 {
			return commandUsage
		}
		if err := s.DeleteUser(ctx, prefix, fields[2]); err != nil {
			return "מחיקה נכשלה: " + err.Error()
		}
		return "המשתמש " + fields[2] + " נמחק."

	case "reset":
		if len(fields) != 3 {
			return commandUsage
		}
		if err := s.ResetUser(ctx, prefix, fields[2]); err != nil {
			return "איפוס נכשל: " + err.Error()
		}
		return "המשתמש " + fields[2] + " אופס."

	case "phone":
		if len(fields) != 4 {
			return commandUsage
		}
		if err := s.ChangePhone(ctx, prefix, fields[2], fields[3]); err != nil {
			return "העברת המספר נכשלה: " + err.Error()
		}
		return fmt.Sprintf("המספר הועבר מ-%s אל %s.", fields[2], fields[3])

	case "list":
		if len(fields) == 3 {
			return s.formatUserRecords(ctx, prefix, fields[2])
		}
		return s.formatUserList(ctx, prefix)

	default:
		return commandUsage
	}
}

func (s *Service) formatUserList(ctx context.Context, prefix string) string {
	users, err := s.ListUsers(ctx, prefix)
	if err != nil {
		return "שליפת המשתמשים נכשלה: " + err.Error()
	}
	if len(users) == 0 {
		return "אין משתמשים רשומים."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d משתמשים:", len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "\n• %s", u.PhoneNumber)
		if u.DisplayName != "" {
			fmt.Fprintf(&b, " (%s)", u.DisplayName)
		}
		fmt.Fprintf(&b, " — %d נסיעות, %d בקשות", u.DriverRides, u.Requests)
	}
	return b.String()
}

func (s *Service) formatUserRecords(ctx context.Context, prefix, phone string) string {
	drives, reqs, err := s.UserRecords(ctx, prefix, phone)
	if err != nil {
		return "שליפת הרשומות נכשלה: " + err.Error()
	}
	if len(drives) == 0 && len(reqs) == 0 {
		return "למשתמש " + phone + " אין רשומות."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "רשומות של %s:", phone)
	for _, r := range drives {
		fmt.Fprintf(&b, "\n🚗 [%s] %s → %s", r.RideID, r.Origin, r.Destination)
	}
	for _, r := range reqs {
		fmt.Fprintf(&b, "\n🙋 [%s] %s → %s ב-%s", r.RequestID, r.Origin, r.Destination, r.TravelDate)
	}
	return b.String()
}
