package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/llm"
	"github.com/kfirel/hiker/internal/pipeline"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/common"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// Replies for failure paths. Schema violations are internal; the user only
// ever sees a localized string.
const (
	replyNotUnderstood = "לא הצלחתי להבין את הבקשה, אפשר לנסח מחדש?"
	replyNotFound      = "לא מצאתי רשומה כזו. כתבו \"מה הנסיעות שלי?\" כדי לראות את הרשימה."
	replySystemError   = "משהו השתבש אצלנו, נסו שוב בעוד רגע."
)

// Dispatcher validates and executes model-produced tool calls. Every handler
// threads the collection prefix and the send-externally flag.
type Dispatcher struct {
	store    *rides.Store
	pipe     *pipeline.Service
	gaz      *gazetteer.Gazetteer
	validate *validator.Validate
}

// New creates a dispatcher.
func New(store *rides.Store, pipe *pipeline.Service, gaz *gazetteer.Gazetteer) *Dispatcher {
	return &Dispatcher{
		store:    store,
		pipe:     pipe,
		gaz:      gaz,
		validate: validator.New(),
	}
}

// Execute runs one tool call and returns the user-facing reply. It never
// returns an empty string.
func (d *Dispatcher) Execute(ctx context.Context, phone string, call *llm.ToolCall, prefix string, sendExternally bool) string {
	var reply string
	var err error

	switch call.Name {
	case ToolUpdateUserRecords:
		reply, err = d.updateUserRecords(ctx, phone, call.Arguments, prefix, sendExternally)
	case ToolViewUserRecords:
		reply, err = d.viewUserRecords(ctx, phone, prefix)
	case ToolDeleteUserRecord:
		reply, err = d.deleteUserRecord(ctx, phone, call.Arguments, prefix)
	case ToolDeleteAllUserRecords:
		reply, err = d.deleteAllUserRecords(ctx, phone, prefix)
	case ToolShowHelp:
		return HelpText
	default:
		logger.WarnContext(ctx, "unknown tool call",
			zap.String("tool", call.Name), zap.String("phone", phone))
		return replyNotUnderstood
	}

	if err != nil {
		var verr validator.ValidationErrors
		switch {
		case errors.As(err, &verr), errors.Is(err, errBadArguments):
			logger.WarnContext(ctx, "tool schema violation",
				zap.String("tool", call.Name), zap.Error(err))
			return replyNotUnderstood
		case errors.Is(err, common.ErrNotFound):
			return replyNotFound
		default:
			logger.ErrorContext(ctx, "tool handler failed",
				zap.String("tool", call.Name), zap.String("phone", phone), zap.Error(err))
			return replySystemError
		}
	}
	return reply
}

var errBadArguments = errors.New("bad tool arguments")

type updateArgs struct {
	Role               string   `json:"role" validate:"required,oneof=driver hitchhiker"`
	Origin             string   `json:"origin" validate:"required"`
	Destination        string   `json:"destination" validate:"required"`
	Days               []string `json:"days" validate:"omitempty,dive,oneof=sunday monday tuesday wednesday thursday friday saturday"`
	DepartureTime      string   `json:"departure_time"`
	ReturnTime         string   `json:"return_time"`
	TravelDate         string   `json:"travel_date" validate:"omitempty,datetime=2006-01-02"`
	Earliest           string   `json:"earliest"`
	Latest             string   `json:"latest"`
	FlexibilityMinutes int      `json:"flexibility_minutes" validate:"omitempty,min=0,max=240"`
	AvailableSeats     int      `json:"available_seats" validate:"omitempty,min=1,max=8"`
	RecordID           string   `json:"record_id"`
	Notes              string   `json:"notes"`
}

func (a *updateArgs) validateTimes() error {
	for _, field := range []string{a.DepartureTime, a.ReturnTime, a.Earliest, a.Latest} {
		if field == "" {
			continue
		}
		if _, err := rides.ParseClock(field); err != nil {
			return fmt.Errorf("%w: %v", errBadArguments, err)
		}
	}
	return nil
}

func (d *Dispatcher) updateUserRecords(ctx context.Context, phone string, raw json.RawMessage, prefix string, sendExternally bool) (string, error) {
	var args updateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}
	if err := d.validate.Struct(&args); err != nil {
		return "", err
	}
	if err := args.validateTimes(); err != nil {
		return "", err
	}

	role, err := rides.ParseRole(args.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}

	var summary string
	var recordID string
	switch role {
	case rides.RoleDriver:
		summary, recordID, err = d.upsertRide(ctx, phone, &args, prefix)
	case rides.RoleHitchhiker:
		summary, recordID, err = d.upsertRequest(ctx, phone, &args, prefix)
	}
	if err != nil {
		if errors.Is(err, rides.ErrDuplicateRecord) {
			return "הנסיעה הזו כבר רשומה אצלך 🙂", nil
		}
		return "", err
	}

	var b strings.Builder
	b.WriteString(summary)

	for _, warning := range d.gazetteerWarnings(args.Origin, args.Destination) {
		b.WriteString("\n")
		b.WriteString(warning)
	}

	// The route pipeline runs detached so the reply is not blocked on the
	// routing engine; coarse matching runs inline.
	d.pipe.PublishRecordCreated(ctx, prefix, phone, role, recordID)
	d.pipe.Trigger(ctx, prefix, phone, role, recordID, sendExternally)

	matches, messages, err := d.pipe.MatchAndEmit(ctx, prefix, phone, role, recordID, sendExternally)
	if err != nil {
		logger.ErrorContext(ctx, "foreground match failed",
			zap.String("phone", phone), zap.String("id", recordID), zap.Error(err))
	}
	if len(matches) > 0 {
		fmt.Fprintf(&b, "\n\nנמצאו %d התאמות! שלחנו הודעה לשני הצדדים.", len(matches))
	}
	if !sendExternally && len(messages) > 0 {
		b.WriteString("\n\n--- הודעות התאמה ---")
		for _, msg := range messages {
			b.WriteString("\n\n")
			b.WriteString(msg)
		}
	}

	if listing := d.formatRecords(ctx, phone, prefix); listing != "" {
		b.WriteString("\n\n")
		b.WriteString(listing)
	}
	return b.String(), nil
}

func (d *Dispatcher) upsertRide(ctx context.Context, phone string, args *updateArgs, prefix string) (string, string, error) {
	if args.RecordID != "" {
		id, err := d.resolveID(ctx, phone, prefix, args.RecordID, rides.RoleDriver)
		if err != nil {
			return "", "", err
		}
		updated, err := d.store.UpdateRide(ctx, prefix, phone, id, func(r *rides.DriverRide) error {
			applyRidePatch(r, args)
			return nil
		})
		if err != nil {
			return "", "", err
		}
		return "עדכנתי את הנסיעה ✅", updated.RideID, nil
	}

	if args.DepartureTime == "" {
		return "", "", fmt.Errorf("%w: driver ride requires departure_time", errBadArguments)
	}
	if len(args.Days) == 0 && args.TravelDate == "" {
		return "", "", fmt.Errorf("%w: driver ride requires days or travel_date", errBadArguments)
	}

	created, err := d.store.AddRide(ctx, prefix, phone, rides.DriverRide{
		Origin:         args.Origin,
		Destination:    args.Destination,
		Days:           args.Days,
		DepartureTime:  args.DepartureTime,
		ReturnTime:     args.ReturnTime,
		TravelDate:     args.TravelDate,
		AvailableSeats: args.AvailableSeats,
		Notes:          args.Notes,
	})
	if err != nil {
		return "", "", err
	}
	return "רשמתי את הנסיעה שלך כנהג 🚗", created.RideID, nil
}

func (d *Dispatcher) upsertRequest(ctx context.Context, phone string, args *updateArgs, prefix string) (string, string, error) {
	if args.RecordID != "" {
		id, err := d.resolveID(ctx, phone, prefix, args.RecordID, rides.RoleHitchhiker)
		if err != nil {
			return "", "", err
		}
		updated, err := d.store.UpdateRequest(ctx, prefix, phone, id, func(r *rides.HitchhikerRequest) error {
			applyRequestPatch(r, args)
			return nil
		})
		if err != nil {
			return "", "", err
		}
		return "עדכנתי את הבקשה ✅", updated.RequestID, nil
	}

	if args.TravelDate == "" {
		return "", "", fmt.Errorf("%w: hitchhiker request requires travel_date", errBadArguments)
	}
	if args.DepartureTime == "" && (args.Earliest == "" || args.Latest == "") {
		return "", "", fmt.Errorf("%w: hitchhiker request requires departure_time or a window", errBadArguments)
	}

	created, err := d.store.AddRequest(ctx, prefix, phone, rides.HitchhikerRequest{
		Origin:             args.Origin,
		Destination:        args.Destination,
		TravelDate:         args.TravelDate,
		DepartureTime:      args.DepartureTime,
		Earliest:           args.Earliest,
		Latest:             args.Latest,
		FlexibilityMinutes: args.FlexibilityMinutes,
		Notes:              args.Notes,
	})
	if err != nil {
		return "", "", err
	}
	return "רשמתי את הבקשה שלך לטרמפ 🙋", created.RequestID, nil
}

func applyRidePatch(r *rides.DriverRide, args *updateArgs) {
	sameEndpoints := gazetteer.Normalize(r.Origin) == gazetteer.Normalize(args.Origin) &&
		gazetteer.Normalize(r.Destination) == gazetteer.Normalize(args.Destination)
	r.Origin = args.Origin
	r.Destination = args.Destination
	if len(args.Days) > 0 {
		r.Days = args.Days
		r.TravelDate = ""
	}
	if args.TravelDate != "" {
		r.TravelDate = args.TravelDate
		r.Days = nil
	}
	if args.DepartureTime != "" {
		r.DepartureTime = args.DepartureTime
	}
	if args.ReturnTime != "" {
		r.ReturnTime = args.ReturnTime
	}
	if args.AvailableSeats > 0 {
		r.AvailableSeats = args.AvailableSeats
	}
	if args.Notes != "" {
		r.Notes = args.Notes
	}
	// Stale geometry must not drive matching once an endpoint moves; edits
	// that keep both endpoints keep the route.
	if !sameEndpoints {
		r.RouteData = nil
	}
}

func applyRequestPatch(r *rides.HitchhikerRequest, args *updateArgs) {
	sameEndpoints := gazetteer.Normalize(r.Origin) == gazetteer.Normalize(args.Origin) &&
		gazetteer.Normalize(r.Destination) == gazetteer.Normalize(args.Destination)
	r.Origin = args.Origin
	r.Destination = args.Destination
	if args.TravelDate != "" {
		r.TravelDate = args.TravelDate
	}
	if args.DepartureTime != "" {
		r.DepartureTime = args.DepartureTime
		r.Earliest, r.Latest = "", ""
	}
	if args.Earliest != "" && args.Latest != "" {
		r.Earliest, r.Latest = args.Earliest, args.Latest
		r.DepartureTime = ""
	}
	if args.FlexibilityMinutes > 0 {
		r.FlexibilityMinutes = args.FlexibilityMinutes
	}
	if args.Notes != "" {
		r.Notes = args.Notes
	}
	if !sameEndpoints {
		r.RouteData = nil
	}
}

type deleteArgs struct {
	RecordID string `json:"record_id" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=driver hitchhiker"`
}

func (d *Dispatcher) deleteUserRecord(ctx context.Context, phone string, raw json.RawMessage, prefix string) (string, error) {
	var args deleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}
	if err := d.validate.Struct(&args); err != nil {
		return "", err
	}

	role, err := rides.ParseRole(args.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}

	id, err := d.resolveID(ctx, phone, prefix, args.RecordID, role)
	if err != nil {
		return "", err
	}
	if err := d.store.RemoveRecord(ctx, prefix, phone, id, role); err != nil {
		return "", err
	}

	d.pipe.PublishRecordDeleted(ctx, prefix, phone, role, id)
	return "מחקתי את הרשומה 🗑️", nil
}

func (d *Dispatcher) deleteAllUserRecords(ctx context.Context, phone, prefix string) (string, error) {
	if err := d.store.RemoveAllRecords(ctx, prefix, phone); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "אין לך רשומות למחוק.", nil
		}
		return "", err
	}
	return "מחקתי את כל הרשומות שלך 🗑️", nil
}

func (d *Dispatcher) viewUserRecords(ctx context.Context, phone, prefix string) (string, error) {
	listing := d.formatRecords(ctx, phone, prefix)
	if listing == "" {
		return "אין לך נסיעות או בקשות רשומות כרגע. כתבו לאן אתם נוסעים ונתחיל!", nil
	}
	return listing, nil
}

// resolveID accepts full ids and unambiguous short prefixes, so users can
// reference the truncated ids shown in listings.
func (d *Dispatcher) resolveID(ctx context.Context, phone, prefix, id string, role rides.Role) (string, error) {
	drives, reqs, err := d.store.ListRecords(ctx, prefix, phone)
	if err != nil {
		return "", err
	}

	var candidates []string
	switch role {
	case rides.RoleDriver:
		for _, r := range drives {
			if r.RideID == id {
				return id, nil
			}
			if strings.HasPrefix(r.RideID, id) {
				candidates = append(candidates, r.RideID)
			}
		}
	case rides.RoleHitchhiker:
		for _, r := range reqs {
			if r.RequestID == id {
				return id, nil
			}
			if strings.HasPrefix(r.RequestID, id) {
				candidates = append(candidates, r.RequestID)
			}
		}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return "", common.ErrNotFound
}

func (d *Dispatcher) gazetteerWarnings(labels ...string) []string {
	var out []string
	for _, label := range labels {
		if _, ok := d.gaz.Lookup(label); !ok {
			out = append(out, fmt.Sprintf("⚠️ לא הצלחתי לאתר את \"%s\" במפה, ההתאמה תיעשה לפי שם מדויק בלבד.", label))
		}
	}
	return out
}

func (d *Dispatcher) formatRecords(ctx context.Context, phone, prefix string) string {
	drives, reqs, err := d.store.ListRecords(ctx, prefix, phone)
	if err != nil {
		logger.ErrorContext(ctx, "list records failed", zap.String("phone", phone), zap.Error(err))
		return ""
	}
	if len(drives) == 0 && len(reqs) == 0 {
		return ""
	}

	var b strings.Builder
	if len(drives) > 0 {
		b.WriteString("🚗 הנסיעות שלך כנהג:")
		for _, r := range drives {
			b.WriteString("\n")
			b.WriteString(formatRide(r))
		}
	}
	if len(reqs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("🙋 הבקשות שלך לטרמפ:")
		for _, r := range reqs {
			b.WriteString("\n")
			b.WriteString(formatRequest(r))
		}
	}
	return b.String()
}

func formatRide(r rides.DriverRide) string {
	var when string
	if r.Recurring() {
		when = strings.Join(hebrewDays(r.Days), ", ")
		if r.ReturnTime != "" {
			when += fmt.Sprintf(" בשעה %s (חזור %s)", r.DepartureTime, r.ReturnTime)
		} else {
			when += " בשעה " + r.DepartureTime
		}
	} else {
		when = fmt.Sprintf("%s בשעה %s", r.TravelDate, r.DepartureTime)
	}
	return fmt.Sprintf("• [%s] %s ← %s | %s | %d מקומות",
		shortID(r.RideID), r.Destination, r.Origin, when, r.AvailableSeats)
}

func formatRequest(r rides.HitchhikerRequest) string {
	var when string
	if r.Flexible() {
		when = fmt.Sprintf("%s בין %s ל-%s", r.TravelDate, r.Earliest, r.Latest)
	} else {
		when = fmt.Sprintf("%s בשעה %s (±%d דק')", r.TravelDate, r.DepartureTime, r.FlexibilityMinutes)
	}
	return fmt.Sprintf("• [%s] %s ← %s | %s", shortID(r.RequestID), r.Destination, r.Origin, when)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var hebrewDayNames = map[string]string{
	"sunday": "ראשון", "monday": "שני", "tuesday": "שלישי",
	"wednesday": "רביעי", "thursday": "חמישי", "friday": "שישי", "saturday": "שבת",
}

func hebrewDays(days []string) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		if he, ok := hebrewDayNames[strings.ToLower(d)]; ok {
			out = append(out, he)
		} else {
			out = append(out, d)
		}
	}
	return out
}
