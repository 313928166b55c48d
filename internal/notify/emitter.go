package notify

import (
	"context"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// Emitter announces matches to both parties. Duplicate matches are suppressed
// through the notified set; with sendExternally false (sandbox) the formatted
// messages are returned without touching the sink.
type Emitter struct {
	sink     Sink
	notified NotifiedSet
	store    *rides.Store
}

// NewEmitter creates an emitter.
func NewEmitter(sink Sink, notified NotifiedSet, store *rides.Store) *Emitter {
	return &Emitter{sink: sink, notified: notified, store: store}
}

// Emit processes matches in rank order and returns the messages for every
// newly announced match. Sink failures are logged and do not stop the batch;
// delivery is best effort.
func (e *Emitter) Emit(ctx context.Context, prefix string, matches []rides.Match, sendExternally bool) []string {
	var out []string

	for _, m := range matches {
		fresh, err := e.notified.MarkIfNew(ctx, prefix, m.Ride.RideID, m.Request.RequestID, m.Date)
		if err != nil {
			logger.ErrorContext(ctx, "notified set check failed",
				zap.String("ride_id", m.Ride.RideID),
				zap.String("request_id", m.Request.RequestID),
				zap.Error(err),
			)
			continue
		}
		if !fresh {
			continue
		}

		// Records can be deleted between the match scan and this point.
		if !e.store.RecordExists(ctx, prefix, m.DriverPhone, m.Ride.RideID, rides.RoleDriver) ||
			!e.store.RecordExists(ctx, prefix, m.HitchhikerPhone, m.Request.RequestID, rides.RoleHitchhiker) {
			logger.DebugContext(ctx, "match dropped, record deleted before emit",
				zap.String("ride_id", m.Ride.RideID),
				zap.String("request_id", m.Request.RequestID),
			)
			continue
		}

		toHitchhiker := FormatForHitchhiker(m)
		toDriver := FormatForDriver(m)
		out = append(out, toHitchhiker, toDriver)

		if !sendExternally {
			continue
		}

		if err := e.sink.SendText(ctx, m.HitchhikerPhone, toHitchhiker); err != nil {
			logger.ErrorContext(ctx, "hitchhiker notification failed",
				zap.String("phone", m.HitchhikerPhone),
				zap.String("id", m.Request.RequestID),
				zap.String("stage", "emit"),
				zap.Error(err),
			)
		}
		if err := e.sink.SendText(ctx, m.DriverPhone, toDriver); err != nil {
			logger.ErrorContext(ctx, "driver notification failed",
				zap.String("phone", m.DriverPhone),
				zap.String("id", m.Ride.RideID),
				zap.String("stage", "emit"),
				zap.Error(err),
			)
		}
	}

	return out
}
