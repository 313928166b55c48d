// Package pipeline runs the background route job for freshly persisted
// records: geocode the endpoints, fetch a driving route, derive the corridor
// threshold, attach the result and re-run matching. The job is detached from
// the webhook request and never blocks the user's reply.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/matching"
	"github.com/kfirel/hiker/internal/notify"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/routing"
	"github.com/kfirel/hiker/pkg/async"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/errors"
	"github.com/kfirel/hiker/pkg/eventbus"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// pipelineTimeout bounds one detached route job end to end.
const pipelineTimeout = 2 * time.Minute

// Router is the slice of the routing client the pipeline needs.
type Router interface {
	Route(ctx context.Context, from, to geo.Point) (*routing.Route, error)
}

// Service orchestrates route jobs and match runs.
type Service struct {
	gaz     *gazetteer.Gazetteer
	router  Router
	store   *rides.Store
	engine  *matching.Engine
	emitter *notify.Emitter
	bus     *eventbus.Bus // nil when publishing is disabled

	inflight sync.Map // "prefix|phone|id" -> struct{}
}

// New creates the pipeline service. bus may be nil.
func New(gaz *gazetteer.Gazetteer, router Router, store *rides.Store, engine *matching.Engine, emitter *notify.Emitter, bus *eventbus.Bus) *Service {
	return &Service{
		gaz:     gaz,
		router:  router,
		store:   store,
		engine:  engine,
		emitter: emitter,
		bus:     bus,
	}
}

// Trigger spawns the route pipeline for a record as a named detached task.
// A second trigger while one is in flight for the same record is dropped;
// the job's input is deterministic per record, so nothing is lost.
func (s *Service) Trigger(ctx context.Context, prefix, phone string, role rides.Role, id string, sendExternally bool) {
	key := prefix + "|" + phone + "|" + id
	if _, running := s.inflight.LoadOrStore(key, struct{}{}); running {
		logger.DebugContext(ctx, "route pipeline already in flight",
			zap.String("phone", phone), zap.String("id", id))
		return
	}

	async.GoWithTimeout(ctx, "route-pipeline", pipelineTimeout, func(ctx context.Context) {
		defer s.inflight.Delete(key)
		s.Process(ctx, prefix, phone, role, id, sendExternally)
	})
}

// Process runs one route job synchronously. Failures are logged and
// swallowed; the record simply stays without route data.
func (s *Service) Process(ctx context.Context, prefix, phone string, role rides.Role, id string, sendExternally bool) {
	fail := func(stage string, cause error) {
		logger.WarnContext(ctx, "route pipeline stopped",
			zap.String("phone", phone),
			zap.String("id", id),
			zap.String("stage", stage),
			zap.Error(cause),
		)
		if cause != nil {
			errors.CaptureError(cause, map[string]string{"stage": stage, "id": id})
		}
	}

	origin, destination, ok := s.recordEndpoints(ctx, prefix, phone, role, id)
	if !ok {
		return
	}

	po, okO := s.gaz.LookupPoint(origin)
	pd, okD := s.gaz.LookupPoint(destination)
	if !okO || !okD {
		logger.DebugContext(ctx, "gazetteer miss, record keeps coarse matching",
			zap.String("phone", phone),
			zap.String("id", id),
			zap.Bool("origin_found", okO),
			zap.Bool("destination_found", okD),
		)
		return
	}

	route, err := s.router.Route(ctx, po, pd)
	if err != nil {
		fail("route", err)
		return
	}

	rd := rides.RouteData{
		Polyline:    route.Polyline,
		DistanceKm:  route.DistanceKm,
		ThresholdKm: geo.CorridorThresholdKm(route.DistanceKm),
	}
	if err := s.store.AttachRouteData(ctx, prefix, phone, id, role, rd); err != nil {
		fail("attach", err)
		return
	}

	s.publish(ctx, prefix, eventbus.SubjectRouteAttached, "route.attached", map[string]interface{}{
		"phone":        phone,
		"id":           id,
		"role":         role,
		"distance_km":  rd.DistanceKm,
		"threshold_km": rd.ThresholdKm,
	})

	// Routes sometimes unlock matches coarse matching missed. The notified
	// set keeps already-announced pairs silent.
	if _, _, err := s.MatchAndEmit(ctx, prefix, phone, role, id, sendExternally); err != nil {
		fail("rematch", err)
	}
}

// MatchAndEmit runs the matching engine for a record and emits notifications.
// Returns the ranked matches and the formatted messages of newly announced
// ones (surfaced inline on the sandbox path).
func (s *Service) MatchAndEmit(ctx context.Context, prefix, phone string, role rides.Role, id string, sendExternally bool) ([]rides.Match, []string, error) {
	u, err := s.store.GetUser(ctx, prefix, phone)
	if err != nil {
		return nil, nil, err
	}

	var matches []rides.Match
	switch role {
	case rides.RoleDriver:
		ride := u.FindRide(id)
		if ride == nil {
			return nil, nil, nil
		}
		matches, err = s.engine.MatchRide(ctx, prefix, phone, *ride, u.DisplayName)
	case rides.RoleHitchhiker:
		req := u.FindRequest(id)
		if req == nil {
			return nil, nil, nil
		}
		matches, err = s.engine.MatchRequest(ctx, prefix, phone, *req, u.DisplayName)
	}
	if err != nil {
		return nil, nil, err
	}

	if len(matches) > 0 {
		s.publish(ctx, prefix, eventbus.SubjectMatchFound, "match.found", map[string]interface{}{
			"phone":   phone,
			"id":      id,
			"role":    role,
			"matches": len(matches),
		})
	}

	messages := s.emitter.Emit(ctx, prefix, matches, sendExternally)
	if len(messages) > 0 {
		// Found and notified diverge: the notified set and the existence
		// re-check suppress pairs the engine still reports.
		s.publish(ctx, prefix, eventbus.SubjectMatchNotified, "match.notified", map[string]interface{}{
			"phone":    phone,
			"id":       id,
			"role":     role,
			"notified": len(messages) / 2,
		})
	}
	return matches, messages, nil
}

// PublishRecordCreated announces a new live-prefix record on the bus.
func (s *Service) PublishRecordCreated(ctx context.Context, prefix, phone string, role rides.Role, id string) {
	s.publish(ctx, prefix, eventbus.SubjectRideCreated, "ride.created", map[string]interface{}{
		"phone": phone,
		"id":    id,
		"role":  role,
	})
}

// PublishRecordDeleted announces a live-prefix record deletion.
func (s *Service) PublishRecordDeleted(ctx context.Context, prefix, phone string, role rides.Role, id string) {
	s.publish(ctx, prefix, eventbus.SubjectRideDeleted, "ride.deleted", map[string]interface{}{
		"phone": phone,
		"id":    id,
		"role":  role,
	})
}

// publish sends an event for live-prefix activity only. Sandbox traffic never
// reaches the bus.
func (s *Service) publish(ctx context.Context, prefix, subject, eventType string, data map[string]interface{}) {
	if s.bus == nil || prefix != config.PrefixLive {
		return
	}

	event, err := eventbus.NewEvent(eventType, "hiker-bot", data)
	if err != nil {
		logger.ErrorContext(ctx, "event encode failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (s *Service) recordEndpoints(ctx context.Context, prefix, phone string, role rides.Role, id string) (origin, destination string, ok bool) {
	u, err := s.store.GetUser(ctx, prefix, phone)
	if err != nil {
		return "", "", false
	}

	switch role {
	case rides.RoleDriver:
		if ride := u.FindRide(id); ride != nil {
			return ride.Origin, ride.Destination, true
		}
	case rides.RoleHitchhiker:
		if req := u.FindRequest(id); req != nil {
			return req.Origin, req.Destination, true
		}
	}
	return "", "", false
}
