// Package routing calls an external OSRM-style driving-route engine and
// parses the polyline and distance out of its response.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/geo"
	"github.com/kfirel/hiker/pkg/httpclient"
	"github.com/kfirel/hiker/pkg/resilience"
)

// ErrUnavailable covers every failure of the routing engine: network errors,
// non-2xx, timeouts and malformed bodies. Callers persist the ride without
// route data and fall back to name-exact matching.
var ErrUnavailable = errors.New("routing service unavailable")

// totalBudget caps wall time across all retries of a single route request.
const totalBudget = 30 * time.Second

// Route is a driving route between two points.
type Route struct {
	Polyline   []geo.Point
	DistanceKm float64
	DurationS  float64
}

// Client requests driving routes with bounded retry, a circuit breaker and a
// concurrency cap.
type Client struct {
	http    *httpclient.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
	sem     chan struct{}
}

// NewClient creates a routing client from configuration.
func NewClient(cfg *config.RoutingConfig) *Client {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	retry := resilience.RetryConfig{
		MaxAttempts:       cfg.MaxRetries,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker: func(err error) bool {
			return errors.Is(err, ErrUnavailable)
		},
	}

	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "routing",
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}, nil)

	return &Client{
		http:    httpclient.NewClient(cfg.BaseURL, cfg.RouteTimeout()),
		breaker: breaker,
		retry:   retry,
		timeout: cfg.RouteTimeout(),
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Route requests a driving route from one point to another.
func (c *Client) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, totalBudget)
	defer cancel()

	result, err := resilience.RetryWithName(ctx, c.retry, func(ctx context.Context) (interface{}, error) {
		return c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return c.fetch(ctx, from, to)
		})
	}, "routing")
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}

	return result.(*Route), nil
}

func (c *Client) fetch(ctx context.Context, from, to geo.Point) (*Route, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf("/route/v1/driving/%s,%s;%s,%s?overview=full&geometries=geojson",
		coord(from.Lon), coord(from.Lat), coord(to.Lon), coord(to.Lat))

	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return parseResponse(body)
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Distance float64 `json:"distance"` // metres
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

func parseResponse(body []byte) (*Route, error) {
	var resp osrmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("%w: code %q with %d routes", ErrUnavailable, resp.Code, len(resp.Routes))
	}

	r := resp.Routes[0]
	if len(r.Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("%w: degenerate geometry", ErrUnavailable)
	}

	poly := make([]geo.Point, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: malformed coordinate", ErrUnavailable)
		}
		// GeoJSON order is (lon, lat).
		poly = append(poly, geo.Point{Lat: c[1], Lon: c[0]})
	}

	return &Route{
		Polyline:   poly,
		DistanceKm: r.Distance / 1000.0,
		DurationS:  r.Duration,
	}, nil
}
