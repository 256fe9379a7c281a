package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/general/logger"
)

var (
	ErrTooFewPoints = errors.New("routing: at least two points required")
	ErrNoBaseURL    = errors.New("routing: base url not configured")
)

// Result is a road-snapped polyline. Approximate is set when any leg fell
// back to a straight line because the upstream could not route it.
type Result struct {
	Points      []geo.LatLng
	Approximate bool
}

// RoadSnapper is the routing boundary consumers depend on, so tests can
// substitute a fake for the HTTP client.
type RoadSnapper interface {
	SnappedPolyline(ctx context.Context, points []geo.LatLng) (Result, error)
}

// Client talks to an OSRM-style road-routing service. Failures are never
// fatal: the client degrades leg by leg down to straight lines.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

func NewClient(log *logger.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// SnappedPolyline routes through the given points in order. It tries the
// full multi-point route first; on failure it retries leg by leg and
// substitutes a straight line for any leg that itself fails.
func (c *Client) SnappedPolyline(ctx context.Context, points []geo.LatLng) (Result, error) {
	if len(points) < 2 {
		return Result{}, ErrTooFewPoints
	}
	if c.baseURL == "" {
		return Result{}, ErrNoBaseURL
	}

	// Tier 1: full route in one request.
	snapped, err := c.route(ctx, points)
	if err == nil {
		return Result{Points: snapped}, nil
	}
	c.logger.Error(ctx, "routing_full_failed", "Full route request failed, retrying per leg", err, map[string]any{
		"points": len(points),
	})

	// Tier 2: per-leg retry with straight-line substitution.
	out := []geo.LatLng{points[0]}
	approximate := false
	for i := 0; i < len(points)-1; i++ {
		leg, err := c.route(ctx, points[i:i+2])
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			approximate = true
			out = append(out, points[i+1])
			continue
		}
		// drop the leading point, it duplicates the previous leg's tail
		if len(leg) > 1 {
			out = append(out, leg[1:]...)
		} else {
			out = append(out, points[i+1])
		}
	}

	return Result{Points: out, Approximate: approximate}, nil
}

// osrmResponse is the subset of the upstream payload we read.
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) route(ctx context.Context, points []geo.LatLng) ([]geo.LatLng, error) {
	var sb strings.Builder
	for i, p := range points {
		if i > 0 {
			sb.WriteByte(';')
		}
		fmt.Fprintf(&sb, "%f,%f", p.Lng, p.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson", c.baseURL, sb.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("routing: upstream returned %d", resp.StatusCode)
	}

	var decoded osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("routing: decode response: %w", err)
	}
	if decoded.Code != "Ok" || len(decoded.Routes) == 0 {
		return nil, fmt.Errorf("routing: upstream code %q", decoded.Code)
	}

	coords := decoded.Routes[0].Geometry.Coordinates
	out := make([]geo.LatLng, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		out = append(out, geo.LatLng{Lat: c[1], Lng: c[0]})
	}
	if len(out) < 2 {
		return nil, errors.New("routing: upstream returned too few points")
	}
	return out, nil
}
