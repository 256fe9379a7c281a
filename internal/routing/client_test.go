package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/general/logger"
)

var testPoints = []geo.LatLng{
	{Lat: 41.3800, Lng: 2.1700},
	{Lat: 41.3900, Lng: 2.1800},
	{Lat: 41.4000, Lng: 2.1900},
}

func osrmBody(points ...[2]float64) string {
	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = fmt.Sprintf("[%f,%f]", p[0], p[1]) // lng, lat
	}
	return `{"code":"Ok","routes":[{"geometry":{"coordinates":[` + strings.Join(coords, ",") + `]}}]}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(logger.New("test"), srv.URL, 2*time.Second)
}

func TestSnappedPolylineFullRoute(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, osrmBody(
			[2]float64{2.1701, 41.3801},
			[2]float64{2.1755, 41.3855},
			[2]float64{2.1901, 41.4001},
		))
	})

	res, err := client.SnappedPolyline(context.Background(), testPoints)
	if err != nil {
		t.Fatalf("SnappedPolyline: %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
	if res.Approximate {
		t.Error("full route must not be flagged approximate")
	}
	if len(res.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(res.Points))
	}
	if res.Points[0].Lat != 41.3801 || res.Points[0].Lng != 2.1701 {
		t.Errorf("first point = %+v, lat/lng order wrong", res.Points[0])
	}
}

func TestSnappedPolylineFallsBackPerLeg(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// full multi-point attempt fails
			http.Error(w, "no route", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, osrmBody(
			[2]float64{2.17, 41.38},
			[2]float64{2.18, 41.39},
		))
	})

	res, err := client.SnappedPolyline(context.Background(), testPoints)
	if err != nil {
		t.Fatalf("SnappedPolyline: %v", err)
	}
	if calls != 3 { // 1 full + 2 legs
		t.Errorf("upstream calls = %d, want 3", calls)
	}
	if res.Approximate {
		t.Error("all legs succeeded, result must not be approximate")
	}
}

func TestSnappedPolylineSubstitutesStraightLineForFailedLeg(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		// full attempt and the first leg fail; second leg succeeds
		if calls <= 2 {
			http.Error(w, "no route", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, osrmBody(
			[2]float64{2.18, 41.39},
			[2]float64{2.185, 41.395},
			[2]float64{2.19, 41.40},
		))
	})

	res, err := client.SnappedPolyline(context.Background(), testPoints)
	if err != nil {
		t.Fatalf("SnappedPolyline: %v", err)
	}
	if !res.Approximate {
		t.Error("straight-line substitution must flag the result approximate")
	}
	// failed leg contributes its raw endpoint, second leg its snapped tail
	if res.Points[0] != testPoints[0] || res.Points[1] != testPoints[1] {
		t.Errorf("failed leg not replaced by straight line: %+v", res.Points[:2])
	}
	if len(res.Points) != 4 {
		t.Errorf("points = %d, want 4", len(res.Points))
	}
}

func TestSnappedPolylineAllLegsDownYieldsStraightLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	res, err := client.SnappedPolyline(context.Background(), testPoints)
	if err != nil {
		t.Fatalf("SnappedPolyline: %v", err)
	}
	if !res.Approximate {
		t.Error("fully degraded result must be approximate")
	}
	if len(res.Points) != len(testPoints) {
		t.Fatalf("points = %d, want the raw input back", len(res.Points))
	}
	for i, p := range res.Points {
		if p != testPoints[i] {
			t.Errorf("point %d = %+v, want %+v", i, p, testPoints[i])
		}
	}
}

func TestSnappedPolylineInputValidation(t *testing.T) {
	client := NewClient(logger.New("test"), "http://localhost:9", time.Second)
	if _, err := client.SnappedPolyline(context.Background(), testPoints[:1]); err != ErrTooFewPoints {
		t.Errorf("err = %v, want ErrTooFewPoints", err)
	}

	blank := NewClient(logger.New("test"), "  ", time.Second)
	if _, err := blank.SnappedPolyline(context.Background(), testPoints); err != ErrNoBaseURL {
		t.Errorf("err = %v, want ErrNoBaseURL", err)
	}
}
