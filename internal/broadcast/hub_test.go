package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/logger"
)

func testHub() *Hub {
	return NewHub(logger.New("test"), nil)
}

func TestHubDeliversVehicleEventsToAllSubscribers(t *testing.T) {
	hub := testHub()
	a := hub.Subscribe("")
	b := hub.Subscribe("trip-1")
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	hub.PublishVehicle(contracts.VehicleEvent{
		Type:   contracts.EventVehicleLocation,
		TripID: "trip-1",
		Lat:    41.38,
		Lng:    2.17,
	})

	for _, sub := range []*Subscription{a, b} {
		select {
		case raw := <-sub.C:
			var ev contracts.VehicleEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ev.Type != contracts.EventVehicleLocation {
				t.Errorf("type = %q, want %q", ev.Type, contracts.EventVehicleLocation)
			}
			if ev.TripID != "trip-1" {
				t.Errorf("trip id = %q, want trip-1", ev.TripID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestHubRoutesAlertsToTripSubscribersOnly(t *testing.T) {
	hub := testHub()
	mine := hub.Subscribe("trip-1")
	other := hub.Subscribe("trip-2")
	viewer := hub.Subscribe("")
	defer hub.Unsubscribe(mine)
	defer hub.Unsubscribe(other)
	defer hub.Unsubscribe(viewer)

	hub.PublishAlert("trip-1", contracts.MonitorAlert{
		Type:   contracts.AlertDeviation,
		TripID: "trip-1",
		At:     time.Now(),
	})

	select {
	case <-mine.C:
	case <-time.After(time.Second):
		t.Fatal("trip subscriber did not receive its alert")
	}

	select {
	case <-other.C:
		t.Fatal("alert leaked to another trip's subscriber")
	case <-viewer.C:
		t.Fatal("alert leaked to a plain viewer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsWhenSubscriberBufferIsFull(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe("")
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer*2; i++ {
			hub.PublishVehicle(contracts.VehicleEvent{
				Type:   contracts.EventVehicleLocation,
				TripID: "trip-1",
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	if got := len(sub.C); got != defaultBuffer {
		t.Errorf("buffered = %d, want %d", got, defaultBuffer)
	}
}

func TestHubUnsubscribeClosesChannelOnce(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe("")
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // second call is a no-op

	if _, open := <-sub.C; open {
		t.Error("channel still open after unsubscribe")
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", hub.SubscriberCount())
	}
}
