package rtm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupBus(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client, "courseware.events", zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBusRoundTrip(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	if err := bus.StartForwarder(ctx, func(event Event) {
		received <- event
	}); err != nil {
		t.Fatalf("StartForwarder failed: %v", err)
	}

	sent := Event{
		Topic:          "root-1",
		Type:           "annotation.created",
		OriginClientID: "client-1",
		ElementID:      "elem-1",
		Action:         "created",
	}
	if err := bus.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Topic != sent.Topic || event.Type != sent.Type || event.OriginClientID != sent.OriginClientID {
			t.Fatalf("round-trip mismatch: sent %+v, got %+v", sent, event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}

func TestBusForwarderStopsOnCancel(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan Event, 1)
	if err := bus.StartForwarder(ctx, func(event Event) {
		received <- event
	}); err != nil {
		t.Fatalf("StartForwarder failed: %v", err)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	if err := bus.Publish(context.Background(), Event{Topic: "root-1", Type: "annotation.created"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case event := <-received:
		t.Fatalf("forwarder must stop after cancel, got %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusForwarderRequiresCallback(t *testing.T) {
	bus := setupBus(t)
	if err := bus.StartForwarder(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}
