package rtm

import (
	"testing"

	"github.com/rs/zerolog"
)

func drainOne(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case frame := <-c.Outbound:
		return frame
	default:
		t.Fatal("expected a frame on the outbound channel")
		return Frame{}
	}
}

func TestBroadcastDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := hub.NewClient("acc-1")
	other := hub.NewClient("acc-2")
	hub.Subscribe(subscriber, "root-1")
	hub.Subscribe(other, "root-2")

	hub.Broadcast(Event{Topic: "root-1", Type: "annotation.created", Action: "created"})

	frame := drainOne(t, subscriber)
	if frame.Event == nil || frame.Event.Type != "annotation.created" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	select {
	case frame := <-other.Outbound:
		t.Fatalf("client on another topic must not receive the event, got %+v", frame)
	default:
	}
}

func TestBroadcastSkipsOriginClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	origin := hub.NewClient("acc-1")
	peer := hub.NewClient("acc-2")
	hub.Subscribe(origin, "root-1")
	hub.Subscribe(peer, "root-1")

	hub.Broadcast(Event{Topic: "root-1", Type: "annotation.updated", OriginClientID: origin.ID})

	select {
	case frame := <-origin.Outbound:
		t.Fatalf("originating client must not receive its own event, got %+v", frame)
	default:
	}
	drainOne(t, peer)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := hub.NewClient("acc-1")
	hub.Subscribe(client, "root-1")
	hub.Unsubscribe(client, "root-1")

	hub.Broadcast(Event{Topic: "root-1", Type: "annotation.created"})

	select {
	case frame := <-client.Outbound:
		t.Fatalf("unsubscribed client must not receive events, got %+v", frame)
	default:
	}
}

func TestRemoveClientClearsAllTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := hub.NewClient("acc-1")
	hub.Subscribe(client, "root-1")
	hub.Subscribe(client, "root-2")

	hub.RemoveClient(client)

	if len(client.Topics) != 0 {
		t.Fatalf("expected no topics after removal, got %v", client.Topics)
	}
	hub.Broadcast(Event{Topic: "root-1", Type: "annotation.created"})
	hub.Broadcast(Event{Topic: "root-2", Type: "annotation.created"})
	select {
	case frame := <-client.Outbound:
		t.Fatalf("removed client must not receive events, got %+v", frame)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := hub.NewClient("acc-1")
	hub.Subscribe(client, "root-1")

	for i := 0; i < cap(client.Outbound)+5; i++ {
		hub.Broadcast(Event{Topic: "root-1", Type: "annotation.created"})
	}

	if len(client.Outbound) != cap(client.Outbound) {
		t.Fatalf("expected full buffer, got %d of %d", len(client.Outbound), cap(client.Outbound))
	}
}

func TestBroadcastIgnoresEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := hub.NewClient("acc-1")
	hub.Subscribe(client, "root-1")

	hub.Broadcast(Event{Topic: "", Type: "annotation.created"})

	select {
	case frame := <-client.Outbound:
		t.Fatalf("empty topic must not be delivered, got %+v", frame)
	default:
	}
}
