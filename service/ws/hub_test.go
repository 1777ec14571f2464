package ws

import (
	"testing"
	"time"
)

func newTestClient(hub *Hub, userID uint, buffer int) *ClientConnection {
	return &ClientConnection{
		Hub:    hub,
		Send:   make(chan []byte, buffer),
		UserID: userID,
	}
}

func register(t *testing.T, hub *Hub, client *ClientConnection) {
	t.Helper()
	hub.Register <- client
	waitForConnections(t, hub, client.UserID, 1)
}

func waitForConnections(t *testing.T, hub *Hub, userID uint, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount(userID) >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("user %d never reached %d connections", userID, want)
}

func TestBroadcastReachesOnlyTargetUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	alice := newTestClient(hub, 1, 4)
	bob := newTestClient(hub, 2, 4)
	register(t, hub, alice)
	register(t, hub, bob)

	hub.BroadcastToUser(1, []byte("hello"))

	select {
	case msg := <-alice.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("target user received nothing")
	}

	select {
	case msg := <-bob.Send:
		t.Fatalf("wrong user received %q", msg)
	default:
	}
}

func TestBroadcastReachesAllUserDevices(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	phone := newTestClient(hub, 1, 4)
	browser := newTestClient(hub, 1, 4)
	hub.Register <- phone
	hub.Register <- browser
	waitForConnections(t, hub, 1, 2)

	hub.BroadcastToUser(1, []byte("ping"))

	for _, client := range []*ClientConnection{phone, browser} {
		select {
		case <-client.Send:
		case <-time.After(time.Second):
			t.Fatal("a device missed the broadcast")
		}
	}
}

func TestUnregisterRemovesConnectionAndRunsCancels(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := newTestClient(hub, 1, 4)
	cancelled := make(chan struct{})
	client.addCancel(func() { close(cancelled) })
	register(t, hub, client)

	hub.Unregister <- client

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("unregister did not run subscription cancels")
	}

	deadline := time.Now().Add(time.Second)
	for hub.ConnectionCount(1) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not removed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, ok := <-client.Send; ok {
		t.Fatal("send channel should be closed after unregister")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// Buffer of one: the second broadcast finds it full.
	slow := newTestClient(hub, 1, 1)
	register(t, hub, slow)

	hub.BroadcastToUser(1, []byte("first"))
	hub.BroadcastToUser(1, []byte("second"))

	if got := hub.ConnectionCount(1); got != 0 {
		t.Fatalf("slow client should be dropped, still %d connections", got)
	}
}

func TestStopClosesAllClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, 1, 4)
	register(t, hub, client)

	hub.Stop()

	select {
	case _, ok := <-client.Send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not close client channels")
	}
}
