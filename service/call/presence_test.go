package call

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestPresence(t *testing.T) (*Presence, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewPresence(client), srv
}

func TestPresenceListScopedToAppointment(t *testing.T) {
	presence, _ := newTestPresence(t)
	ctx := context.Background()

	if err := presence.Join(ctx, 5, 1, "patient"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := presence.Join(ctx, 5, 2, "mentor"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Appointment 51 shares the 5 prefix; it must not bleed into 5's room.
	if err := presence.Join(ctx, 51, 3, "patient"); err != nil {
		t.Fatalf("join: %v", err)
	}

	participants, err := presence.List(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d: %+v", len(participants), participants)
	}
	seen := map[uint]string{}
	for _, p := range participants {
		seen[p.UserID] = p.Role
	}
	if seen[1] != "patient" || seen[2] != "mentor" {
		t.Fatalf("unexpected participants %v", seen)
	}
}

func TestPresenceLeaveRemovesParticipant(t *testing.T) {
	presence, _ := newTestPresence(t)
	ctx := context.Background()

	presence.Join(ctx, 5, 1, "patient")
	presence.Join(ctx, 5, 2, "mentor")

	if err := presence.Leave(ctx, 5, 1); err != nil {
		t.Fatalf("leave: %v", err)
	}

	participants, err := presence.List(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 1 || participants[0].UserID != 2 {
		t.Fatalf("expected only user 2 waiting, got %+v", participants)
	}
}

func TestPresenceEntriesExpire(t *testing.T) {
	presence, srv := newTestPresence(t)
	ctx := context.Background()

	presence.Join(ctx, 5, 1, "patient")
	srv.FastForward(presenceTTL + time.Second)

	participants, err := presence.List(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 0 {
		t.Fatalf("expected the waiting room to be empty, got %+v", participants)
	}
}

func TestPresenceJoinRefreshesEntry(t *testing.T) {
	presence, srv := newTestPresence(t)
	ctx := context.Background()

	presence.Join(ctx, 5, 1, "patient")
	srv.FastForward(presenceTTL - time.Second)
	presence.Join(ctx, 5, 1, "patient") // heartbeat
	srv.FastForward(presenceTTL - time.Second)

	participants, err := presence.List(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 1 {
		t.Fatalf("heartbeat should keep the entry alive, got %+v", participants)
	}
}
