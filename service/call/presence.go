package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 45 * time.Second

// ParticipantPresence is one person currently in an appointment's
// waiting room.
type ParticipantPresence struct {
	UserID   uint      `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Presence tracks who is waiting for a call, in Redis with short TTLs.
// Clients heartbeat while on the call page; entries of clients that
// navigate away or crash simply expire.
type Presence struct {
	client *redis.Client
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

func presenceKey(appointmentID, userID uint) string {
	return fmt.Sprintf("waiting:%d:%d", appointmentID, userID)
}

// Join records (or refreshes) a participant in the waiting room.
func (p *Presence) Join(ctx context.Context, appointmentID, userID uint, role string) error {
	entry := ParticipantPresence{
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, presenceKey(appointmentID, userID), data, presenceTTL).Err()
}

func (p *Presence) Leave(ctx context.Context, appointmentID, userID uint) error {
	return p.client.Del(ctx, presenceKey(appointmentID, userID)).Err()
}

// List returns everyone currently waiting for the appointment. SCAN
// rather than KEYS: KEYS blocks the server for the whole keyspace.
func (p *Presence) List(ctx context.Context, appointmentID uint) ([]ParticipantPresence, error) {
	pattern := fmt.Sprintf("waiting:%d:*", appointmentID)

	var keys []string
	iter := p.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	participants := make([]ParticipantPresence, 0, len(keys))
	for _, key := range keys {
		data, err := p.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		var entry ParticipantPresence
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		participants = append(participants, entry)
	}
	return participants, nil
}
