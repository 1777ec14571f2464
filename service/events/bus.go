package events

import (
	"sync"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/google/uuid"
)

// AppointmentChange mirrors a row-level change on an appointment: the
// row as it was and as it now is. Subscribed clients use it to react to
// the counterpart's writes, most importantly the meeting link being
// populated.
type AppointmentChange struct {
	New models.Appointment `json:"new"`
	Old models.Appointment `json:"old"`
}

type subscriber struct {
	appointmentID uint
	ch            chan AppointmentChange
}

// Bus is an in-process change feed for appointment rows, keyed by
// appointment ID. It is created at startup, injected into whatever
// publishes or subscribes, and closed at shutdown.
//
// Delivery is non-blocking: a subscriber that falls behind loses the
// event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe registers interest in changes to one appointment. The
// returned cancel func unregisters and closes the channel; it is safe
// to call more than once.
func (b *Bus) Subscribe(appointmentID uint) (<-chan AppointmentChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AppointmentChange, 8)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	b.subs[id] = &subscriber{appointmentID: appointmentID, ch: ch}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the change to every subscriber of that appointment.
func (b *Bus) Publish(change AppointmentChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.appointmentID != change.New.ID {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			// Subscriber buffer full; drop rather than block.
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Publish
// and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
