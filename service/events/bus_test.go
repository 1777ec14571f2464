package events

import (
	"testing"
	"time"
)

func changeFor(id uint, link string) AppointmentChange {
	var c AppointmentChange
	c.New.ID = id
	c.New.MeetingLink = link
	c.Old.ID = id
	return c
}

func TestSubscribeReceivesMatchingAppointmentOnly(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(42)
	defer cancel()

	bus.Publish(changeFor(7, "https://x.daily.co/other"))
	bus.Publish(changeFor(42, "https://x.daily.co/room42"))

	select {
	case change := <-ch:
		if change.New.ID != 42 {
			t.Fatalf("expected change for appointment 42, got %d", change.New.ID)
		}
		if change.New.MeetingLink != "https://x.daily.co/room42" {
			t.Fatalf("unexpected meeting link %q", change.New.MeetingLink)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}

	select {
	case change := <-ch:
		t.Fatalf("unexpected extra change for appointment %d", change.New.ID)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // safe to call twice

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	bus.Publish(changeFor(1, "https://x.daily.co/room1"))
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	bus := NewBus()

	ch, _ := bus.Subscribe(1)
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus close")
	}

	// Subscribe after close returns a closed channel.
	ch2, cancel2 := bus.Subscribe(2)
	defer cancel2()
	if _, ok := <-ch2; ok {
		t.Fatal("expected closed channel when subscribing to closed bus")
	}

	bus.Publish(changeFor(1, "x"))
	bus.Close()
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(9)
	defer cancel()

	for i := 0; i < 32; i++ {
		bus.Publish(changeFor(9, "link"))
	}

	// Buffer is 8; the rest were dropped without blocking.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 8 {
				t.Fatalf("expected 8 buffered changes, got %d", received)
			}
			return
		}
	}
}
