package notification

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func reminderData(appointmentID uint) string {
	data, err := json.Marshal(map[string]interface{}{
		"appointment_id": appointmentID,
		"start_time":     time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC).Format(time.RFC3339),
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func TestAppointmentMarkerMatchesOwnData(t *testing.T) {
	for _, id := range []uint{1, 5, 51, 500} {
		if !strings.Contains(reminderData(id), appointmentMarker(id)) {
			t.Fatalf("marker %q did not match data %s", appointmentMarker(id), reminderData(id))
		}
	}
}

func TestAppointmentMarkerDoesNotMatchLongerIDs(t *testing.T) {
	cases := []struct {
		marker uint
		data   uint
	}{
		{5, 51},
		{5, 52},
		{5, 500},
		{51, 510},
	}
	for _, c := range cases {
		if strings.Contains(reminderData(c.data), appointmentMarker(c.marker)) {
			t.Fatalf("marker for appointment %d matched the data of appointment %d: %s",
				c.marker, c.data, reminderData(c.data))
		}
	}
}

func TestSessionStartingDataCarriesTheMarker(t *testing.T) {
	data, err := json.Marshal(map[string]interface{}{
		"appointment_id": uint(7),
		"meeting_type":   "video",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), appointmentMarker(7)) {
		t.Fatalf("session-starting data %s does not carry marker %q", data, appointmentMarker(7))
	}
}
