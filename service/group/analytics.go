package group

import (
	"math"

	"github.com/emotions-app/emotions-server/cmd/models"
)

// Report aggregates attendance across a group's sessions. Rate is the
// share of attendance records marked attended, across sessions that
// have any records at all.
type Report struct {
	SessionsHeld int
	Attended     int
	Rate         float64
	PerSession   map[uint]int
}

// AttendanceReport computes attendance figures from sessions with their
// attendance preloaded. Sessions with no records (not yet held, or not
// marked) are excluded from the rate.
func AttendanceReport(sessions []models.GroupSession) Report {
	report := Report{PerSession: make(map[uint]int)}

	total := 0
	for _, session := range sessions {
		if len(session.Attendance) == 0 {
			continue
		}
		report.SessionsHeld++

		attended := 0
		for _, record := range session.Attendance {
			if record.Status == "attended" {
				attended++
			}
		}
		report.Attended += attended
		report.PerSession[session.ID] = attended
		total += len(session.Attendance)
	}

	if total > 0 {
		report.Rate = math.Round(float64(report.Attended)/float64(total)*1000) / 1000
	}
	return report
}
