package group

import (
	"testing"

	"github.com/emotions-app/emotions-server/cmd/models"
)

func sessionWith(id uint, statuses ...string) models.GroupSession {
	session := models.GroupSession{}
	session.ID = id
	for i, status := range statuses {
		session.Attendance = append(session.Attendance, models.SessionAttendance{
			SessionID: id,
			UserID:    uint(i + 1),
			Status:    status,
		})
	}
	return session
}

func TestAttendanceReportEmpty(t *testing.T) {
	report := AttendanceReport(nil)
	if report.SessionsHeld != 0 || report.Rate != 0 {
		t.Fatalf("expected zero report, got %+v", report)
	}
}

func TestAttendanceReportSkipsUnmarkedSessions(t *testing.T) {
	sessions := []models.GroupSession{
		sessionWith(1, "attended", "attended", "absent"),
		sessionWith(2), // scheduled, nothing marked yet
	}

	report := AttendanceReport(sessions)

	if report.SessionsHeld != 1 {
		t.Fatalf("expected 1 session held, got %d", report.SessionsHeld)
	}
	if report.Attended != 2 {
		t.Fatalf("expected 2 attended, got %d", report.Attended)
	}
	if report.Rate != 0.667 {
		t.Fatalf("expected rate 0.667, got %v", report.Rate)
	}
}

func TestAttendanceReportPerSessionCounts(t *testing.T) {
	sessions := []models.GroupSession{
		sessionWith(1, "attended", "absent"),
		sessionWith(2, "attended", "attended"),
	}

	report := AttendanceReport(sessions)

	if report.PerSession[1] != 1 || report.PerSession[2] != 2 {
		t.Fatalf("unexpected per-session counts %v", report.PerSession)
	}
	if report.Rate != 0.75 {
		t.Fatalf("expected rate 0.75, got %v", report.Rate)
	}
}
