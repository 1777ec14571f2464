package mood

import (
	"testing"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
)

func entryAt(daysAgo int, score int, mood string, now time.Time) models.MoodEntry {
	return models.MoodEntry{
		Score:    score,
		Mood:     mood,
		LoggedAt: now.AddDate(0, 0, -daysAgo),
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil, time.Now())
	if summary.AverageScore != 0 || summary.StreakDays != 0 || len(summary.MoodCounts) != 0 {
		t.Fatalf("empty input should produce a zero summary, got %+v", summary)
	}
}

func TestSummarizeAverageAndCounts(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	entries := []models.MoodEntry{
		entryAt(0, 7, "happy", now),
		entryAt(1, 4, "anxious", now),
		entryAt(2, 5, "anxious", now),
	}

	summary := Summarize(entries, now)

	if summary.AverageScore != 5.3 {
		t.Fatalf("expected average 5.3, got %v", summary.AverageScore)
	}
	if summary.MoodCounts["anxious"] != 2 || summary.MoodCounts["happy"] != 1 {
		t.Fatalf("unexpected mood counts %v", summary.MoodCounts)
	}
}

func TestStreakCountsConsecutiveDays(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	entries := []models.MoodEntry{
		entryAt(0, 6, "calm", now),
		entryAt(1, 6, "calm", now),
		entryAt(2, 6, "calm", now),
		entryAt(4, 6, "calm", now), // gap at 3 days ago breaks the streak
	}

	if got := Summarize(entries, now).StreakDays; got != 3 {
		t.Fatalf("expected streak of 3, got %d", got)
	}
}

func TestStreakSurvivesMissingToday(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	entries := []models.MoodEntry{
		entryAt(1, 6, "calm", now),
		entryAt(2, 6, "calm", now),
	}

	// No entry yet today; yesterday's streak still stands.
	if got := Summarize(entries, now).StreakDays; got != 2 {
		t.Fatalf("expected streak of 2, got %d", got)
	}
}

func TestStreakMultipleEntriesSameDay(t *testing.T) {
	now := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)
	entries := []models.MoodEntry{
		entryAt(0, 6, "calm", now),
		entryAt(0, 8, "happy", now),
		entryAt(1, 5, "low", now),
	}

	if got := Summarize(entries, now).StreakDays; got != 2 {
		t.Fatalf("same-day entries must count once; expected streak 2, got %d", got)
	}
}
