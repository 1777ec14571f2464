package mood

import (
	"math"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
)

// Summary is the aggregate view of a set of mood entries.
type Summary struct {
	AverageScore float64
	MoodCounts   map[string]int
	StreakDays   int
}

// Summarize computes the average score, per-label counts and the
// consecutive-day logging streak ending today (or yesterday, so an
// entry logged last night still counts before tonight's check-in).
func Summarize(entries []models.MoodEntry, now time.Time) Summary {
	summary := Summary{MoodCounts: make(map[string]int)}
	if len(entries) == 0 {
		return summary
	}

	total := 0
	days := make(map[string]bool, len(entries))
	for _, entry := range entries {
		total += entry.Score
		summary.MoodCounts[entry.Mood]++
		days[entry.LoggedAt.Format("2006-01-02")] = true
	}
	summary.AverageScore = math.Round(float64(total)/float64(len(entries))*10) / 10

	day := now
	if !days[day.Format("2006-01-02")] {
		day = day.AddDate(0, 0, -1)
	}
	for days[day.Format("2006-01-02")] {
		summary.StreakDays++
		day = day.AddDate(0, 0, -1)
	}

	return summary
}
