package alerts

import (
	"fmt"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/types"
)

const (
	waitingWarnAfter     = 2 * time.Minute
	waitingCriticalAfter = 5 * time.Minute

	// Cases at this urgency or above alert faster
	urgentThreshold = 9
	urgentWarnAfter = 1 * time.Minute
)

// CheckCaseAlerts evaluates age rules for a slice of feed entries,
// mutating each entry's Alerts field in place.
func CheckCaseAlerts(entries []types.FeedEntry) {
	now := time.Now()
	for i := range entries {
		entries[i].Alerts = nil

		if entries[i].Status != types.CaseStatusWaiting {
			continue
		}
		age := now.Sub(entries[i].CreatedAt)

		switch {
		case age > waitingCriticalAfter:
			entries[i].Alerts = append(entries[i].Alerts, types.CaseAlert{
				Rule:     "waiting_long",
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("Waiting for %s", formatDuration(age)),
			})
		case age > waitingWarnAfter:
			entries[i].Alerts = append(entries[i].Alerts, types.CaseAlert{
				Rule:     "waiting_long",
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("Waiting for %s", formatDuration(age)),
			})
		}

		if entries[i].Urgency >= urgentThreshold && age > urgentWarnAfter {
			entries[i].Alerts = append(entries[i].Alerts, types.CaseAlert{
				Rule:     "urgent_unclaimed",
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("Urgency %d case unclaimed for %s", entries[i].Urgency, formatDuration(age)),
			})
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
