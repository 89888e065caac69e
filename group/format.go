package group

import (
	"fmt"
	"time"
)

// formatETA renders a completion time as "Mon 15:07" or "Mon 3:07PM".
func formatETA(t time.Time, use24Hour bool) string {
	if use24Hour {
		return t.Format("Mon 15:04")
	}
	return t.Format("Mon 3:04PM")
}

// formatInterval renders a duration in seconds as "HH:MM:SS".
func formatInterval(seconds uint32) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
