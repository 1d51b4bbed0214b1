package utils

import (
	"fmt"
	"time"
)

// FormatDateTimeUTC formats a time.Time to "2006-01-02 15:04:05 UTC".
func FormatDateTimeUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// Ago renders the elapsed time between t and now in a short human form,
// e.g. "just now", "42s ago", "5m ago", "3h ago". Zero times render as "never".
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
