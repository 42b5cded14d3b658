package watch

import (
	"fmt"
	"time"
)

// FormatDuration renders d as "Xh Ym" or "Xm", rounding seconds down.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatPercentage formats a ratio (0-1) as a whole percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.0f%%", clamp(ratio)*100)
}

// FormatClock renders t as a local wall-clock time like "9:05 AM".
func FormatClock(t time.Time) string {
	return t.Local().Format("3:04 PM")
}

func clamp(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
