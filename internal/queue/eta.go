package queue

import (
	"fmt"
	"time"
)

// FormatETA renders a remaining duration as "Ns", "Nm Ss" or "Nh Mm".
// Zero and negative durations render as "0s".
func FormatETA(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0s"
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
