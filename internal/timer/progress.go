package timer

import (
	"fmt"
	"math"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
)

const (
	secondsPerHour   = 3600
	secondsPerMinute = 60
)

// FormatProgressCircleText renders seconds as h:mm:ss, dropping leading units
// that are zero: 0 -> "0", 90 -> "1:30", 3661 -> "1:01:01".
func FormatProgressCircleText(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / secondsPerHour
	m := (seconds % secondsPerHour) / secondsPerMinute
	s := seconds % secondsPerMinute

	switch {
	case h > 0:
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	case m > 0:
		return fmt.Sprintf("%d:%02d", m, s)
	default:
		return fmt.Sprintf("%d", s)
	}
}

// FontSize picks the text size for the circle. Longer strings get smaller
// type so they fit inside the ring.
func FontSize(seconds, diameter int) string {
	switch {
	case seconds > secondsPerHour:
		return fmt.Sprintf("%dpx", diameter/5)
	case seconds > secondsPerMinute:
		return fmt.Sprintf("%dpx", diameter/4)
	default:
		return fmt.Sprintf("%dpx", diameter/3)
	}
}

// StrokeDashoffset is the unfilled length of the progress ring.
func StrokeDashoffset(circumference float64, timeRemaining, duration int) float64 {
	total := duration * secondsPerMinute
	if total <= 0 {
		return 0
	}
	return circumference * (1 - float64(timeRemaining)/float64(total))
}

// Settings derives the full render state of a timer's progress circle.
func Settings(t *domain.Timer, diameter int) domain.ProgressSettings {
	strokeWidth := float64(diameter) / 20
	origin := float64(diameter) / 2
	radius := origin - strokeWidth
	circumference := 2 * math.Pi * radius

	return domain.ProgressSettings{
		Width:  diameter,
		Height: diameter,
		Circle: domain.CircleSettings{
			Radius:           radius,
			OriginX:          origin,
			OriginY:          origin,
			StrokeWidth:      strokeWidth,
			StrokeDasharray:  fmt.Sprintf("%.3f %.3f", circumference, circumference),
			StrokeDashoffset: StrokeDashoffset(circumference, t.TimeRemaining, t.Duration),
		},
		Text: domain.TextSettings{
			X:        "50%",
			Y:        "50%",
			FontSize: FontSize(t.TimeRemaining, diameter),
			Content:  FormatProgressCircleText(t.TimeRemaining),
		},
	}
}
