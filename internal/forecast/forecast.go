package forecast

import (
	"time"

	"github.com/samber/lo"

	"github.com/tnunamak/clawtray/internal/api"
)

const (
	FiveHourWindow = 5 * time.Hour
	SevenDayWindow = 7 * 24 * time.Hour
)

type Projection struct {
	// AtReset is the estimated utilization when the window resets. It can
	// exceed 100.
	AtReset float64
	// LimitAt is when utilization reaches 100 at the current rate. Zero if
	// that happens after the reset or usage is flat.
	LimitAt time.Time
}

func (p Projection) OnTrack() bool { return p.AtReset < 100 }

// Project extrapolates linearly from the start of the window to now. The
// second result is false when the window has no reset time.
func Project(w api.Window, windowLen time.Duration, now time.Time) (Projection, bool) {
	if w.ResetsAt == nil {
		return Projection{}, false
	}
	remaining := lo.Clamp(w.ResetsAt.Sub(now), 0, windowLen)
	elapsed := windowLen - remaining
	if elapsed <= 0 || w.Utilization <= 0 {
		return Projection{AtReset: w.Utilization}, true
	}

	perSecond := w.Utilization / elapsed.Seconds()
	p := Projection{AtReset: perSecond * windowLen.Seconds()}
	if w.Utilization < 100 && p.AtReset >= 100 {
		left := time.Duration((100 - w.Utilization) / perSecond * float64(time.Second))
		p.LimitAt = now.Add(left)
	}
	return p, true
}

func (p Projection) Indicator() string {
	switch {
	case p.AtReset >= 100:
		return "over limit"
	case p.AtReset >= 90:
		return "tight"
	default:
		return "on track"
	}
}

func (p Projection) ColorIndicator() string {
	switch {
	case p.AtReset >= 100:
		return "\033[31m⚠ over limit\033[0m"
	case p.AtReset >= 90:
		return "\033[33m~ tight\033[0m"
	default:
		return "\033[32m✓ on track\033[0m"
	}
}
