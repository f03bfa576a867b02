package tray

import (
	"fmt"
	"time"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/cli"
	"github.com/tnunamak/clawtray/internal/poller"
)

type Level int

const (
	LevelUnknown Level = iota
	LevelOK
	LevelWarn
	LevelCritical
)

func levelFor(v poller.View) Level {
	if !v.LoggedIn || v.Snapshot == nil {
		return LevelUnknown
	}
	switch pct := v.Snapshot.Peak(); {
	case pct >= 80:
		return LevelCritical
	case pct >= 60:
		return LevelWarn
	default:
		return LevelOK
	}
}

func title(v poller.View) string {
	switch {
	case v.LoginInFlight:
		return "login…"
	case !v.LoggedIn:
		return "logged out"
	case v.Snapshot == nil:
		return "5h:--% 7d:--%"
	}
	return fmt.Sprintf("5h:%.0f%% 7d:%.0f%%", v.FiveHour, v.SevenDay)
}

func windowLabel(name string, w *api.Window, now time.Time) string {
	if w == nil {
		return fmt.Sprintf("%s:  --%%", name)
	}
	if w.ResetsAt == nil {
		return fmt.Sprintf("%s: %3.0f%%", name, w.Utilization)
	}
	return fmt.Sprintf("%s: %3.0f%%  resets %s", name, w.Utilization, cli.FormatDuration(w.ResetsAt.Sub(now)))
}

func statusLabel(v poller.View) string {
	switch {
	case v.LoginInFlight:
		return "Waiting for browser login"
	case !v.LoggedIn && v.LastError != "":
		return "Session ended: " + v.LastError
	case !v.LoggedIn:
		return "Not logged in"
	case v.State == poller.Running:
		return "Polling"
	default:
		return "Paused"
	}
}

type alert struct {
	title   string
	body    string
	urgency string
}

// alerter fires once each time peak usage crosses 80% or 95% upward.
type alerter struct {
	last float64
}

func (a *alerter) check(pct float64) (alert, bool) {
	prev := a.last
	a.last = pct
	switch {
	case pct >= 95 && prev < 95:
		return alert{"Claude usage critical", fmt.Sprintf("Usage at %.0f%%, you may be rate limited soon", pct), "critical"}, true
	case pct >= 80 && prev < 80:
		return alert{"Claude usage warning", fmt.Sprintf("Usage at %.0f%%", pct), "normal"}, true
	}
	return alert{}, false
}
