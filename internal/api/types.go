package api

import "time"

// UsageResponse is the body of a successful usage request. The two primary
// windows are required; everything else is optional and may be null.
type UsageResponse struct {
	FiveHour          *UsageWindow `json:"five_hour"`
	SevenDay          *UsageWindow `json:"seven_day"`
	SevenDayOpus      *UsageWindow `json:"seven_day_opus,omitempty"`
	SevenDaySonnet    *UsageWindow `json:"seven_day_sonnet,omitempty"`
	SevenDayOAuthApps *UsageWindow `json:"seven_day_oauth_apps,omitempty"`
	ExtraUsage        *ExtraUsage  `json:"extra_usage,omitempty"`
}

type UsageWindow struct {
	Utilization float64    `json:"utilization"`
	ResetsAt    *time.Time `json:"resets_at"`
}

type ExtraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	MonthlyLimit *int64   `json:"monthly_limit"`
	UsedCredits  *int64   `json:"used_credits"`
	Utilization  *float64 `json:"utilization"`
}

// ErrorBody is the structured error shape shared by the usage and token
// endpoints: {"type":"error","error":{...},"request_id":"..."}.
type ErrorBody struct {
	Type      string      `json:"type"`
	Error     *ErrorEntry `json:"error"`
	RequestID string      `json:"request_id"`
}

type ErrorEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details *struct {
		ErrorVisibility string `json:"error_visibility"`
	} `json:"details,omitempty"`
}

// Window is one utilization period as shown to the user. Utilization is the
// percentage reported by the API.
type Window struct {
	Utilization float64    `json:"utilization"`
	ResetsAt    *time.Time `json:"resets_at,omitempty"`
}

// Snapshot is the result of one successful poll. It replaces the previous
// snapshot as a whole.
type Snapshot struct {
	FiveHour       Window    `json:"five_hour"`
	SevenDay       Window    `json:"seven_day"`
	SevenDayOpus   *Window   `json:"seven_day_opus,omitempty"`
	SevenDaySonnet *Window   `json:"seven_day_sonnet,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Snapshot converts a decoded response. The caller must have checked that
// both primary windows are present.
func (u *UsageResponse) Snapshot(fetchedAt time.Time) Snapshot {
	return Snapshot{
		FiveHour:       u.FiveHour.window(),
		SevenDay:       u.SevenDay.window(),
		SevenDayOpus:   optionalWindow(u.SevenDayOpus),
		SevenDaySonnet: optionalWindow(u.SevenDaySonnet),
		FetchedAt:      fetchedAt,
	}
}

func (w *UsageWindow) window() Window {
	return Window{Utilization: w.Utilization, ResetsAt: w.ResetsAt}
}

func optionalWindow(w *UsageWindow) *Window {
	if w == nil {
		return nil
	}
	out := w.window()
	return &out
}

// Peak returns the higher of the two primary utilizations.
func (s Snapshot) Peak() float64 {
	if s.SevenDay.Utilization > s.FiveHour.Utilization {
		return s.SevenDay.Utilization
	}
	return s.FiveHour.Utilization
}
