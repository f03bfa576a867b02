package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/term"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/cache"
	"github.com/tnunamak/clawtray/internal/credentials"
	"github.com/tnunamak/clawtray/internal/forecast"
)

const barWidth = 20

var ErrNotLoggedIn = errors.New("not logged in; run `clawtray login`")

type Mode int

const (
	ModeAuto Mode = iota
	ModeColor
	ModePlain
	ModeJSON
)

func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// FormatDuration renders a time until reset as 2d3h, 1h05m or 12m.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func resetsIn(w api.Window, now time.Time) string {
	if w.ResetsAt == nil {
		return "unknown"
	}
	return FormatDuration(w.ResetsAt.Sub(now))
}

func color(pct float64) string {
	switch {
	case pct >= 80:
		return "\033[31m"
	case pct >= 60:
		return "\033[33m"
	default:
		return "\033[32m"
	}
}

const reset = "\033[0m"

func bar(pct float64) string {
	filled := lo.Clamp(int(math.Round(pct/100*barWidth)), 0, barWidth)
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

type line struct {
	label  string
	window api.Window
	length time.Duration
}

func lines(snap api.Snapshot) []line {
	out := []line{
		{"5h", snap.FiveHour, forecast.FiveHourWindow},
		{"7d", snap.SevenDay, forecast.SevenDayWindow},
	}
	if snap.SevenDayOpus != nil {
		out = append(out, line{"opus", *snap.SevenDayOpus, forecast.SevenDayWindow})
	}
	if snap.SevenDaySonnet != nil {
		out = append(out, line{"sonnet", *snap.SevenDaySonnet, forecast.SevenDayWindow})
	}
	return out
}

func PrintColor(w io.Writer, snap api.Snapshot, now time.Time) {
	for i, l := range lines(snap) {
		prefix := "clawtray"
		if i > 0 {
			prefix = strings.Repeat(" ", len(prefix))
		}
		pct := l.window.Utilization
		fmt.Fprintf(w, "%s %6s %s%s%s %3.0f%%  resets %s",
			prefix, l.label, color(pct), bar(pct), reset, pct, resetsIn(l.window, now))
		if p, ok := forecast.Project(l.window, l.length, now); ok {
			fmt.Fprintf(w, "  %s", p.ColorIndicator())
		}
		fmt.Fprintln(w)
	}
}

func PrintPlain(w io.Writer, snap api.Snapshot, now time.Time) {
	parts := lo.Map(lines(snap), func(l line, _ int) string {
		return fmt.Sprintf("%s: %.0f%% (resets %s)", l.label, l.window.Utilization, resetsIn(l.window, now))
	})
	fmt.Fprintln(w, strings.Join(parts, "  "))
}

type JSONOutput struct {
	Usage    api.Snapshot            `json:"usage"`
	Forecast map[string]forecastJSON `json:"forecast,omitempty"`
	Cache    *CacheInfo              `json:"cache,omitempty"`
}

type forecastJSON struct {
	AtReset float64    `json:"at_reset"`
	OnTrack bool       `json:"on_track"`
	LimitAt *time.Time `json:"limit_at,omitempty"`
}

type CacheInfo struct {
	Hit       bool      `json:"hit"`
	FetchedAt time.Time `json:"fetched_at"`
}

func PrintJSON(w io.Writer, snap api.Snapshot, cacheHit bool, now time.Time) error {
	out := JSONOutput{Usage: snap, Forecast: map[string]forecastJSON{}}
	for _, l := range lines(snap) {
		p, ok := forecast.Project(l.window, l.length, now)
		if !ok {
			continue
		}
		f := forecastJSON{AtReset: p.AtReset, OnTrack: p.OnTrack()}
		if !p.LimitAt.IsZero() {
			f.LimitAt = lo.ToPtr(p.LimitAt)
		}
		out.Forecast[l.label] = f
	}
	if cacheHit {
		out.Cache = &CacheInfo{Hit: true, FetchedAt: snap.FetchedAt}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type Fetcher interface {
	FetchUsage(ctx context.Context, accessToken string) (api.Snapshot, error)
}

type CredentialLoader interface {
	Load() (credentials.Credential, error)
}

type StatusOptions struct {
	Store   CredentialLoader
	Fetcher Fetcher
	// Cache may be nil to always fetch.
	Cache  *cache.Cache
	Mode   Mode
	Out    io.Writer
	Logger zerolog.Logger
	Now    func() time.Time
}

// Status prints the current usage once, preferring a fresh cached snapshot.
func Status(ctx context.Context, opts StatusOptions) error {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	cred, err := opts.Store.Load()
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return ErrNotLoggedIn
		}
		return err
	}
	if cred.Expired(now()) {
		return fmt.Errorf("token expired: %w", ErrNotLoggedIn)
	}

	var snap api.Snapshot
	hit := false
	if opts.Cache != nil {
		if s, err := opts.Cache.Get(); err == nil {
			snap, hit = s, true
		}
	}
	if !hit {
		snap, err = opts.Fetcher.FetchUsage(ctx, cred.AccessToken)
		if err != nil {
			return err
		}
		if opts.Cache != nil {
			if err := opts.Cache.Put(snap); err != nil {
				opts.Logger.Warn().Err(err).Msg("write usage cache")
			}
		}
	}
	opts.Logger.Debug().Bool("cache_hit", hit).Msg("usage ready")

	mode := opts.Mode
	if mode == ModeAuto {
		mode = ModePlain
		if f, ok := opts.Out.(*os.File); ok && IsTTY(f) {
			mode = ModeColor
		}
	}
	switch mode {
	case ModeJSON:
		return PrintJSON(opts.Out, snap, hit, now())
	case ModePlain:
		PrintPlain(opts.Out, snap, now())
	default:
		PrintColor(opts.Out, snap, now())
	}
	return nil
}
