//go:build tray

package tray

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"fyne.io/systray"
	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/poller"
)

const Available = true

type app struct {
	opts  Options
	log   zerolog.Logger
	icons IconSet
	alert alerter

	mStatus *systray.MenuItem
	mFive   *systray.MenuItem
	mSeven  *systray.MenuItem
	mOpus   *systray.MenuItem
	mSonnet *systray.MenuItem
	mLogin  *systray.MenuItem
	mLogout *systray.MenuItem
	mPause  *systray.MenuItem
	mQuit   *systray.MenuItem
}

// Run blocks on the platform event loop until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	if opts.Controller == nil || opts.Feed == nil {
		return errors.New("tray: controller and feed are required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &app{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "tray").Logger(),
		icons: NewIconSet(),
	}
	systray.Run(func() { a.onReady(ctx) }, cancel)
	return nil
}

func (a *app) onReady(ctx context.Context) {
	systray.SetIcon(a.icons[LevelUnknown])
	systray.SetTitle("clawtray")
	systray.SetTooltip("Claude usage monitor " + a.opts.Version)

	a.mStatus = systray.AddMenuItem("Starting", "")
	a.mStatus.Disable()
	systray.AddSeparator()
	a.mFive = systray.AddMenuItem("5h:  --%", "")
	a.mFive.Disable()
	a.mSeven = systray.AddMenuItem("7d:  --%", "")
	a.mSeven.Disable()
	a.mOpus = systray.AddMenuItem("", "")
	a.mOpus.Disable()
	a.mOpus.Hide()
	a.mSonnet = systray.AddMenuItem("", "")
	a.mSonnet.Disable()
	a.mSonnet.Hide()
	systray.AddSeparator()
	a.mLogin = systray.AddMenuItem("Log in…", "Authorize with your Claude account")
	a.mLogout = systray.AddMenuItem("Log out", "Forget the stored credential")
	a.mPause = systray.AddMenuItem("Pause polling", "")
	systray.AddSeparator()
	a.mQuit = systray.AddMenuItem("Quit", "")

	go func() {
		if err := a.opts.Controller.Run(ctx); err != nil {
			a.log.Error().Err(err).Msg("controller exited")
		}
	}()
	go a.loop(ctx)
}

func (a *app) loop(ctx context.Context) {
	ctrl := a.opts.Controller
	refresh := time.NewTicker(time.Minute)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			systray.Quit()
			return
		case u := <-a.opts.Feed.Updates():
			a.handle(u)
		case <-refresh.C:
			a.render(ctrl.View())
		case <-a.mLogin.ClickedCh:
			if err := ctrl.Login(); err != nil {
				a.log.Warn().Err(err).Msg("login not started")
			}
		case <-a.mLogout.ClickedCh:
			if err := ctrl.Logout(); err != nil {
				a.log.Warn().Err(err).Msg("logout")
			}
			if a.opts.Logout != nil {
				if err := a.opts.Logout(); err != nil {
					a.log.Error().Err(err).Msg("remove stored credential")
				}
			}
		case <-a.mPause.ClickedCh:
			var err error
			if ctrl.View().State == poller.Running {
				err = ctrl.Stop()
			} else {
				err = ctrl.Start()
			}
			if err != nil {
				a.log.Warn().Err(err).Msg("toggle polling")
			}
		case <-a.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (a *app) handle(u poller.Update) {
	switch u.Event {
	case poller.EventUsageUpdated:
		if s := u.View.Snapshot; s != nil {
			if a.opts.Cache != nil {
				if err := a.opts.Cache.Put(*s); err != nil {
					a.log.Warn().Err(err).Msg("write usage cache")
				}
			}
			if al, ok := a.alert.check(s.Peak()); ok {
				notify(al)
			}
		}
	case poller.EventSessionEnded:
		notify(alert{"Claude session ended", fmt.Sprintf("Log in again to resume (%s: %v)", api.Kind(u.Err), u.Err), "normal"})
	case poller.EventLoginFailed:
		notify(alert{"Claude login failed", u.Err.Error(), "normal"})
	}
	a.render(u.View)
}

func (a *app) render(v poller.View) {
	now := time.Now()
	systray.SetIcon(a.icons[levelFor(v)])
	systray.SetTitle(title(v))
	a.mStatus.SetTitle(statusLabel(v))

	if s := v.Snapshot; s != nil && v.LoggedIn {
		a.mFive.SetTitle(windowLabel("5h", &s.FiveHour, now))
		a.mSeven.SetTitle(windowLabel("7d", &s.SevenDay, now))
		showWindow(a.mOpus, "opus", s.SevenDayOpus, now)
		showWindow(a.mSonnet, "sonnet", s.SevenDaySonnet, now)
	} else {
		a.mFive.SetTitle(windowLabel("5h", nil, now))
		a.mSeven.SetTitle(windowLabel("7d", nil, now))
		a.mOpus.Hide()
		a.mSonnet.Hide()
	}

	if v.LoggedIn {
		a.mLogin.Hide()
		a.mLogout.Show()
		a.mPause.Show()
	} else {
		a.mLogin.Show()
		a.mLogout.Hide()
		a.mPause.Hide()
	}
	if v.LoginInFlight {
		a.mLogin.Disable()
	} else {
		a.mLogin.Enable()
	}
	if v.State == poller.Running {
		a.mPause.SetTitle("Pause polling")
	} else {
		a.mPause.SetTitle("Resume polling")
	}
}

func showWindow(m *systray.MenuItem, name string, w *api.Window, now time.Time) {
	if w == nil {
		m.Hide()
		return
	}
	m.SetTitle(windowLabel(name, w, now))
	m.Show()
}

func notify(al alert) {
	switch runtime.GOOS {
	case "linux":
		_ = exec.Command("notify-send", "-u", al.urgency, al.title, al.body).Run()
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, al.body, al.title)
		_ = exec.Command("osascript", "-e", script).Run()
	}
}
