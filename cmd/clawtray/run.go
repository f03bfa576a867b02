package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tnunamak/clawtray/internal/metrics"
	"github.com/tnunamak/clawtray/internal/poller"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var login bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll usage in the foreground without a tray icon",
		Long: `Runs the usage poller headless, logging each update. Polling starts as soon
as a credential is available and the session ends on the first failed poll.

Whenever the poller has no credential (at startup or after a session ends) a
browser login is started once. A failed login is not retried; a credential
written by ` + "`clawtray login`" + ` is picked up while running. Use --login=false to only
wait for one.

Set metrics_addr to expose Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			stopMetrics, err := e.startMetrics()
			if err != nil {
				return err
			}
			defer stopMetrics()

			ctrl := withAutoLogin(e.controllerOptions(func(u poller.Update) { logUpdate(e.log, u) }), login)

			e.log.Info().Str("version", version).Str("credentials", e.store.Path()).Msg("starting clawtray")
			return ctrl.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&login, "login", true, "Start a browser login when no credential is available")
	return cmd
}

// withAutoLogin builds a controller whose notifications also drive
// autoLogin when enabled.
func withAutoLogin(opts poller.Options, enabled bool) *poller.Controller {
	auto := &autoLogin{log: opts.Logger, enabled: enabled}
	next := opts.Notify
	opts.Notify = func(u poller.Update) {
		if next != nil {
			next(u)
		}
		auto.notify(u)
	}
	ctrl := poller.New(opts)
	auto.login = ctrl.Login
	return ctrl
}

// autoLogin requests one login each time the poller becomes logged out.
// It re-arms only after a credential is in place again, so a failed or
// abandoned login is left for the user to retry.
type autoLogin struct {
	login   func() error
	log     zerolog.Logger
	enabled bool
	fired   bool
}

// notify runs on the controller goroutine. login must not be called there
// since it waits for that same goroutine.
func (a *autoLogin) notify(u poller.Update) {
	if !a.enabled || a.login == nil {
		return
	}
	v := u.View
	if v.LoggedIn {
		a.fired = false
		return
	}
	if a.fired || v.LoginInFlight {
		return
	}
	a.fired = true
	a.log.Info().Msg("no credential; starting browser login")
	go func() {
		if err := a.login(); err != nil {
			a.log.Warn().Err(err).Msg("login not started")
		}
	}()
}

// controllerOptions wires the poller to this process's store, usage client
// and login flow.
func (e *env) controllerOptions(notify func(poller.Update)) poller.Options {
	opts := poller.Options{
		Fetcher:  e.usage,
		Auth:     e.loginFlow(),
		Store:    e.store,
		Interval: e.cfg.PollInterval,
		Logger:   e.log,
		Notify:   notify,
		Metrics:  e.metrics,
	}
	if e.cfg.WatchCredentials {
		opts.Watcher = e.store
	}
	return opts
}

func (e *env) startMetrics() (func(), error) {
	if e.cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	srv := metrics.NewServer(e.cfg.MetricsAddr, e.metrics, e.log)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return func() { _ = srv.Stop() }, nil
}

func logUpdate(log zerolog.Logger, u poller.Update) {
	switch u.Event {
	case poller.EventSessionEnded:
		log.Warn().Err(u.Err).Msg("session ended; log in again to resume")
	case poller.EventLoginFailed:
		log.Error().Err(u.Err).Msg("login failed; run `clawtray login` to retry")
	case poller.EventStateChanged:
		if !u.View.LoggedIn && !u.View.LoginInFlight {
			log.Info().Msg("waiting for a credential")
		}
	}
}
