package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/credentials"
	"github.com/tnunamak/clawtray/internal/metrics"
)

const DefaultInterval = 5 * time.Minute

var (
	ErrNoCredential    = errors.New("no credential; login required")
	ErrLoginInProgress = errors.New("login already in progress")
	ErrNoAuthenticator = errors.New("login not available")
	ErrStopped         = errors.New("controller stopped")
)

type UsageFetcher interface {
	FetchUsage(ctx context.Context, accessToken string) (api.Snapshot, error)
}

type Authenticator interface {
	Login(ctx context.Context) (credentials.Credential, error)
}

type CredentialLoader interface {
	Load() (credentials.Credential, error)
}

type CredentialWatcher interface {
	Watch(ctx context.Context, log zerolog.Logger, fn func(credentials.Change)) error
}

type Options struct {
	Fetcher UsageFetcher
	Auth    Authenticator
	Store   CredentialLoader
	// Watcher, if set, lets credentials written or removed by another
	// process take effect without a restart.
	Watcher  CredentialWatcher
	Interval time.Duration
	Logger   zerolog.Logger
	// Notify runs on the controller goroutine after every change and must
	// not block.
	Notify func(Update)
	// Metrics defaults to a fresh, unserved set.
	Metrics *metrics.Set
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdLogout
	cmdLogin
	cmdReload
	cmdLoginDone
	cmdPollDone
	cmdLoopExited
	cmdCredential
)

type command struct {
	kind      cmdKind
	gen       uint64
	cred      credentials.Credential
	snap      api.Snapshot
	change    credentials.Change
	err       error
	reply     chan error
	credReply chan *credentials.Credential
}

// Controller owns the credential, the latest snapshot and the poll loop.
// All of that state is touched only by the goroutine running Run; everything
// else talks to it through the command channel.
type Controller struct {
	fetcher  UsageFetcher
	auth     Authenticator
	store    CredentialLoader
	watcher  CredentialWatcher
	interval time.Duration
	log      zerolog.Logger
	notify   func(Update)
	metrics  *metrics.Set

	cmds chan command
	done chan struct{}
	view atomic.Pointer[View]

	// Owned by Run.
	cred          *credentials.Credential
	snap          *api.Snapshot
	state         State
	gen           uint64
	cancelLoop    context.CancelFunc
	pendingStart  bool
	loginInFlight bool
	lastErr       error
}

func New(opts Options) *Controller {
	c := &Controller{
		fetcher:  opts.Fetcher,
		auth:     opts.Auth,
		store:    opts.Store,
		watcher:  opts.Watcher,
		interval: opts.Interval,
		log:      opts.Logger.With().Str("component", "poller").Logger(),
		notify:   opts.Notify,
		metrics:  opts.Metrics,
		cmds:     make(chan command, 16),
		done:     make(chan struct{}),
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.metrics == nil {
		c.metrics = metrics.NewSet()
	}
	c.view.Store(&View{})
	return c
}

// Run processes commands in arrival order until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.cancelActiveLoop()

	if c.watcher != nil {
		go func() {
			if err := c.watcher.Watch(ctx, c.log, c.Reload); err != nil {
				c.log.Warn().Err(err).Msg("credential watcher stopped")
			}
		}()
	}

	c.loadStored(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// View returns the latest published read model.
func (c *Controller) View() View { return *c.view.Load() }

// Login starts an interactive login in the background. It fails with
// ErrLoginInProgress while another attempt is still running.
func (c *Controller) Login() error { return c.send(command{kind: cmdLogin}) }

// Start begins polling. It is a no-op while already polling.
func (c *Controller) Start() error { return c.send(command{kind: cmdStart}) }

// Stop cancels the poll loop without waiting for an in-flight fetch.
func (c *Controller) Stop() error { return c.send(command{kind: cmdStop}) }

// Logout stops polling and forgets the in-memory credential.
func (c *Controller) Logout() error { return c.send(command{kind: cmdLogout}) }

// Reload re-reads the credential store after an external change.
func (c *Controller) Reload(change credentials.Change) {
	c.post(command{kind: cmdReload, change: change})
}

func (c *Controller) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	if !c.post(cmd) {
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

func (c *Controller) post(cmd command) bool {
	select {
	case c.cmds <- cmd:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = c.start(ctx)
	case cmdStop:
		c.stop()
	case cmdLogout:
		c.stop()
		if c.cred != nil {
			c.cred = nil
			c.log.Info().Msg("logged out")
			c.publish(EventStateChanged, nil)
		}
	case cmdLogin:
		err = c.beginLogin(ctx)
	case cmdReload:
		c.reload(ctx, cmd.change)
	case cmdLoginDone:
		c.finishLogin(ctx, cmd.cred, cmd.err)
	case cmdPollDone:
		c.pollDone(cmd.gen, cmd.snap, cmd.err)
	case cmdLoopExited:
		c.loopExited(ctx, cmd.gen)
	case cmdCredential:
		cmd.credReply <- c.credentialFor(cmd.gen)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (c *Controller) loadStored(ctx context.Context) {
	if c.store == nil {
		c.publish(EventStateChanged, nil)
		return
	}
	cred, err := c.store.Load()
	switch {
	case err == nil:
		c.cred = &cred
		c.log.Info().Msg("loaded stored credential")
		if err := c.start(ctx); err != nil {
			c.log.Warn().Err(err).Msg("could not start polling")
		}
	case errors.Is(err, credentials.ErrNotFound):
		c.log.Info().Msg("no stored credential; login required")
	default:
		c.lastErr = err
		c.log.Warn().Err(err).Msg("could not load stored credential")
	}
	c.publish(EventStateChanged, nil)
}

func (c *Controller) start(ctx context.Context) error {
	if c.cred == nil {
		return ErrNoCredential
	}
	switch c.state {
	case Running:
		return nil
	case Stopping:
		c.pendingStart = true
		return nil
	}

	c.gen++
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelLoop = cancel
	c.state = Running
	c.metrics.Polling.Set(1)
	go c.loop(loopCtx, c.gen)

	c.log.Info().Uint64("gen", c.gen).Dur("interval", c.interval).Msg("polling started")
	c.publish(EventStateChanged, nil)
	return nil
}

func (c *Controller) stop() {
	c.pendingStart = false
	if c.state != Running {
		return
	}
	c.cancelActiveLoop()
	c.state = Stopping
	c.metrics.Polling.Set(0)
	c.log.Info().Uint64("gen", c.gen).Msg("polling stopped")
	c.publish(EventStateChanged, nil)
}

func (c *Controller) cancelActiveLoop() {
	if c.cancelLoop != nil {
		c.cancelLoop()
		c.cancelLoop = nil
	}
}

func (c *Controller) loopExited(ctx context.Context, gen uint64) {
	if gen != c.gen || c.state != Stopping {
		return
	}
	c.state = Idle
	c.publish(EventStateChanged, nil)
	if c.pendingStart {
		c.pendingStart = false
		if err := c.start(ctx); err != nil {
			c.log.Warn().Err(err).Msg("deferred start skipped")
		}
	}
}

func (c *Controller) credentialFor(gen uint64) *credentials.Credential {
	if gen != c.gen || c.state != Running || c.cred == nil {
		return nil
	}
	cp := *c.cred
	return &cp
}

func (c *Controller) pollDone(gen uint64, snap api.Snapshot, err error) {
	if gen != c.gen || c.state != Running {
		c.log.Debug().Uint64("gen", gen).Msg("dropping result from cancelled loop")
		return
	}
	c.metrics.PollsTotal.WithLabelValues(api.Kind(err)).Inc()

	if err == nil {
		c.snap = &snap
		c.lastErr = nil
		c.metrics.Utilization.WithLabelValues("five_hour").Set(snap.FiveHour.Utilization)
		c.metrics.Utilization.WithLabelValues("seven_day").Set(snap.SevenDay.Utilization)
		c.log.Info().
			Float64("five_hour", snap.FiveHour.Utilization).
			Float64("seven_day", snap.SevenDay.Utilization).
			Msg("usage updated")
		c.publish(EventUsageUpdated, nil)
		return
	}

	// No retry: the session is over and the user has to log in again.
	c.log.Error().Err(err).Str("kind", api.Kind(err)).Msg("usage poll failed; ending session")
	c.cancelActiveLoop()
	c.state = Stopping
	c.cred = nil
	c.lastErr = err
	c.metrics.Polling.Set(0)
	c.publish(EventSessionEnded, err)
}

func (c *Controller) beginLogin(ctx context.Context) error {
	if c.auth == nil {
		return ErrNoAuthenticator
	}
	if c.loginInFlight {
		c.log.Warn().Msg("login requested while another is in flight")
		return ErrLoginInProgress
	}
	c.loginInFlight = true
	go func() {
		cred, err := c.auth.Login(ctx)
		c.post(command{kind: cmdLoginDone, cred: cred, err: err})
	}()
	c.publish(EventLoginStarted, nil)
	return nil
}

func (c *Controller) finishLogin(ctx context.Context, cred credentials.Credential, err error) {
	c.loginInFlight = false
	if err != nil {
		c.metrics.LoginsTotal.WithLabelValues("failed").Inc()
		c.lastErr = err
		c.log.Error().Err(err).Msg("login failed")
		c.publish(EventLoginFailed, err)
		return
	}
	c.metrics.LoginsTotal.WithLabelValues("ok").Inc()
	c.cred = &cred
	c.lastErr = nil
	c.publish(EventStateChanged, nil)
	if err := c.start(ctx); err != nil {
		c.log.Warn().Err(err).Msg("could not start polling after login")
	}
}

func (c *Controller) reload(ctx context.Context, change credentials.Change) {
	if c.store == nil {
		return
	}
	if change == credentials.Removed {
		if c.cred == nil {
			return
		}
		c.log.Info().Msg("credential removed externally")
		c.stop()
		c.cred = nil
		c.publish(EventStateChanged, nil)
		return
	}

	cred, err := c.store.Load()
	if err != nil {
		c.log.Warn().Err(err).Msg("reload credential")
		return
	}
	if c.cred != nil && c.cred.AccessToken == cred.AccessToken && c.cred.RefreshToken == cred.RefreshToken {
		return
	}
	c.cred = &cred
	c.log.Info().Msg("credential changed externally")
	c.publish(EventStateChanged, nil)
	if err := c.start(ctx); err != nil {
		c.log.Warn().Err(err).Msg("could not start polling after reload")
	}
}

// loop polls immediately and then once per interval until cancelled or
// until a poll fails.
func (c *Controller) loop(ctx context.Context, gen uint64) {
	defer c.post(command{kind: cmdLoopExited, gen: gen})

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		snap, err := c.pollOnce(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		if !c.post(command{kind: cmdPollDone, gen: gen, snap: snap, err: err}) || err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context, gen uint64) (api.Snapshot, error) {
	reply := make(chan *credentials.Credential, 1)
	if !c.post(command{kind: cmdCredential, gen: gen, credReply: reply}) {
		return api.Snapshot{}, ErrStopped
	}
	var cred *credentials.Credential
	select {
	case cred = <-reply:
	case <-ctx.Done():
		return api.Snapshot{}, ctx.Err()
	}
	if cred == nil {
		return api.Snapshot{}, ErrNoCredential
	}

	start := time.Now()
	snap, err := c.fetcher.FetchUsage(ctx, cred.AccessToken)
	c.metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return api.Snapshot{}, fmt.Errorf("fetch usage: %w", err)
	}
	return snap, nil
}

func (c *Controller) publish(ev Event, err error) {
	v := View{
		LoggedIn:      c.cred != nil,
		State:         c.state,
		LoginInFlight: c.loginInFlight,
		Snapshot:      c.snap,
	}
	if c.snap != nil {
		v.FiveHour = c.snap.FiveHour.Utilization
		v.SevenDay = c.snap.SevenDay.Utilization
	}
	if c.lastErr != nil {
		v.LastError = c.lastErr.Error()
	}
	c.view.Store(&v)
	if c.notify != nil {
		c.notify(Update{Event: ev, View: v, Err: err})
	}
}
