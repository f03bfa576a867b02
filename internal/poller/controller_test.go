package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/credentials"
	"github.com/tnunamak/clawtray/internal/metrics"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	tokens []string
	failOn int // 1-based call number that fails; 0 never fails
}

func (f *fakeFetcher) FetchUsage(_ context.Context, token string) (api.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, token)
	if f.failOn != 0 && f.calls == f.failOn {
		return api.Snapshot{}, &api.TransportError{Op: "GET usage", Err: errors.New("connection reset")}
	}
	return api.Snapshot{
		FiveHour: api.Window{Utilization: float64(f.calls)},
		SevenDay: api.Window{Utilization: 10},
	}, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu   sync.Mutex
	cred *credentials.Credential
}

func (s *fakeStore) Load() (credentials.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return credentials.Credential{}, credentials.ErrNotFound
	}
	return *s.cred, nil
}

func (s *fakeStore) set(c *credentials.Credential) {
	s.mu.Lock()
	s.cred = c
	s.mu.Unlock()
}

type fakeAuth struct {
	release chan struct{}
	cred    credentials.Credential
	err     error

	mu    sync.Mutex
	calls int
}

func (a *fakeAuth) Login(ctx context.Context) (credentials.Credential, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return credentials.Credential{}, ctx.Err()
		}
	}
	return a.cred, a.err
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) notify(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) count(ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Event == ev {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startController(t *testing.T, opts Options) *Controller {
	t.Helper()
	opts.Logger = zerolog.Nop()
	c := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func TestStartWithoutCredential(t *testing.T) {
	f := &fakeFetcher{}
	c := startController(t, Options{Fetcher: f, Store: &fakeStore{}, Interval: time.Hour})

	if err := c.Start(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("Start() error = %v, want ErrNoCredential", err)
	}
	if v := c.View(); v.LoggedIn || v.State != Idle {
		t.Fatalf("view = %+v", v)
	}
	if f.Calls() != 0 {
		t.Fatalf("fetch calls = %d, want 0", f.Calls())
	}
}

func TestRunPollsWithStoredCredential(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "stored"}}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: time.Hour, Notify: rec.notify})

	waitFor(t, "first poll", func() bool { return rec.count(EventUsageUpdated) == 1 })
	v := c.View()
	if !v.LoggedIn || v.State != Running {
		t.Fatalf("view = %+v", v)
	}
	if v.FiveHour != 1 || v.SevenDay != 10 {
		t.Fatalf("utilization = %v/%v", v.FiveHour, v.SevenDay)
	}
	if f.tokens[0] != "stored" {
		t.Fatalf("token = %q", f.tokens[0])
	}
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: time.Hour, Notify: rec.notify})

	waitFor(t, "first poll", func() bool { return rec.count(EventUsageUpdated) == 1 })
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if f.Calls() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.Calls())
	}
}

func TestStopEndsPolling(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: 10 * time.Millisecond})

	waitFor(t, "a few polls", func() bool { return f.Calls() >= 2 })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, "idle", func() bool { return c.View().State == Idle })

	n := f.Calls()
	time.Sleep(50 * time.Millisecond)
	if f.Calls() != n {
		t.Fatalf("fetch calls grew from %d to %d after Stop", n, f.Calls())
	}
	if !c.View().LoggedIn {
		t.Fatal("Stop dropped the credential")
	}
}

func TestPollFailureEndsSession(t *testing.T) {
	f := &fakeFetcher{failOn: 3}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: 10 * time.Millisecond, Notify: rec.notify})

	waitFor(t, "session end", func() bool { return rec.count(EventSessionEnded) == 1 })
	waitFor(t, "idle", func() bool { return c.View().State == Idle })

	time.Sleep(50 * time.Millisecond)
	if f.Calls() != 3 {
		t.Fatalf("fetch calls = %d, want 3", f.Calls())
	}
	v := c.View()
	if v.LoggedIn {
		t.Fatal("credential kept after failed poll")
	}
	if v.LastError == "" {
		t.Fatal("LastError empty after failed poll")
	}
	if v.FiveHour != 2 {
		t.Fatalf("five hour = %v, want last good value 2", v.FiveHour)
	}
	if err := c.Start(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("Start() after session end error = %v, want ErrNoCredential", err)
	}
}

func TestLoginStartsPolling(t *testing.T) {
	f := &fakeFetcher{}
	auth := &fakeAuth{cred: credentials.Credential{AccessToken: "fresh"}}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Auth: auth, Store: &fakeStore{}, Interval: time.Hour, Notify: rec.notify})

	if err := c.Login(); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	waitFor(t, "poll after login", func() bool { return rec.count(EventUsageUpdated) == 1 })
	if v := c.View(); !v.LoggedIn || v.State != Running || v.LoginInFlight {
		t.Fatalf("view = %+v", v)
	}
	if f.tokens[0] != "fresh" {
		t.Fatalf("token = %q", f.tokens[0])
	}
}

func TestSecondLoginRejectedWhileInFlight(t *testing.T) {
	auth := &fakeAuth{release: make(chan struct{}), cred: credentials.Credential{AccessToken: "a"}}
	c := startController(t, Options{Fetcher: &fakeFetcher{}, Auth: auth, Store: &fakeStore{}, Interval: time.Hour})

	if err := c.Login(); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := c.Login(); !errors.Is(err, ErrLoginInProgress) {
		t.Fatalf("second Login() error = %v, want ErrLoginInProgress", err)
	}
	if !c.View().LoginInFlight {
		t.Fatal("LoginInFlight not set")
	}
	close(auth.release)
	waitFor(t, "login done", func() bool { return c.View().LoggedIn })

	auth.mu.Lock()
	calls := auth.calls
	auth.mu.Unlock()
	if calls != 1 {
		t.Fatalf("login calls = %d, want 1", calls)
	}
}

func TestLoginFailureKeepsState(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "old"}}
	auth := &fakeAuth{err: errors.New("state mismatch")}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Auth: auth, Store: store, Interval: time.Hour, Notify: rec.notify})

	waitFor(t, "first poll", func() bool { return rec.count(EventUsageUpdated) == 1 })
	if err := c.Login(); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	waitFor(t, "login failure", func() bool { return rec.count(EventLoginFailed) == 1 })

	v := c.View()
	if !v.LoggedIn || v.State != Running || v.LoginInFlight {
		t.Fatalf("view after failed login = %+v", v)
	}
}

func TestStopThenStartEndsRunning(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: time.Hour})

	waitFor(t, "first poll", func() bool { return f.Calls() == 1 })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "restarted loop", func() bool { return f.Calls() == 2 })
	if s := c.View().State; s != Running {
		t.Fatalf("state = %v, want running", s)
	}
}

func TestLogoutClearsCredential(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: time.Hour})

	waitFor(t, "first poll", func() bool { return f.Calls() == 1 })
	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	waitFor(t, "idle", func() bool { return c.View().State == Idle })
	if c.View().LoggedIn {
		t.Fatal("still logged in after Logout")
	}
}

func TestReloadPicksUpCredential(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: time.Hour})

	// Round-trip a command so Run has finished its initial load.
	_ = c.Stop()
	store.set(&credentials.Credential{AccessToken: "from-disk"})
	c.Reload(credentials.Written)

	waitFor(t, "poll after reload", func() bool { return f.Calls() == 1 })
	if !c.View().LoggedIn {
		t.Fatal("not logged in after reload")
	}

	store.set(nil)
	c.Reload(credentials.Removed)
	waitFor(t, "logged out after removal", func() bool { return !c.View().LoggedIn })
}

func TestStaleResultIgnored(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	c.cred = &credentials.Credential{AccessToken: "t"}
	c.state = Running
	c.gen = 2

	c.pollDone(1, api.Snapshot{FiveHour: api.Window{Utilization: 99}}, nil)
	if c.snap != nil {
		t.Fatal("stale success replaced the snapshot")
	}
	c.pollDone(1, api.Snapshot{}, errors.New("boom"))
	if c.cred == nil || c.state != Running {
		t.Fatal("stale failure ended the session")
	}
	if got := c.credentialFor(1); got != nil {
		t.Fatal("stale loop was handed the credential")
	}
}

func TestPollsRecordedInMetrics(t *testing.T) {
	set := metrics.NewSet()
	f := &fakeFetcher{failOn: 2}
	store := &fakeStore{cred: &credentials.Credential{AccessToken: "t"}}
	rec := &recorder{}
	c := startController(t, Options{Fetcher: f, Store: store, Interval: 10 * time.Millisecond, Notify: rec.notify, Metrics: set})

	waitFor(t, "session end", func() bool { return rec.count(EventSessionEnded) == 1 })
	waitFor(t, "idle", func() bool { return c.View().State == Idle })

	if got := testutil.ToFloat64(set.PollsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok polls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(set.PollsTotal.WithLabelValues("transport")); got != 1 {
		t.Fatalf("transport polls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(set.Utilization.WithLabelValues("five_hour")); got != 1 {
		t.Fatalf("five_hour gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(set.Polling); got != 0 {
		t.Fatalf("polling gauge = %v, want 0", got)
	}
}
