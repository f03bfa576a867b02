package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/credentials"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

type stubExchanger struct {
	gotCode, gotState, gotVerifier string
	cred                           credentials.Credential
	err                            error
}

func (s *stubExchanger) Exchange(_ context.Context, code, state, verifier string) (credentials.Credential, error) {
	s.gotCode, s.gotState, s.gotVerifier = code, state, verifier
	return s.cred, s.err
}

// redirectBrowser plays the provider: it reads the state from the
// authorization URL and hits the redirect URI with a code.
func redirectBrowser(t *testing.T, code string, tamperState bool) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		state := q.Get("state")
		if tamperState {
			state = "forged"
		}
		target := fmt.Sprintf("%s?code=%s&state=%s", q.Get("redirect_uri"), code, url.QueryEscape(state))
		go func() {
			resp, err := http.Get(target)
			if err != nil {
				t.Logf("redirect: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		return nil
	}
}

func TestFlowLoginSavesCredential(t *testing.T) {
	p := DefaultProvider()
	p.CallbackPort = freePort(t)
	store, _ := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	ex := &stubExchanger{cred: credentials.Credential{AccessToken: "at", RefreshToken: "rt"}}

	var shown string
	flow := NewFlow(FlowOptions{
		Provider:        p,
		Exchanger:       ex,
		Store:           store,
		CallbackTimeout: 5 * time.Second,
		Logger:          zerolog.Nop(),
		OpenURL:         redirectBrowser(t, "the-code", false),
		ShowURL:         func(u string) { shown = u },
	})

	cred, err := flow.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if cred.AccessToken != "at" {
		t.Fatalf("credential = %+v", cred)
	}
	if ex.gotCode != "the-code" {
		t.Fatalf("exchanged code = %q", ex.gotCode)
	}
	if Challenge(ex.gotVerifier) == "" || ex.gotState == "" {
		t.Fatal("exchange missing state or verifier")
	}
	u, _ := url.Parse(shown)
	if u.Query().Get("code_challenge") != Challenge(ex.gotVerifier) {
		t.Fatal("challenge in URL does not match verifier used for exchange")
	}
	if u.Query().Get("state") != ex.gotState {
		t.Fatal("state in URL does not match state used for exchange")
	}

	saved, err := store.Load()
	if err != nil || saved.AccessToken != "at" || saved.RefreshToken != "rt" {
		t.Fatalf("stored credential = %+v, %v", saved, err)
	}
}

func TestFlowLoginStateMismatchSkipsExchange(t *testing.T) {
	p := DefaultProvider()
	p.CallbackPort = freePort(t)
	store, _ := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	ex := &stubExchanger{}

	flow := NewFlow(FlowOptions{
		Provider:        p,
		Exchanger:       ex,
		Store:           store,
		CallbackTimeout: 5 * time.Second,
		Logger:          zerolog.Nop(),
		OpenURL:         redirectBrowser(t, "the-code", true),
	})

	_, err := flow.Login(context.Background())
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("Login() error = %v, want ErrStateMismatch", err)
	}
	if ex.gotCode != "" {
		t.Fatal("exchange called after state mismatch")
	}
	if _, err := store.Load(); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("store.Load() error = %v, want ErrNotFound", err)
	}
}

func TestFlowLoginBrowserFailureStillWaits(t *testing.T) {
	p := DefaultProvider()
	p.CallbackPort = freePort(t)
	store, _ := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.json"))

	flow := NewFlow(FlowOptions{
		Provider:        p,
		Exchanger:       &stubExchanger{},
		Store:           store,
		CallbackTimeout: 100 * time.Millisecond,
		Logger:          zerolog.Nop(),
		OpenURL:         func(string) error { return errors.New("no browser") },
	})

	_, err := flow.Login(context.Background())
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("Login() error = %v, want ErrCallbackTimeout", err)
	}
}

func TestFlowLoginPortBusy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	p := DefaultProvider()
	p.CallbackPort = ln.Addr().(*net.TCPAddr).Port
	opened := false
	flow := NewFlow(FlowOptions{
		Provider:  p,
		Exchanger: &stubExchanger{},
		Logger:    zerolog.Nop(),
		OpenURL:   func(string) error { opened = true; return nil },
	})

	if _, err := flow.Login(context.Background()); err == nil {
		t.Fatal("Login() succeeded with callback port in use")
	}
	if opened {
		t.Fatal("browser opened although the callback listener could not bind")
	}
}
