package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/credentials"
)

const DefaultCallbackTimeout = 2 * time.Minute

type CodeExchanger interface {
	Exchange(ctx context.Context, code, state, verifier string) (credentials.Credential, error)
}

type CredentialSaver interface {
	Save(credentials.Credential) error
}

type FlowOptions struct {
	Provider        Provider
	Exchanger       CodeExchanger
	Store           CredentialSaver
	CallbackTimeout time.Duration
	Logger          zerolog.Logger
	// OpenURL defaults to the system browser.
	OpenURL func(string) error
	// ShowURL, if set, is given the authorization URL before the browser
	// is opened so it can be shown to the user as a fallback.
	ShowURL func(string)
}

// Flow runs one interactive authorization-code login at a time.
type Flow struct {
	provider  Provider
	exchanger CodeExchanger
	store     CredentialSaver
	timeout   time.Duration
	log       zerolog.Logger
	openURL   func(string) error
	showURL   func(string)
}

func NewFlow(opts FlowOptions) *Flow {
	f := &Flow{
		provider:  opts.Provider,
		exchanger: opts.Exchanger,
		store:     opts.Store,
		timeout:   opts.CallbackTimeout,
		log:       opts.Logger.With().Str("component", "login").Logger(),
		openURL:   opts.OpenURL,
		showURL:   opts.ShowURL,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultCallbackTimeout
	}
	if f.openURL == nil {
		f.openURL = browser.OpenURL
	}
	return f
}

// Login sends the user through the provider, waits for the redirect,
// exchanges the code and persists the resulting credential.
func (f *Flow) Login(ctx context.Context) (credentials.Credential, error) {
	log := f.log.With().Str("attempt", ulid.Make().String()).Logger()
	log.Info().Msg("starting oauth login")

	req := NewAuthorizationRequest()

	// Bind first: the redirect can arrive as soon as the browser opens.
	listener, err := ListenCallback(f.provider.CallbackAddr(), log)
	if err != nil {
		return credentials.Credential{}, err
	}

	authURL := f.provider.AuthURL(req)
	if f.showURL != nil {
		f.showURL(authURL)
	}
	if err := f.openURL(authURL); err != nil {
		log.Warn().Err(err).Msg("could not open browser; open the authorization URL manually")
	}

	log.Info().Dur("timeout", f.timeout).Msg("waiting for oauth callback")
	code, err := listener.Await(ctx, req.State, f.timeout)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("await callback: %w", err)
	}
	log.Info().Msg("received authorization code")

	cred, err := f.exchanger.Exchange(ctx, code, req.State, req.CodeVerifier)
	if err != nil {
		return credentials.Credential{}, err
	}
	if err := f.store.Save(cred); err != nil {
		return credentials.Credential{}, fmt.Errorf("save credential: %w", err)
	}
	log.Info().Msg("login complete")
	return cred, nil
}
