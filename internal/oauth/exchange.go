package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/credentials"
)

// TokenResponse is the token endpoint's success body. Only the two tokens
// and the expiry survive into the stored credential.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	Organization *struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	} `json:"organization"`
	Account *struct {
		UUID         string `json:"uuid"`
		EmailAddress string `json:"email_address"`
	} `json:"account"`
}

func (t TokenResponse) Credential(now time.Time) credentials.Credential {
	cred := credentials.Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		exp := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
		cred.ExpiresAt = &exp
	}
	return cred
}

type tokenRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
}

// Exchanger trades an authorization code for tokens.
type Exchanger struct {
	provider Provider
	http     *http.Client
	log      zerolog.Logger
	now      func() time.Time
}

func NewExchanger(p Provider, client *http.Client, log zerolog.Logger) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{provider: p, http: client, log: log, now: time.Now}
}

func (e *Exchanger) Exchange(ctx context.Context, code, state, verifier string) (credentials.Credential, error) {
	payload, err := json.Marshal(tokenRequest{
		Code:         code,
		State:        state,
		GrantType:    "authorization_code",
		ClientID:     e.provider.ClientID,
		RedirectURI:  e.provider.RedirectURI(),
		CodeVerifier: verifier,
	})
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.provider.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := api.Do(e.http, req, "exchange code")
	if err != nil {
		return credentials.Credential{}, err
	}
	e.log.Debug().Int("status", status).Int("bytes", len(body)).Msg("token exchange response")

	if status < 200 || status > 299 {
		serr := &api.StatusError{StatusCode: status, Body: string(body)}
		if eb, ok := api.ParseErrorBody(body); ok {
			serr.API = eb.AsError(status)
		}
		return credentials.Credential{}, fmt.Errorf("token exchange failed: %w", serr)
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		if eb, ok := api.ParseErrorBody(body); ok {
			return credentials.Credential{}, fmt.Errorf("token exchange: %w", eb.AsError(status))
		}
		return credentials.Credential{}, fmt.Errorf("token exchange: %w",
			&api.UnrecognizedResponseError{StatusCode: status, Body: string(body)})
	}
	return tok.Credential(e.now()), nil
}
