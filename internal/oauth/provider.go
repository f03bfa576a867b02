package oauth

import (
	"fmt"

	"golang.org/x/oauth2"
)

const (
	DefaultClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	DefaultAuthorizeURL = "https://claude.ai/oauth/authorize"
	DefaultTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	DefaultCallbackPort = 54545
)

var DefaultScopes = []string{"user:profile", "user:inference", "user:sessions:claude_code"}

// Provider describes the identity provider and the local redirect target.
type Provider struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
	CallbackPort int
}

func DefaultProvider() Provider {
	return Provider{
		ClientID:     DefaultClientID,
		AuthorizeURL: DefaultAuthorizeURL,
		TokenURL:     DefaultTokenURL,
		Scopes:       append([]string(nil), DefaultScopes...),
		CallbackPort: DefaultCallbackPort,
	}
}

// RedirectURI must be byte-identical in the authorization request and the
// token exchange.
func (p Provider) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/callback", p.CallbackPort)
}

// CallbackAddr is where the callback listener binds.
func (p Provider) CallbackAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", p.CallbackPort)
}

func (p Provider) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURI(),
		Scopes:      p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthorizeURL,
			TokenURL: p.TokenURL,
		},
	}
}

// AuthURL is the URL the user opens in a browser to authorize this client.
func (p Provider) AuthURL(req AuthorizationRequest) string {
	return p.config().AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("code", "true"),
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}
