// ABOUTME: Generic OAuth2 sign-in using authorization code + PKCE
// ABOUTME: Exchanges the code and reads identity from the provider's userinfo endpoint

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ErrOAuthIdentity is returned when the userinfo response lacks a usable identity.
var ErrOAuthIdentity = errors.New("oauth provider returned no usable identity")

// OAuthIdentity is the subset of userinfo agentdash uses.
type OAuthIdentity struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// OAuthProvider wraps an oauth2.Config with a userinfo endpoint.
type OAuthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
}

// OAuthProviderConfig configures NewOAuthProvider.
type OAuthProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// NewOAuthProvider creates a provider from static configuration.
func NewOAuthProvider(cfg OAuthProviderConfig) *OAuthProvider {
	return &OAuthProvider{
		name: cfg.Name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
	}
}

// Name returns the provider's short name.
func (p *OAuthProvider) Name() string {
	return p.name
}

// Begin returns the authorization URL along with the PKCE verifier the
// caller must keep (server-side or in an HttpOnly cookie) until the callback.
func (p *OAuthProvider) Begin(state string) (authURL, verifier string) {
	verifier = oauth2.GenerateVerifier()
	authURL = p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	return authURL, verifier
}

// Complete exchanges the authorization code and fetches the identity.
func (p *OAuthProvider) Complete(ctx context.Context, code, verifier string) (*OAuthIdentity, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging oauth code: %w", err)
	}

	client := p.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading userinfo: %w", err)
	}

	ident, err := parseUserInfo(body)
	if err != nil {
		return nil, err
	}
	ident.Provider = p.name
	return ident, nil
}

// parseUserInfo accepts both OIDC-style (sub, picture) and GitHub-style
// (id, avatar_url) userinfo documents.
func parseUserInfo(body []byte) (*OAuthIdentity, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			switch v := doc[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case json.Number:
				return v.String()
			}
		}
		return ""
	}

	if verified, ok := doc["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrOAuthIdentity)
	}

	ident := &OAuthIdentity{
		Subject:   str("sub", "id"),
		Email:     strings.ToLower(str("email")),
		Name:      str("name", "login"),
		AvatarURL: str("picture", "avatar_url"),
	}
	if ident.Subject == "" || ident.Email == "" {
		return nil, ErrOAuthIdentity
	}
	return ident, nil
}
