// Package calendar keeps Google Calendar in sync with ticket due dates. It
// handles the OAuth consent flow, stores refresh tokens and maintains one
// all-day event per ticket, colored by how close the deadline is.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadState is returned when an OAuth callback carries a state token that
// is missing, expired or not ours.
var ErrBadState = errors.New("calendar: invalid oauth state")

// Config holds the Google OAuth application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// StateSecret signs the OAuth state parameter.
	StateSecret string
}

// OAuth runs the authorization-code flow against Google's OAuth endpoints.
type OAuth struct {
	cfg     Config
	client  *http.Client
	authURL string
	tokURL  string
}

// OAuthOption configures an OAuth flow.
type OAuthOption func(*OAuth)

// WithOAuthEndpoints overrides the Google endpoints (tests).
func WithOAuthEndpoints(authURL, tokenURL string) OAuthOption {
	return func(o *OAuth) {
		o.authURL = authURL
		o.tokURL = tokenURL
	}
}

// NewOAuth creates the consent-flow helper.
func NewOAuth(cfg Config, opts ...OAuthOption) *OAuth {
	o := &OAuth{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		authURL: "https://accounts.google.com/o/oauth2/v2/auth",
		tokURL:  "https://oauth2.googleapis.com/token",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type stateClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// AuthURL builds the consent URL for a user. The state parameter is a signed
// short-lived token carrying the subject, so the callback can tie the grant
// back to a user without server-side session state.
func (o *OAuth) AuthURL(subject string) (string, error) {
	claims := stateClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(o.cfg.StateSecret))
	if err != nil {
		return "", fmt.Errorf("calendar: sign state: %w", err)
	}

	q := url.Values{
		"client_id":     {o.cfg.ClientID},
		"redirect_uri":  {o.cfg.RedirectURI},
		"response_type": {"code"},
		"scope":         {"https://www.googleapis.com/auth/calendar"},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {state},
	}
	return o.authURL + "?" + q.Encode(), nil
}

// VerifyState validates a callback state token and returns its subject.
func (o *OAuth) VerifyState(state string) (string, error) {
	var claims stateClaims
	tok, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(o.cfg.StateSecret), nil
	})
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrBadState, err)
	}
	return claims.Subject, nil
}

// Token is the relevant subset of Google's token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*Token, error) {
	return o.tokenRequest(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {o.cfg.RedirectURI},
		"client_id":     {o.cfg.ClientID},
		"client_secret": {o.cfg.ClientSecret},
	})
}

// AccessToken mints a fresh access token from a stored refresh token.
func (o *OAuth) AccessToken(ctx context.Context, refreshToken string) (string, error) {
	tok, err := o.tokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {o.cfg.ClientID},
		"client_secret": {o.cfg.ClientSecret},
	})
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (o *OAuth) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("calendar: token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: token endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("calendar: decode token: %w", err)
	}
	return &tok, nil
}
