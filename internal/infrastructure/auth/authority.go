package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshAttempts   = 3
	refreshRetryDelay = 500 * time.Millisecond
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	AuthURL      string
	TokenURL     string
	Timeout      time.Duration
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Authority owns the OAuth token pair: it runs the PKCE code exchange,
// refreshes tokens and hands out access tokens that are valid for at
// least domain.TokenSafetyMargin.
type Authority struct {
	cfg        Config
	client     *resty.Client
	store      CredentialStore
	logger     *zap.Logger
	timeNow    func() time.Time
	retryDelay time.Duration

	mu    sync.RWMutex
	cred  domain.Credential
	pkce  PKCE
	group singleflight.Group
}

// NewAuthority loads any persisted credential from store (nil disables
// persistence) and prepares a fresh PKCE pair.
func NewAuthority(cfg Config, store CredentialStore, logger *zap.Logger) (*Authority, error) {
	pkce, err := NewPKCE()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	a := &Authority{
		cfg:        cfg,
		client:     client,
		store:      store,
		logger:     logger,
		timeNow:    time.Now,
		retryDelay: refreshRetryDelay,
		pkce:       pkce,
	}

	if store != nil {
		cred, err := store.Load()
		switch {
		case err == nil:
			a.cred = cred
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn("Failed to load stored credential", zap.Error(err))
		}
	}
	return a, nil
}

// Seed installs a credential obtained out of band (for example from the
// environment) when none was loaded from the store.
func (a *Authority) Seed(c domain.Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cred.AccessToken == "" && a.cred.RefreshToken == "" {
		a.cred = c
	}
}

func (a *Authority) Credential() domain.Credential {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cred
}

func (a *Authority) PKCE() PKCE {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pkce
}

// UsePKCE replaces the proof key, typically with one saved by the process
// that printed the authorization URL.
func (a *Authority) UsePKCE(p PKCE) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pkce = p
}

// AuthorizationURL builds the dialog URL the user opens to grant access.
func (a *Authority) AuthorizationURL() string {
	p := a.PKCE()
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", p.State)
	if a.cfg.Scope != "" {
		q.Set("scope", a.cfg.Scope)
	}
	q.Set("code_challenge", p.Challenge)
	q.Set("code_challenge_method", "S256")
	return a.cfg.AuthURL + "?" + q.Encode()
}

func (a *Authority) ValidateState(state string) bool {
	return a.PKCE().MatchState(state)
}

// ExchangeCode trades an authorization code for a token pair.
func (a *Authority) ExchangeCode(ctx context.Context, code string) error {
	if code == "" {
		return &AuthExchangeError{Err: fmt.Errorf("%w: empty authorization code", domain.ErrInvalid)}
	}
	form := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
		"redirect_uri":  a.cfg.RedirectURI,
		"code_verifier": a.PKCE().Verifier,
	}
	tok, status, body, err := a.postToken(ctx, form)
	if err != nil {
		return &AuthExchangeError{Err: err}
	}
	if status < 200 || status > 299 {
		return &AuthExchangeError{StatusCode: status, Body: body}
	}
	if tok.AccessToken == "" {
		return &AuthExchangeError{StatusCode: status, Body: body, Err: errors.New("response has no access_token")}
	}

	a.install(tok, "")
	a.logger.Info("Authorization code exchanged", zap.Bool("has_refresh_token", tok.RefreshToken != ""))
	return nil
}

// Refresh always asks the token endpoint for a new access token.
func (a *Authority) Refresh(ctx context.Context) error {
	a.mu.RLock()
	refreshToken := a.cred.RefreshToken
	a.mu.RUnlock()

	if refreshToken == "" {
		return &AuthRefreshError{Err: ErrNoRefreshToken}
	}
	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
	}
	var (
		tok    *tokenResponse
		status int
		body   string
		err    error
	)
	for attempt := 0; ; attempt++ {
		tok, status, body, err = a.postToken(ctx, form)
		if err == nil || !transient(err) || attempt+1 >= refreshAttempts {
			break
		}
		a.logger.Warn("Token endpoint unreachable, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		if serr := sleepCtx(ctx, a.retryDelay<<attempt); serr != nil {
			break
		}
	}
	if err != nil {
		return &AuthRefreshError{Err: err}
	}
	if status < 200 || status > 299 {
		return &AuthRefreshError{StatusCode: status, Body: body}
	}
	if tok.AccessToken == "" {
		return &AuthRefreshError{StatusCode: status, Body: body, Err: errors.New("response has no access_token")}
	}

	a.install(tok, refreshToken)
	a.logger.Info("Access token refreshed")
	return nil
}

// IsValid reports whether the current access token can be used now.
func (a *Authority) IsValid() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cred.ValidAt(a.timeNow())
}

// EnsureValid refreshes the token when it is missing or about to expire.
// Concurrent callers share a single refresh. The returned error matches
// domain.ErrAuth when re-authorization is required.
func (a *Authority) EnsureValid(ctx context.Context) error {
	if a.IsValid() {
		return nil
	}
	_, err, _ := a.group.Do("refresh", func() (interface{}, error) {
		if a.IsValid() {
			return nil, nil
		}
		return nil, a.Refresh(ctx)
	})
	if errors.Is(err, domain.ErrAuth) {
		return fmt.Errorf("credential invalid, re-authorization required: %w", err)
	}
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}
	return nil
}

// AccessToken implements domain.TokenSource.
func (a *Authority) AccessToken(ctx context.Context) (string, error) {
	if err := a.EnsureValid(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cred.AccessToken, nil
}

func (a *Authority) postToken(ctx context.Context, form map[string]string) (*tokenResponse, int, string, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, 0, "", newTokenRequestError(err)
	}

	var tok tokenResponse
	if resp.IsSuccess() {
		if err := json.Unmarshal(resp.Body(), &tok); err != nil {
			return nil, resp.StatusCode(), resp.String(), fmt.Errorf("decode token response: %w", err)
		}
	}
	return &tok, resp.StatusCode(), resp.String(), nil
}

// install replaces the credential and persists it. A response without a
// refresh token keeps fallbackRefresh.
func (a *Authority) install(tok *tokenResponse, fallbackRefresh string) {
	cred := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = fallbackRefresh
	}
	if cred.Scope == "" {
		cred.Scope = a.cfg.Scope
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = a.timeNow().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	a.mu.Lock()
	a.cred = cred
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(cred); err != nil {
			a.logger.Warn("Failed to persist credential", zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
