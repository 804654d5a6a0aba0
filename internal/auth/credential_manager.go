package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/retry"
)

// Credential is a bearer token with the instant after which it must not be
// used. The safety margin is already subtracted from ExpiresAt.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (c *Credential) validAt(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// CredentialConfig configures the client-credentials exchange.
type CredentialConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Margin       time.Duration
	RateLimit    int
	Timeout      time.Duration
	Retry        retry.Policy
}

// CredentialStatus is an operator view of the cached credential.
type CredentialStatus struct {
	Cached          bool       `json:"cached"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Exchanges       int        `json:"exchanges"`
	ExchangesWindow int        `json:"exchanges_last_minute"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// CredentialManager obtains and caches the provider's bearer credential.
//
// Refresh is serialized: concurrent callers that find the credential expired
// wait for a single exchange and share its result. A sliding one-minute window
// keeps exchanges under the identity provider's rate limit.
type CredentialManager struct {
	cfg    CredentialConfig
	client *http.Client
	log    *logging.Logger
	now    func() time.Time
	sleep  retry.SleepFunc

	refresh chan struct{}

	mu          sync.RWMutex
	cred        *Credential
	window      []time.Time
	exchanges   int
	lastRefresh time.Time
	lastErr     error
}

// CredentialOption customises a CredentialManager.
type CredentialOption func(*CredentialManager)

// WithClock replaces the time source and the wait used by the rate guard and
// the retry policy.
func WithClock(now func() time.Time, sleep retry.SleepFunc) CredentialOption {
	return func(m *CredentialManager) {
		m.now = now
		m.sleep = sleep
	}
}

// NewCredentialManager creates a manager. A nil client gets a default one.
func NewCredentialManager(cfg CredentialConfig, client *http.Client, log *logging.Logger, opts ...CredentialOption) *CredentialManager {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default()
	}
	m := &CredentialManager{
		cfg:     cfg,
		client:  client,
		log:     log.With("component", "credentials"),
		now:     time.Now,
		sleep:   retry.Sleep,
		refresh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AuthHeader returns the Authorization header for a data request.
func (m *CredentialManager) AuthHeader(ctx context.Context) (http.Header, error) {
	token, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// Token returns a valid access token, exchanging a new one when needed.
func (m *CredentialManager) Token(ctx context.Context) (string, error) {
	if c := m.cached(); c.validAt(m.now()) {
		return c.AccessToken, nil
	}

	select {
	case m.refresh <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.refresh }()

	// Another caller may have refreshed while we waited.
	if c := m.cached(); c.validAt(m.now()) {
		return c.AccessToken, nil
	}

	cred, err := m.exchangeWithRetry(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Prewarm refreshes the credential if it expires within ahead.
func (m *CredentialManager) Prewarm(ctx context.Context, ahead time.Duration) error {
	if c := m.cached(); c.validAt(m.now().Add(ahead)) {
		return nil
	}
	select {
	case m.refresh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.refresh }()

	if c := m.cached(); c.validAt(m.now().Add(ahead)) {
		return nil
	}
	_, err := m.exchangeWithRetry(ctx)
	return err
}

// Invalidate drops the cached credential so the next call exchanges again.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
	m.log.Warn("credential invalidated")
}

// Status reports the cached credential and exchange counters.
func (m *CredentialManager) Status() CredentialStatus {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := CredentialStatus{
		Cached:    m.cred.validAt(now),
		Exchanges: m.exchanges,
	}
	if m.cred != nil {
		exp := m.cred.ExpiresAt
		st.ExpiresAt = &exp
	}
	if !m.lastRefresh.IsZero() {
		lr := m.lastRefresh
		st.LastRefresh = &lr
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	for _, t := range m.window {
		if now.Sub(t) < time.Minute {
			st.ExchangesWindow++
		}
	}
	return st
}

func (m *CredentialManager) cached() *Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

func (m *CredentialManager) exchangeWithRetry(ctx context.Context) (*Credential, error) {
	policy := m.cfg.Retry
	policy.Sleep = m.sleep
	policy.OnRetry = func(attempt int, err error) {
		m.log.Warn("credential exchange failed, retrying", "attempt", attempt, "error", err)
	}

	cred, err := retry.Do(ctx, policy, m.exchange)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if err != nil {
		m.log.Error("credential exchange failed", "error", err)
		return nil, err
	}
	m.cred = cred
	m.lastRefresh = m.now()
	m.log.Info("credential refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   *float64 `json:"expires_in"`
	TokenType   string   `json:"token_type"`
}

func (m *CredentialManager) exchange(ctx context.Context) (*Credential, error) {
	if err := m.awaitRateBudget(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, perrors.Remote(perrors.RemoteTimeout, 0, "", err)
		}
		return nil, perrors.Remote(perrors.AuthError, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, perrors.Remote(perrors.RemoteTimeout, resp.StatusCode, "", err)
		}
		return nil, perrors.Remote(perrors.AuthError, resp.StatusCode, "", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, perrors.Remote(perrors.RateLimited, resp.StatusCode, string(body), nil)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, perrors.Remote(perrors.AuthRejected, resp.StatusCode, string(body), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, perrors.Remote(perrors.AuthError, resp.StatusCode, string(body), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, perrors.Remote(perrors.MalformedResponse, resp.StatusCode, string(body), err)
	}
	if tr.AccessToken == "" {
		return nil, perrors.Remote(perrors.MalformedResponse, resp.StatusCode, string(body), errors.New("missing access_token"))
	}

	now := m.now()
	var expiresAt time.Time
	if tr.ExpiresIn != nil {
		expiresAt = now.Add(time.Duration(*tr.ExpiresIn * float64(time.Second)))
	} else {
		exp, err := tokenExpiry(tr.AccessToken)
		if err != nil {
			return nil, perrors.Remote(perrors.MalformedResponse, resp.StatusCode, string(body), err)
		}
		expiresAt = exp
	}

	return &Credential{
		AccessToken: tr.AccessToken,
		ExpiresAt:   expiresAt.Add(-m.cfg.Margin),
	}, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// its signature.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("no expires_in and token is not a JWT: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no expires_in and token has no exp claim")
	}
	return exp.Time, nil
}

// awaitRateBudget blocks until an exchange fits in the one-minute window and
// then records it.
func (m *CredentialManager) awaitRateBudget(ctx context.Context) error {
	for {
		m.mu.Lock()
		now := m.now()
		m.pruneWindow(now)
		if len(m.window) < m.cfg.RateLimit {
			m.window = append(m.window, now)
			m.exchanges++
			m.mu.Unlock()
			return nil
		}
		wait := m.window[0].Add(time.Minute).Sub(now)
		m.mu.Unlock()

		m.log.Warn("credential exchange rate limit reached, pausing", "wait", wait)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (m *CredentialManager) pruneWindow(now time.Time) {
	cut := 0
	for cut < len(m.window) && now.Sub(m.window[cut]) >= time.Minute {
		cut++
	}
	m.window = m.window[cut:]
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
