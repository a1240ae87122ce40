// Package session drives the client side of the OAuth2 authorization code
// flow with PKCE: it starts login attempts, validates and completes
// callbacks, owns the token lifecycle and proactively renews tokens before
// they expire, notifying application code of every transition through an
// event bus.
package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/pkce"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/urlparse"
)

// DefaultAuthorizePath is appended to the configured auth server base URL
// when no explicit authorize endpoint is set.
const DefaultAuthorizePath = "/authorize"

// refreshAttempt lets a second refresh trigger join the outcome of one
// already in flight instead of issuing a duplicate refresh-token exchange,
// which some authorization servers answer by invalidating the token pair.
type refreshAttempt struct {
	done chan struct{}
	err  error
}

// Controller orchestrates one authentication session. It is the only writer
// to its Store; concurrency is limited to the expiry timer racing manual
// calls, which the pending-record single-use rule and the refresh
// single-flight close.
type Controller struct {
	config            *oauthmodel.SessionConfig
	store             *storage.Store
	api               api.Client
	bus               *events.Bus
	scheduler         *expiryScheduler
	authorizeEndpoint string
	safetyMargin      time.Duration
	pendingTTL        time.Duration
	requestTimeout    time.Duration
	nowTime           func() time.Time

	refreshLock sync.Mutex
	inflight    *refreshAttempt
}

// Option modifies the Controller during construction.
type Option func(*Controller)

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}

// WithSafetyMargin overrides how long before computed expiry a token is
// treated as no longer valid and the proactive refresh fires.
func WithSafetyMargin(margin time.Duration) Option {
	return func(c *Controller) {
		c.safetyMargin = margin
	}
}

// WithAuthorizeEndpoint overrides the authorization endpoint URL, typically
// with api.Discover's AuthorizationURL.
func WithAuthorizeEndpoint(endpoint string) Option {
	return func(c *Controller) {
		c.authorizeEndpoint = endpoint
	}
}

// WithPendingTTL overrides how long an in-flight authorization waits for
// its callback before being treated as abandoned.
func WithPendingTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.pendingTTL = ttl
	}
}

// NewController creates a session controller with required dependencies.
// Optional behaviour is configured via options.
func NewController(cfg *oauthmodel.SessionConfig, store *storage.Store, apiClient api.Client, options ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("[NewController] config is required")
	}
	if store == nil {
		return nil, errors.New("[NewController] store is required")
	}
	if apiClient == nil {
		return nil, errors.New("[NewController] api client is required")
	}

	defaults := config.Client{}
	controller := &Controller{
		config:            cfg,
		store:             store,
		api:               apiClient,
		bus:               events.NewBus(),
		authorizeEndpoint: cfg.AuthServerBaseURL + DefaultAuthorizePath,
		safetyMargin:      defaults.GetSafetyMargin(),
		pendingTTL:        defaults.GetPendingAuthorizationTTL(),
		requestTimeout:    defaults.GetRequestTimeout(),
		nowTime:           time.Now,
	}
	for _, opt := range options {
		opt(controller)
	}

	controller.scheduler = newExpiryScheduler(controller.nowTime, controller.safetyMargin, controller.handleExpiry)
	return controller, nil
}

// On subscribes handler to events of type t.
func (c *Controller) On(t events.Type, handler *events.Handler) {
	c.bus.On(t, handler)
}

// Off removes a previously subscribed handler.
func (c *Controller) Off(t events.Type, handler *events.Handler) {
	c.bus.Off(t, handler)
}

// StartLogin begins a new authorization flow: it generates the anti-forgery
// state and, when PKCE is enabled, the verifier/challenge pair, persists
// them so they survive the redirect, and returns the authorization URL to
// navigate to. Any previous pending authorization is overwritten; only one
// flow may be outstanding at a time. Caller-supplied extra parameters are
// merged into the URL but never override the protocol-mandated ones.
func (c *Controller) StartLogin(extraParams map[string]string) (string, error) {
	state, err := pkce.NewState()
	if err != nil {
		return "", errors.Wrap(err, "[StartLogin] pkce.NewState")
	}

	pending := &oauthmodel.PendingAuthorization{
		State:     state,
		CreatedAt: c.nowTime(),
	}

	if c.config.UsePKCE() {
		verifier, err := pkce.NewCodeVerifier()
		if err != nil {
			return "", errors.Wrap(err, "[StartLogin] pkce.NewCodeVerifier")
		}
		challenge, err := pkce.CodeChallenge(verifier, c.config.CodeChallengeMethod)
		if err != nil {
			return "", errors.Wrap(err, "[StartLogin] pkce.CodeChallenge")
		}
		pending.CodeVerifier = verifier
		pending.CodeChallenge = challenge
	}

	if err := c.store.SetPending(pending); err != nil {
		return "", errors.Wrap(err, "[StartLogin] store.SetPending")
	}

	values := url.Values{}
	for key, value := range extraParams {
		values.Set(key, value)
	}
	values.Set("response_type", "code")
	values.Set("client_id", c.config.ClientID)
	values.Set("redirect_uri", c.config.RedirectURI)
	values.Set("scope", c.config.ScopeString())
	values.Set("state", state)
	if c.config.UsePKCE() {
		values.Set("code_challenge", pending.CodeChallenge)
		values.Set("code_challenge_method", string(c.config.CodeChallengeMethod))
	}

	authURL := c.authorizeEndpoint + "?" + values.Encode()
	log.Debug().
		Str("flow_id", uuid.NewString()).
		Str("client_id", c.config.ClientID).
		Bool("pkce", c.config.UsePKCE()).
		Msg("authorization flow started")
	return authURL, nil
}

// CompleteCallback finishes the flow when the authorization server
// redirects back. URLs without a code or error parameter are not callbacks
// and are ignored. The saved state is compared before any network call; the
// pending record is deleted as soon as it is consumed, so a replayed
// callback fails with ErrNoPendingAuthorization. On success tokens and user
// are committed together, the renewal timer is armed and a login event is
// emitted; on any failure nothing partial stays committed.
func (c *Controller) CompleteCallback(ctx context.Context, callbackURL string) error {
	params := urlparse.Params(callbackURL)

	if errCode := params["error"]; errCode != "" {
		description := params["error_description"]
		if description == "" {
			description = errCode
		}
		if err := c.store.RemovePending(); err != nil {
			log.Warn().Err(err).Msg("failed to clear pending authorization")
		}
		c.emitError(errCode, description)
		return errors.Wrapf(ErrAuthorizationDenied, "[CompleteCallback] %s: %s", errCode, description)
	}

	code := params["code"]
	if code == "" {
		return nil
	}

	pending, err := c.store.Pending()
	if err != nil {
		return errors.Wrap(err, "[CompleteCallback] store.Pending")
	}
	if pending != nil && c.pendingTTL > 0 && c.nowTime().Sub(pending.CreatedAt) > c.pendingTTL {
		_ = c.store.RemovePending()
		pending = nil
	}
	if pending == nil {
		c.emitError("no_pending_authorization", "no in-flight authorization matches this callback")
		return errors.Wrap(ErrNoPendingAuthorization, "[CompleteCallback]")
	}

	if params["state"] != pending.State {
		c.emitError("state_mismatch", "state parameter mismatch")
		return errors.Wrap(ErrStateMismatch, "[CompleteCallback] state parameter mismatch")
	}

	// Single use: a replayed callback must fail the pending lookup above,
	// not reach the token endpoint.
	if err := c.store.RemovePending(); err != nil {
		return errors.Wrap(err, "[CompleteCallback] store.RemovePending")
	}

	var verifier string
	if c.config.UsePKCE() {
		verifier = pending.CodeVerifier
		if verifier == "" {
			c.emitError("code_verifier_not_found", "code verifier not found, authentication cannot continue")
			return errors.Wrap(ErrMissingCodeVerifier, "[CompleteCallback]")
		}
	}

	tokens, err := c.api.ExchangeCode(ctx, code, c.config.ClientID, c.config.RedirectURI, verifier, c.config.ClientSecret)
	if err != nil {
		c.emitFailure("token_exchange_failed", err)
		return errors.Wrapf(ErrTokenExchangeFailed, "[CompleteCallback] %v", err)
	}
	c.stampTokens(tokens)

	if err := c.store.SetTokens(tokens); err != nil {
		return errors.Wrap(err, "[CompleteCallback] store.SetTokens")
	}

	user, err := c.api.FetchUser(ctx, tokens.AccessToken)
	if err != nil {
		// No partial commit: tokens without a user never stay persisted.
		if rbErr := c.store.RemoveTokens(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("failed to roll back tokens after user fetch failure")
		}
		c.emitFailure("user_fetch_failed", err)
		return errors.Wrapf(ErrUserFetchFailed, "[CompleteCallback] %v", err)
	}
	if err := c.store.SetUser(user); err != nil {
		if rbErr := c.store.RemoveTokens(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("failed to roll back tokens after user persist failure")
		}
		return errors.Wrap(err, "[CompleteCallback] store.SetUser")
	}

	c.scheduler.arm(tokens)
	c.bus.Emit(events.Event{Type: events.TypeLogin, Data: events.LoginPayload{User: user, Tokens: tokens}})
	log.Debug().Str("client_id", c.config.ClientID).Msg("session established")
	return nil
}

// Refresh exchanges the persisted refresh token for a fresh token set. At
// most one refresh is in flight at a time: a concurrent call joins the
// outcome of the running one. On success the stored tokens are replaced in
// full, except that a response omitting the refresh token keeps the
// previous one (the server signalled it remains valid), the renewal timer
// is re-armed and a token-refresh event is emitted.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshLock.Lock()
	if attempt := c.inflight; attempt != nil {
		c.refreshLock.Unlock()
		<-attempt.done
		return attempt.err
	}
	attempt := &refreshAttempt{done: make(chan struct{})}
	c.inflight = attempt
	c.refreshLock.Unlock()

	attempt.err = c.doRefresh(ctx)

	c.refreshLock.Lock()
	c.inflight = nil
	c.refreshLock.Unlock()
	close(attempt.done)

	return attempt.err
}

func (c *Controller) doRefresh(ctx context.Context) error {
	tokens, err := c.store.Tokens()
	if err != nil {
		return errors.Wrap(err, "[Refresh] store.Tokens")
	}
	if tokens == nil || tokens.RefreshToken == "" {
		c.emitError("no_refresh_token", "no refresh token available")
		return errors.Wrap(ErrNoRefreshToken, "[Refresh]")
	}

	newTokens, err := c.api.Refresh(ctx, tokens.RefreshToken, c.config.ClientID, c.config.ClientSecret)
	if err != nil {
		c.emitFailure("token_refresh_failed", err)
		return errors.Wrap(err, "[Refresh] api.Refresh")
	}
	if newTokens.RefreshToken == "" {
		newTokens.RefreshToken = tokens.RefreshToken
	}
	c.stampTokens(newTokens)

	if err := c.store.SetTokens(newTokens); err != nil {
		return errors.Wrap(err, "[Refresh] store.SetTokens")
	}

	c.scheduler.arm(newTokens)
	c.bus.Emit(events.Event{Type: events.TypeTokenRefresh, Data: newTokens})
	log.Debug().Str("client_id", c.config.ClientID).Msg("tokens refreshed")
	return nil
}

// Logout revokes the access token best-effort, cancels the renewal timer,
// clears all persisted session data and emits a logout event. A failed
// revoke is reported as an error event but never blocks local cleanup.
func (c *Controller) Logout(ctx context.Context) error {
	tokens, err := c.store.Tokens()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read tokens during logout")
	}
	if tokens != nil && tokens.AccessToken != "" {
		if err := c.api.Revoke(ctx, tokens.AccessToken); err != nil {
			log.Warn().Err(err).Msg("token revocation failed, clearing local session anyway")
			c.emitFailure("revoke_failed", err)
		}
	}

	c.scheduler.cancel()
	clearErr := c.store.Clear()
	c.bus.Emit(events.Event{Type: events.TypeLogout, Data: nil})
	return errors.Wrap(clearErr, "[Logout]")
}

// IsAuthenticated reports whether tokens and a user profile are persisted
// and the tokens are not within the safety margin of expiry. A token
// considered valid here is therefore also still renewable by the scheduler.
func (c *Controller) IsAuthenticated() bool {
	tokens, err := c.store.Tokens()
	if err != nil || tokens == nil {
		return false
	}
	if tokens.Expired(c.nowTime(), c.safetyMargin) {
		return false
	}
	user, err := c.store.User()
	return err == nil && user != nil
}

// User returns the persisted user profile, or nil outside a session.
func (c *Controller) User() *oauthmodel.User {
	user, err := c.store.User()
	if err != nil {
		return nil
	}
	return user
}

// AccessToken returns the persisted access token, or "".
func (c *Controller) AccessToken() string {
	tokens, err := c.store.Tokens()
	if err != nil || tokens == nil {
		return ""
	}
	return tokens.AccessToken
}

// RefreshToken returns the persisted refresh token, or "".
func (c *Controller) RefreshToken() string {
	tokens, err := c.store.Tokens()
	if err != nil || tokens == nil {
		return ""
	}
	return tokens.RefreshToken
}

// State returns a snapshot of the session for application code.
func (c *Controller) State() oauthmodel.AuthState {
	tokens, _ := c.store.Tokens()
	user, _ := c.store.User()
	return oauthmodel.AuthState{
		IsAuthenticated: c.IsAuthenticated(),
		User:            user,
		Tokens:          tokens,
	}
}

// Tokens returns the current token set, refreshing first when it is within
// the safety margin of expiry and a refresh token is held. Fails with
// ErrNoTokens outside a session.
func (c *Controller) Tokens(ctx context.Context) (*oauthmodel.AuthTokens, error) {
	tokens, err := c.store.Tokens()
	if err != nil {
		return nil, errors.Wrap(err, "[Tokens] store.Tokens")
	}
	if tokens == nil {
		return nil, errors.Wrap(ErrNoTokens, "[Tokens]")
	}
	if !tokens.Expired(c.nowTime(), c.safetyMargin) {
		return tokens, nil
	}
	if tokens.RefreshToken == "" {
		return nil, errors.Wrap(ErrNoRefreshToken, "[Tokens] tokens expired")
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	tokens, err = c.store.Tokens()
	if err != nil || tokens == nil {
		return nil, errors.Wrap(ErrNoTokens, "[Tokens] after refresh")
	}
	return tokens, nil
}

// ValidateToken introspects the current access token with the authorization
// server. Returns false when no token is held or on any failure.
func (c *Controller) ValidateToken(ctx context.Context) bool {
	accessToken := c.AccessToken()
	if accessToken == "" {
		return false
	}
	active, err := c.api.Validate(ctx, accessToken)
	if err != nil {
		return false
	}
	return active
}

// HasCallbackParams reports whether rawURL looks like an authorization
// callback, i.e. carries a code or error parameter.
func (c *Controller) HasCallbackParams(rawURL string) bool {
	params := urlparse.Params(rawURL)
	return params["code"] != "" || params["error"] != ""
}

// ClearStorage removes all persisted session data without contacting the
// server or emitting events.
func (c *Controller) ClearStorage() error {
	return errors.Wrap(c.store.Clear(), "[ClearStorage]")
}

// Destroy cancels the renewal timer and drops all event subscriptions. The
// controller must not be used afterwards.
func (c *Controller) Destroy() {
	c.scheduler.cancel()
	c.bus.Destroy()
}

// handleExpiry is the scheduler's timer body: refresh, and treat failure as
// terminal for the session, since a failed proactive refresh usually means
// the refresh token itself is no longer valid.
func (c *Controller) handleExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		c.bus.Emit(events.Event{Type: events.TypeTokenExpired, Data: err})
		if logoutErr := c.Logout(ctx); logoutErr != nil {
			log.Warn().Err(logoutErr).Msg("forced logout after failed renewal")
		}
	}
}

// stampTokens records receipt time and fills wire defaults.
func (c *Controller) stampTokens(tokens *oauthmodel.AuthTokens) {
	tokens.IssuedAt = c.nowTime()
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
}

func (c *Controller) emitError(code, description string) {
	c.bus.Emit(events.Event{Type: events.TypeError, Data: events.ErrorPayload{Code: code, Description: description}})
}

// emitFailure emits an error event for err, preserving the server's OAuth2
// error body when there is one.
func (c *Controller) emitFailure(fallbackCode string, err error) {
	var serverErr *api.ServerError
	if errors.As(err, &serverErr) {
		c.emitError(serverErr.Code, serverErr.Description)
		return
	}
	c.emitError(fallbackCode, err.Error())
}
