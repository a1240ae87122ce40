package session_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/api/clientfake"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/pkce"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/repofake"
)

const (
	testClientID    = "test-client-1"
	testRedirectURI = "http://localhost:3000/callback"
	testServerURL   = "https://auth.example.com"
	testUserID      = "user-1"
	testUserEmail   = "john.doe@example.com"
	testAuthCode    = "auth-code-1"
)

// testFixture holds all test dependencies.
type testFixture struct {
	repo       *repofake.FakeStorageRepo
	store      *storage.Store
	client     *clientfake.FakeAuthServerClient
	controller *session.Controller
	now        time.Time
}

// eventRecorder captures emitted events; the renewal timer delivers from its
// own goroutine.
type eventRecorder struct {
	lock     sync.Mutex
	recorded []events.Event
}

func (r *eventRecorder) handler() *events.Handler {
	h := events.Handler(func(e events.Event) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.recorded = append(r.recorded, e)
	})
	return &h
}

func (r *eventRecorder) list() []events.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]events.Event(nil), r.recorded...)
}

func (r *eventRecorder) count() int {
	return len(r.list())
}

func setupTestFixture(t *testing.T, options ...session.Option) *testFixture {
	t.Helper()

	f := &testFixture{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	f.repo = repofake.NewFakeStorageRepo()

	store, err := storage.NewStore(f.repo)
	require.NoError(t, err)
	f.store = store

	f.client = clientfake.NewFakeAuthServerClient()
	f.client.Tokens = &oauthmodel.AuthTokens{AccessToken: "at1", RefreshToken: "rt1", TokenType: "Bearer", ExpiresIn: 3600}
	f.client.RefreshTokens = &oauthmodel.AuthTokens{AccessToken: "at2", RefreshToken: "rt2", TokenType: "Bearer", ExpiresIn: 3600}
	f.client.User = &oauthmodel.User{ID: testUserID, Email: testUserEmail, Name: "John Doe"}

	cfg, err := oauthmodel.NewSessionConfig(oauthmodel.SessionConfig{
		ClientID:          testClientID,
		RedirectURI:       testRedirectURI,
		AuthServerBaseURL: testServerURL,
	})
	require.NoError(t, err)

	opts := append([]session.Option{session.WithNowTime(func() time.Time { return f.now })}, options...)
	controller, err := session.NewController(cfg, f.store, f.client, opts...)
	require.NoError(t, err)
	f.controller = controller
	t.Cleanup(controller.Destroy)
	return f
}

func (f *testFixture) startLogin(t *testing.T, extra map[string]string) (string, *oauthmodel.PendingAuthorization) {
	t.Helper()

	authURL, err := f.controller.StartLogin(extra)
	require.NoError(t, err)

	pending, err := f.store.Pending()
	require.NoError(t, err)
	require.NotNil(t, pending)
	return authURL, pending
}

func (f *testFixture) callbackURL(code, state string) string {
	return testRedirectURI + "?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
}

func (f *testFixture) completeLogin(t *testing.T) {
	t.Helper()

	_, pending := f.startLogin(t, nil)
	require.NoError(t, f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, pending.State)))
}

func TestStartLoginBuildsAuthorizationURL(t *testing.T) {
	f := setupTestFixture(t)

	authURL, pending := f.startLogin(t, nil)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "https", parsed.Scheme)
	require.Equal(t, "auth.example.com", parsed.Host)
	require.Equal(t, "/authorize", parsed.Path)

	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, testClientID, query.Get("client_id"))
	require.Equal(t, testRedirectURI, query.Get("redirect_uri"))
	require.Equal(t, "openid profile", query.Get("scope"))
	require.Equal(t, pending.State, query.Get("state"))
	require.NotEmpty(t, pending.State)

	require.Len(t, pending.CodeVerifier, 128)
	wantChallenge, err := pkce.CodeChallenge(pending.CodeVerifier, oauthmodel.CodeMethodS256)
	require.NoError(t, err)
	require.Equal(t, wantChallenge, query.Get("code_challenge"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
}

func TestStartLoginExtraParamsNeverOverrideProtocolParams(t *testing.T) {
	f := setupTestFixture(t)

	authURL, _ := f.startLogin(t, map[string]string{
		"audience":  "api",
		"client_id": "evil-client",
		"state":     "attacker-chosen",
	})
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	query := parsed.Query()
	require.Equal(t, "api", query.Get("audience"))
	require.Equal(t, testClientID, query.Get("client_id"))
	require.NotEqual(t, "attacker-chosen", query.Get("state"))
}

func TestStartLoginWithoutPKCE(t *testing.T) {
	repo := repofake.NewFakeStorageRepo()
	store, err := storage.NewStore(repo)
	require.NoError(t, err)
	cfg, err := oauthmodel.NewSessionConfig(oauthmodel.SessionConfig{
		ClientID:          testClientID,
		RedirectURI:       testRedirectURI,
		AuthServerBaseURL: testServerURL,
		DisablePKCE:       true,
	})
	require.NoError(t, err)
	controller, err := session.NewController(cfg, store, clientfake.NewFakeAuthServerClient())
	require.NoError(t, err)
	t.Cleanup(controller.Destroy)

	authURL, err := controller.StartLogin(nil)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Empty(t, parsed.Query().Get("code_challenge"))

	pending, err := store.Pending()
	require.NoError(t, err)
	require.Empty(t, pending.CodeVerifier)
}

func TestStartLoginReplacesPreviousPending(t *testing.T) {
	f := setupTestFixture(t)

	_, first := f.startLogin(t, nil)
	_, second := f.startLogin(t, nil)
	require.NotEqual(t, first.State, second.State)

	// Only the newest flow can complete.
	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, first.State))
	require.ErrorIs(t, err, session.ErrStateMismatch)
}

func TestCompleteCallbackEstablishesSession(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	f.controller.On(events.TypeLogin, recorder.handler())

	_, pending := f.startLogin(t, nil)
	require.NoError(t, f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, pending.State)))

	require.Len(t, f.client.ExchangeCalls, 1)
	call := f.client.ExchangeCalls[0]
	require.Equal(t, testAuthCode, call.Code)
	require.Equal(t, testClientID, call.ClientID)
	require.Equal(t, testRedirectURI, call.RedirectURI)
	require.Equal(t, pending.CodeVerifier, call.CodeVerifier)

	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Equal(t, "at1", tokens.AccessToken)
	require.Equal(t, f.now, tokens.IssuedAt)

	user, err := f.store.User()
	require.NoError(t, err)
	require.Equal(t, testUserID, user.ID)

	consumed, err := f.store.Pending()
	require.NoError(t, err)
	require.Nil(t, consumed)

	require.Equal(t, 1, recorder.count())
	payload := recorder.list()[0].Data.(events.LoginPayload)
	require.Equal(t, testUserEmail, payload.User.Email)
	require.Equal(t, "at1", payload.Tokens.AccessToken)

	require.True(t, f.controller.IsAuthenticated())
	require.Equal(t, "at1", f.controller.AccessToken())
	require.Equal(t, "rt1", f.controller.RefreshToken())
}

func TestCompleteCallbackDefaultsTokenType(t *testing.T) {
	f := setupTestFixture(t)
	f.client.Tokens.TokenType = ""

	f.completeLogin(t)

	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Equal(t, "Bearer", tokens.TokenType)
}

func TestCompleteCallbackErrorParameter(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	f.controller.On(events.TypeError, recorder.handler())

	f.startLogin(t, nil)
	err := f.controller.CompleteCallback(context.Background(),
		testRedirectURI+"?error=access_denied&error_description=user+cancelled")
	require.ErrorIs(t, err, session.ErrAuthorizationDenied)

	pending, err := f.store.Pending()
	require.NoError(t, err)
	require.Nil(t, pending)
	require.Empty(t, f.client.ExchangeCalls)

	require.Equal(t, 1, recorder.count())
	payload := recorder.list()[0].Data.(events.ErrorPayload)
	require.Equal(t, "access_denied", payload.Code)
	require.Equal(t, "user cancelled", payload.Description)
}

func TestCompleteCallbackIgnoresNonCallbackURL(t *testing.T) {
	f := setupTestFixture(t)
	f.startLogin(t, nil)

	require.NoError(t, f.controller.CompleteCallback(context.Background(), testRedirectURI+"?foo=bar"))
	require.Empty(t, f.client.ExchangeCalls)

	// The flow is still pending and can complete later.
	pending, err := f.store.Pending()
	require.NoError(t, err)
	require.NotNil(t, pending)
}

func TestCompleteCallbackWithoutPending(t *testing.T) {
	f := setupTestFixture(t)

	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, "some-state"))
	require.ErrorIs(t, err, session.ErrNoPendingAuthorization)
	require.Empty(t, f.client.ExchangeCalls)
}

func TestCompleteCallbackReplayFails(t *testing.T) {
	f := setupTestFixture(t)

	_, pending := f.startLogin(t, nil)
	callback := f.callbackURL(testAuthCode, pending.State)
	require.NoError(t, f.controller.CompleteCallback(context.Background(), callback))

	err := f.controller.CompleteCallback(context.Background(), callback)
	require.ErrorIs(t, err, session.ErrNoPendingAuthorization)
	require.Len(t, f.client.ExchangeCalls, 1)
}

func TestCompleteCallbackStateMismatch(t *testing.T) {
	f := setupTestFixture(t)

	f.startLogin(t, nil)
	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, "forged-state"))
	require.ErrorIs(t, err, session.ErrStateMismatch)

	// Rejected before any network call.
	require.Empty(t, f.client.ExchangeCalls)
}

func TestCompleteCallbackStalePending(t *testing.T) {
	f := setupTestFixture(t, session.WithPendingTTL(time.Minute))

	_, pending := f.startLogin(t, nil)
	f.now = f.now.Add(2 * time.Minute)

	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, pending.State))
	require.ErrorIs(t, err, session.ErrNoPendingAuthorization)
}

func TestCompleteCallbackMissingVerifier(t *testing.T) {
	f := setupTestFixture(t)

	// A pending record without a verifier while PKCE is on means storage was
	// tampered with or written by an incompatible client.
	require.NoError(t, f.store.SetPending(&oauthmodel.PendingAuthorization{State: "s1", CreatedAt: f.now}))

	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, "s1"))
	require.ErrorIs(t, err, session.ErrMissingCodeVerifier)
	require.Empty(t, f.client.ExchangeCalls)
}

func TestCompleteCallbackExchangeFailure(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	f.controller.On(events.TypeError, recorder.handler())
	f.client.ExchangeErr = &api.ServerError{Code: "invalid_grant", Description: "code expired", Status: 400}

	_, pending := f.startLogin(t, nil)
	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, pending.State))
	require.ErrorIs(t, err, session.ErrTokenExchangeFailed)

	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Nil(t, tokens)

	require.Equal(t, 1, recorder.count())
	payload := recorder.list()[0].Data.(events.ErrorPayload)
	require.Equal(t, "invalid_grant", payload.Code)
}

func TestCompleteCallbackUserFetchFailureRollsBackTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.client.FetchUserErr = &api.ServerError{Code: "server_error", Status: 500}

	_, pending := f.startLogin(t, nil)
	err := f.controller.CompleteCallback(context.Background(), f.callbackURL(testAuthCode, pending.State))
	require.ErrorIs(t, err, session.ErrUserFetchFailed)

	// No partial session: tokens must not survive a failed user fetch.
	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Nil(t, tokens)
	require.False(t, f.controller.IsAuthenticated())
}

func TestRefreshReplacesTokens(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	f.controller.On(events.TypeTokenRefresh, recorder.handler())
	f.completeLogin(t)

	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.controller.Refresh(context.Background()))

	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Equal(t, "at2", tokens.AccessToken)
	require.Equal(t, "rt2", tokens.RefreshToken)
	require.Equal(t, f.now, tokens.IssuedAt)
	require.Equal(t, 1, recorder.count())
}

func TestRefreshRetainsRefreshTokenWhenOmitted(t *testing.T) {
	f := setupTestFixture(t)
	f.client.RefreshTokens = &oauthmodel.AuthTokens{AccessToken: "at2", ExpiresIn: 3600}
	f.completeLogin(t)

	require.NoError(t, f.controller.Refresh(context.Background()))

	tokens, err := f.store.Tokens()
	require.NoError(t, err)
	require.Equal(t, "at2", tokens.AccessToken)
	require.Equal(t, "rt1", tokens.RefreshToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	f := setupTestFixture(t)

	err := f.controller.Refresh(context.Background())
	require.ErrorIs(t, err, session.ErrNoRefreshToken)
}

func TestRefreshSingleFlight(t *testing.T) {
	f := setupTestFixture(t)
	f.completeLogin(t)

	block := make(chan struct{})
	f.client.RefreshBlock = block

	results := make(chan error, 2)
	go func() { results <- f.controller.Refresh(context.Background()) }()

	// Wait until the first refresh is inside the API call, then join it.
	require.Eventually(t, func() bool { return f.client.Refreshes() == 1 }, time.Second, time.Millisecond)
	go func() { results <- f.controller.Refresh(context.Background()) }()

	close(block)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	require.Equal(t, 1, f.client.Refreshes())
}

func TestLogoutClearsSession(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	f.controller.On(events.TypeLogout, recorder.handler())
	f.completeLogin(t)

	require.NoError(t, f.controller.Logout(context.Background()))

	require.Equal(t, 1, f.client.RevokeCalls)
	require.Equal(t, 0, f.repo.Len())
	require.False(t, f.controller.IsAuthenticated())
	require.Equal(t, 1, recorder.count())
}

func TestLogoutClearsEvenWhenRevokeFails(t *testing.T) {
	f := setupTestFixture(t)
	f.client.RevokeErr = &api.ServerError{Code: "server_error", Status: 500}
	f.completeLogin(t)

	require.NoError(t, f.controller.Logout(context.Background()))
	require.Equal(t, 0, f.repo.Len())
	require.False(t, f.controller.IsAuthenticated())
}

func TestIsAuthenticatedHonoursSafetyMargin(t *testing.T) {
	f := setupTestFixture(t)
	f.completeLogin(t)
	require.True(t, f.controller.IsAuthenticated())

	// Tokens live 1h; within the 5m default margin they no longer count.
	f.now = f.now.Add(56 * time.Minute)
	require.False(t, f.controller.IsAuthenticated())
}

func TestStateSnapshot(t *testing.T) {
	f := setupTestFixture(t)

	state := f.controller.State()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.User)
	require.Nil(t, state.Tokens)

	f.completeLogin(t)
	state = f.controller.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, testUserID, state.User.ID)
	require.Equal(t, "at1", state.Tokens.AccessToken)
}

func TestTokensRefreshesWhenExpired(t *testing.T) {
	f := setupTestFixture(t)
	f.completeLogin(t)

	f.now = f.now.Add(2 * time.Hour)
	tokens, err := f.controller.Tokens(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at2", tokens.AccessToken)
	require.Equal(t, 1, f.client.Refreshes())
}

func TestTokensWithoutSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.controller.Tokens(context.Background())
	require.ErrorIs(t, err, session.ErrNoTokens)
}

func TestValidateToken(t *testing.T) {
	f := setupTestFixture(t)
	require.False(t, f.controller.ValidateToken(context.Background()))

	f.completeLogin(t)
	f.client.Active = true
	require.True(t, f.controller.ValidateToken(context.Background()))

	f.client.Active = false
	require.False(t, f.controller.ValidateToken(context.Background()))
}

func TestHasCallbackParams(t *testing.T) {
	f := setupTestFixture(t)

	require.True(t, f.controller.HasCallbackParams(testRedirectURI+"?code=abc&state=s"))
	require.True(t, f.controller.HasCallbackParams(testRedirectURI+"?error=access_denied"))
	require.False(t, f.controller.HasCallbackParams(testRedirectURI))
	require.False(t, f.controller.HasCallbackParams(testRedirectURI+"?foo=bar"))
}

func TestSchedulerRefreshesAtMargin(t *testing.T) {
	// Margin equals the token lifetime, so the renewal is due the moment the
	// session is established and the timer fires straight away.
	f := setupTestFixture(t, session.WithSafetyMargin(3600*time.Second))
	recorder := &eventRecorder{}
	f.controller.On(events.TypeTokenRefresh, recorder.handler())

	// The refreshed tokens outlive the margin so the re-armed timer stays idle.
	f.client.RefreshTokens.ExpiresIn = 7200

	f.completeLogin(t)

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, f.client.Refreshes())
}

func TestSchedulerSkipsPastDeadline(t *testing.T) {
	f := setupTestFixture(t, session.WithSafetyMargin(2*time.Hour))

	f.completeLogin(t)

	require.Never(t, func() bool { return f.client.Refreshes() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSchedulerFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t, session.WithSafetyMargin(3600*time.Second))
	recorder := &eventRecorder{}
	f.controller.On(events.TypeTokenExpired, recorder.handler())
	f.client.RefreshErr = &api.ServerError{Code: "invalid_grant", Description: "refresh token revoked", Status: 400}

	f.completeLogin(t)

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !f.controller.IsAuthenticated() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.repo.Len() == 0 }, time.Second, time.Millisecond)
}

func TestClearStorage(t *testing.T) {
	f := setupTestFixture(t)
	f.completeLogin(t)

	require.NoError(t, f.controller.ClearStorage())
	require.Equal(t, 0, f.repo.Len())
	require.Equal(t, 0, f.client.RevokeCalls)
}

func TestOffUnsubscribes(t *testing.T) {
	f := setupTestFixture(t)
	recorder := &eventRecorder{}
	handler := recorder.handler()
	f.controller.On(events.TypeLogin, handler)
	f.controller.Off(events.TypeLogin, handler)

	f.completeLogin(t)
	require.Zero(t, recorder.count())
}
