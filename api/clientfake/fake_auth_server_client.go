package clientfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

var _ api.Client = (*FakeAuthServerClient)(nil)

// ExchangeCall records the arguments of one ExchangeCode invocation.
type ExchangeCall struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
	ClientSecret string
}

// FakeAuthServerClient is a configurable api.Client for tests. Set the
// response fields before use; zero values yield empty responses, not errors.
type FakeAuthServerClient struct {
	lock sync.Mutex

	// Responses
	Tokens        *oauthmodel.AuthTokens // returned by ExchangeCode
	RefreshTokens *oauthmodel.AuthTokens // returned by Refresh
	User          *oauthmodel.User
	Active        bool

	// Errors returned by the matching method when non-nil
	ExchangeErr  error
	RefreshErr   error
	RevokeErr    error
	FetchUserErr error
	ValidateErr  error

	// RefreshBlock, when non-nil, makes Refresh wait for a receive before
	// returning, so tests can hold a refresh in flight.
	RefreshBlock chan struct{}

	// Recorded calls
	ExchangeCalls []ExchangeCall
	RefreshCalls  int
	RevokeCalls   int
	UserCalls     int
}

func NewFakeAuthServerClient() *FakeAuthServerClient {
	return &FakeAuthServerClient{}
}

func (fc *FakeAuthServerClient) ExchangeCode(_ context.Context, code, clientID, redirectURI, codeVerifier, clientSecret string) (*oauthmodel.AuthTokens, error) {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	fc.ExchangeCalls = append(fc.ExchangeCalls, ExchangeCall{
		Code:         code,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		CodeVerifier: codeVerifier,
		ClientSecret: clientSecret,
	})
	if fc.ExchangeErr != nil {
		return nil, fc.ExchangeErr
	}
	return cloneTokens(fc.Tokens), nil
}

func (fc *FakeAuthServerClient) Refresh(_ context.Context, _, _, _ string) (*oauthmodel.AuthTokens, error) {
	fc.lock.Lock()
	fc.RefreshCalls++
	block := fc.RefreshBlock
	fc.lock.Unlock()

	if block != nil {
		<-block
	}

	fc.lock.Lock()
	defer fc.lock.Unlock()
	if fc.RefreshErr != nil {
		return nil, fc.RefreshErr
	}
	return cloneTokens(fc.RefreshTokens), nil
}

func (fc *FakeAuthServerClient) Revoke(_ context.Context, _ string) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	fc.RevokeCalls++
	return fc.RevokeErr
}

func (fc *FakeAuthServerClient) FetchUser(_ context.Context, _ string) (*oauthmodel.User, error) {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	fc.UserCalls++
	if fc.FetchUserErr != nil {
		return nil, fc.FetchUserErr
	}
	if fc.User == nil {
		return &oauthmodel.User{}, nil
	}
	user := *fc.User
	return &user, nil
}

func (fc *FakeAuthServerClient) Validate(_ context.Context, _ string) (bool, error) {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	if fc.ValidateErr != nil {
		return false, fc.ValidateErr
	}
	return fc.Active, nil
}

// Refreshes returns the number of Refresh calls recorded so far.
func (fc *FakeAuthServerClient) Refreshes() int {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.RefreshCalls
}

// cloneTokens copies so a controller mutating IssuedAt never touches the
// fake's canned response.
func cloneTokens(t *oauthmodel.AuthTokens) *oauthmodel.AuthTokens {
	if t == nil {
		return &oauthmodel.AuthTokens{}
	}
	clone := *t
	return &clone
}
