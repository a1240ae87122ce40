package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Default endpoint paths relative to the auth server base URL. Override with
// WithEndpoints when the server publishes different ones (see Discover).
const (
	DefaultTokenPath         = "/oauth/token"
	DefaultUserInfoPath      = "/oauth/userinfo"
	DefaultRevocationPath    = "/oauth/revoke"
	DefaultIntrospectionPath = "/oauth/introspect"
)

const maxResponseBytes = 1 << 20 // 1 MiB, plenty for any token or profile body

// HTTPClient implements Client over JSON HTTP.
type HTTPClient struct {
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// HTTPClientOption modifies an HTTPClient during construction.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient substitutes the underlying *http.Client, e.g. for custom
// TLS settings or test transports.
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithEndpoints overrides the default endpoint URLs, typically with the
// result of Discover. Empty fields keep their defaults.
func WithEndpoints(endpoints Endpoints) HTTPClientOption {
	return func(c *HTTPClient) {
		if endpoints.TokenURL != "" {
			c.endpoints.TokenURL = endpoints.TokenURL
		}
		if endpoints.UserInfoURL != "" {
			c.endpoints.UserInfoURL = endpoints.UserInfoURL
		}
		if endpoints.RevocationURL != "" {
			c.endpoints.RevocationURL = endpoints.RevocationURL
		}
		if endpoints.IntrospectionURL != "" {
			c.endpoints.IntrospectionURL = endpoints.IntrospectionURL
		}
	}
}

// NewHTTPClient creates a Client for the authorization server at baseURL.
func NewHTTPClient(baseURL string, options ...HTTPClientOption) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[NewHTTPClient] baseURL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := config.Client{}
	client := &HTTPClient{
		baseURL: baseURL,
		endpoints: Endpoints{
			TokenURL:         baseURL + DefaultTokenPath,
			UserInfoURL:      baseURL + DefaultUserInfoPath,
			RevocationURL:    baseURL + DefaultRevocationPath,
			IntrospectionURL: baseURL + DefaultIntrospectionPath,
		},
		httpClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
	}
	for _, opt := range options {
		opt(client)
	}
	return client, nil
}

// ExchangeCode redeems an authorization code for tokens.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientSecret string) (*oauthmodel.AuthTokens, error) {
	request := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"client_id":    clientID,
		"redirect_uri": redirectURI,
	}
	if codeVerifier != "" {
		request["code_verifier"] = codeVerifier
	}
	if clientSecret != "" {
		request["client_secret"] = clientSecret
	}

	body, err := c.postJSON(ctx, c.endpoints.TokenURL, request, "", "[ExchangeCode]")
	if err != nil {
		return nil, err
	}
	return decodeTokens(body, "[ExchangeCode]")
}

// Refresh obtains a new token set from a refresh token.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*oauthmodel.AuthTokens, error) {
	request := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     clientID,
	}
	if clientSecret != "" {
		request["client_secret"] = clientSecret
	}

	body, err := c.postJSON(ctx, c.endpoints.TokenURL, request, "", "[Refresh]")
	if err != nil {
		return nil, err
	}
	return decodeTokens(body, "[Refresh]")
}

// Revoke invalidates an access token server-side.
func (c *HTTPClient) Revoke(ctx context.Context, accessToken string) error {
	_, err := c.postJSON(ctx, c.endpoints.RevocationURL, map[string]string{"token": accessToken}, accessToken, "[Revoke]")
	return err
}

// FetchUser retrieves the profile for the token's subject.
func (c *HTTPClient) FetchUser(ctx context.Context, accessToken string) (*oauthmodel.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[FetchUser] http.NewRequestWithContext")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, "[FetchUser]")
	if err != nil {
		return nil, err
	}

	var user oauthmodel.User
	if err := json.Unmarshal(unwrapEnvelope(body), &user); err != nil {
		return nil, errors.Wrap(err, "[FetchUser] json.Unmarshal")
	}
	return &user, nil
}

// Validate introspects an access token and reports whether it is active.
func (c *HTTPClient) Validate(ctx context.Context, accessToken string) (bool, error) {
	body, err := c.postJSON(ctx, c.endpoints.IntrospectionURL, map[string]string{"token": accessToken}, accessToken, "[Validate]")
	if err != nil {
		return false, err
	}

	var result introspectionWire
	if err := json.Unmarshal(unwrapEnvelope(body), &result); err != nil {
		return false, errors.Wrap(err, "[Validate] json.Unmarshal")
	}
	return result.Active, nil
}

func decodeTokens(body []byte, op string) (*oauthmodel.AuthTokens, error) {
	var wire tokenWire
	if err := json.Unmarshal(unwrapEnvelope(body), &wire); err != nil {
		return nil, errors.Wrap(err, op+" json.Unmarshal")
	}
	if wire.AccessToken == "" {
		return nil, errors.New(op + " response carries no access token")
	}
	return &oauthmodel.AuthTokens{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    wire.TokenType,
		ExpiresIn:    wire.ExpiresIn,
		Scope:        wire.Scope,
	}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, payload map[string]string, bearer, op string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, op+" json.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, op+" http.NewRequestWithContext")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, op)
}

func (c *HTTPClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrNetworkFailure, "%s %s: %v", op, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(ErrNetworkFailure, "%s read body: %v", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := &ServerError{Status: resp.StatusCode}
		if err := json.Unmarshal(unwrapEnvelope(body), serverErr); err != nil || serverErr.Code == "" {
			serverErr.Code = http.StatusText(resp.StatusCode)
		}
		log.Debug().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Str("error", serverErr.Code).
			Msg("auth server rejected request")
		return nil, errors.Wrap(serverErr, op)
	}
	return body, nil
}
