package api

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// Endpoints holds the resolved authorization server endpoint URLs.
type Endpoints struct {
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	RevocationURL    string
	IntrospectionURL string
}

// Discover resolves the server's endpoints from its OIDC discovery document
// at <issuer>/.well-known/openid-configuration. Servers that do not publish
// one can be used with the default paths instead.
func Discover(ctx context.Context, issuer string) (*Endpoints, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[Discover] oidc.NewProvider")
	}

	// revocation_endpoint and introspection_endpoint are not part of the
	// core discovery claims go-oidc exposes.
	var extra struct {
		RevocationEndpoint    string `json:"revocation_endpoint"`
		IntrospectionEndpoint string `json:"introspection_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, errors.Wrap(err, "[Discover] provider.Claims")
	}

	endpoint := provider.Endpoint()
	return &Endpoints{
		AuthorizationURL: endpoint.AuthURL,
		TokenURL:         endpoint.TokenURL,
		UserInfoURL:      provider.UserInfoEndpoint(),
		RevocationURL:    extra.RevocationEndpoint,
		IntrospectionURL: extra.IntrospectionEndpoint,
	}, nil
}
