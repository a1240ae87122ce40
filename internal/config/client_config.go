package config

import "time"

// ClientConfig supplies the session controller's operational defaults.
type ClientConfig interface {
	GetSafetyMargin() time.Duration
	GetPendingAuthorizationTTL() time.Duration
	GetRequestTimeout() time.Duration
}

type Client struct{}

var _ ClientConfig = Client{}

// GetSafetyMargin is how long before computed expiry a token stops counting
// as valid and the proactive refresh fires.
func (Client) GetSafetyMargin() time.Duration {
	return 5 * time.Minute
}

// GetPendingAuthorizationTTL bounds how long an in-flight authorization may
// wait for its callback before it is treated as abandoned.
func (Client) GetPendingAuthorizationTTL() time.Duration {
	return 15 * time.Minute
}

// GetRequestTimeout bounds each network call to the authorization server.
func (Client) GetRequestTimeout() time.Duration {
	return 30 * time.Second
}
