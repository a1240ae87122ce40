package api

import "encoding/json"

// Some deployments wrap every response body as {"data": {...}} while others
// return the payload flat. unwrapEnvelope normalises both shapes to the bare
// payload, with a documented precedence rule: when a "data" object is
// present it wins, regardless of any sibling fields.
func unwrapEnvelope(raw []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return raw
	}

	// Only treat "data" as an envelope when it is an object; a flat
	// payload may legitimately carry a scalar field of that name.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Data, &probe); err != nil {
		return raw
	}
	return envelope.Data
}

// tokenWire is the token endpoint response shape (RFC 6749 §5.1).
type tokenWire struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// introspectionWire is the introspection response shape (RFC 7662 §2.2).
type introspectionWire struct {
	Active bool `json:"active"`
}
