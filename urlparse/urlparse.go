// Package urlparse extracts callback parameters from redirect URLs.
package urlparse

import (
	"net/url"
	"strings"
)

// Params returns the query-string and fragment key/value pairs of rawURL as
// a flat map. Fragment entries override query entries of the same key, which
// supports both the code flow's query delivery and the implicit flow's
// fragment delivery. Params never fails: on unparseable input it degrades to
// a best-effort manual split. Values are percent-decoded exactly once.
func Params(rawURL string) map[string]string {
	params := make(map[string]string)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		manualParse(rawURL, params)
		return params
	}

	mergeQuery(parsed.RawQuery, params)
	// EscapedFragment keeps the fragment percent-encoded; url.ParseQuery
	// below performs the single decode.
	mergeQuery(parsed.EscapedFragment(), params)
	return params
}

// mergeQuery decodes an encoded query string into params, keeping whatever
// pairs parsed when the input is partially malformed.
func mergeQuery(encoded string, params map[string]string) {
	if encoded == "" {
		return
	}
	values, _ := url.ParseQuery(encoded)
	for key, entries := range values {
		if len(entries) == 0 {
			params[key] = ""
			continue
		}
		params[key] = entries[0]
	}
}

// manualParse is the fallback for URLs url.Parse rejects: split on "?", "&"
// and "=", decoding each side once and leaving it raw when even that fails.
func manualParse(rawURL string, params map[string]string) {
	start := strings.Index(rawURL, "?")
	if start < 0 {
		return
	}
	query := rawURL[start+1:]
	if end := strings.Index(query, "#"); end >= 0 {
		query = query[:end]
	}

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		params[decodeOnce(key)] = decodeOnce(value)
	}
}

func decodeOnce(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
