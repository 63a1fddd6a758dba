package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
)

// KeyInput is the part of a request that identifies an interchangeable
// response. Two inputs with equal keys may share a cache entry.
type KeyInput struct {
	URL     string
	Method  string
	Payload any
	Headers map[string]string
}

type canonicalKey struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Payload any               `json:"payload"`
	Headers map[string]string `json:"headers"`
}

// Key returns a stable hex SHA-256 of the canonicalized input. Map
// iteration order, header name case and query parameter order do not
// affect the result.
func Key(in KeyInput) (string, error) {
	payload, err := canonicalPayload(in.Payload)
	if err != nil {
		return "", err
	}

	headers := make(map[string]string, len(in.Headers))
	for k, v := range in.Headers {
		headers[strings.ToLower(strings.TrimSpace(k))] = v
	}

	b, err := json.Marshal(canonicalKey{
		URL:     canonicalURL(in.URL),
		Method:  strings.ToUpper(strings.TrimSpace(in.Method)),
		Payload: payload,
		Headers: headers,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalPayload round-trips through JSON so structs and maps with the
// same content produce the same encoding (encoding/json sorts map keys).
// Numbers are kept as json.Number so large integers stay distinct.
func canonicalPayload(p any) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
