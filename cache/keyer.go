package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Key returns the request identity used to store and look up responses.
// Format: "<METHOD> <url-without-fragment>"
//
// Only GET requests have an identity; other methods return ErrUnsupportedMethod.
func Key(req Request) (string, error) {
	if !req.IsGet() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", ErrInvalidKey
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	// Fragments never reach the network and do not affect identity.
	u.Fragment = ""
	u.RawFragment = ""

	key := http.MethodGet + " " + u.String()
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// RequestFromKey rebuilds the request identity encoded by Key.
func RequestFromKey(key string) Request {
	method, rawURL, ok := strings.Cut(key, " ")
	if !ok {
		return NewRequest(key)
	}
	return Request{Method: method, URL: rawURL}
}
