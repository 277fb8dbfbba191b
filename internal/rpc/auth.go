package rpc

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// NewHTTPClient returns an http.Client for RPC traffic. A non-empty token
// is sent as a bearer credential on every request, which is how hosted RPC
// providers authenticate. Timeout bounds a single round trip.
func NewHTTPClient(token string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}

	if token == "" {
		return client
	}

	client.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}),
		Base: http.DefaultTransport,
	}

	return client
}
