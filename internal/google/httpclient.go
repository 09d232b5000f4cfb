package google

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// NewHTTPClient returns the base client shared by every Google call. The
// client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func NewHTTPClient(timeout time.Duration, userAgent string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	var rt http.RoundTripper = transport
	if userAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: userAgent}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}

// AuthorizedClient wraps base so every request carries token as a bearer
// credential. The token is never refreshed by the returned client.
func AuthorizedClient(ctx context.Context, base *http.Client, token string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = base.Timeout
	return client
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
