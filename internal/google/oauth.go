package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/prompt"
)

// AuthClient runs the authorization-code bootstrap and the refresh-token
// renewal against the token endpoint and persists every credential it
// produces.
type AuthClient struct {
	conf       *oauth2.Config
	store      CredentialStore
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// AuthOption configures an AuthClient.
type AuthOption func(*AuthClient)

// WithMetrics records OAuth metrics on m.
func WithMetrics(m *instrumentation.Metrics) AuthOption {
	return func(a *AuthClient) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AuthOption {
	return func(a *AuthClient) { a.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AuthOption {
	return func(a *AuthClient) { a.now = now }
}

// NewAuthClient creates an AuthClient for the given OAuth registration.
// httpClient carries the timeout for token endpoint calls.
func NewAuthClient(cfg config.OAuthConfig, store CredentialStore, httpClient *http.Client, opts ...AuthOption) *AuthClient {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	a := &AuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
		},
		store:      store,
		httpClient: httpClient,
		metrics:    &instrumentation.Metrics{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithService(a.logger, "oauth")
	return a
}

// AuthURL returns the consent URL the user must open. Offline access is
// requested so the response carries a refresh token.
func (a *AuthClient) AuthURL() string {
	return a.conf.AuthCodeURL("invoicer", oauth2.AccessTypeOffline)
}

// Bootstrap presents the consent URL, asks for the authorization code and
// exchanges it.
func (a *AuthClient) Bootstrap(ctx context.Context, p prompt.Prompter) (Credential, error) {
	question := fmt.Sprintf("Visit the following URL to authorize invoicer:\n\n%s\n\nEnter the authorization code: ", a.AuthURL())
	code, err := p.Ask(ctx, question)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Credential{}, errors.New("authorization code must not be empty")
	}
	return a.Exchange(ctx, code)
}

// Exchange trades an authorization code for a credential. The granted scope
// list must have exactly as many entries as were requested; otherwise the
// credential is discarded with apperr.ErrScopeMismatch and nothing is saved.
func (a *AuthClient) Exchange(ctx context.Context, code string) (Credential, error) {
	const op = "oauth.exchange"

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "oauth", instrumentation.OperationExchange)
	start := a.now()

	tok, err := a.conf.Exchange(a.clientContext(ctx), code)
	if err != nil {
		err = classifyTokenError(op, err)
		a.finishAuth(ctx, span, instrumentation.OAuthResultFailure, start, err)
		return Credential{}, err
	}

	cred := fromToken(tok, Credential{}, a.now())
	if granted := cred.Scopes(); len(granted) != len(a.conf.Scopes) {
		err := apperr.New(apperr.KindScopeMismatch, op, fmt.Sprintf(
			"granted %d scopes, required %d (missing: %s)",
			len(granted), len(a.conf.Scopes), strings.Join(missingScopes(granted, a.conf.Scopes), " "),
		))
		a.finishAuth(ctx, span, instrumentation.OAuthResultScopeMismatch, start, err)
		return Credential{}, err
	}

	if _, err := a.store.Save(cred); err != nil {
		a.finishAuth(ctx, span, instrumentation.OAuthResultFailure, start, err)
		return Credential{}, err
	}

	a.finishAuth(ctx, span, instrumentation.OAuthResultSuccess, start, nil)
	a.logger.Info("credential bootstrapped",
		slog.Int("scopes", len(cred.Scopes())),
		slog.String("access_token", logging.SanitizeToken(cred.AccessToken)),
	)
	return cred, nil
}

// Refresh renews cred with its refresh token and persists the result. A
// response without refresh_token (the usual case) keeps the stored one.
func (a *AuthClient) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	const op = "oauth.refresh"

	if cred.RefreshToken == "" {
		a.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return Credential{}, apperr.New(apperr.KindNotFound, op, "credential has no refresh_token; run `invoicer auth`")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "oauth", instrumentation.OperationRefresh)
	start := a.now()

	// An expiry in the past forces the token source to hit the token endpoint.
	src := a.conf.TokenSource(a.clientContext(ctx), &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    cred.TokenType,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})

	tok, err := src.Token()
	if err != nil {
		err = classifyTokenError(op, err)
		a.finishRefresh(ctx, span, start, err)
		return Credential{}, err
	}

	refreshed := fromToken(tok, cred, a.now())
	if _, err := a.store.Save(refreshed); err != nil {
		a.finishRefresh(ctx, span, start, err)
		return Credential{}, err
	}

	a.finishRefresh(ctx, span, start, nil)
	a.logger.Debug("credential refreshed",
		slog.String("access_token", logging.SanitizeToken(refreshed.AccessToken)),
		slog.Time("expiry", refreshed.Expiry),
	)
	return refreshed, nil
}

// LoadOrBootstrap returns the stored credential, running the bootstrap flow
// when none exists. Other load failures (such as a corrupt file) are returned.
func LoadOrBootstrap(ctx context.Context, store CredentialStore, auth *AuthClient, p prompt.Prompter) (Credential, error) {
	cred, err := store.Load()
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return Credential{}, err
	}
	return auth.Bootstrap(ctx, p)
}

func (a *AuthClient) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *AuthClient) finishAuth(ctx context.Context, span trace.Span, result string, start time.Time, err error) {
	a.metrics.RecordOAuthAuth(ctx, result)
	a.metrics.RecordGoogleAPIOperation(ctx, "oauth", instrumentation.OperationExchange, instrumentation.StatusFor(err), a.now().Sub(start))
	instrumentation.EndSpan(span, err)
	if err != nil {
		a.logger.Warn("authorization failed", slog.String("result", result), logging.Err(err))
	}
}

func (a *AuthClient) finishRefresh(ctx context.Context, span trace.Span, start time.Time, err error) {
	result := instrumentation.OAuthResultSuccess
	if err != nil {
		result = instrumentation.OAuthResultFailure
	}
	a.metrics.RecordOAuthTokenRefresh(ctx, result)
	a.metrics.RecordGoogleAPIOperation(ctx, "oauth", instrumentation.OperationRefresh, instrumentation.StatusFor(err), a.now().Sub(start))
	instrumentation.EndSpan(span, err)
	if err != nil {
		a.logger.Warn("token refresh failed", logging.Err(err))
	}
}

// classifyTokenError maps token endpoint failures onto the error taxonomy.
func classifyTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		body := string(rerr.Body)
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		return &apperr.Error{Kind: apperr.KindAuthServer, Op: op, Status: status, Body: body, Err: err}
	}
	if apperr.IsTransport(err) {
		return apperr.Wrap(apperr.KindTransport, op, err)
	}
	return apperr.Wrap(apperr.KindDecode, op, err)
}
