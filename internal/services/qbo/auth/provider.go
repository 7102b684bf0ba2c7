// Package auth obtains OAuth 2.0 access for the QBO API.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/platform/timeouts"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// Intuit OAuth endpoints and scope.
const (
	AuthURL         = "https://appcenter.intuit.com/connect/oauth2"
	TokenURL        = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	AccountingScope = "com.intuit.quickbooks.accounting"
)

// Endpoint is the Intuit OAuth endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Provider authenticates and hands out API clients.
type Provider interface {
	// Authenticate is safe to call repeatedly.
	Authenticate(ctx context.Context) error
	Client() (upstream.API, error)
}

// Credentials identify the OAuth app and the connected company.
type Credentials struct {
	ClientID     string `env:"QBO_CLIENT_ID"`
	ClientSecret string `env:"QBO_CLIENT_SECRET"`
	RefreshToken string `env:"QBO_REFRESH_TOKEN"`
	RealmID      string `env:"QBO_REALM_ID"`
	Environment  string `env:"QBO_ENVIRONMENT" envDefault:"sandbox"`
	MinorVersion int    `env:"QBO_MINOR_VERSION" envDefault:"75"`
}

func (c Credentials) missing() []string {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"QBO_CLIENT_ID", c.ClientID},
		{"QBO_CLIENT_SECRET", c.ClientSecret},
		{"QBO_REALM_ID", c.RealmID},
		{"QBO_REFRESH_TOKEN", c.RefreshToken},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// Status describes the provider for health reporting.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	RealmID       string    `json:"realmId,omitempty"`
	Environment   string    `json:"environment"`
	TokenExpiry   time.Time `json:"tokenExpiry,omitzero"`
}

// OAuthProvider refreshes access tokens from a long-lived refresh token.
type OAuthProvider struct {
	creds      Credentials
	oauth      *oauth2.Config
	logger     *slog.Logger
	baseURL    string
	onRotate   func(refreshToken string)
	clientOpts []upstream.Option

	mu     sync.Mutex
	source *rotationSource
	client *upstream.Client
}

var _ Provider = (*OAuthProvider)(nil)

// Option configures an OAuthProvider.
type Option func(*OAuthProvider)

// WithEndpoint replaces the Intuit endpoint, for tests.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *OAuthProvider) {
		p.oauth.Endpoint = endpoint
	}
}

// WithBaseURL points API clients at another host, for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *OAuthProvider) {
		p.baseURL = baseURL
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *OAuthProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRotationHook is called with the new refresh token whenever Intuit
// rotates it. QBO refresh tokens rotate roughly daily; losing the new one
// means re-authorizing the app.
func WithRotationHook(fn func(refreshToken string)) Option {
	return func(p *OAuthProvider) {
		p.onRotate = fn
	}
}

// WithClientOptions are applied to the API client built on Authenticate.
func WithClientOptions(opts ...upstream.Option) Option {
	return func(p *OAuthProvider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewOAuthProvider returns an unauthenticated provider.
func NewOAuthProvider(creds Credentials, opts ...Option) *OAuthProvider {
	p := &OAuthProvider{
		creds: creds,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     Endpoint,
			Scopes:       []string{AccountingScope},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Authenticate obtains an access token. Later calls reuse the cached client.
func (p *OAuthProvider) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	if missing := p.creds.missing(); len(missing) > 0 {
		return apperrors.WithMetadata(apperrors.CodeAuthentication,
			"missing required configuration: "+strings.Join(missing, ", "),
			map[string]string{"missing": strings.Join(missing, ",")},
		)
	}

	refreshClient := &http.Client{
		Timeout:   timeouts.TokenRefresh,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, refreshClient)
	source := &rotationSource{
		base:         p.oauth.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: p.creds.RefreshToken}),
		refreshToken: p.creds.RefreshToken,
		logger:       p.logger,
		onRotate:     p.onRotate,
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := source.Token(); err != nil {
		p.logger.Error("qbo token refresh failed", "error", err)
		return apperrors.Wrap(apperrors.CodeAuthentication,
			"failed to refresh OAuth token; the app may need to be re-authorized", err)
	}

	client, err := upstream.NewClient(oauth2.NewClient(refreshCtx, oauth2.ReuseTokenSource(nil, source)), upstream.Config{
		Environment:  p.creds.Environment,
		RealmID:      p.creds.RealmID,
		MinorVersion: p.creds.MinorVersion,
		BaseURL:      p.baseURL,
	}, append([]upstream.Option{upstream.WithLogger(p.logger)}, p.clientOpts...)...)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeAuthentication, "build qbo client", err)
	}
	p.source = source
	p.client = client
	p.logger.Info("qbo authenticated", "realm_id", p.creds.RealmID, "environment", p.creds.Environment)
	return nil
}

// Client returns the authenticated API client.
func (p *OAuthProvider) Client() (upstream.API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, apperrors.New(apperrors.CodeAuthentication, "not authenticated with QuickBooks")
	}
	return p.client, nil
}

// Status reports whether the provider holds a client.
func (p *OAuthProvider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := Status{
		Authenticated: p.client != nil,
		RealmID:       p.creds.RealmID,
		Environment:   p.creds.Environment,
	}
	if p.source != nil {
		status.TokenExpiry = p.source.expiry()
	}
	return status
}

// rotationSource reports refresh token rotation.
type rotationSource struct {
	base     oauth2.TokenSource
	logger   *slog.Logger
	onRotate func(string)

	mu           sync.Mutex
	refreshToken string
	lastExpiry   time.Time
}

func (s *rotationSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	rotated := token.RefreshToken != "" && token.RefreshToken != s.refreshToken
	if rotated {
		s.refreshToken = token.RefreshToken
	}
	s.lastExpiry = token.Expiry
	s.mu.Unlock()

	if rotated {
		s.logger.Info("qbo refresh token was rotated")
		if s.onRotate != nil {
			s.onRotate(token.RefreshToken)
		}
	}
	return token, nil
}

func (s *rotationSource) expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExpiry
}
