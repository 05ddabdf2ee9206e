package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"docgraph/pkg/apperr"
	"docgraph/pkg/logger"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	defaultLeeway       = 30 * time.Second
	defaultJWKSRefresh  = 10 * time.Minute
	defaultEmailClaim   = "email"
	jwksFetchTimeout    = 5 * time.Second
	unknownKIDWaitLimit = time.Second
)

// ErrKeysUnavailable means no signing key could be loaded, so tokens cannot
// be judged either way.
var ErrKeysUnavailable = errors.New("signing keys unavailable")

// VerifierConfig configures RS256 access-token verification against a
// remote key set.
type VerifierConfig struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	EmailClaim string
	Leeway     time.Duration
	// RequestsPerMinute caps how often an unknown key id may trigger a
	// key set fetch. Zero means unlimited.
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Verifier validates bearer tokens and extracts the caller's email claim.
type Verifier struct {
	jwks       keyfunc.Keyfunc
	issuer     string
	audience   string
	emailClaim string
	leeway     time.Duration
}

// NewVerifier fetches the key set once and keeps it refreshed until ctx is
// done. A failed first fetch is logged and retried on demand.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires a jwks url")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("token verifier requires an audience")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: jwksFetchTimeout}
	}
	remote, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		Ctx:                       ctx,
		HTTPExpectedStatus:        http.StatusOK,
		HTTPMethod:                http.MethodGet,
		HTTPTimeout:               jwksFetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Sugar.Warnf("Failed to refresh JWKS from %s: %v", jwksURL, err)
		},
		RefreshInterval: defaultJWKSRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	limiter := rate.NewLimiter(limit, 1)
	// The initial fetch above spends the first token.
	limiter.Allow()

	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{jwksURL: remote},
		RateLimitWaitMax:  unknownKIDWaitLimit,
		RefreshUnknownKID: limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks client: %w", err)
	}
	jwks, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: client})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}

	v := &Verifier{
		jwks:       jwks,
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		emailClaim: strings.TrimSpace(cfg.EmailClaim),
		leeway:     cfg.Leeway,
	}
	if v.emailClaim == "" {
		v.emailClaim = defaultEmailClaim
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	return v, nil
}

// VerifyEmail validates the token and returns its email claim. Rejections
// match apperr.ErrUnauthorized; ErrKeysUnavailable means the key set could
// not be loaded at all.
func (v *Verifier) VerifyEmail(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.key, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) && v.keyCount() == 0 {
			return "", fmt.Errorf("%w: %w", ErrKeysUnavailable, err)
		}
		return "", apperr.Kind(apperr.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", apperr.Kind(apperr.ErrUnauthorized, errors.New("invalid token"))
	}

	email, _ := claims[v.emailClaim].(string)
	email = strings.TrimSpace(email)
	if email == "" {
		return "", apperr.Kind(apperr.ErrUnauthorized, fmt.Errorf("token claim %q missing", v.emailClaim))
	}
	return email, nil
}

// key resolves the signing key by kid. Single-key sets may sign without one.
func (v *Verifier) key(token *jwt.Token) (any, error) {
	if kid, _ := token.Header["kid"].(string); strings.TrimSpace(kid) != "" {
		return v.jwks.Keyfunc(token)
	}
	all, err := v.jwks.Storage().KeyReadAll(context.Background())
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, errors.New("token has no key id")
	}
	return all[0].Key(), nil
}

func (v *Verifier) keyCount() int {
	all, err := v.jwks.Storage().KeyReadAll(context.Background())
	if err != nil {
		return 0
	}
	return len(all)
}
