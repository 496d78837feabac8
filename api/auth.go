package api

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"

	// clockSkew is tolerated on exp, nbf and iat.
	clockSkew = time.Minute
)

// Auth validates bearer JWTs and returns their subject as the actor.
type Auth struct {
	audience string
	issuer   string
	parser   *jwt.Parser
	keys     jwt.Keyfunc
}

// NewAuth creates an Auth verifying RS256 tokens against jwks, or HS256
// tokens when LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE=1 is set.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) (*Auth, error) {
	ttl, err := parseCacheTTL()
	if err != nil {
		return nil, err
	}
	secret, err := sharedSecret()
	if err != nil {
		return nil, err
	}

	a := &Auth{audience: audience, issuer: issuer}
	switch {
	case secret != nil:
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		a.keys = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return secret, nil
		}
	case jwks != nil:
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		a.keys = (&jwksCache{jwks: jwks, ttl: ttl}).key
	default:
		return nil, errors.New("jwks is required outside test mode")
	}
	return a, nil
}

// sharedSecret returns the HS256 secret of the local or test mode, or nil
// when tokens are verified against the JWKS.
func sharedSecret() ([]byte, error) {
	if mode := strings.ToLower(os.Getenv(envLocalAuthMode)); mode != "" {
		if mode != "hs256" {
			return nil, fmt.Errorf("unsupported %s value %q", envLocalAuthMode, mode)
		}
		secret := os.Getenv(envLocalAuthSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=hs256", envLocalAuthSecret, envLocalAuthMode)
		}
		return []byte(secret), nil
	}
	if os.Getenv(envAuth0TestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=1", envTestJWTSecret, envAuth0TestMode)
		}
		return []byte(secret), nil
	}
	return nil, nil
}

// AuthConfigured reports whether the environment asks for authentication.
func AuthConfigured() bool {
	return os.Getenv(envLocalAuthMode) != "" || os.Getenv(envAuth0TestMode) == "1" ||
		(os.Getenv("AUTH0_DOMAIN") != "" && os.Getenv("AUTH0_AUDIENCE") != "")
}

func parseCacheTTL() (time.Duration, error) {
	raw := os.Getenv(envJWKSCacheTTL)
	if raw == "" {
		return defaultJWKSCacheTTL, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("invalid %s %q", envJWKSCacheTTL, raw)
	}
	return ttl, nil
}

// ActorFromAuthHeader extracts the acting user from the Authorization header.
func (a *Auth) ActorFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.ActorFromBearer(token)
}

// ActorFromBearer validates a compact JWT and returns its sub claim.
func (a *Auth) ActorFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.keys)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if err := a.checkClaims(claims); err != nil {
		return "", err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) checkClaims(claims jwt.MapClaims) error {
	now := time.Now().Add(clockSkew).Unix()
	checks := []struct {
		ok  bool
		msg string
	}{
		{claims.VerifyExpiresAt(now, true), "token expired"},
		{claims.VerifyNotBefore(now, false), "token not valid yet"},
		{claims.VerifyIssuedAt(now, false), "token used before issued"},
		{a.audience == "" || claims.VerifyAudience(a.audience, false), "invalid audience"},
		{a.issuer == "" || claims.VerifyIssuer(a.issuer, false), "invalid issuer"},
	}
	for _, c := range checks {
		if !c.ok {
			return errors.New(c.msg)
		}
	}
	return nil
}

// jwksCache keeps resolved signing keys by kid for ttl.
type jwksCache struct {
	jwks  *keyfunc.JWKS
	ttl   time.Duration
	cache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func (c *jwksCache) key(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if v, ok := c.cache.Load(kid); ok {
			entry := v.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			c.cache.Delete(kid)
		}
	}
	key, err := c.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		c.cache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(c.ttl)})
	}
	return key, nil
}
