// Package auth issues and verifies the HMAC-signed bearer tokens that
// authenticate gateway calls.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const errorDomain = "auth"

// DefaultTokenExpiry is applied when the configured expiry is zero.
const DefaultTokenExpiry = time.Hour

// DefaultIssuer is applied when no issuer is configured.
const DefaultIssuer = "mcp-guard"

// Config holds the authenticator settings.
type Config struct {
	// SigningSecret is the HMAC key. Required.
	SigningSecret string
	// Issuer is stamped into and checked against the iss claim
	Issuer string
	// TokenExpiry is the lifetime of issued tokens
	TokenExpiry time.Duration
}

// Authenticator issues, verifies, decodes, and refreshes tokens. It
// is immutable after construction and safe for unsynchronized
// concurrent use.
type Authenticator struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an authenticator. The signing secret is required; there
// is no usable default for it.
func New(cfg Config, opts ...Option) (*Authenticator, error) {
	if cfg.SigningSecret == "" {
		return nil, domainerrors.New(domainerrors.CodeConfigurationInvalid, errorDomain, "signing secret must not be empty", nil)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	a := &Authenticator{
		secret: []byte(cfg.SigningSecret),
		issuer: cfg.Issuer,
		expiry: cfg.TokenExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issuer returns the configured issuer.
func (a *Authenticator) Issuer() string {
	return a.issuer
}

// TokenExpiry returns the configured token lifetime.
func (a *Authenticator) TokenExpiry() time.Duration {
	return a.expiry
}

// IssueToken creates a signed token for the user and session. An
// empty scope defaults to the standard read and write grants.
func (a *Authenticator) IssueToken(userID, sessionID string, scope []string) (string, error) {
	if len(scope) == 0 {
		scope = security.DefaultScope
	}
	return a.issue(userID, sessionID, scope)
}

// VerifyToken checks a token and returns its payload. Checks run in a
// fixed order so the reported failure is deterministic: decoding and
// signature first, then issuer, then expiry, then payload shape.
func (a *Authenticator) VerifyToken(tokenString string) (*security.TokenPayload, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.Parse(tokenString, a.keyFunc)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeTokenPayloadShape, errorDomain, "token carries no claim set", nil)
	}

	if issuer, _ := claims["iss"].(string); issuer != a.issuer {
		return nil, domainerrors.New(domainerrors.CodeTokenWrongIssuer, errorDomain,
			fmt.Sprintf("token issuer %q does not match %q", issuer, a.issuer), nil)
	}

	if exp, ok := numericClaim(claims, "exp"); ok && a.now().Unix() >= exp {
		return nil, domainerrors.New(domainerrors.CodeTokenExpired, errorDomain, "token has expired", nil)
	}

	return payloadFromClaims(claims)
}

// DecodeToken extracts the payload without verifying the signature or
// any claim. Use it for inspection only, never for authentication.
func (a *Authenticator) DecodeToken(tokenString string) (*security.TokenPayload, error) {
	return Decode(tokenString)
}

// Decode reads a token's claims without verifying anything. It needs
// no key material; a decodable token proves nothing about its origin.
func Decode(tokenString string) (*security.TokenPayload, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeTokenMalformed, errorDomain, "token is not decodable", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeTokenMalformed, errorDomain, "token carries no claim set", nil)
	}
	return loosePayload(claims), nil
}

// RefreshToken verifies a token and issues a replacement with fresh
// timestamps. The user, session, and scope carry over unchanged; a
// token that fails any verification check cannot be refreshed.
func (a *Authenticator) RefreshToken(tokenString string) (string, error) {
	payload, err := a.VerifyToken(tokenString)
	if err != nil {
		return "", err
	}
	return a.issue(payload.UserID, payload.SessionID, payload.Scope)
}

func (a *Authenticator) issue(userID, sessionID string, scope []string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"userId":    userID,
		"sessionId": sessionID,
		"scope":     scope,
		"iat":       now.Unix(),
		"exp":       now.Add(a.expiry).Unix(),
		"iss":       a.issuer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", domainerrors.New(domainerrors.CodeInternalError, errorDomain, "failed to sign token", err)
	}
	return signed, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.secret, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domainerrors.New(domainerrors.CodeTokenBadSignature, errorDomain, "token signature does not verify", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return domainerrors.New(domainerrors.CodeTokenBadSignature, errorDomain, "token cannot be verified", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domainerrors.New(domainerrors.CodeTokenMalformed, errorDomain, "token is not a valid JWT", err)
	default:
		return domainerrors.New(domainerrors.CodeTokenMalformed, errorDomain, "token is not a valid JWT", err)
	}
}

// payloadFromClaims enforces the claim shape: userId and sessionId
// must be non-empty strings, scope must be a list of strings, and the
// timestamps must be numeric.
func payloadFromClaims(claims jwt.MapClaims) (*security.TokenPayload, error) {
	shapeErr := func(detail string) error {
		return domainerrors.New(domainerrors.CodeTokenPayloadShape, errorDomain, detail, nil)
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		return nil, shapeErr("claim userId is missing or empty")
	}
	sessionID, _ := claims["sessionId"].(string)
	if sessionID == "" {
		return nil, shapeErr("claim sessionId is missing or empty")
	}

	rawScope, ok := claims["scope"].([]interface{})
	if !ok {
		return nil, shapeErr("claim scope is missing or not a list")
	}
	scope := make([]string, 0, len(rawScope))
	for _, entry := range rawScope {
		s, ok := entry.(string)
		if !ok {
			return nil, shapeErr("claim scope contains a non-string entry")
		}
		scope = append(scope, s)
	}

	iat, ok := numericClaim(claims, "iat")
	if !ok {
		return nil, shapeErr("claim iat is missing or not numeric")
	}
	exp, ok := numericClaim(claims, "exp")
	if !ok {
		return nil, shapeErr("claim exp is missing or not numeric")
	}

	issuer, _ := claims["iss"].(string)
	return &security.TokenPayload{
		UserID:    userID,
		SessionID: sessionID,
		Scope:     scope,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    issuer,
	}, nil
}

// loosePayload extracts whatever fields decode cleanly, for
// inspection of tokens that may not satisfy the full claim shape.
func loosePayload(claims jwt.MapClaims) *security.TokenPayload {
	payload := &security.TokenPayload{}
	payload.UserID, _ = claims["userId"].(string)
	payload.SessionID, _ = claims["sessionId"].(string)
	payload.Issuer, _ = claims["iss"].(string)
	payload.IssuedAt, _ = numericClaim(claims, "iat")
	payload.ExpiresAt, _ = numericClaim(claims, "exp")
	if rawScope, ok := claims["scope"].([]interface{}); ok {
		for _, entry := range rawScope {
			if s, ok := entry.(string); ok {
				payload.Scope = append(payload.Scope, s)
			}
		}
	}
	return payload
}

func numericClaim(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
