package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, expired or missing claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSharedSigningKey is returned when access and refresh tokens would share signing material.
	ErrSharedSigningKey = errors.New("access and refresh tokens must use distinct signing keys")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims are the claims of a short-lived access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Type  string `json:"typ"`
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string { return c.Subject }

// Validate is called by the parser after the registered claims check.
func (c *AccessClaims) Validate() error {
	if c.Type != tokenTypeAccess || c.Subject == "" || c.Email == "" {
		return ErrInvalidToken
	}
	return nil
}

// RefreshClaims are the claims of a refresh token. ID (jti) is unique per token and
// FamilyID is shared by every token descending from one login.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	FamilyID string `json:"family_id"`
	Type     string `json:"typ"`
}

// UserID returns the subject claim.
func (c *RefreshClaims) UserID() string { return c.Subject }

// Validate is called by the parser after the registered claims check.
func (c *RefreshClaims) Validate() error {
	if c.Type != tokenTypeRefresh || c.Subject == "" || c.Email == "" || c.FamilyID == "" || c.ID == "" {
		return ErrInvalidToken
	}
	return nil
}

// IssuerConfig configures a TokenIssuer.
type IssuerConfig struct {
	Issuer     string
	AccessKey  SigningKey
	RefreshKey SigningKey
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// TokenIssuer signs and verifies access and refresh JWTs. It never touches the session store.
type TokenIssuer struct {
	issuer     string
	access     SigningKey
	refresh    SigningKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer. Access and refresh keys must both be set
// and must not share material.
func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	if cfg.AccessKey.method == nil || cfg.RefreshKey.method == nil {
		return nil, ErrInvalidKey
	}
	if cfg.AccessKey.sameMaterial(cfg.RefreshKey) {
		return nil, ErrSharedSigningKey
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		issuer:     strings.TrimSpace(cfg.Issuer),
		access:     cfg.AccessKey,
		refresh:    cfg.RefreshKey,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (p *TokenIssuer) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (p *TokenIssuer) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccessToken signs an access token for the user and returns it with its expiry.
func (p *TokenIssuer) IssueAccessToken(userID, email string) (string, time.Time, error) {
	if userID == "" || email == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	now := p.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(p.accessTTL)
	claims := &AccessClaims{
		RegisteredClaims: p.registered(userID, "", now, expiresAt),
		Email:            email,
		Type:             tokenTypeAccess,
	}
	token, err := jwt.NewWithClaims(p.access.method, claims).SignedString(p.access.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// IssueRefreshToken signs a refresh token carrying familyID and jti. Persisting the
// matching session is the caller's job.
func (p *TokenIssuer) IssueRefreshToken(userID, email, familyID, jti string) (string, time.Time, error) {
	if userID == "" || email == "" || familyID == "" || jti == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	now := p.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(p.refreshTTL)
	claims := &RefreshClaims{
		RegisteredClaims: p.registered(userID, jti, now, expiresAt),
		Email:            email,
		FamilyID:         familyID,
		Type:             tokenTypeRefresh,
	}
	token, err := jwt.NewWithClaims(p.refresh.method, claims).SignedString(p.refresh.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyAccessToken checks signature, algorithm, issuer and expiry of an access token.
func (p *TokenIssuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(token, p.access, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefreshToken checks signature, algorithm, issuer and expiry of a refresh token.
func (p *TokenIssuer) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(token, p.refresh, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *TokenIssuer) registered(subject, jti string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (p *TokenIssuer) parse(token string, key SigningKey, claims jwt.Claims) error {
	if token == "" {
		return ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{key.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key.verify, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
