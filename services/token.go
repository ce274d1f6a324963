package services

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	AccessTokenTTL  = 10 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	// CookieMaxAge outlives both tokens; token expiry gates access, the
	// cookie only bounds how long a browser remembers the pair.
	CookieMaxAge = 31536000
	CookiePath   = "/api"

	CookieAccessKey  = "access_token"
	CookieRefreshKey = "refresh_token"
)

var errTokenExpired = errors.New("token expired")

// Claims is the payload of both token classes.
type Claims struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	RoleValue int    `json:"role_value"`
	Exp       int64  `json:"exp"`
	// JTI keeps two tokens minted within the same second distinct.
	JTI string `json:"jti"`
}

// Valid is checked by TokenManager itself so expiry can use its clock.
func (c *Claims) Valid() error {
	if c.ID == "" {
		return errors.New("token has no subject")
	}
	return nil
}

// ExpiresAt returns the embedded expiry.
func (c *Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// TokenPair is what sign-in and refresh hand out.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenManager issues and checks HS256 access/refresh tokens, each class
// signed with its own secret.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	secureCookie  bool
	now           func() time.Time
	parser        *jwt.Parser
}

type TokenOption func(*TokenManager)

func WithTokenTTL(access, refresh time.Duration) TokenOption {
	return func(tm *TokenManager) {
		tm.accessTTL = access
		tm.refreshTTL = refresh
	}
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

func WithSecureCookie(secure bool) TokenOption {
	return func(tm *TokenManager) { tm.secureCookie = secure }
}

func NewTokenManager(accessSecret, refreshSecret string, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     AccessTokenTTL,
		refreshTTL:    RefreshTokenTTL,
		secureCookie:  true,
		now:           time.Now,
		parser: &jwt.Parser{
			ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
			SkipClaimsValidation: true,
		},
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Generate builds a fresh access/refresh pair for the subject.
func (tm *TokenManager) Generate(subjectID, email string, roleValue int) (TokenPair, error) {
	access, err := tm.sign(subjectID, email, roleValue, tm.accessTTL, tm.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := tm.sign(subjectID, email, roleValue, tm.refreshTTL, tm.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (tm *TokenManager) sign(subjectID, email string, roleValue int, ttl time.Duration, secret []byte) (string, error) {
	claims := &Claims{
		ID:        subjectID,
		Email:     email,
		RoleValue: roleValue,
		Exp:       tm.now().Add(ttl).Unix(),
		JTI:       uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// DecodeAccess returns the claims of an authentic access token, expired or
// not.
func (tm *TokenManager) DecodeAccess(token string) (*Claims, error) {
	return tm.decode(token, tm.accessSecret)
}

// DecodeRefresh returns the claims of an authentic refresh token, expired
// or not. The signature is always verified.
func (tm *TokenManager) DecodeRefresh(token string) (*Claims, error) {
	return tm.decode(token, tm.refreshSecret)
}

func (tm *TokenManager) decode(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := tm.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if err := claims.Valid(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (tm *TokenManager) IsValidAccess(token string) bool {
	return tm.validate(token, tm.accessSecret) == nil
}

func (tm *TokenManager) IsValidRefresh(token string) bool {
	return tm.validate(token, tm.refreshSecret) == nil
}

func (tm *TokenManager) validate(token string, secret []byte) error {
	if token == "" {
		return errors.New("empty token")
	}
	claims, err := tm.decode(token, secret)
	if err != nil {
		return err
	}
	if tm.now().Unix() >= claims.Exp {
		return errTokenExpired
	}
	return nil
}

// SetCookies writes both tokens as http-only cookies under the API prefix.
func (tm *TokenManager) SetCookies(w http.ResponseWriter, pair TokenPair) {
	http.SetCookie(w, tm.cookie(CookieAccessKey, pair.AccessToken))
	http.SetCookie(w, tm.cookie(CookieRefreshKey, pair.RefreshToken))
}

// DeleteCookies overwrites both token cookies with empty values.
func (tm *TokenManager) DeleteCookies(w http.ResponseWriter) {
	tm.SetCookies(w, TokenPair{})
}

// Cookies reads whichever tokens the request carries; ok is true only when
// both are present. A lone refresh token is still enough to rotate.
func (tm *TokenManager) Cookies(r *http.Request) (pair TokenPair, ok bool) {
	if c, err := r.Cookie(CookieAccessKey); err == nil {
		pair.AccessToken = c.Value
	}
	if c, err := r.Cookie(CookieRefreshKey); err == nil {
		pair.RefreshToken = c.Value
	}
	return pair, pair.AccessToken != "" && pair.RefreshToken != ""
}

func (tm *TokenManager) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     CookiePath,
		MaxAge:   CookieMaxAge,
		Secure:   tm.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}
