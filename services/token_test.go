package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestTokens(c *clock) *TokenManager {
	return NewTokenManager("access-secret", "refresh-secret", WithTokenClock(c.now), WithSecureCookie(false))
}

func TestTokenManager_GenerateAndDecode(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	tm := newTestTokens(c)

	pair, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)

	access, err := tm.DecodeAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", access.ID)
	assert.Equal(t, "a@example.com", access.Email)
	assert.Equal(t, 3, access.RoleValue)
	assert.Equal(t, c.t.Add(AccessTokenTTL).Unix(), access.Exp)

	refresh, err := tm.DecodeRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(RefreshTokenTTL).Unix(), refresh.Exp)
}

func TestTokenManager_SecretsAreSeparate(t *testing.T) {
	tm := newTestTokens(&clock{t: time.Now()})
	pair, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)

	assert.False(t, tm.IsValidAccess(pair.RefreshToken))
	assert.False(t, tm.IsValidRefresh(pair.AccessToken))
	_, err = tm.DecodeRefresh(pair.AccessToken)
	assert.Error(t, err)

	other := NewTokenManager("other-access", "other-refresh")
	assert.False(t, other.IsValidAccess(pair.AccessToken))
}

func TestTokenManager_Expiry(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	tm := newTestTokens(c)
	pair, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)

	assert.True(t, tm.IsValidAccess(pair.AccessToken))

	c.t = c.t.Add(AccessTokenTTL)
	assert.False(t, tm.IsValidAccess(pair.AccessToken), "exp is exclusive")
	assert.True(t, tm.IsValidRefresh(pair.RefreshToken))

	// expired tokens still decode
	claims, err := tm.DecodeAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.ID)

	c.t = c.t.Add(RefreshTokenTTL)
	assert.False(t, tm.IsValidRefresh(pair.RefreshToken))
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := newTestTokens(&clock{t: time.Now()})
	assert.False(t, tm.IsValidAccess(""))
	assert.False(t, tm.IsValidAccess("not.a.token"))
	_, err := tm.DecodeAccess("not.a.token")
	assert.Error(t, err)
}

func TestTokenManager_PairsAreUnique(t *testing.T) {
	tm := newTestTokens(&clock{t: time.Unix(1_700_000_000, 0)})
	first, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)
	second, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestTokenManager_Cookies(t *testing.T) {
	tm := newTestTokens(&clock{t: time.Now()})
	pair, err := tm.Generate("user-1", "a@example.com", 3)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tm.SetCookies(rec, pair)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Equal(t, CookiePath, c.Path)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
		assert.Equal(t, CookieMaxAge, c.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/current", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	got, ok := tm.Cookies(req)
	require.True(t, ok)
	assert.Equal(t, pair, got)

	rec = httptest.NewRecorder()
	tm.DeleteCookies(rec)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
	}

	_, ok = tm.Cookies(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestTokenManager_CookiesWithoutAccess(t *testing.T) {
	tm := newTestTokens(&clock{t: time.Now()})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieRefreshKey, Value: "refresh"})

	pair, ok := tm.Cookies(req)
	assert.False(t, ok)
	assert.Empty(t, pair.AccessToken)
	assert.Equal(t, "refresh", pair.RefreshToken)
}
