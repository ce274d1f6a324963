package middlewares

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"dialog-service/models"
	"dialog-service/services"
)

const (
	ContextUserKey      = "user"
	ContextAccessExpKey = "access_exp"
	ContextRotatedKey   = "tokens_rotated"
)

// TokenAuthMiddleware resolves the caller from the token cookies. A valid
// access token with a live session authenticates directly; otherwise a
// valid refresh token is rotated in place. Anything else leaves a guest,
// and the services decide what a guest may do.
func TokenAuthMiddleware(tokens *services.TokenManager, sessions *services.SessionStore, auth *services.AuthService, store *services.Store, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		pair, _ := tokens.Cookies(c.Request)
		sessionID := sessions.SessionID(c.Request)

		if tokens.IsValidAccess(pair.AccessToken) && sessions.Validate(ctx, sessionID, pair.RefreshToken) {
			claims, err := tokens.DecodeAccess(pair.AccessToken)
			if err == nil {
				user, err := store.UserByID(ctx, claims.ID)
				if err == nil {
					setCaller(c, user, claims.ExpiresAt())
					c.Next()
					return
				}
				if !errors.Is(err, services.ErrRecordNotFound) {
					log.Error("load caller", "user_id", claims.ID, "err", err)
				}
			}
		}

		if tokens.IsValidRefresh(pair.RefreshToken) && sessions.Validate(ctx, sessionID, pair.RefreshToken) {
			user, next, err := auth.Refresh(ctx, c.Writer, c.Request)
			if err == nil {
				claims, err := tokens.DecodeAccess(next.AccessToken)
				if err == nil {
					setCaller(c, user, claims.ExpiresAt())
					c.Set(ContextRotatedKey, true)
					c.Next()
					return
				}
			}
			log.Debug("seamless refresh failed", "err", err)
		}

		setCaller(c, &models.User{Role: models.RoleGuest}, time.Time{})
		c.Next()
	}
}

func setCaller(c *gin.Context, user *models.User, accessExp time.Time) {
	c.Set(ContextUserKey, user)
	c.Set(ContextAccessExpKey, accessExp)
}

// Caller returns the user resolved by TokenAuthMiddleware.
func Caller(c *gin.Context) *models.User {
	if v, ok := c.Get(ContextUserKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// AccessExp returns the expiry of the caller's access token, zero for
// guests.
func AccessExp(c *gin.Context) time.Time {
	if v, ok := c.Get(ContextAccessExpKey); ok {
		if exp, ok := v.(time.Time); ok {
			return exp
		}
	}
	return time.Time{}
}
