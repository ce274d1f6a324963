package routes

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dialog-service/controllers"
	"dialog-service/middlewares"
	"dialog-service/services"
	"dialog-service/utils"
)

// Deps is everything the route table needs.
type Deps struct {
	Store       *services.Store
	Tokens      *services.TokenManager
	Sessions    *services.SessionStore
	Auth        *services.AuthService
	Users       *services.UserService
	Dialogs     *services.DialogService
	Gatherer    prometheus.Gatherer
	Log         *slog.Logger
	CORSOrigins []string
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))

	// 配置跨域中间件; without configured origins only same-origin pages
	// can use the API
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true, // 是否允许发送 cookies
		}))
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authCtl := controllers.NewAuthController(d.Auth)
	userCtl := controllers.NewUserController(d.Users)
	dialogCtl := controllers.NewDialogController(d.Dialogs)
	wsCtl := controllers.NewWSController(d.Dialogs, d.Log, d.CORSOrigins)

	api := r.Group("/api/v1")
	api.Use(middlewares.TokenAuthMiddleware(d.Tokens, d.Sessions, d.Auth, d.Store, d.Log))
	{
		auth := api.Group("/auth")
		auth.PUT("/signUp", authCtl.SignUp)
		auth.POST("/signIn", authCtl.SignIn)
		auth.POST("/logout", authCtl.Logout)
		auth.POST("/refresh_tokens", authCtl.RefreshTokens)

		user := api.Group("/user")
		user.GET("/current", userCtl.Current)
		user.GET("/:user_id", userCtl.Get)

		dialog := api.Group("/dialog")
		dialog.GET("/list", dialogCtl.List)
		dialog.GET("/unread", dialogCtl.Unread)
		dialog.GET("/user/:user_id", dialogCtl.WithUser)
		dialog.PUT("/message/:message_id/read", dialogCtl.MarkRead)
		dialog.GET("/:dialog_id/history", dialogCtl.History)
		dialog.GET("/:dialog_id/ws", wsCtl.Serve)
	}

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return utils.RequestLogger(log)
}
