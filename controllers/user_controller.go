package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dialog-service/middlewares"
	"dialog-service/services"
	"dialog-service/utils"
)

// AuthController serves sign-up, sign-in, logout and token refresh.
type AuthController struct {
	auth *services.AuthService
}

func NewAuthController(auth *services.AuthService) *AuthController {
	return &AuthController{auth: auth}
}

// 用户注册
func (ac *AuthController) SignUp(c *gin.Context) {
	var input services.SignUpInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, utils.BadRequest(err.Error()))
		return
	}
	user, err := ac.auth.SignUp(c.Request.Context(), middlewares.Caller(c), input)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusCreated, user)
}

// 用户登录
func (ac *AuthController) SignIn(c *gin.Context) {
	var input services.SignInInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, utils.BadRequest(err.Error()))
		return
	}
	user, err := ac.auth.SignIn(c.Request.Context(), middlewares.Caller(c), c.Writer, input)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, user)
}

func (ac *AuthController) Logout(c *gin.Context) {
	if err := ac.auth.Logout(c.Request.Context(), middlewares.Caller(c), c.Writer, c.Request); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusNoContent, nil)
}

// RefreshTokens rotates the pair explicitly. When the middleware already
// rotated it the request still carries the superseded cookies, so the
// fresh ones on the response are the answer.
func (ac *AuthController) RefreshTokens(c *gin.Context) {
	if c.GetBool(middlewares.ContextRotatedKey) {
		utils.RespondStatus(c, http.StatusNoContent, nil)
		return
	}
	if _, _, err := ac.auth.Refresh(c.Request.Context(), c.Writer, c.Request); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusNoContent, nil)
}

// UserController serves profiles.
type UserController struct {
	users *services.UserService
}

func NewUserController(users *services.UserService) *UserController {
	return &UserController{users: users}
}

func (uc *UserController) Current(c *gin.Context) {
	user, err := uc.users.Me(c.Request.Context(), middlewares.Caller(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, user)
}

func (uc *UserController) Get(c *gin.Context) {
	user, err := uc.users.Get(c.Request.Context(), middlewares.Caller(c), c.Param("user_id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, user)
}
