package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dialog-service/middlewares"
	"dialog-service/services"
	"dialog-service/utils"
)

// DialogController serves the REST side of dialogs.
type DialogController struct {
	dialogs *services.DialogService
}

func NewDialogController(dialogs *services.DialogService) *DialogController {
	return &DialogController{dialogs: dialogs}
}

// List 获取会话列表
func (dc *DialogController) List(c *gin.Context) {
	items, err := dc.dialogs.ListDialogs(c.Request.Context(), middlewares.Caller(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, items)
}

// WithUser opens the dialog with another user, creating it if needed.
func (dc *DialogController) WithUser(c *gin.Context) {
	item, err := dc.dialogs.GetOrCreateDialog(c.Request.Context(), middlewares.Caller(c), c.Param("user_id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, item)
}

func (dc *DialogController) MarkRead(c *gin.Context) {
	if err := dc.dialogs.MarkRead(c.Request.Context(), middlewares.Caller(c), c.Param("message_id")); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusNoContent, nil)
}

func (dc *DialogController) Unread(c *gin.Context) {
	count, err := dc.dialogs.UnreadCount(c.Request.Context(), middlewares.Caller(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, count)
}

// History 获取会话消息
func (dc *DialogController) History(c *gin.Context) {
	messages, err := dc.dialogs.GetHistory(c.Request.Context(), middlewares.Caller(c), c.Param("dialog_id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, messages)
}
