package controllers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dialog-service/middlewares"
	"dialog-service/services"
)

// WSController upgrades the dialog endpoint and runs the live session on
// the handler goroutine. Admission is checked after the upgrade so that a
// refusal reaches the browser as a close code.
type WSController struct {
	dialogs  *services.DialogService
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSController(dialogs *services.DialogService, log *slog.Logger, origins []string) *WSController {
	return &WSController{
		dialogs: dialogs,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func (wc *WSController) Serve(c *gin.Context) {
	// cookies set by a rotation in the auth middleware must ride on the
	// 101 response, the upgrader writes no other headers
	var header http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	conn, err := wc.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// the upgrader has already answered with an HTTP error
		wc.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(services.MaxFrameSize)

	caller := middlewares.Caller(c)
	client := services.NewClient(conn, caller.ID, middlewares.AccessExp(c))
	if err := wc.dialogs.Subscribe(c.Request.Context(), caller, client, c.Param("dialog_id")); err != nil {
		wc.log.Debug("live session ended", "dialog_id", c.Param("dialog_id"), "err", err)
	}
}

// originChecker accepts same-origin requests, requests without an Origin
// header and the configured origins.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
