package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the chat endpoints on r. POST /chat routes by the
// body's participant field; POST /participants/:id/chat routes by path.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/chat", h.serveChat)
	r.POST("/participants/:id/chat", h.serveChat)
}

func (h *Handler) serveChat(c *gin.Context) {
	correlationID := c.GetHeader(headerCorrelationID)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	c.Header(headerCorrelationID, correlationID)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		rerr := &requestError{status: http.StatusBadRequest, code: errInvalidInput, reason: "unreadable_body"}
		c.Data(rerr.status, "application/json", h.reject(correlationID, rerr))
		return
	}

	s, rerr := h.prepare(body, c.Param("id"))
	if rerr != nil {
		c.Data(rerr.status, "application/json", h.reject(correlationID, rerr))
		return
	}

	c.Header("Content-Type", contentTypeNDJSON)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	h.stream(c.Request.Context(), s, correlationID, c.Writer)
}
