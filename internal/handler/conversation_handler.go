package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"vibin-go/internal/model"
	"vibin-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理会话与消息相关的请求。
type ConversationHandler struct {
	conversationService service.ConversationService
	settingsService     service.SettingsService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService, settingsService service.SettingsService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		settingsService:     settingsService,
	}
}

func conversationStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrSameUser),
		errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type sendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// SendMessage 向指定用户追加一条消息。
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	user := currentUser(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	msg, err := h.conversationService.AppendMessage(c.Request.Context(), user.Username, req.To, req.Text)
	if err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// FetchMessages 向后分页拉取与指定用户的消息。
// cursor 为 RFC3339Nano 时间戳，返回严格早于它的最新 limit 条。
func (h *ConversationHandler) FetchMessages(c *gin.Context) {
	user := currentUser(c)
	peer := c.Param("peer")

	var cursor *time.Time
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 cursor", "data": nil})
			return
		}
		cursor = &parsed
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := h.conversationService.FetchMessages(c.Request.Context(), user.Username, peer, cursor, limit)
	if err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// MarkRead 把与指定用户的会话标记为已读。
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	user := currentUser(c)
	peer := c.Param("peer")

	if err := h.conversationService.MarkRead(c.Request.Context(), user.Username, peer); err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// GetMeta 返回当前用户视角下与指定用户会话的元数据。
func (h *ConversationHandler) GetMeta(c *gin.Context) {
	user := currentUser(c)
	peer := c.Param("peer")

	meta, err := h.conversationService.GetMeta(c.Request.Context(), user.Username, peer)
	if err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": meta})
}

// ListConversations 返回当前用户的会话列表。
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	user := currentUser(c)

	summaries, err := h.conversationService.ListConversations(c.Request.Context(), user.Username)
	if err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summaries})
}

// GetSettings 返回当前用户的隐私设置。
func (h *ConversationHandler) GetSettings(c *gin.Context) {
	user := currentUser(c)

	settings, err := h.settingsService.GetSettings(c.Request.Context(), user.Username)
	if err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settings})
}

// UpdateSettings 更新当前用户的隐私设置。
func (h *ConversationHandler) UpdateSettings(c *gin.Context) {
	user := currentUser(c)

	var settings model.UserSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	if err := h.settingsService.UpdateSettings(c.Request.Context(), user.Username, settings); err != nil {
		code := conversationStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settings})
}
