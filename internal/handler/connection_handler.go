package handler

import (
	"errors"
	"net/http"

	"vibin-go/internal/model"
	"vibin-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler 处理关系状态相关的请求。
type ConnectionHandler struct {
	connectionService service.ConnectionService
}

// NewConnectionHandler 创建一个新的 ConnectionHandler。
func NewConnectionHandler(connectionService service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService}
}

// connectionStatusCode 把业务错误映射为 HTTP 状态码。
func connectionStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrSameUser),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type setConnectionRequest struct {
	Status    model.ConnectionStatus `json:"status" binding:"required"`
	Anonymous bool                   `json:"anonymous"`
	Alias     string                 `json:"alias"`
}

// SetConnection 设置当前用户对 target 的关系状态。
func (h *ConnectionHandler) SetConnection(c *gin.Context) {
	user := currentUser(c)
	target := c.Param("target")

	var req setConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	state, err := h.connectionService.SetConnection(c.Request.Context(), user.Username, target, model.ConnectionState{
		Status:    req.Status,
		Anonymous: req.Anonymous,
		Alias:     req.Alias,
	})
	if err != nil {
		code := connectionStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": state})
}

// GetOutgoing 返回当前用户对外持有的全部关系。
func (h *ConnectionHandler) GetOutgoing(c *gin.Context) {
	user := currentUser(c)
	states, err := h.connectionService.GetOutgoing(c.Request.Context(), user.Username)
	if err != nil {
		code := connectionStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": states})
}

// GetIncoming 返回他人对当前用户持有的全部关系。
func (h *ConnectionHandler) GetIncoming(c *gin.Context) {
	user := currentUser(c)
	states, err := h.connectionService.GetIncoming(c.Request.Context(), user.Username)
	if err != nil {
		code := connectionStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": states})
}

// ApplyOutgoingMap 以请求体整体替换当前用户的对外关系。
func (h *ConnectionHandler) ApplyOutgoingMap(c *gin.Context) {
	user := currentUser(c)

	var desired map[string]model.ConnectionState
	if err := c.ShouldBindJSON(&desired); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	if err := h.connectionService.ApplyOutgoingMap(c.Request.Context(), user.Username, desired); err != nil {
		code := connectionStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// ApplyIncomingMap 以请求体整体替换指向当前用户的关系。
func (h *ConnectionHandler) ApplyIncomingMap(c *gin.Context) {
	user := currentUser(c)

	var desired map[string]model.ConnectionState
	if err := c.ShouldBindJSON(&desired); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	if err := h.connectionService.ApplyIncomingMap(c.Request.Context(), user.Username, desired); err != nil {
		code := connectionStatusCode(err)
		c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
