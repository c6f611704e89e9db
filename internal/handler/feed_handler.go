package handler

import (
	"net/http"
	"time"

	"vibin-go/internal/notify"
	"vibin-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// pingInterval 是向客户端发送保活 ping 的周期。
const pingInterval = 30 * time.Second

// FeedHandler 把变更通知流推送给 WebSocket 客户端。
// 每个连接对应一个订阅者；连接断开时注销订阅并停止保活定时器。
type FeedHandler struct {
	hub *notify.Hub
}

// NewFeedHandler 创建一个新的 FeedHandler。
func NewFeedHandler(hub *notify.Hub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

// Stream 处理一个传入的 WebSocket 连接。
func (h *FeedHandler) Stream(c *gin.Context) {
	user := currentUser(c)

	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	log.Infof("变更订阅已建立，用户: %s", user.Username)

	// 读循环只用来感知对端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Infof("变更订阅已断开，用户: %s", user.Username)
			return
		case event, ok := <-sub.Events():
			if !ok {
				// Hub 判定该订阅者消费过慢并已将其移除
				log.Warnf("变更订阅被移除，用户: %s", user.Username)
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Warnf("推送变更事件失败: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
