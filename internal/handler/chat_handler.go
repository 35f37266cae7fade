// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"finchat-go/internal/service"
	"finchat-go/pkg/log"
	"finchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理聊天相关的 HTTP 与 WebSocket 请求。
type ChatHandler struct {
	assistant  service.AssistantService
	jwtManager *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(assistant service.AssistantService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{assistant: assistant, jwtManager: jwtManager}
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat 处理一轮对话请求并返回最终消息（可能附带待确认载荷）。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "message 不能为空", "data": nil})
		return
	}

	result, err := h.assistant.ProcessTurn(c.Request.Context(), req.Message)
	if err != nil {
		log.Error("处理对话请求失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务内部错误", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// History 返回当前滑动窗口内的对话历史。
func (h *ChatHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.assistant.History()})
}

// HandleWS 处理一个传入的 WebSocket 连接。
// 每条文本消息作为一轮对话处理，回复以单个 JSON 帧返回。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		result, err := h.assistant.ProcessTurn(c.Request.Context(), string(message))
		if err != nil {
			log.Errorf("处理对话请求失败: %v", err)
			_ = conn.WriteJSON(gin.H{"type": "error", "message": "服务内部错误"})
			continue
		}
		if err := conn.WriteJSON(gin.H{"type": "message", "data": result}); err != nil {
			log.Warnf("写入 WebSocket 消息失败: %v", err)
			break
		}
	}
}
