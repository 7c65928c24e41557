// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wenren-ai/wenren/internal/errors"
	"github.com/wenren-ai/wenren/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// wsChatMessage 客户端发来的对话消息
type wsChatMessage struct {
	Message string `json:"message"`
}

// wsChatReply 服务端的应答帧
// 一轮回复先发若干delta帧（文本片段），最后发一帧done=true带完整回复与会话ID
type wsChatReply struct {
	SessionID string `json:"session_id,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 10 * time.Minute
)

// ChatWebSocket 长连接对话：客户端每发一条消息，服务端流式回推回复
// 会话ID在首条消息后固定下来，整个连接内复用
func (h *Handler) ChatWebSocket(c *gin.Context) {
	npcID := c.Query("npc_id")
	if npcID == "" {
		h.response.BadRequest(c, "缺少必要参数: npc_id")
		return
	}

	// 升级前先确认角色存在，无效ID直接用HTTP状态拒绝
	if _, err := h.NPCService.LoadNPC(npcID); err != nil {
		if errors.IsNotFoundError(err) {
			h.response.NotFound(c, "角色")
			return
		}
		h.response.InternalError(c, "读取角色设定失败")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warnf("WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	logger := utils.GetLogger()
	sessionID := c.Query("session_id")

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg wsChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("WebSocket连接异常断开（npc=%s）: %v", npcID, err)
			}
			return
		}

		if msg.Message == "" {
			h.writeWS(conn, wsChatReply{Error: "消息不能为空"})
			continue
		}

		reply, sid, err := h.ChatService.ChatStream(npcID, sessionID, msg.Message, func(delta string) {
			h.writeWS(conn, wsChatReply{Delta: delta})
		})
		if err != nil {
			h.writeWS(conn, wsChatReply{Error: "对话处理失败"})
			continue
		}

		sessionID = sid
		if !h.writeWS(conn, wsChatReply{SessionID: sessionID, Reply: reply, Done: true}) {
			return
		}
	}
}

func (h *Handler) writeWS(conn *websocket.Conn, reply wsChatReply) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		utils.GetLogger().Warnf("WebSocket写入失败: %v", err)
		return false
	}
	return true
}
