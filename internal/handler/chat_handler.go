package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"wherespace-go/internal/service"
	"wherespace-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
// 每条连接对应一个对话，问答历史以连接生成的会话 id 记入 Redis。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatMessage 是客户端经 WebSocket 发来的消息。
type chatMessage struct {
	Type  string `json:"type"` // query 或 stop
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// wsEventWriter 把流式事件以 JSON 文本帧写入 WebSocket。
// 读循环与流式 goroutine 会并发写同一条连接，用互斥锁串行化写帧。
type wsEventWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WriteEvent 满足 service.EventWriter 接口。
func (w *wsEventWriter) WriteEvent(ev service.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// Handle 处理一个传入的 WebSocket 连接。
// 客户端发送 {"type":"query","query":"..."} 发起问答。
// 回答在单独的 goroutine 中流式下发，读循环保持可读，
// 因此流式输出期间发来的 {"type":"stop"} 能即时中断下发。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	conversationID := uuid.NewString()
	log.Infof("WebSocket 连接已建立, conversation=%s", conversationID)

	writer := &wsEventWriter{conn: conn}
	var (
		stopFlag  atomic.Bool
		streaming atomic.Bool
		wg        sync.WaitGroup
	)
	defer wg.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var msg chatMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// 非 JSON 消息按纯文本问句处理
			msg = chatMessage{Type: "query", Query: string(message)}
		}

		if msg.Type == "stop" {
			log.Info("收到停止指令，正在中断流式响应...")
			stopFlag.Store(true)
			_ = writer.WriteEvent(service.StreamEvent{Type: "done", Content: "响应已停止"})
			continue
		}

		if streaming.Load() {
			_ = writer.WriteEvent(service.StreamEvent{Type: "error", Content: "上一轮响应尚未结束"})
			continue
		}

		// 新一轮开始时清除上一轮遗留的停止标志
		stopFlag.Store(false)
		streaming.Store(true)
		wg.Add(1)
		go func(msg chatMessage) {
			defer wg.Done()
			defer streaming.Store(false)
			err := h.chatService.StreamAnswer(c.Request.Context(), msg.Query, msg.Mode, conversationID, writer, stopFlag.Load)
			if err != nil {
				log.Errorf("处理流式响应失败: %v", err)
				if errors.Is(err, service.ErrEmptyQuery) {
					_ = writer.WriteEvent(service.StreamEvent{Type: "error", Content: "问句不能为空"})
				} else if errors.Is(err, service.ErrInvalidMode) {
					_ = writer.WriteEvent(service.StreamEvent{Type: "error", Content: "无效的生成模式"})
				}
				// 其余 error 事件已由服务层下发，连接保持打开等待下一轮
			}
		}(msg)
	}

	// 连接已断开，让仍在输出的流尽快退出
	stopFlag.Store(true)
}
