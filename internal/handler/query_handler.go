// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"wherespace-go/internal/service"
	"wherespace-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QueryHandler 负责处理 SSE 流式问答请求。
type QueryHandler struct {
	chatService service.ChatService
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(chatService service.ChatService) *QueryHandler {
	return &QueryHandler{chatService: chatService}
}

// queryRequest 是流式问答的请求体。
type queryRequest struct {
	Query string `json:"query" binding:"required"`
	Mode  string `json:"mode"` // rag（默认）或 direct
}

// sseEventWriter 把流式事件编码成 SSE 帧并立即下发。
type sseEventWriter struct {
	c *gin.Context
}

// WriteEvent 满足 service.EventWriter 接口。
func (w *sseEventWriter) WriteEvent(ev service.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// Stream 处理 POST /api/v1/query/stream。
// 事件按 sources、若干 response、done 的顺序经 SSE 下发，
// 生成失败时最后一个事件是 error。
func (h *QueryHandler) Stream(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "query 不能为空", "data": nil})
		return
	}
	// 模式在写入流头之前校验，保证校验失败仍是普通 JSON 响应
	if req.Mode != "" && req.Mode != service.ModeRAG && req.Mode != service.ModeDirect {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的生成模式: " + req.Mode, "data": nil})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	writer := &sseEventWriter{c: c}
	err := h.chatService.StreamAnswer(c.Request.Context(), req.Query, req.Mode, "", writer, nil)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			// 流还没开始，仍可返回普通错误响应
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "query 不能为空", "data": nil})
			return
		}
		log.Errorf("流式问答失败: %v", err)
		if errors.Is(err, service.ErrInvalidMode) {
			// 服务层在写出任何事件前就拒绝了，补一个终止 error 事件
			_ = writer.WriteEvent(service.StreamEvent{Type: "error", Content: "无效的生成模式"})
		}
		// 其余 error 事件已由服务层下发
	}
}
