package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"wherespace-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedChatService struct {
	events []service.StreamEvent
	err    error
}

func (s *scriptedChatService) StreamAnswer(ctx context.Context, query, mode, conversationID string, writer service.EventWriter, shouldStop func() bool) error {
	if strings.TrimSpace(query) == "" {
		return service.ErrEmptyQuery
	}
	for _, ev := range s.events {
		if err := writer.WriteEvent(ev); err != nil {
			return err
		}
	}
	return s.err
}

func newQueryRouter(svc service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/query/stream", NewQueryHandler(svc).Stream)
	return r
}

func TestStream_EmitsSSEEvents(t *testing.T) {
	svc := &scriptedChatService{events: []service.StreamEvent{
		{Type: "sources", Sources: []service.SourceRef{{FileName: "a.txt", Score: 0.9}}},
		{Type: "response", Content: "答案"},
		{Type: "done"},
	}}
	router := newQueryRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/stream", strings.NewReader(`{"query":"问题"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, frames, 3)
	assert.Contains(t, frames[0], `"type":"sources"`)
	assert.Contains(t, frames[0], "a.txt")
	assert.Contains(t, frames[1], `"type":"response"`)
	assert.Contains(t, frames[2], `"type":"done"`)
	for _, f := range frames {
		assert.True(t, strings.HasPrefix(f, "data: "))
	}
}

func TestStream_MissingQueryRejected(t *testing.T) {
	router := newQueryRouter(&scriptedChatService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/stream", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStream_InvalidModeRejectedBeforeStreaming(t *testing.T) {
	router := newQueryRouter(&scriptedChatService{events: []service.StreamEvent{{Type: "done"}}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/stream", strings.NewReader(`{"query":"问题","mode":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 模式校验发生在流头写入之前，客户端拿到普通 JSON 错误而非空事件流
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "无效的生成模式")
}
