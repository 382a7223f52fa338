package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"wherespace-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowChatService 持续下发 response 事件直到 shouldStop 生效或达到上限，
// 模拟一次耗时较长的流式生成。
type slowChatService struct {
	fragments int
	delivered atomic.Int32
}

func (s *slowChatService) StreamAnswer(ctx context.Context, query, mode, conversationID string, writer service.EventWriter, shouldStop func() bool) error {
	for i := 0; i < s.fragments; i++ {
		if shouldStop != nil && shouldStop() {
			break
		}
		if err := writer.WriteEvent(service.StreamEvent{Type: "response", Content: "片段"}); err != nil {
			return err
		}
		s.delivered.Add(1)
		time.Sleep(10 * time.Millisecond)
	}
	return writer.WriteEvent(service.StreamEvent{Type: "done"})
}

func dialChat(t *testing.T, svc service.ChatService) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/chat", NewChatHandler(svc).Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestChatHandler_StopInterruptsStream(t *testing.T) {
	svc := &slowChatService{fragments: 200}
	conn := dialChat(t, svc)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "query", "query": "你好"}))

	// 读到第一个 response 后发送停止指令
	var first service.StreamEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "response", first.Type)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))

	// 继续读取直到两个 done：停止确认与流自身的结束事件
	stopAcked := false
	doneCount := 0
	for doneCount < 2 {
		var ev service.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "done" {
			doneCount++
			if ev.Content == "响应已停止" {
				stopAcked = true
			}
		}
	}

	assert.True(t, stopAcked)
	// 停止指令在流式输出期间就已生效，远未送完全部分块
	assert.Less(t, int(svc.delivered.Load()), 200)
}

func TestChatHandler_QueryWhileStreamingRejected(t *testing.T) {
	svc := &slowChatService{fragments: 200}
	conn := dialChat(t, svc)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "query", "query": "第一问"}))

	var first service.StreamEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "response", first.Type)

	// 上一轮未结束时的新问句被拒绝，而不是排队或打断
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "query", "query": "第二问"}))
	sawBusy := false
	for !sawBusy {
		var ev service.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "error" {
			assert.Equal(t, "上一轮响应尚未结束", ev.Content)
			sawBusy = true
		}
		require.NotEqual(t, "done", ev.Type, "繁忙提示应在流结束前到达")
	}

	// 收尾：停止第一轮，待流结束
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	doneCount := 0
	for doneCount < 2 {
		var ev service.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "done" {
			doneCount++
		}
	}
}
