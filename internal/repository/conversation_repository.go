package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"wherespace-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 历史仅用于 WebSocket 会话的上下文展示，检索与生成本身是无状态的。
type ConversationRepository interface {
	GetHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	AppendHistory(ctx context.Context, conversationID string, messages ...model.ChatMessage) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetHistory 从 Redis 获取对话历史记录，不存在时返回空切片。
func (r *redisConversationRepository) GetHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(conversationID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendHistory 追加消息并回写 Redis。
func (r *redisConversationRepository) AppendHistory(ctx context.Context, conversationID string, messages ...model.ChatMessage) error {
	history, err := r.GetHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	// 保留最近 20 条
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(conversationID), jsonData, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}
