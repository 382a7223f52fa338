package model

import "time"

// ChatMessage 表示对话历史中的一条角色消息。
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelRole 区分模型的用途：生成或嵌入。
type ModelRole string

const (
	RoleGeneration ModelRole = "generation"
	RoleEmbedding  ModelRole = "embedding"
)

// ModelDescriptor 描述一个可用的后端模型。
type ModelDescriptor struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	ModifiedAt    string `json:"modifiedAt"`
}
