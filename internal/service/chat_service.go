package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/internal/registry"
	"wherespace-go/internal/repository"
	"wherespace-go/pkg/llm"
	"wherespace-go/pkg/log"
)

// 生成模式：rag 先检索再生成，direct 跳过检索直接生成。
const (
	ModeRAG    = "rag"
	ModeDirect = "direct"
)

// ErrInvalidMode 表示请求携带了未知的生成模式。
var ErrInvalidMode = errors.New("无效的生成模式")

// StreamEvent 是下发给客户端的流式事件，Type 为 sources、response、done 或 error。
// response 与 error 事件的内容都放在 Content 里。
type StreamEvent struct {
	Type    string      `json:"type"`
	Sources []SourceRef `json:"sources,omitempty"`
	Content string      `json:"content,omitempty"`
}

// SourceRef 标识一条回答引用的文档，按文档去重，保留该文档的最高得分。
type SourceRef struct {
	FileName   string  `json:"fileName"`
	ContentMD5 string  `json:"contentMd5"`
	Score      float64 `json:"score"`
}

// EventWriter 消费流式事件，由 SSE、WebSocket 或测试缓冲实现。
type EventWriter interface {
	WriteEvent(ev StreamEvent) error
}

// ChatService 定义了流式问答操作的接口。
type ChatService interface {
	// StreamAnswer 执行一轮问答：可选检索、提示词组装、流式生成。
	// conversationID 非空时将问答写入对话历史。
	StreamAnswer(ctx context.Context, query, mode, conversationID string, writer EventWriter, shouldStop func() bool) error
}

type chatService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	modelRegistry    *registry.ModelRegistry
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrievalService RetrievalService, llmClient llm.Client, modelRegistry *registry.ModelRegistry, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		modelRegistry:    modelRegistry,
		conversationRepo: conversationRepo,
	}
}

// StreamAnswer 协调一轮 RAG 问答。
// 生成模型在开始时快照，整轮使用同一个模型，中途切换对本轮无效。
// RAG 模式下检索为空时直接下发兜底文案并结束，完全不调用生成后端。
func (s *chatService) StreamAnswer(ctx context.Context, query, mode, conversationID string, writer EventWriter, shouldStop func() bool) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if mode == "" {
		mode = ModeRAG
	}
	if mode != ModeRAG && mode != ModeDirect {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}

	genModel := s.modelRegistry.Get(model.RoleGeneration)

	var hits []model.RetrievedChunk
	if mode == ModeRAG {
		var err error
		hits, err = s.retrievalService.Retrieve(ctx, query)
		if err != nil {
			// 向量存储不可用时退化为无上下文生成，而不是整轮失败
			log.Warnf("检索失败，退化为无上下文生成: %v", err)
			hits = nil
			mode = ModeDirect
		} else if len(hits) == 0 {
			// 知识库中没有相关内容：下发兜底文案，不调用生成后端
			if err := writer.WriteEvent(StreamEvent{Type: "response", Content: s.noResultText()}); err != nil {
				return err
			}
			return writer.WriteEvent(StreamEvent{Type: "done"})
		}
	}

	if len(hits) > 0 {
		if err := writer.WriteEvent(StreamEvent{Type: "sources", Sources: dedupSources(hits)}); err != nil {
			return err
		}
	}

	// 已有对话历史会拼进提示词，历史加载失败按无历史处理
	var history []model.ChatMessage
	if conversationID != "" && s.conversationRepo != nil {
		h, err := s.conversationRepo.GetHistory(ctx, conversationID)
		if err != nil {
			log.Errorf("加载对话历史失败: %v", err)
		} else {
			history = h
		}
	}

	prompt := s.buildPrompt(hits, history, query)

	answerBuilder := &strings.Builder{}
	interceptor := &eventFragmentWriter{writer: writer, answer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamGenerate(ctx, genModel, prompt, interceptor); err != nil {
		_ = writer.WriteEvent(StreamEvent{Type: "error", Content: "生成失败，请稍后重试"})
		return err
	}

	if err := writer.WriteEvent(StreamEvent{Type: "done"}); err != nil {
		return err
	}

	if conversationID != "" && answerBuilder.Len() > 0 {
		// 使用后台上下文，即使原始请求被取消也要保存已生成的答案
		if err := s.saveHistory(context.Background(), conversationID, query, answerBuilder.String()); err != nil {
			// 只记录错误，不返回给客户端，因为流式响应已经成功
			log.Errorf("保存对话历史失败: %v", err)
		}
	}
	return nil
}

// dedupSources 按文档去重命中的分块，保留每份文档的最高得分。
// 输入已按得分降序排列，首个出现的即为该文档的最高分。
func dedupSources(hits []model.RetrievedChunk) []SourceRef {
	seen := make(map[string]bool, len(hits))
	refs := make([]SourceRef, 0, len(hits))
	for _, h := range hits {
		if seen[h.ContentMD5] {
			continue
		}
		seen[h.ContentMD5] = true
		refs = append(refs, SourceRef{
			FileName:   h.FileName,
			ContentMD5: h.ContentMD5,
			Score:      h.Score,
		})
	}
	return refs
}

// buildPrompt 组装提示词：规则、包裹在引用符之间的上下文分块、最近若干轮历史、用户问题。
func (s *chatService) buildPrompt(hits []model.RetrievedChunk, history []model.ChatMessage, query string) string {
	rules := config.Conf.Prompt.Rules
	if rules == "" {
		rules = "请基于给定的参考内容回答问题，参考内容不足以回答时要明确说明。"
	}
	refStart := config.Conf.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := config.Conf.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sb strings.Builder
	sb.WriteString(rules)
	sb.WriteString("\n\n")
	if len(hits) > 0 {
		sb.WriteString(refStart)
		sb.WriteString("\n")
		for i, h := range hits {
			sb.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, h.FileName, h.TextContent))
		}
		sb.WriteString(refEnd)
		sb.WriteString("\n\n")
	}
	if len(history) > 0 {
		sb.WriteString("对话历史:\n")
		for _, msg := range history {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("问题: ")
	sb.WriteString(query)
	return sb.String()
}

func (s *chatService) noResultText() string {
	if t := config.Conf.Prompt.NoResultText; t != "" {
		return t
	}
	return "No relevant information found."
}

// saveHistory 把本轮问答追加到对话历史。
func (s *chatService) saveHistory(ctx context.Context, conversationID, question, answer string) error {
	if s.conversationRepo == nil {
		return nil
	}
	now := time.Now()
	return s.conversationRepo.AppendHistory(ctx, conversationID,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
}

// eventFragmentWriter 将后端的回答分块包装成 response 事件，并累积完整答案。
type eventFragmentWriter struct {
	writer     EventWriter
	answer     *strings.Builder
	shouldStop func() bool
}

// WriteFragment 满足 llm.FragmentWriter 接口。
func (w *eventFragmentWriter) WriteFragment(text string) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.answer.WriteString(text)
	return w.writer.WriteEvent(StreamEvent{Type: "response", Content: text})
}
