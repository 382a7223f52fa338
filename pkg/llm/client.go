// Package llm provides a client for interacting with the Ollama generation backend.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/log"
)

// ErrBackend 表示生成后端不可达或返回了错误。
var ErrBackend = errors.New("generation backend error")

// FragmentWriter consumes answer fragments as the model produces them.
// Implementations may write to a WebSocket, an SSE stream, or a test buffer.
type FragmentWriter interface {
	WriteFragment(text string) error
}

// Client defines the interface for the generation backend.
type Client interface {
	// StreamGenerate 以流式方式生成回答，每个分块经由 writer 下发。
	// writer 返回错误或 ctx 取消时立即停止读取后端流。
	StreamGenerate(ctx context.Context, modelName, prompt string, writer FragmentWriter) error
	// ListModels 返回后端当前可用的模型清单。
	ListModels(ctx context.Context) ([]model.ModelDescriptor, error)
}

type ollamaClient struct {
	cfg    config.OllamaConfig
	client *http.Client
}

// NewClient creates a new Ollama client from the config.
func NewClient(cfg config.OllamaConfig) Client {
	return &ollamaClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
	Done     bool   `json:"done"`
}

// StreamGenerate calls Ollama /api/generate and forwards NDJSON fragments to the writer.
func (c *ollamaClient) StreamGenerate(ctx context.Context, modelName, prompt string, writer FragmentWriter) error {
	reqBody := generateRequest{
		Model:   modelName,
		Prompt:  prompt,
		Stream:  true,
		Options: c.buildOptions(),
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal generate request: %w", err)
	}

	timeout := time.Duration(c.cfg.GenerateTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/generate", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 调用生成接口失败, model: %s, error: %v", modelName, err)
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Errorf("[LLMClient] 生成接口返回非 200 状态码: %s, body: %s", resp.Status, string(bodyBytes))
		return fmt.Errorf("%w: status %s", ErrBackend, resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		if err := ctx.Err(); err != nil {
			// 调用方取消：停止读取并关闭连接，不再下发任何分块
			return err
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: failed to read from stream: %v", ErrBackend, err)
		}

		var chunk generateResponse
		if err := json.Unmarshal(bytes.TrimSpace(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("%w: %s", ErrBackend, chunk.Error)
		}
		if chunk.Response != "" {
			if err := writer.WriteFragment(chunk.Response); err != nil {
				return fmt.Errorf("failed to write fragment: %w", err)
			}
		}
		if chunk.Done {
			break
		}
	}
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// ListModels calls Ollama /api/tags and returns the installed models.
func (c *ollamaClient) ListModels(ctx context.Context) ([]model.ModelDescriptor, error) {
	timeout := time.Duration(c.cfg.ListTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 获取模型列表失败, error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tags returned status %s", ErrBackend, resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	descriptors := make([]model.ModelDescriptor, 0, len(tags.Models))
	for _, m := range tags.Models {
		descriptors = append(descriptors, model.ModelDescriptor{
			Name:          m.Name,
			Size:          m.Size,
			SizeFormatted: FormatSize(m.Size),
			ModifiedAt:    m.ModifiedAt,
		})
	}
	return descriptors, nil
}

// buildOptions 从配置注入生成参数（零值不注入）。
func (c *ollamaClient) buildOptions() map[string]interface{} {
	opts := make(map[string]interface{})
	if c.cfg.Generation.Temperature != 0 {
		opts["temperature"] = c.cfg.Generation.Temperature
	}
	if c.cfg.Generation.TopP != 0 {
		opts["top_p"] = c.cfg.Generation.TopP
	}
	if c.cfg.Generation.NumCtx != 0 {
		opts["num_ctx"] = c.cfg.Generation.NumCtx
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// FormatSize 将字节数格式化为人类可读的形式，例如 "4.2 GB"。
func FormatSize(bytesSize int64) string {
	size := float64(bytesSize)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024.0 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.1f PB", size)
}
