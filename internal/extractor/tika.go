package extractor

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"wherespace-go/internal/config"
)

// TikaExtractor 通过 Apache Tika 服务器提取 office 类文档的文本。
type TikaExtractor struct {
	serverURL string
	client    *http.Client
}

// NewTikaExtractor 创建一个新的 Tika 提取器实例。
func NewTikaExtractor(cfg config.TikaConfig) *TikaExtractor {
	return &TikaExtractor{
		serverURL: cfg.ServerURL,
		client:    &http.Client{},
	}
}

// Extract 自动根据文件后缀推断 MIME 类型，并调用 Tika 提取文本。
func (e *TikaExtractor) Extract(r io.Reader, fileName string) (string, error) {
	contentType := detectMimeType(fileName)

	req, err := http.NewRequest("PUT", e.serverURL+"/tika", r)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	return buf.String(), nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
