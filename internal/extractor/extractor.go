// Package extractor 将不同格式的文件内容提取为纯文本。
// 每种格式对应一个实现，通过扩展名到实现的映射做选择，不做运行时类型探测。
package extractor

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"wherespace-go/internal/config"
)

// ErrUnsupportedFormat 表示没有可用的提取器能处理该文件格式。
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extractor 定义了文本提取能力。
type Extractor interface {
	// Extract 从文件内容中提取纯文本。
	Extract(r io.Reader, fileName string) (string, error)
}

// Registry 维护扩展名到提取器的映射。
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry 根据配置构建提取器注册表。
// 纯文本家族与 PDF 始终可用；配置了 Tika 服务器时，office 类格式走 Tika。
func NewRegistry(tikaCfg config.TikaConfig) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}

	plain := &PlainTextExtractor{}
	for _, ext := range []string{"txt", "md", "rst", "csv", "json", "xml", "html", "log"} {
		r.Register(ext, plain)
	}
	r.Register("pdf", &PDFExtractor{})

	if tikaCfg.ServerURL != "" {
		tika := NewTikaExtractor(tikaCfg)
		for _, ext := range []string{"doc", "docx", "ppt", "pptx", "xls", "xlsx", "epub", "rtf", "odt"} {
			r.Register(ext, tika)
		}
	}
	return r
}

// Register 注册一个扩展名对应的提取器，后注册的覆盖先注册的。
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// ForFile 返回能处理该文件的提取器，未注册的扩展名返回 ErrUnsupportedFormat。
func (r *Registry) ForFile(fileName string) (Extractor, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if e, ok := r.byExt[ext]; ok {
		return e, nil
	}
	return nil, ErrUnsupportedFormat
}

// Supports 判断该文件是否有注册的提取器。
func (r *Registry) Supports(fileName string) bool {
	_, err := r.ForFile(fileName)
	return err == nil
}
