package extractor

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor 基于 ledongthuc/pdf 做本地 PDF 文本提取，不依赖外部服务。
type PDFExtractor struct{}

// Extract 按页提取 PDF 的纯文本，单页失败跳过，整体无文本时返回错误。
func (e *PDFExtractor) Extract(r io.Reader, fileName string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取 PDF 文件 '%s' 失败: %w", fileName, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("解析 PDF '%s' 失败: %w", fileName, err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// 单页解析失败不终止整份文档
			continue
		}
		if textBuilder.Len() > 0 {
			textBuilder.WriteString("\n")
		}
		textBuilder.WriteString(text)
	}

	extracted := textBuilder.String()
	if strings.TrimSpace(extracted) == "" {
		return "", fmt.Errorf("PDF '%s' 未提取到任何文本", fileName)
	}
	return extracted, nil
}
