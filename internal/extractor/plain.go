package extractor

import (
	"fmt"
	"io"
)

// PlainTextExtractor 处理本身即为文本的格式（txt/md/csv/json/xml/html 等）。
type PlainTextExtractor struct{}

// Extract 读取全部内容并原样返回。
func (e *PlainTextExtractor) Extract(r io.Reader, fileName string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取文件 '%s' 失败: %w", fileName, err)
	}
	return string(data), nil
}
