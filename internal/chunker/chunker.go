// Package chunker 将长文本切分为带重叠的有界分块，是检索的基本单位。
package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 表示分块参数非法（构造时校验，而不是调用时）。
var ErrInvalidConfig = errors.New("invalid chunking config")

// Span 表示一个文本分块及其在原文中的字符位置（按 rune 计）。
type Span struct {
	Index int // 文档内 0 起始的连续序号
	Text  string
	Start int // 起始 rune 偏移（含）
	End   int // 结束 rune 偏移（不含）
}

// Chunker 按固定窗口与重叠量切分文本，切分结果对相同输入完全确定。
type Chunker struct {
	maxSize int
	overlap int
}

// New 创建一个 Chunker。overlap >= maxSize 或 maxSize <= 0 属于配置错误。
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max_size 必须为正数, got %d", ErrInvalidConfig, maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap 不能为负数, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap (%d) 必须小于 max_size (%d)", ErrInvalidConfig, overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Chunk 将文本切分为有序分块序列。
// 相邻分块重叠 overlap 个字符，原文的每个字符都至少出现在一个分块中；
// 文本长度不超过 maxSize 时恰好返回一个分块，空文本返回 nil。
func (c *Chunker) Chunk(text string) []Span {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.maxSize - c.overlap
	var spans []Span
	for i := 0; i < len(runes); i += step {
		end := i + c.maxSize
		if end > len(runes) {
			end = len(runes)
		}
		spans = append(spans, Span{
			Index: len(spans),
			Text:  string(runes[i:end]),
			Start: i,
			End:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return spans
}

// MaxSize 返回配置的分块上限。
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap 返回配置的重叠字符数。
func (c *Chunker) Overlap() int { return c.overlap }
