package kafka

import (
	"errors"
	"fmt"
	"testing"
	"wherespace-go/internal/pipeline"

	"github.com/stretchr/testify/assert"
)

func TestCountsTowardRetryLimit(t *testing.T) {
	// 普通处理错误消耗重试次数
	assert.True(t, countsTowardRetryLimit(errors.New("提取文本失败")))

	// 同路径摄取冲突是暂时性的，不计入失败次数
	assert.False(t, countsTowardRetryLimit(pipeline.ErrPathInFlight))
	assert.False(t, countsTowardRetryLimit(fmt.Errorf("%w: /tmp/doc.txt", pipeline.ErrPathInFlight)))
}
