// Package registry 维护各用途当前激活的模型。
// 生成与嵌入分别记录一个当前模型，切换后立即对新请求生效；
// 选择结果持久化到 Redis，进程重启后恢复。
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/llm"
	"wherespace-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// ErrUnknownModel 表示要切换的模型不在后端可用列表中。
var ErrUnknownModel = errors.New("unknown model")

// ModelRegistry 记录每个用途当前激活的模型 id。
// 所有读写都经过互斥锁，允许并发访问。
type ModelRegistry struct {
	mu        sync.RWMutex
	current   map[model.ModelRole]string
	llmClient llm.Client
	rdb       *redis.Client
}

func redisKey(role model.ModelRole) string {
	return fmt.Sprintf("model:current:%s", role)
}

// New 创建 ModelRegistry，默认值取自配置，随后尝试用 Redis 中的持久化记录覆盖。
// Redis 不可用时退化为纯内存模式，只记录告警。
func New(llmClient llm.Client, rdb *redis.Client, cfg config.OllamaConfig) *ModelRegistry {
	r := &ModelRegistry{
		current: map[model.ModelRole]string{
			model.RoleGeneration: cfg.DefaultGenerateModel,
			model.RoleEmbedding:  cfg.DefaultEmbedModel,
		},
		llmClient: llmClient,
		rdb:       rdb,
	}
	r.loadPersisted()
	return r
}

// loadPersisted 从 Redis 恢复上次选择的模型。
func (r *ModelRegistry) loadPersisted() {
	if r.rdb == nil {
		return
	}
	for _, role := range []model.ModelRole{model.RoleGeneration, model.RoleEmbedding} {
		name, err := r.rdb.Get(context.Background(), redisKey(role)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.Warnf("从 Redis 恢复模型选择失败, role=%s: %v", role, err)
			continue
		}
		r.current[role] = name
		log.Infof("已恢复模型选择: role=%s, model=%s", role, name)
	}
}

// Get 返回某用途当前激活的模型 id。
func (r *ModelRegistry) Get(role model.ModelRole) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current[role]
}

// Set 切换某用途的当前模型。
// 先向后端确认模型存在，未知模型返回 ErrUnknownModel 且不改变当前选择；
// 持久化失败不阻断切换，内存中的选择仍然生效。
func (r *ModelRegistry) Set(ctx context.Context, role model.ModelRole, name string) error {
	if role != model.RoleGeneration && role != model.RoleEmbedding {
		return fmt.Errorf("无效的模型用途: %s", role)
	}

	available, err := r.llmClient.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("无法获取后端模型列表: %w", err)
	}
	found := false
	for _, m := range available {
		if m.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}

	r.mu.Lock()
	r.current[role] = name
	r.mu.Unlock()

	if r.rdb != nil {
		if err := r.rdb.Set(ctx, redisKey(role), name, 0).Err(); err != nil {
			log.Warnf("持久化模型选择失败, role=%s: %v", role, err)
		}
	}
	log.Infof("模型已切换: role=%s, model=%s", role, name)
	return nil
}

// ListAvailable 返回后端当前可用的全部模型。
func (r *ModelRegistry) ListAvailable(ctx context.Context) ([]model.ModelDescriptor, error) {
	return r.llmClient.ListModels(ctx)
}

// EmbedModelResolver 返回一个每次调用时读取当前嵌入模型的函数，
// 供嵌入客户端在每个批次开始时快照模型 id。
func (r *ModelRegistry) EmbedModelResolver() func() string {
	return func() string {
		return r.Get(model.RoleEmbedding)
	}
}
