package registry

import (
	"context"
	"errors"
	"testing"
	"wherespace-go/internal/config"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	models  []model.ModelDescriptor
	listErr error
}

func (f *fakeLLM) StreamGenerate(ctx context.Context, modelName, prompt string, writer llm.FragmentWriter) error {
	return nil
}

func (f *fakeLLM) ListModels(ctx context.Context) ([]model.ModelDescriptor, error) {
	return f.models, f.listErr
}

func testConfig() config.OllamaConfig {
	return config.OllamaConfig{
		DefaultGenerateModel: "llama3.1",
		DefaultEmbedModel:    "nomic-embed-text",
	}
}

func TestGet_DefaultsFromConfig(t *testing.T) {
	r := New(&fakeLLM{}, nil, testConfig())

	assert.Equal(t, "llama3.1", r.Get(model.RoleGeneration))
	assert.Equal(t, "nomic-embed-text", r.Get(model.RoleEmbedding))
}

func TestSet_SwitchesCurrentModel(t *testing.T) {
	backend := &fakeLLM{models: []model.ModelDescriptor{
		{Name: "llama3.1"},
		{Name: "qwen2.5"},
	}}
	r := New(backend, nil, testConfig())

	err := r.Set(context.Background(), model.RoleGeneration, "qwen2.5")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", r.Get(model.RoleGeneration))
	// 嵌入模型不受影响
	assert.Equal(t, "nomic-embed-text", r.Get(model.RoleEmbedding))
}

func TestSet_UnknownModelRejected(t *testing.T) {
	backend := &fakeLLM{models: []model.ModelDescriptor{{Name: "llama3.1"}}}
	r := New(backend, nil, testConfig())

	err := r.Set(context.Background(), model.RoleGeneration, "no-such-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, "llama3.1", r.Get(model.RoleGeneration))
}

func TestSet_BackendUnavailable(t *testing.T) {
	backend := &fakeLLM{listErr: errors.New("connection refused")}
	r := New(backend, nil, testConfig())

	err := r.Set(context.Background(), model.RoleGeneration, "qwen2.5")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, "llama3.1", r.Get(model.RoleGeneration))
}

func TestSet_InvalidRole(t *testing.T) {
	r := New(&fakeLLM{}, nil, testConfig())

	err := r.Set(context.Background(), model.ModelRole("ranking"), "qwen2.5")
	require.Error(t, err)
}

func TestEmbedModelResolver_TracksSwitches(t *testing.T) {
	backend := &fakeLLM{models: []model.ModelDescriptor{
		{Name: "nomic-embed-text"},
		{Name: "mxbai-embed-large"},
	}}
	r := New(backend, nil, testConfig())
	resolve := r.EmbedModelResolver()

	assert.Equal(t, "nomic-embed-text", resolve())

	require.NoError(t, r.Set(context.Background(), model.RoleEmbedding, "mxbai-embed-large"))
	assert.Equal(t, "mxbai-embed-large", resolve())
}
