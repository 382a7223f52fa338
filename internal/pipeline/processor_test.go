package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"wherespace-go/internal/chunker"
	"wherespace-go/internal/config"
	"wherespace-go/internal/extractor"
	"wherespace-go/internal/model"
	"wherespace-go/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEmbedder struct {
	batchSize int
	calls     int
	failAfter int // 第 N 次调用起返回错误，0 表示不失败
	modelID   string
}

func (m *memEmbedder) EmbedBatch(ctx context.Context, texts []string) (*embedding.Result, error) {
	m.calls++
	if m.failAfter > 0 && m.calls >= m.failAfter {
		return nil, errors.New("embedding backend down")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	id := m.modelID
	if id == "" {
		id = "nomic-embed-text"
	}
	return &embedding.Result{Vectors: vectors, ModelID: id}, nil
}

func (m *memEmbedder) BatchSize() int {
	if m.batchSize > 0 {
		return m.batchSize
	}
	return 10
}

type memVectorStore struct {
	upserts   map[string][]model.EsChunk
	deleted   []string
	flushed   bool
	upsertErr error
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{upserts: make(map[string][]model.EsChunk)}
}

func (s *memVectorStore) UpsertChunks(ctx context.Context, contentMD5 string, chunks []model.EsChunk) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts[contentMD5] = chunks
	return nil
}

func (s *memVectorStore) DeleteByContentMD5(ctx context.Context, contentMD5 string) error {
	s.deleted = append(s.deleted, contentMD5)
	return nil
}

func (s *memVectorStore) DeleteAll(ctx context.Context) error {
	s.flushed = true
	s.upserts = make(map[string][]model.EsChunk)
	return nil
}

type memDocRepo struct {
	byMD5   map[string]*model.Document
	cleared bool
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{byMD5: make(map[string]*model.Document)}
}

func (r *memDocRepo) Create(doc *model.Document) error {
	r.byMD5[doc.ContentMD5] = doc
	return nil
}

func (r *memDocRepo) FindByContentMD5(contentMD5 string) (*model.Document, error) {
	return r.byMD5[contentMD5], nil
}

func (r *memDocRepo) FindBySourcePath(sourcePath string) (*model.Document, error) {
	for _, d := range r.byMD5 {
		if d.SourcePath == sourcePath {
			return d, nil
		}
	}
	return nil, nil
}

func (r *memDocRepo) ListWithChunkCounts() ([]model.DocumentInfoDTO, error) {
	return nil, nil
}

func (r *memDocRepo) ReplaceForSourcePath(doc *model.Document, chunks []*model.DocumentChunk) error {
	for md5, d := range r.byMD5 {
		if d.SourcePath == doc.SourcePath {
			delete(r.byMD5, md5)
		}
	}
	r.byMD5[doc.ContentMD5] = doc
	return nil
}

func (r *memDocRepo) DeleteAll() error {
	r.byMD5 = make(map[string]*model.Document)
	r.cleared = true
	return nil
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		Workers:     2,
		Extensions:  []string{"txt", "md"},
		MaxFileSize: 1024 * 1024,
	}
}

func newTestProcessor(embedder embedding.Client, store VectorStore, repo *memDocRepo) *Processor {
	ck, _ := chunker.New(50, 10)
	return NewProcessor(
		extractor.NewRegistry(config.TikaConfig{}),
		ck,
		embedder,
		store,
		nil,
		repo,
		nil,
		testIngestConfig(),
	)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestFile_HappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("知识内容。", 40))

	embedder := &memEmbedder{batchSize: 3}
	store := newMemVectorStore()
	repo := newMemDocRepo()
	p := newTestProcessor(embedder, store, repo)

	outcome := p.IngestFile(context.Background(), path)

	assert.Equal(t, model.JobComplete, outcome.State)
	assert.False(t, outcome.Skipped)
	assert.Greater(t, outcome.ChunkCount, 1)
	assert.NotEmpty(t, outcome.JobID)

	// 元数据与向量均已写入，且分块带模型版本
	require.Len(t, repo.byMD5, 1)
	require.Len(t, store.upserts, 1)
	for _, chunks := range store.upserts {
		assert.Len(t, chunks, outcome.ChunkCount)
		assert.Equal(t, "nomic-embed-text", chunks[0].ModelVersion)
	}
}

func TestIngestFile_DuplicateContentSkipped(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("重复内容。", 30)
	first := writeFile(t, dir, "a.txt", content)
	second := writeFile(t, dir, "b.txt", content)

	embedder := &memEmbedder{}
	store := newMemVectorStore()
	repo := newMemDocRepo()
	p := newTestProcessor(embedder, store, repo)

	out1 := p.IngestFile(context.Background(), first)
	require.Equal(t, model.JobComplete, out1.State)
	callsAfterFirst := embedder.calls

	out2 := p.IngestFile(context.Background(), second)
	assert.Equal(t, model.JobComplete, out2.State)
	assert.True(t, out2.Skipped)
	// 重复内容完全不触发向量化
	assert.Equal(t, callsAfterFirst, embedder.calls)
	assert.Len(t, repo.byMD5, 1)
}

func TestIngestFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "blob.bin", "binary stuff")

	p := newTestProcessor(&memEmbedder{}, newMemVectorStore(), newMemDocRepo())
	outcome := p.IngestFile(context.Background(), path)

	assert.Equal(t, model.JobFailed, outcome.State)
	assert.Contains(t, outcome.Error, extractor.ErrUnsupportedFormat.Error())
}

func TestIngestFile_EmbeddingFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("内容。", 50))

	embedder := &memEmbedder{failAfter: 1}
	store := newMemVectorStore()
	repo := newMemDocRepo()
	p := newTestProcessor(embedder, store, repo)

	outcome := p.IngestFile(context.Background(), path)

	assert.Equal(t, model.JobFailed, outcome.State)
	// 向量化失败时不留下任何半成品写入
	assert.Empty(t, repo.byMD5)
	assert.Empty(t, store.upserts)
}

func TestIngestDirectory_PartialFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", strings.Repeat("有效内容。", 30))
	writeFile(t, dir, "empty.txt", "")
	writeFile(t, dir, "ignored.bin", "not supported")

	p := newTestProcessor(&memEmbedder{}, newMemVectorStore(), newMemDocRepo())
	report, err := p.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	// .bin 不在白名单内，根本不进入作业列表
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
}

func TestIngestDirectory_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "内容")

	p := newTestProcessor(&memEmbedder{}, newMemVectorStore(), newMemDocRepo())
	_, err := p.IngestDirectory(context.Background(), path)
	require.Error(t, err)
}

func TestFlush_ClearsAllStores(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("内容。", 40))

	store := newMemVectorStore()
	repo := newMemDocRepo()
	p := newTestProcessor(&memEmbedder{}, store, repo)

	require.Equal(t, model.JobComplete, p.IngestFile(context.Background(), path).State)
	require.NoError(t, p.Flush(context.Background()))

	assert.True(t, repo.cleared)
	assert.True(t, store.flushed)
	assert.Empty(t, repo.byMD5)
}

// blockingVectorStore 在 UpsertChunks 进入时通知并阻塞，用于制造摄取进行中的场景。
type blockingVectorStore struct {
	*memVectorStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingVectorStore) UpsertChunks(ctx context.Context, contentMD5 string, chunks []model.EsChunk) error {
	close(s.entered)
	<-s.release
	return s.memVectorStore.UpsertChunks(ctx, contentMD5, chunks)
}

func TestFlush_RejectedWhileIngestInFlight(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("内容。", 40))

	store := &blockingVectorStore{
		memVectorStore: newMemVectorStore(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	repo := newMemDocRepo()
	p := newTestProcessor(&memEmbedder{}, store, repo)

	done := make(chan model.FileOutcome, 1)
	go func() { done <- p.IngestFile(context.Background(), path) }()

	// 摄取已进入落库阶段，此时清库必须被整体拒绝，不能删掉任何一侧
	<-store.entered
	err := p.Flush(context.Background())
	require.ErrorIs(t, err, ErrIngestInFlight)
	assert.False(t, repo.cleared)
	assert.False(t, store.flushed)

	close(store.release)
	out := <-done
	require.Equal(t, model.JobComplete, out.State)

	// 作业结束后清库正常执行
	require.NoError(t, p.Flush(context.Background()))
	assert.True(t, repo.cleared)
	assert.True(t, store.flushed)
}

func TestIngestFile_ReplacesChangedContentAtSamePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("第一版内容。", 20))

	store := newMemVectorStore()
	repo := newMemDocRepo()
	p := newTestProcessor(&memEmbedder{}, store, repo)

	require.Equal(t, model.JobComplete, p.IngestFile(context.Background(), path).State)

	// 同一路径写入新内容后重新摄取，旧文档被替换而不是并存
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("第二版内容。", 20)), 0o644))
	out := p.IngestFile(context.Background(), path)
	require.Equal(t, model.JobComplete, out.State)
	assert.False(t, out.Skipped)
	assert.Len(t, repo.byMD5, 1)
}
