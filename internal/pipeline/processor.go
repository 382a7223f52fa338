// Package pipeline 定义了文档摄取的核心流程。
// 单个文件的摄取经过固定的阶段序列：发现、提取、分块、向量化、落库，
// 任一阶段失败都会使该文件进入失败终态，但不影响其他文件。
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
	"wherespace-go/internal/chunker"
	"wherespace-go/internal/config"
	"wherespace-go/internal/extractor"
	"wherespace-go/internal/model"
	"wherespace-go/internal/repository"
	"wherespace-go/pkg/embedding"
	"wherespace-go/pkg/log"
	"wherespace-go/pkg/storage"
	"wherespace-go/pkg/tasks"

	"github.com/google/uuid"
)

var (
	// ErrIngestInFlight 表示 flush 时仍有摄取作业在进行。
	ErrIngestInFlight = errors.New("ingest jobs still in flight")
	// ErrPathInFlight 表示同一来源路径的摄取作业尚未结束。
	ErrPathInFlight = errors.New("path is already being ingested")
)

// VectorStore 抽象分块向量的写入与删除。
type VectorStore interface {
	UpsertChunks(ctx context.Context, contentMD5 string, chunks []model.EsChunk) error
	DeleteByContentMD5(ctx context.Context, contentMD5 string) error
	DeleteAll(ctx context.Context) error
}

// ObjectArchive 抽象原始文档的归档存储。
type ObjectArchive interface {
	Archive(ctx context.Context, objectName string, r io.Reader, size int64) error
	Fetch(ctx context.Context, objectName string) ([]byte, error)
	RemoveAll(ctx context.Context) error
}

// TaskProducer 把异步摄取任务投递到消息队列。
type TaskProducer func(task tasks.FileIngestTask) error

// Processor 封装了文档摄取的所有依赖和逻辑。
type Processor struct {
	extractors      *extractor.Registry
	chunker         *chunker.Chunker
	embeddingClient embedding.Client
	vectorStore     VectorStore
	archive         ObjectArchive
	docRepo         repository.DocumentRepository
	produce         TaskProducer
	ingestCfg       config.IngestConfig

	mu       sync.Mutex
	inFlight map[string]struct{} // 以来源路径为键的单飞保护
	flushMu  sync.RWMutex        // 作业持读锁，flush 持写锁，两者互斥
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractors *extractor.Registry,
	ck *chunker.Chunker,
	embeddingClient embedding.Client,
	vectorStore VectorStore,
	archive ObjectArchive,
	docRepo repository.DocumentRepository,
	produce TaskProducer,
	ingestCfg config.IngestConfig,
) *Processor {
	return &Processor{
		extractors:      extractors,
		chunker:         ck,
		embeddingClient: embeddingClient,
		vectorStore:     vectorStore,
		archive:         archive,
		docRepo:         docRepo,
		produce:         produce,
		ingestCfg:       ingestCfg,
		inFlight:        make(map[string]struct{}),
	}
}

// acquire 对来源路径加单飞锁，同一路径并发摄取时后到者直接失败。
// 成功时同时持有 flushMu 的读锁，作业结束前 Flush 无法开始删除。
func (p *Processor) acquire(path string) bool {
	p.flushMu.RLock()
	p.mu.Lock()
	if _, busy := p.inFlight[path]; busy {
		p.mu.Unlock()
		p.flushMu.RUnlock()
		return false
	}
	p.inFlight[path] = struct{}{}
	p.mu.Unlock()
	return true
}

func (p *Processor) release(path string) {
	p.mu.Lock()
	delete(p.inFlight, path)
	p.mu.Unlock()
	p.flushMu.RUnlock()
}

func (p *Processor) busyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// IngestFile 同步摄取单个本地文件，返回该文件的最终结果。
// 内容哈希与已有文档重复时跳过全部后续阶段，不做任何向量化调用。
func (p *Processor) IngestFile(ctx context.Context, path string) model.FileOutcome {
	jobID := uuid.NewString()
	outcome := model.FileOutcome{JobID: jobID, Path: path, State: model.JobDiscovered}

	if !p.acquire(path) {
		outcome.State = model.JobFailed
		outcome.Error = ErrPathInFlight.Error()
		return outcome
	}
	defer p.release(path)

	content, err := p.readFile(path)
	if err != nil {
		outcome.State = model.JobFailed
		outcome.Error = err.Error()
		log.Errorf("[Processor] 读取文件失败, path=%s: %v", path, err)
		return outcome
	}

	return p.ingestBytes(ctx, jobID, path, filepath.Base(path), content)
}

// readFile 读取文件并执行大小上限检查。
func (p *Processor) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("无法访问文件: %w", err)
	}
	if p.ingestCfg.MaxFileSize > 0 && info.Size() > p.ingestCfg.MaxFileSize {
		return nil, fmt.Errorf("文件大小 %d 超过上限 %d", info.Size(), p.ingestCfg.MaxFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if len(content) == 0 {
		return nil, errors.New("文件内容为空")
	}
	return content, nil
}

// ingestBytes 是摄取状态机的主体，驱动单个文件走完全部阶段。
func (p *Processor) ingestBytes(ctx context.Context, jobID, sourcePath, fileName string, content []byte) model.FileOutcome {
	outcome := model.FileOutcome{JobID: jobID, Path: sourcePath, State: model.JobDiscovered}
	contentMD5 := fmt.Sprintf("%x", md5.Sum(content))

	log.Infof("[Processor] 开始摄取, JobID=%s, FileName=%s, MD5=%s", jobID, fileName, contentMD5)

	// 去重：内容哈希已存在则直接完成，不触碰后续阶段
	existing, err := p.docRepo.FindByContentMD5(contentMD5)
	if err != nil {
		return p.fail(outcome, fmt.Errorf("查询文档去重记录失败: %w", err))
	}
	if existing != nil {
		log.Infof("[Processor] 内容重复，跳过摄取: FileName=%s, 已有文档=%s", fileName, existing.FileName)
		outcome.State = model.JobComplete
		outcome.Skipped = true
		return outcome
	}

	// 提取
	outcome.State = model.JobExtracting
	ext, err := p.extractors.ForFile(fileName)
	if err != nil {
		return p.fail(outcome, err)
	}
	text, err := ext.Extract(bytes.NewReader(content), fileName)
	if err != nil {
		return p.fail(outcome, fmt.Errorf("提取文本失败: %w", err))
	}
	if strings.TrimSpace(text) == "" {
		return p.fail(outcome, errors.New("提取的文本内容为空"))
	}
	log.Infof("[Processor] 文本提取成功, JobID=%s, 长度 %d 字符", jobID, utf8.RuneCountInString(text))

	// 分块
	outcome.State = model.JobChunking
	spans := p.chunker.Chunk(text)
	if len(spans) == 0 {
		return p.fail(outcome, errors.New("未生成任何文本分块"))
	}
	log.Infof("[Processor] 文本分块完成, JobID=%s, 共 %d 个分块", jobID, len(spans))

	// 向量化
	outcome.State = model.JobEmbedding
	vectors, modelID, err := p.embedAll(ctx, spans)
	if err != nil {
		return p.fail(outcome, err)
	}

	// 落库
	outcome.State = model.JobStoring
	if err := p.store(ctx, sourcePath, fileName, contentMD5, content, spans, vectors, modelID); err != nil {
		return p.fail(outcome, err)
	}

	outcome.State = model.JobComplete
	outcome.ChunkCount = len(spans)
	log.Infof("[Processor] 摄取完成, JobID=%s, FileName=%s, %d 个分块", jobID, fileName, len(spans))
	return outcome
}

func (p *Processor) fail(outcome model.FileOutcome, err error) model.FileOutcome {
	log.Errorf("[Processor] 摄取失败, JobID=%s, 阶段=%s: %v", outcome.JobID, outcome.State, err)
	outcome.State = model.JobFailed
	outcome.Error = err.Error()
	return outcome
}

// embedAll 按配置的批大小把全部分块送去向量化。
// 整个文件必须使用同一个嵌入模型：批次之间发生模型切换时放弃本次摄取。
func (p *Processor) embedAll(ctx context.Context, spans []chunker.Span) ([][]float32, string, error) {
	batchSize := p.embeddingClient.BatchSize()
	vectors := make([][]float32, 0, len(spans))
	modelID := ""

	for start := 0; start < len(spans); start += batchSize {
		end := start + batchSize
		if end > len(spans) {
			end = len(spans)
		}
		texts := make([]string, 0, end-start)
		for _, s := range spans[start:end] {
			texts = append(texts, s.Text)
		}

		result, err := p.embeddingClient.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, "", fmt.Errorf("向量化失败 (分块 %d-%d): %w", start, end-1, err)
		}
		if modelID == "" {
			modelID = result.ModelID
		} else if result.ModelID != modelID {
			return nil, "", fmt.Errorf("嵌入模型在摄取过程中发生切换 (%s -> %s)", modelID, result.ModelID)
		}
		vectors = append(vectors, result.Vectors...)
	}
	return vectors, modelID, nil
}

// store 执行两阶段写入：先在 MySQL 事务内替换文档与分块元数据，
// 再把向量写入 Elasticsearch，最后归档原始文件。
// 归档失败只记录告警，不回滚已完成的写入。
func (p *Processor) store(ctx context.Context, sourcePath, fileName, contentMD5 string, content []byte, spans []chunker.Span, vectors [][]float32, modelID string) error {
	doc := &model.Document{
		FileName:   fileName,
		SourcePath: sourcePath,
		ContentMD5: contentMD5,
		FileType:   strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")),
		FileSize:   int64(len(content)),
	}

	dbChunks := make([]*model.DocumentChunk, 0, len(spans))
	esChunks := make([]model.EsChunk, 0, len(spans))
	for i, s := range spans {
		dbChunks = append(dbChunks, &model.DocumentChunk{
			ChunkIndex:   s.Index,
			TextContent:  s.Text,
			StartOffset:  s.Start,
			EndOffset:    s.End,
			ModelVersion: modelID,
		})
		esChunks = append(esChunks, model.EsChunk{
			VectorID:     fmt.Sprintf("%s_%d", contentMD5, s.Index),
			ContentMD5:   contentMD5,
			FileName:     fileName,
			ChunkIndex:   s.Index,
			TextContent:  s.Text,
			StartOffset:  s.Start,
			EndOffset:    s.End,
			Vector:       vectors[i],
			ModelVersion: modelID,
		})
	}

	if err := p.docRepo.ReplaceForSourcePath(doc, dbChunks); err != nil {
		return fmt.Errorf("保存文档元数据失败: %w", err)
	}
	if err := p.vectorStore.UpsertChunks(ctx, contentMD5, esChunks); err != nil {
		return fmt.Errorf("写入向量存储失败: %w", err)
	}

	if p.archive != nil {
		objectName := storage.DocumentObjectName(contentMD5, fileName)
		if err := p.archive.Archive(ctx, objectName, bytes.NewReader(content), int64(len(content))); err != nil {
			log.Warnf("[Processor] 归档原始文档失败, FileName=%s: %v", fileName, err)
		}
	}
	return nil
}

// IngestDirectory 递归摄取目录下的全部受支持文件。
// 文件之间通过固定大小的 worker 池并发处理，单文件失败只影响它自己。
func (p *Processor) IngestDirectory(ctx context.Context, dir string) (*model.IngestReport, error) {
	paths, err := p.discover(dir)
	if err != nil {
		return nil, err
	}
	log.Infof("[Processor] 目录扫描完成, dir=%s, 待摄取 %d 个文件", dir, len(paths))

	workers := p.ingestCfg.Workers
	if workers <= 0 {
		workers = 4
	}

	jobs := make(chan string)
	var (
		wg        sync.WaitGroup
		outcomeMu sync.Mutex
		outcomes  = make([]model.FileOutcome, 0, len(paths))
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					return
				}
				outcome := p.IngestFile(ctx, path)
				outcomeMu.Lock()
				outcomes = append(outcomes, outcome)
				outcomeMu.Unlock()
			}
		}()
	}

	for _, path := range paths {
		select {
		case jobs <- path:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	report := &model.IngestReport{Total: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			report.Skipped++
		case o.State == model.JobComplete:
			report.Succeeded++
		default:
			report.Failed++
		}
	}
	log.Infof("[Processor] 目录摄取完成: total=%d, succeeded=%d, skipped=%d, failed=%d",
		report.Total, report.Succeeded, report.Skipped, report.Failed)
	return report, nil
}

// discover 递归收集目录下扩展名受支持的文件路径。
func (p *Processor) discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("无法访问目录: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("路径不是目录: %s", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("[Processor] 跳过无法访问的路径 %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if p.supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// supported 判断文件扩展名是否在配置的摄取白名单内。
func (p *Processor) supported(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	for _, allowed := range p.ingestCfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// EnqueueFile 把单个文件的摄取投递到消息队列异步执行。
// 文件内容先归档到对象存储，消费者再从那里读回，队列里只传元数据。
func (p *Processor) EnqueueFile(ctx context.Context, path string) (string, error) {
	if p.produce == nil {
		return "", errors.New("消息队列未启用")
	}
	content, err := p.readFile(path)
	if err != nil {
		return "", err
	}

	contentMD5 := fmt.Sprintf("%x", md5.Sum(content))
	fileName := filepath.Base(path)
	objectName := storage.DocumentObjectName(contentMD5, fileName)
	if err := p.archive.Archive(ctx, objectName, bytes.NewReader(content), int64(len(content))); err != nil {
		return "", err
	}

	task := tasks.FileIngestTask{
		JobID:      uuid.NewString(),
		ContentMD5: contentMD5,
		ObjectName: objectName,
		FileName:   fileName,
		SourcePath: path,
		FileSize:   int64(len(content)),
	}
	if err := p.produce(task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[Processor] 摄取任务已入队, JobID=%s, FileName=%s", task.JobID, task.FileName)
	return task.JobID, nil
}

// Process 消费一条异步摄取任务，从对象存储读回原始内容后走同步流程。
// 由 Kafka 消费者调用，返回错误时消费者按既定策略重试。
func (p *Processor) Process(ctx context.Context, task tasks.FileIngestTask) error {
	content, err := p.archive.Fetch(ctx, task.ObjectName)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return errors.New("归档文档内容为空")
	}

	if !p.acquire(task.SourcePath) {
		return fmt.Errorf("%w: %s", ErrPathInFlight, task.SourcePath)
	}
	defer p.release(task.SourcePath)

	outcome := p.ingestBytes(ctx, task.JobID, task.SourcePath, task.FileName, content)
	if outcome.State == model.JobFailed {
		return errors.New(outcome.Error)
	}
	return nil
}

// Flush 清空知识库：MySQL 元数据、Elasticsearch 向量与 MinIO 归档全部删除。
// 有摄取作业进行中时拒绝执行，避免半成品文档逃过清理。
// 写锁在整个删除序列期间持有，期间新作业在 acquire 处等待。
func (p *Processor) Flush(ctx context.Context) error {
	if !p.flushMu.TryLock() {
		return fmt.Errorf("%w: %d 个作业进行中", ErrIngestInFlight, p.busyCount())
	}
	defer p.flushMu.Unlock()

	if err := p.docRepo.DeleteAll(); err != nil {
		return fmt.Errorf("清空文档元数据失败: %w", err)
	}
	if err := p.vectorStore.DeleteAll(ctx); err != nil {
		return fmt.Errorf("清空向量存储失败: %w", err)
	}
	if p.archive != nil {
		if err := p.archive.RemoveAll(ctx); err != nil {
			return fmt.Errorf("清空归档文档失败: %w", err)
		}
	}
	log.Info("[Processor] 知识库已清空")
	return nil
}
