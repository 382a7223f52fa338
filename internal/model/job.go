package model

// JobState 表示单个文件摄取作业所处的阶段。
type JobState string

// 摄取作业状态机：Discovered → Extracting → Chunking → Embedding → Storing → Complete，
// 任一非终态都可能转入 Failed。
const (
	JobDiscovered JobState = "discovered"
	JobExtracting JobState = "extracting"
	JobChunking   JobState = "chunking"
	JobEmbedding  JobState = "embedding"
	JobStoring    JobState = "storing"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
)

// FileOutcome 记录单个文件摄取的最终结果。
type FileOutcome struct {
	JobID      string   `json:"jobId"`
	Path       string   `json:"path"`
	State      JobState `json:"state"`
	ChunkCount int      `json:"chunkCount"`
	Skipped    bool     `json:"skipped"` // 内容哈希重复，直接跳过
	Error      string   `json:"error,omitempty"`
}

// IngestReport 是一次目录摄取的汇总报告，单文件失败不影响其余文件。
type IngestReport struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Outcomes  []FileOutcome `json:"outcomes"`
}
