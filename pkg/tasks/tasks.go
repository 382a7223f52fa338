// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// FileIngestTask represents the data structure for an async file ingestion job.
// The file itself has already been archived to object storage before the task
// is produced, so consumers re-read it from there rather than from local disk.
type FileIngestTask struct {
	JobID      string `json:"job_id"`
	ContentMD5 string `json:"content_md5"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	SourcePath string `json:"source_path"`
	FileSize   int64  `json:"file_size"`
}
