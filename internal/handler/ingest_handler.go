package handler

import (
	"errors"
	"net/http"
	"wherespace-go/internal/pipeline"
	"wherespace-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IngestHandler 负责处理文档摄取请求。
type IngestHandler struct {
	processor *pipeline.Processor
}

// NewIngestHandler 创建一个新的 IngestHandler。
func NewIngestHandler(processor *pipeline.Processor) *IngestHandler {
	return &IngestHandler{processor: processor}
}

type ingestDirectoryRequest struct {
	Dir string `json:"dir" binding:"required"`
}

type ingestFileRequest struct {
	Path string `json:"path" binding:"required"`
	// Async 为 true 时任务投递到消息队列，立即返回 jobId
	Async bool `json:"async"`
}

// IngestDirectory 处理 POST /api/v1/ingest/directory。
// 同步执行整个目录的摄取并返回逐文件报告，单文件失败不影响整体。
func (h *IngestHandler) IngestDirectory(c *gin.Context) {
	var req ingestDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "dir 不能为空", "data": nil})
		return
	}

	report, err := h.processor.IngestDirectory(c.Request.Context(), req.Dir)
	if err != nil {
		log.Errorf("目录摄取失败, dir=%s: %v", req.Dir, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}

// IngestFile 处理 POST /api/v1/ingest/file。
// 默认同步摄取并返回文件结果；async 模式下归档后入队，返回 jobId。
func (h *IngestHandler) IngestFile(c *gin.Context) {
	var req ingestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "path 不能为空", "data": nil})
		return
	}

	if req.Async {
		jobID, err := h.processor.EnqueueFile(c.Request.Context(), req.Path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "accepted", "data": gin.H{"jobId": jobID}})
		return
	}

	outcome := h.processor.IngestFile(c.Request.Context(), req.Path)
	status := http.StatusOK
	if outcome.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"code": status, "message": "success", "data": outcome})
}

// Flush 处理 DELETE /api/v1/documents，清空整个知识库。
// 有摄取作业进行中时返回 409。
func (h *IngestHandler) Flush(c *gin.Context) {
	if err := h.processor.Flush(c.Request.Context()); err != nil {
		if errors.Is(err, pipeline.ErrIngestInFlight) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("清空知识库失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空知识库失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
