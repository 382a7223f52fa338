package handler

import (
	"net/http"
	"time"
	"wherespace-go/internal/repository"
	"wherespace-go/pkg/llm"
	"wherespace-go/pkg/log"
	"wherespace-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责文档元数据的查询与下载。
type DocumentHandler struct {
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	archive   *storage.DocumentArchive
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(docRepo repository.DocumentRepository, chunkRepo repository.ChunkRepository, archive *storage.DocumentArchive) *DocumentHandler {
	return &DocumentHandler{docRepo: docRepo, chunkRepo: chunkRepo, archive: archive}
}

// List 处理 GET /api/v1/documents，返回全部文档元数据及分块数量。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docRepo.ListWithChunkCounts()
	if err != nil {
		log.Errorf("查询文档列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档列表失败", "data": nil})
		return
	}
	for i := range docs {
		docs[i].FileSizeFormatted = llm.FormatSize(docs[i].FileSize)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}

// Download 处理 GET /api/v1/documents/download?contentMd5=...，
// 为归档的原始文档生成限时下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	contentMD5 := c.Query("contentMd5")
	if contentMD5 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "contentMd5 不能为空", "data": nil})
		return
	}

	doc, err := h.docRepo.FindByContentMD5(contentMD5)
	if err != nil {
		log.Errorf("查询文档失败, contentMd5=%s: %v", contentMD5, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档失败", "data": nil})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
		return
	}

	objectName := storage.DocumentObjectName(doc.ContentMD5, doc.FileName)
	url, err := h.archive.PresignedURL(objectName, 15*time.Minute)
	if err != nil {
		log.Errorf("生成下载链接失败, object=%s: %v", objectName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成下载链接失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url, "fileName": doc.FileName}})
}

// Chunks 处理 GET /api/v1/documents/chunks?contentMd5=...，
// 按分块序号升序返回某文档的全部分块及其字符偏移。
func (h *DocumentHandler) Chunks(c *gin.Context) {
	contentMD5 := c.Query("contentMd5")
	if contentMD5 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "contentMd5 不能为空", "data": nil})
		return
	}

	doc, err := h.docRepo.FindByContentMD5(contentMD5)
	if err != nil {
		log.Errorf("查询文档失败, contentMd5=%s: %v", contentMD5, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档失败", "data": nil})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
		return
	}

	chunks, err := h.chunkRepo.FindByDocumentID(doc.ID)
	if err != nil {
		log.Errorf("查询文档分块失败, contentMd5=%s: %v", contentMD5, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档分块失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"fileName": doc.FileName,
		"chunks":   chunks,
	}})
}
