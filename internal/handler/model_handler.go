package handler

import (
	"errors"
	"net/http"
	"wherespace-go/internal/model"
	"wherespace-go/internal/registry"
	"wherespace-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ModelHandler 负责模型清单查询与当前模型切换。
type ModelHandler struct {
	modelRegistry *registry.ModelRegistry
}

// NewModelHandler 创建一个新的 ModelHandler。
func NewModelHandler(modelRegistry *registry.ModelRegistry) *ModelHandler {
	return &ModelHandler{modelRegistry: modelRegistry}
}

// List 处理 GET /api/v1/models，返回后端可用模型与当前各用途的激活模型。
func (h *ModelHandler) List(c *gin.Context) {
	available, err := h.modelRegistry.ListAvailable(c.Request.Context())
	if err != nil {
		log.Errorf("获取后端模型列表失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "模型后端不可用", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"available": available,
		"current": gin.H{
			string(model.RoleGeneration): h.modelRegistry.Get(model.RoleGeneration),
			string(model.RoleEmbedding):  h.modelRegistry.Get(model.RoleEmbedding),
		},
	}})
}

type setModelRequest struct {
	Role  string `json:"role" binding:"required"` // generation 或 embedding
	Model string `json:"model" binding:"required"`
}

// Set 处理 POST /api/v1/models/current，切换某一用途的当前模型。
// 未知模型返回 422 且当前选择保持不变。
func (h *ModelHandler) Set(c *gin.Context) {
	var req setModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "role 与 model 不能为空", "data": nil})
		return
	}

	err := h.modelRegistry.Set(c.Request.Context(), model.ModelRole(req.Role), req.Model)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownModel) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("切换模型失败, role=%s, model=%s: %v", req.Role, req.Model, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"role":  req.Role,
		"model": req.Model,
	}})
}
