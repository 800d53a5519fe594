// Package api 对账的 JSON 接口：生成变更集、查看运行记录、应用已审阅的运行。
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"accrualsync/internal/model"
	"accrualsync/internal/pipeline"
	"accrualsync/internal/store"
)

// Handler API 处理器
type Handler struct {
	runner *pipeline.Runner
	store  *store.Store
	logger *zap.Logger

	// 同一时刻只允许一次运行，避免两个请求同时计划/写入同一个主台账
	mu sync.Mutex
}

// NewHandler 创建 API 处理器
func NewHandler(runner *pipeline.Runner, st *store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, store: st, logger: logger}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)

	// 生成变更集（dry run）
	router.POST("/plan", h.Plan)

	// 运行记录
	router.GET("/runs", h.ListRuns)
	router.GET("/runs/:id", h.GetRun)
	router.GET("/runs/:id/report", h.GetRunReport)
	router.POST("/runs/:id/apply", h.ApplyRun)
}

// errorStatus 错误到 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyConsumed),
		errors.Is(err, model.ErrStaleChangeSet),
		errors.Is(err, model.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, model.ErrFormat):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg + ": " + err.Error()})
}
