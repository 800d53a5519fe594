package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
	"accrualsync/internal/pipeline"
	"accrualsync/internal/report"
	"accrualsync/internal/store"
)

// PlanRequest 生成变更集请求
type PlanRequest struct {
	Master    string   `json:"master" binding:"required"`
	Paysheets []string `json:"paysheets" binding:"required,min=1"`
	Period    string   `json:"period" binding:"required"`
}

// Plan 读取主台账与薪资表并生成变更集，不修改主台账
// POST /api/plan
func (h *Handler) Plan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}
	if _, ok := normalize.ParsePeriod(req.Period); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "期间格式应为 YYYY-MM"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.runner.Plan(c.Request.Context(), pipeline.Request{
		Master:    strings.TrimSpace(req.Master),
		Paysheets: req.Paysheets,
		Period:    req.Period,
		DryRun:    true,
	})
	if err != nil {
		h.fail(c, "生成变更集失败", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListRuns 运行记录列表
// GET /api/runs?limit=20
func (h *Handler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"items": []*store.Run{}})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须是正整数"})
			return
		}
		limit = n
	}
	runs, err := h.store.ListRuns(limit)
	if err != nil {
		h.fail(c, "获取运行记录失败", err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

// RunDetail 运行详情
type RunDetail struct {
	*store.Run
	ChangeSet  *model.ChangeSet  `json:"changeSet"`
	ImportLogs []store.ImportLog `json:"importLogs"`
}

// GetRun 运行详情（含变更集与文件加载记录）
// GET /api/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用运行记录"})
		return
	}
	id := c.Param("id")
	run, err := h.store.GetRun(id)
	if err != nil {
		h.fail(c, "获取运行记录失败", err)
		return
	}
	cs, err := h.store.LoadChangeSet(id)
	if err != nil {
		h.fail(c, "读取变更集失败", err)
		return
	}
	logs, err := h.store.ListImportLogs(id)
	if err != nil {
		h.fail(c, "读取文件记录失败", err)
		return
	}
	if logs == nil {
		logs = []store.ImportLog{}
	}
	c.JSON(http.StatusOK, RunDetail{Run: run, ChangeSet: cs, ImportLogs: logs})
}

// GetRunReport 运行的文本报告
// GET /api/runs/:id/report
func (h *Handler) GetRunReport(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用运行记录"})
		return
	}
	id := c.Param("id")
	run, err := h.store.GetRun(id)
	if err != nil {
		h.fail(c, "获取运行记录失败", err)
		return
	}
	cs, err := h.store.LoadChangeSet(id)
	if err != nil {
		h.fail(c, "读取变更集失败", err)
		return
	}
	text := report.Render(report.Document{
		Period:      run.Period,
		Master:      run.MasterPath,
		DryRun:      run.Status == store.RunPlanned || run.Status == store.RunRejected,
		Code:        run.ResultCode,
		ChangeSet:   cs,
		Policies:    h.runner.Profile.Policies,
		GeneratedAt: run.CreatedAt,
	})
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ApplyRun 应用之前生成的变更集
// POST /api/runs/:id/apply
func (h *Handler) ApplyRun(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.runner.ApplyStored(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "应用变更集失败", err)
		return
	}
	status := http.StatusOK
	if res.Code.ExitCode() != 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}
