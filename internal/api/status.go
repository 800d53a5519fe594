package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"accrualsync/internal/store"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	Profile    string `json:"profile"`    // 当前运行配置
	LastPeriod string `json:"lastPeriod"` // 最近一次运行的期间
	LastMaster string `json:"lastMaster"` // 最近一次运行的主台账
	TotalRuns  int    `json:"totalRuns"`  // 运行记录数（最多统计最近 100 条）
	Pending    int    `json:"pending"`    // 已计划尚未应用的运行数
}

// GetStatus 获取系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := StatusResponse{Profile: h.runner.Profile.Name}
	if h.store == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	cfg, err := h.store.GetAllConfig()
	if err == nil {
		resp.LastPeriod = cfg[store.KeyLastPeriod]
		resp.LastMaster = cfg[store.KeyLastMaster]
	}

	runs, err := h.store.ListRuns(100)
	if err != nil {
		h.fail(c, "获取运行记录失败", err)
		return
	}
	resp.TotalRuns = len(runs)
	for _, r := range runs {
		if r.Status == store.RunPlanned {
			resp.Pending++
		}
	}
	c.JSON(http.StatusOK, resp)
}
