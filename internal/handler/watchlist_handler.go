package handler

import (
	"net/http"
	"strings"
	"time"

	"finchat-go/internal/repository"
	"finchat-go/internal/service"
	"finchat-go/pkg/log"
	"finchat-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// WatchlistHandler 处理自选股相关请求。
type WatchlistHandler struct {
	repo      repository.FinanceRepository
	publisher service.RefreshPublisher
}

// NewWatchlistHandler 创建一个新的 WatchlistHandler。
func NewWatchlistHandler(repo repository.FinanceRepository, publisher service.RefreshPublisher) *WatchlistHandler {
	return &WatchlistHandler{repo: repo, publisher: publisher}
}

type addWatchlistRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// Add 将标的加入自选股并触发后台行情刷新。
func (h *WatchlistHandler) Add(c *gin.Context) {
	var req addWatchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "symbol 不能为空", "data": nil})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := h.repo.AddWatchlistItem(c.Request.Context(), symbol); err != nil {
		log.Error("添加自选股失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "添加自选股失败", "data": nil})
		return
	}

	if h.publisher != nil {
		task := tasks.QuoteRefreshTask{Symbol: symbol, RequestedAt: time.Now().Unix()}
		if err := h.publisher.ProduceRefreshTask(task); err != nil {
			log.Warnf("投递行情刷新任务失败: symbol=%s, err=%v", symbol, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"symbol": symbol}})
}
