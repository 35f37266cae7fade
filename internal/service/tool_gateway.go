package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finchat-go/internal/repository"
	"finchat-go/pkg/llm"
	"finchat-go/pkg/log"
	"finchat-go/pkg/tasks"
)

// RefreshPublisher 发布后台行情刷新任务。
type RefreshPublisher interface {
	ProduceRefreshTask(task tasks.QuoteRefreshTask) error
}

// ToolGateway 是隐私边界的后半部分：模型请求的每个工具都在这里执行，
// 结果永远是一段有界的人类可读字符串，而不是底层数据行。
// 未知工具名产生的是结果内的错误字符串，不会中断同批的其它工具调用。
type ToolGateway struct {
	agg       *Aggregator
	watchlist repository.FinanceRepository
	publisher RefreshPublisher
}

// ToolResult 是一次工具调用的结果，通过 callID 与请求块对应。
type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// NewToolGateway 创建一个新的 ToolGateway 实例。
func NewToolGateway(agg *Aggregator, watchlist repository.FinanceRepository, publisher RefreshPublisher) *ToolGateway {
	return &ToolGateway{agg: agg, watchlist: watchlist, publisher: publisher}
}

// Definitions 返回声明给模型的全部工具及其输入 schema。
func (g *ToolGateway) Definitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "get_spending_summary",
			Description: "Summarize the user's spending for a period, optionally filtered by category.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"category":{"type":"string"},"period":{"type":"string","enum":["today","this_week","this_month","last_month","this_year","all"]}}}`),
		},
		{
			Name:        "get_portfolio",
			Description: "Summarize the user's stock portfolio, or a single position when a symbol is given.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"}}}`),
		},
		{
			Name:        "get_net_worth",
			Description: "Summarize the user's net worth across accounts and holdings.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "get_budget_status",
			Description: "Compare this month's spending against the monthly budget, optionally for one category.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"category":{"type":"string"}}}`),
		},
		{
			Name:        "get_stock_detail",
			Description: "Get the latest quote for a stock and the user's position in it, if any.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"}},"required":["symbol"]}`),
		},
		{
			Name:        "get_stock_fundamentals",
			Description: "Get fundamental metrics for a stock.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"}},"required":["symbol"]}`),
		},
		{
			Name:        "search_transactions",
			Description: "Search recent transactions by keyword, period and category. Returns at most a few matching rows.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"term":{"type":"string"},"period":{"type":"string"},"category":{"type":"string"}}}`),
		},
		{
			Name:        "add_to_watchlist",
			Description: "Add a stock symbol to the user's watchlist.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"}},"required":["symbol"]}`),
		},
	}
}

type toolInput struct {
	Symbol   string `json:"symbol"`
	Category string `json:"category"`
	Period   string `json:"period"`
	Term     string `json:"term"`
}

// Execute 执行一个具名工具。所有失败都折叠成结果内的错误字符串。
func (g *ToolGateway) Execute(ctx context.Context, name string, input json.RawMessage, callID string) ToolResult {
	var in toolInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return ToolResult{ID: callID, Content: fmt.Sprintf("Error: invalid input for tool %s: %v", name, err), IsError: true}
		}
	}

	var summary *Summary
	var err error
	switch name {
	case "get_spending_summary":
		summary, err = g.agg.Spending(ctx, in.Category, in.Period)
	case "get_portfolio":
		summary, err = g.agg.Portfolio(ctx, in.Symbol)
	case "get_net_worth":
		summary, err = g.agg.NetWorth(ctx)
	case "get_budget_status":
		summary, err = g.agg.Budget(ctx, in.Category)
	case "get_stock_detail":
		if in.Symbol == "" {
			return ToolResult{ID: callID, Content: "Error: get_stock_detail requires a symbol", IsError: true}
		}
		summary, err = g.agg.StockDetail(ctx, in.Symbol)
	case "get_stock_fundamentals":
		if in.Symbol == "" {
			return ToolResult{ID: callID, Content: "Error: get_stock_fundamentals requires a symbol", IsError: true}
		}
		summary, err = g.agg.StockFundamentals(ctx, in.Symbol)
	case "search_transactions":
		summary, err = g.agg.SearchTransactions(ctx, in.Term, in.Period, in.Category)
	case "add_to_watchlist":
		return g.addToWatchlist(ctx, in.Symbol, callID)
	default:
		return ToolResult{ID: callID, Content: fmt.Sprintf("Error: unknown tool %q", name), IsError: true}
	}

	if err != nil {
		log.Errorf("工具执行失败: tool=%s, err=%v", name, err)
		return ToolResult{ID: callID, Content: fmt.Sprintf("Error: tool %s failed: data is currently unavailable", name), IsError: true}
	}
	return ToolResult{ID: callID, Content: summary.Text}
}

// IsMutating 报告某个工具是否产生写入，编排层据此在一轮内去重。
func (g *ToolGateway) IsMutating(name string) bool {
	return name == "add_to_watchlist"
}

// addToWatchlist 同步写入自选股，后台刷新通过 Kafka 异步完成，
// 工具立即返回乐观确认。
func (g *ToolGateway) addToWatchlist(ctx context.Context, symbol, callID string) ToolResult {
	if symbol == "" {
		return ToolResult{ID: callID, Content: "Error: add_to_watchlist requires a symbol", IsError: true}
	}
	symbol = strings.ToUpper(symbol)
	if err := g.watchlist.AddWatchlistItem(ctx, symbol); err != nil {
		log.Errorf("添加自选股失败: symbol=%s, err=%v", symbol, err)
		return ToolResult{ID: callID, Content: fmt.Sprintf("Error: could not add %s to the watchlist", symbol), IsError: true}
	}
	if g.publisher != nil {
		task := tasks.QuoteRefreshTask{Symbol: symbol, RequestedAt: time.Now().Unix()}
		if err := g.publisher.ProduceRefreshTask(task); err != nil {
			// 刷新任务投递失败不影响确认，报价会在下次读取时兜底拉取。
			log.Warnf("投递行情刷新任务失败: symbol=%s, err=%v", symbol, err)
		}
	}
	return ToolResult{ID: callID, Content: fmt.Sprintf("%s has been added to your watchlist. Its quote will refresh shortly.", symbol)}
}
