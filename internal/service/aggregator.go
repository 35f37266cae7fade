package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"finchat-go/internal/model"
	"finchat-go/internal/repository"
	"finchat-go/pkg/quotes"
)

// Aggregator 是隐私边界的前半部分：它读取领域存储，
// 只产出有界的文本摘要与聚合元数据，底层的原始行从不完整外泄。
// 所有货币换算与成本/收益计算也集中在这里。
type Aggregator struct {
	store        repository.FinanceRepository
	quotes       quotes.Client
	baseCurrency string
	now          func() time.Time
}

// Summary 是一份隐私受限的数据视图：一段人类可读的摘要文本，
// 加上聚合后的结构化元数据（总额、top-N 细分）。
type Summary struct {
	Text string                 `json:"text"`
	Meta map[string]interface{} `json:"meta"`
}

// Position 是一只股票估值后的聚合结果。
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	CostBasis    float64 `json:"costBasis"`
	CurrentValue float64 `json:"currentValue"`
	Gain         float64 `json:"gain"`
	GainPct      float64 `json:"gainPct"`
}

// NewAggregator 创建一个新的 Aggregator 实例。
func NewAggregator(store repository.FinanceRepository, quoteSource quotes.Client, baseCurrency string) *Aggregator {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Aggregator{
		store:        store,
		quotes:       quoteSource,
		baseCurrency: baseCurrency,
		now:          time.Now,
	}
}

// Convert 按 amount * rate(from,to) 换算货币。
// 汇率缺失时退化为 1:1，第二个返回值为 false，由调用方在元数据里标记
// unconverted，而不是抛错。
func (a *Aggregator) Convert(ctx context.Context, amount float64, from, to string) (float64, bool) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == "" || from == to {
		return amount, true
	}
	if rate, found, err := a.store.FxRate(ctx, from, to); err == nil && found {
		return amount * rate, true
	}
	// 反向汇率兜底
	if rate, found, err := a.store.FxRate(ctx, to, from); err == nil && found && rate != 0 {
		return amount / rate, true
	}
	return amount, false
}

// Spending 汇总某个时间范围（可按分类过滤）内的支出。
func (a *Aggregator) Spending(ctx context.Context, category, period string) (*Summary, error) {
	from, to := a.resolvePeriod(period)
	txs, err := a.store.TransactionsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var total float64
	count := 0
	unconverted := false
	byCategory := map[string]float64{}
	byMerchant := map[string]float64{}

	for _, tx := range txs {
		if tx.Type != "expense" {
			continue
		}
		if category != "" && !strings.EqualFold(tx.Category, category) {
			continue
		}
		amount, ok := a.Convert(ctx, tx.Amount, tx.Currency, a.baseCurrency)
		if !ok {
			unconverted = true
		}
		total += amount
		count++
		if tx.Category != "" {
			byCategory[tx.Category] += amount
		}
		if tx.Merchant != "" {
			byMerchant[tx.Merchant] += amount
		}
	}

	topCategories := topN(byCategory, 5)
	topMerchants := topN(byMerchant, 3)

	var b strings.Builder
	scope := "overall"
	if category != "" {
		scope = "on " + strings.ToLower(category)
	}
	fmt.Fprintf(&b, "You spent %.2f %s %s %s across %d expenses.",
		total, a.baseCurrency, scope, humanPeriod(period), count)
	if category == "" && len(topCategories) > 0 {
		b.WriteString(" Top categories: " + formatBreakdown(topCategories) + ".")
	}

	return &Summary{
		Text: b.String(),
		Meta: map[string]interface{}{
			"total":         round2(total),
			"currency":      a.baseCurrency,
			"count":         count,
			"period":        humanPeriod(period),
			"category":      category,
			"topCategories": topCategories,
			"topMerchants":  topMerchants,
			"unconverted":   unconverted,
		},
	}, nil
}

// Portfolio 汇总持仓估值。symbol 为空时覆盖全部持仓。
// 净持股 <= 0 或报价非正的标的被当作「无数据」整体排除，
// 避免陈旧报价悄悄压低估值。
func (a *Aggregator) Portfolio(ctx context.Context, symbol string) (*Summary, error) {
	positions, unconverted, err := a.valuations(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var totalValue, totalCost, totalGain float64
	for _, p := range positions {
		totalValue += p.CurrentValue
		totalCost += p.CostBasis
		totalGain += p.Gain
	}
	gainPct := 0.0
	if totalCost != 0 {
		gainPct = totalGain / totalCost * 100
	}

	var b strings.Builder
	if len(positions) == 0 {
		b.WriteString("No valued positions in your portfolio right now.")
	} else {
		fmt.Fprintf(&b, "Your portfolio is worth %.2f %s across %d positions, overall gain %.2f (%.1f%%).",
			totalValue, a.baseCurrency, len(positions), totalGain, gainPct)
		top := positions
		if len(top) > 5 {
			top = top[:5]
		}
		names := make([]string, 0, len(top))
		for _, p := range top {
			names = append(names, fmt.Sprintf("%s %.2f", p.Symbol, p.CurrentValue))
		}
		b.WriteString(" Largest: " + strings.Join(names, ", ") + ".")
	}

	return &Summary{
		Text: b.String(),
		Meta: map[string]interface{}{
			"totalValue":  round2(totalValue),
			"totalCost":   round2(totalCost),
			"totalGain":   round2(totalGain),
			"gainPct":     round2(gainPct),
			"currency":    a.baseCurrency,
			"positions":   positions,
			"unconverted": unconverted,
		},
	}, nil
}

// NetWorth 汇总计入净值的账户余额与持仓估值。
func (a *Aggregator) NetWorth(ctx context.Context) (*Summary, error) {
	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	positions, unconverted, err := a.valuations(ctx, "")
	if err != nil {
		return nil, err
	}

	var cashTotal float64
	byKind := map[string]float64{}
	for _, acc := range accounts {
		if !acc.IncludeInNetWorth {
			continue
		}
		amount, ok := a.Convert(ctx, acc.Balance, acc.Currency, a.baseCurrency)
		if !ok {
			unconverted = true
		}
		cashTotal += amount
		byKind[acc.Kind] += amount
	}

	var holdingsTotal float64
	for _, p := range positions {
		holdingsTotal += p.CurrentValue
	}
	netWorth := cashTotal + holdingsTotal

	text := fmt.Sprintf("Your net worth is %.2f %s: %.2f in accounts and %.2f in holdings.",
		netWorth, a.baseCurrency, cashTotal, holdingsTotal)

	return &Summary{
		Text: text,
		Meta: map[string]interface{}{
			"netWorth":      round2(netWorth),
			"accountsTotal": round2(cashTotal),
			"holdingsTotal": round2(holdingsTotal),
			"byKind":        byKind,
			"currency":      a.baseCurrency,
			"unconverted":   unconverted,
		},
	}, nil
}

// Budget 对比本月支出与每月预算。
func (a *Aggregator) Budget(ctx context.Context, category string) (*Summary, error) {
	budget, err := a.store.MonthlyBudget(ctx)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return &Summary{
			Text: "No monthly budget is set.",
			Meta: map[string]interface{}{"budget": nil},
		}, nil
	}

	spending, err := a.Spending(ctx, category, "this_month")
	if err != nil {
		return nil, err
	}
	spent := spending.Meta["total"].(float64)
	remaining := *budget - spent
	pct := 0.0
	if *budget != 0 {
		pct = spent / *budget * 100
	}

	text := fmt.Sprintf("You have used %.1f%% of your %.2f %s monthly budget: %.2f spent, %.2f remaining.",
		pct, *budget, a.baseCurrency, spent, remaining)

	return &Summary{
		Text: text,
		Meta: map[string]interface{}{
			"budget":    *budget,
			"spent":     round2(spent),
			"remaining": round2(remaining),
			"usedPct":   round2(pct),
			"currency":  a.baseCurrency,
			"category":  category,
		},
	}, nil
}

// StockDetail 返回一只股票的报价与（若有）持仓情况。
func (a *Aggregator) StockDetail(ctx context.Context, symbol string) (*Summary, error) {
	symbol = strings.ToUpper(symbol)
	quote, err := a.quotes.LatestQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("no quote available for %s: %w", symbol, err)
	}
	if quote.Last <= 0 {
		return &Summary{
			Text: fmt.Sprintf("No usable quote data for %s right now.", symbol),
			Meta: map[string]interface{}{"symbol": symbol},
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s is trading at %.2f %s (%+.2f, %+.2f%%).",
		symbol, quote.Last, quote.Currency, quote.Change, quote.ChangePct)

	meta := map[string]interface{}{
		"symbol":    symbol,
		"last":      quote.Last,
		"change":    quote.Change,
		"changePct": quote.ChangePct,
		"currency":  quote.Currency,
	}

	if positions, _, err := a.valuations(ctx, symbol); err == nil && len(positions) == 1 {
		p := positions[0]
		fmt.Fprintf(&b, " You hold %.2f shares worth %.2f %s, gain %.2f (%.1f%%).",
			p.Shares, p.CurrentValue, a.baseCurrency, p.Gain, p.GainPct)
		meta["position"] = p
	}

	return &Summary{Text: b.String(), Meta: meta}, nil
}

// StockFundamentals 返回一只股票的基本面摘要。
func (a *Aggregator) StockFundamentals(ctx context.Context, symbol string) (*Summary, error) {
	symbol = strings.ToUpper(symbol)
	f, err := a.quotes.Fundamentals(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("no fundamentals available for %s: %w", symbol, err)
	}

	text := fmt.Sprintf("%s fundamentals: market cap %.0f, P/E %.1f, EPS %.2f, dividend yield %.2f%%, 52w range %.2f–%.2f.",
		symbol, f.MarketCap, f.PERatio, f.EPS, f.DividendYield, f.Low52W, f.High52W)

	return &Summary{
		Text: text,
		Meta: map[string]interface{}{
			"symbol":        symbol,
			"marketCap":     f.MarketCap,
			"peRatio":       f.PERatio,
			"eps":           f.EPS,
			"dividendYield": f.DividendYield,
			"high52w":       f.High52W,
			"low52w":        f.Low52W,
		},
	}, nil
}

// SearchTransactions 做窄范围的流水检索。
// 这是唯一会返回具体行的查询，行数有硬上限，且每行只带必要字段。
func (a *Aggregator) SearchTransactions(ctx context.Context, term, period, category string) (*Summary, error) {
	const maxRows = 10
	from, to := a.resolvePeriod(period)
	txs, err := a.store.SearchTransactions(ctx, term, from, to, category, maxRows)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, 0, len(txs))
	var total float64
	unconverted := false
	for _, tx := range txs {
		amount, ok := a.Convert(ctx, tx.Amount, tx.Currency, a.baseCurrency)
		if !ok {
			unconverted = true
		}
		total += amount
		rows = append(rows, map[string]interface{}{
			"date":     tx.Date.Format("2006-01-02"),
			"amount":   round2(amount),
			"category": tx.Category,
			"merchant": tx.Merchant,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching transactions %s totalling %.2f %s.",
		len(rows), humanPeriod(period), total, a.baseCurrency)
	for _, row := range rows {
		fmt.Fprintf(&b, "\n- %s %s %v %s", row["date"], row["merchant"], row["amount"], a.baseCurrency)
	}

	return &Summary{
		Text: b.String(),
		Meta: map[string]interface{}{
			"rows":        rows,
			"total":       round2(total),
			"currency":    a.baseCurrency,
			"unconverted": unconverted,
		},
	}, nil
}

// valuations 计算每只股票的估值。symbol 为空时覆盖全部持仓。
// 成本按买入腿逐笔换算：shares = Σ(±qty)，costBasis = Σ(qty*price)（仅买入）。
// 成本换算使用当前汇率；凡发生 1:1 兜底，unconverted 置位。
func (a *Aggregator) valuations(ctx context.Context, symbol string) ([]Position, bool, error) {
	var lots []model.HoldingLot
	var err error
	if symbol != "" {
		lots, err = a.store.LotsBySymbol(ctx, symbol)
	} else {
		lots, err = a.store.AllLots(ctx)
	}
	if err != nil {
		return nil, false, err
	}

	type acc struct {
		shares    float64
		costBasis float64
	}
	bySymbol := map[string]*acc{}
	order := []string{}
	unconverted := false

	for _, lot := range lots {
		s, ok := bySymbol[lot.Symbol]
		if !ok {
			s = &acc{}
			bySymbol[lot.Symbol] = s
			order = append(order, lot.Symbol)
		}
		if lot.Side == "sell" {
			s.shares -= lot.Qty
			continue
		}
		s.shares += lot.Qty
		cost, converted := a.Convert(ctx, lot.Qty*lot.Price, lot.Currency, a.baseCurrency)
		if !converted {
			unconverted = true
		}
		s.costBasis += cost
	}

	positions := make([]Position, 0, len(order))
	for _, sym := range order {
		s := bySymbol[sym]
		if s.shares <= 0 {
			continue
		}
		quote, err := a.quotes.LatestQuote(ctx, sym)
		if err != nil || quote == nil || quote.Last <= 0 {
			// 无可用报价：整体排除而不是按零计价。
			continue
		}
		value, converted := a.Convert(ctx, s.shares*quote.Last, quote.Currency, a.baseCurrency)
		if !converted {
			unconverted = true
		}
		gain := value - s.costBasis
		gainPct := 0.0
		if s.costBasis != 0 {
			gainPct = gain / s.costBasis * 100
		}
		positions = append(positions, Position{
			Symbol:       sym,
			Shares:       s.shares,
			CostBasis:    round2(s.costBasis),
			CurrentValue: round2(value),
			Gain:         round2(gain),
			GainPct:      round2(gainPct),
		})
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CurrentValue > positions[j].CurrentValue
	})
	return positions, unconverted, nil
}

// resolvePeriod 把周期标识解析为 [from, to) 时间区间，未知值按本月处理。
func (a *Aggregator) resolvePeriod(period string) (time.Time, time.Time) {
	t := a.now()
	y, m, d := t.Date()
	loc := t.Location()
	switch period {
	case "today":
		from := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 0, 1)
	case "this_week":
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		from := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, -(weekday - 1))
		return from, from.AddDate(0, 0, 7)
	case "last_month":
		from := time.Date(y, m, 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
		return from, from.AddDate(0, 1, 0)
	case "this_year":
		from := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		return from, from.AddDate(1, 0, 0)
	case "all":
		return time.Time{}, t.AddDate(0, 0, 1)
	default: // this_month
		from := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 1, 0)
	}
}

func humanPeriod(period string) string {
	switch period {
	case "today":
		return "today"
	case "this_week":
		return "this week"
	case "last_month":
		return "last month"
	case "this_year":
		return "this year"
	case "all":
		return "overall"
	default:
		return "this month"
	}
}

type breakdownEntry struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

func topN(m map[string]float64, n int) []breakdownEntry {
	entries := make([]breakdownEntry, 0, len(m))
	for name, amount := range m {
		entries = append(entries, breakdownEntry{Name: name, Amount: round2(amount)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Amount > entries[j].Amount })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func formatBreakdown(entries []breakdownEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s %.2f", e.Name, e.Amount))
	}
	return strings.Join(parts, ", ")
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
