package service

import (
	"context"
	"math"
	"testing"
	"time"

	"finchat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

func newTestAggregator(store *fakeFinanceStore, quotes *fakeQuoteSource) *Aggregator {
	a := NewAggregator(store, quotes, "USD")
	a.now = func() time.Time { return testNow }
	return a
}

func TestSpendingExcludesOtherPeriods(t *testing.T) {
	store := &fakeFinanceStore{
		transactions: []model.Transaction{
			{Date: testNow.AddDate(0, 0, -1), Type: "expense", Amount: 12, Currency: "USD", Category: "Food"},
			{Date: testNow.AddDate(0, -1, 0), Type: "expense", Amount: 9, Currency: "USD", Category: "Food"},
		},
	}
	agg := newTestAggregator(store, &fakeQuoteSource{})

	s, err := agg.Spending(context.Background(), "Food", "this_month")
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.Meta["total"])
	assert.Equal(t, 1, s.Meta["count"])
	assert.Contains(t, s.Text, "12.00")
}

func TestSpendingIgnoresIncomeAndFiltersCategory(t *testing.T) {
	store := &fakeFinanceStore{
		transactions: []model.Transaction{
			{Date: testNow, Type: "expense", Amount: 10, Currency: "USD", Category: "Food"},
			{Date: testNow, Type: "expense", Amount: 20, Currency: "USD", Category: "Transport"},
			{Date: testNow, Type: "income", Amount: 500, Currency: "USD", Category: "Salary"},
		},
	}
	agg := newTestAggregator(store, &fakeQuoteSource{})

	s, err := agg.Spending(context.Background(), "", "this_month")
	require.NoError(t, err)
	assert.Equal(t, 30.0, s.Meta["total"])

	s, err = agg.Spending(context.Background(), "food", "this_month")
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Meta["total"])
}

func TestConvertRoundTrip(t *testing.T) {
	store := &fakeFinanceStore{
		fxRates: map[string]float64{"EUR/USD": 1.25, "USD/EUR": 0.8},
	}
	agg := newTestAggregator(store, &fakeQuoteSource{})
	ctx := context.Background()

	there, ok := agg.Convert(ctx, 100, "EUR", "USD")
	require.True(t, ok)
	back, ok := agg.Convert(ctx, there, "USD", "EUR")
	require.True(t, ok)
	assert.InDelta(t, 100, back, 1e-9)
}

func TestConvertMissingRateDegradesToIdentity(t *testing.T) {
	agg := newTestAggregator(&fakeFinanceStore{}, &fakeQuoteSource{})

	got, ok := agg.Convert(context.Background(), 42, "GBP", "USD")
	assert.False(t, ok)
	assert.Equal(t, 42.0, got)
}

func TestConvertUsesInverseRate(t *testing.T) {
	store := &fakeFinanceStore{fxRates: map[string]float64{"USD/EUR": 0.8}}
	agg := newTestAggregator(store, &fakeQuoteSource{})

	got, ok := agg.Convert(context.Background(), 80, "EUR", "USD")
	require.True(t, ok)
	assert.InDelta(t, 100, got, 1e-9)
}

func TestPortfolioCostBasisAndGain(t *testing.T) {
	store := &fakeFinanceStore{
		lots: []model.HoldingLot{
			{Symbol: "AAPL", Side: "buy", Qty: 10, Price: 100, Currency: "USD"},
		},
	}
	quotes := &fakeQuoteSource{quotes: map[string]*model.Quote{
		"AAPL": {Symbol: "AAPL", Last: 120, Currency: "USD"},
	}}
	agg := newTestAggregator(store, quotes)

	s, err := agg.Portfolio(context.Background(), "")
	require.NoError(t, err)

	positions := s.Meta["positions"].([]Position)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, 10.0, p.Shares)
	assert.Equal(t, 1000.0, p.CostBasis)
	assert.Equal(t, 1200.0, p.CurrentValue)
	assert.Equal(t, 200.0, p.Gain)
	assert.InDelta(t, 20.0, p.GainPct, 1e-9)
}

func TestPortfolioExcludesUnvaluedPositions(t *testing.T) {
	store := &fakeFinanceStore{
		lots: []model.HoldingLot{
			// 净持股为 0：全部卖出
			{Symbol: "SOLD", Side: "buy", Qty: 5, Price: 10, Currency: "USD"},
			{Symbol: "SOLD", Side: "sell", Qty: 5, Price: 12, Currency: "USD"},
			// 报价非正：当作无数据排除，而不是按零计价
			{Symbol: "STALE", Side: "buy", Qty: 3, Price: 50, Currency: "USD"},
			// 正常持仓
			{Symbol: "GOOD", Side: "buy", Qty: 2, Price: 40, Currency: "USD"},
		},
	}
	quotes := &fakeQuoteSource{quotes: map[string]*model.Quote{
		"STALE": {Symbol: "STALE", Last: 0, Currency: "USD"},
		"GOOD":  {Symbol: "GOOD", Last: 45, Currency: "USD"},
	}}
	agg := newTestAggregator(store, quotes)

	s, err := agg.Portfolio(context.Background(), "")
	require.NoError(t, err)

	positions := s.Meta["positions"].([]Position)
	require.Len(t, positions, 1)
	assert.Equal(t, "GOOD", positions[0].Symbol)
	assert.Equal(t, 90.0, s.Meta["totalValue"])
}

func TestPortfolioZeroCostBasisGainPct(t *testing.T) {
	store := &fakeFinanceStore{
		lots: []model.HoldingLot{
			{Symbol: "FREE", Side: "buy", Qty: 1, Price: 0, Currency: "USD"},
		},
	}
	quotes := &fakeQuoteSource{quotes: map[string]*model.Quote{
		"FREE": {Symbol: "FREE", Last: 10, Currency: "USD"},
	}}
	agg := newTestAggregator(store, quotes)

	s, err := agg.Portfolio(context.Background(), "")
	require.NoError(t, err)
	positions := s.Meta["positions"].([]Position)
	require.Len(t, positions, 1)
	assert.Equal(t, 0.0, positions[0].GainPct)
	assert.False(t, math.IsNaN(positions[0].GainPct))
}

func TestNetWorthCombinesAccountsAndHoldings(t *testing.T) {
	store := &fakeFinanceStore{
		accounts: []model.Account{
			{Name: "Checking", Kind: "cash", Balance: 1000, Currency: "USD", IncludeInNetWorth: true},
			{Name: "Hidden", Kind: "cash", Balance: 9999, Currency: "USD", IncludeInNetWorth: false},
		},
		lots: []model.HoldingLot{
			{Symbol: "AAPL", Side: "buy", Qty: 10, Price: 100, Currency: "USD"},
		},
	}
	quotes := &fakeQuoteSource{quotes: map[string]*model.Quote{
		"AAPL": {Symbol: "AAPL", Last: 120, Currency: "USD"},
	}}
	agg := newTestAggregator(store, quotes)

	s, err := agg.NetWorth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2200.0, s.Meta["netWorth"])
	assert.Equal(t, 1000.0, s.Meta["accountsTotal"])
	assert.Equal(t, 1200.0, s.Meta["holdingsTotal"])
}

func TestBudgetNotSet(t *testing.T) {
	agg := newTestAggregator(&fakeFinanceStore{}, &fakeQuoteSource{})
	s, err := agg.Budget(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, s.Meta["budget"])
	assert.Contains(t, s.Text, "No monthly budget")
}

func TestBudgetUsage(t *testing.T) {
	budget := 500.0
	store := &fakeFinanceStore{
		budget: &budget,
		transactions: []model.Transaction{
			{Date: testNow, Type: "expense", Amount: 200, Currency: "USD", Category: "Food"},
		},
	}
	agg := newTestAggregator(store, &fakeQuoteSource{})

	s, err := agg.Budget(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 200.0, s.Meta["spent"])
	assert.Equal(t, 300.0, s.Meta["remaining"])
	assert.Equal(t, 40.0, s.Meta["usedPct"])
}

func TestSearchTransactionsBoundedRows(t *testing.T) {
	store := &fakeFinanceStore{}
	for i := 0; i < 25; i++ {
		store.transactions = append(store.transactions, model.Transaction{
			Date: testNow, Type: "expense", Amount: 1, Currency: "USD", Category: "Food", Merchant: "Cafe",
		})
	}
	agg := newTestAggregator(store, &fakeQuoteSource{})

	s, err := agg.SearchTransactions(context.Background(), "cafe", "this_month", "")
	require.NoError(t, err)
	rows := s.Meta["rows"].([]map[string]interface{})
	assert.LessOrEqual(t, len(rows), 10)
	// 行里只有窄字段，不携带 note 或 id
	for _, row := range rows {
		_, hasNote := row["note"]
		assert.False(t, hasNote)
	}
}

func TestStockDetailWithPosition(t *testing.T) {
	store := &fakeFinanceStore{
		lots: []model.HoldingLot{
			{Symbol: "AAPL", Side: "buy", Qty: 10, Price: 100, Currency: "USD"},
		},
	}
	quotes := &fakeQuoteSource{quotes: map[string]*model.Quote{
		"AAPL": {Symbol: "AAPL", Last: 120, Change: 1.5, ChangePct: 1.26, Currency: "USD"},
	}}
	agg := newTestAggregator(store, quotes)

	s, err := agg.StockDetail(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", s.Meta["symbol"])
	assert.Contains(t, s.Text, "120.00")
	assert.Contains(t, s.Text, "You hold 10.00 shares")
}
