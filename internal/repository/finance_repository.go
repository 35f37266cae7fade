// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finchat-go/internal/model"

	"gorm.io/gorm"
)

// FinanceRepository 定义了财务领域存储的只读访问接口，
// 外加自选股这一个唯一的写入口。聚合层只通过它读取底层数据。
type FinanceRepository interface {
	TransactionsInRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error)
	SearchTransactions(ctx context.Context, term string, from, to time.Time, category string, limit int) ([]model.Transaction, error)
	LotsBySymbol(ctx context.Context, symbol string) ([]model.HoldingLot, error)
	AllLots(ctx context.Context) ([]model.HoldingLot, error)
	Accounts(ctx context.Context) ([]model.Account, error)
	FxRate(ctx context.Context, from, to string) (float64, bool, error)
	MonthlyBudget(ctx context.Context) (*float64, error)
	AddWatchlistItem(ctx context.Context, symbol string) error
}

type financeRepository struct {
	db *gorm.DB
}

// NewFinanceRepository 创建一个新的 FinanceRepository 实例。
func NewFinanceRepository(db *gorm.DB) FinanceRepository {
	return &financeRepository{db: db}
}

// TransactionsInRange 按日期区间 [from, to) 查询流水。
func (r *financeRepository) TransactionsInRange(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("date >= ? AND date < ?", from, to).
		Order("date ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return txs, nil
}

// SearchTransactions 在日期区间内按关键词和分类做窄范围检索，行数受 limit 约束。
func (r *financeRepository) SearchTransactions(ctx context.Context, term string, from, to time.Time, category string, limit int) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Where("date >= ? AND date < ?", from, to)
	if term != "" {
		like := "%" + term + "%"
		q = q.Where("merchant LIKE ? OR note LIKE ? OR category LIKE ?", like, like, like)
	}
	if category != "" {
		q = q.Where("LOWER(category) = ?", strings.ToLower(category))
	}
	var txs []model.Transaction
	if err := q.Order("date DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to search transactions: %w", err)
	}
	return txs, nil
}

// LotsBySymbol 查询某只股票的全部成交记录。
func (r *financeRepository) LotsBySymbol(ctx context.Context, symbol string) ([]model.HoldingLot, error) {
	var lots []model.HoldingLot
	err := r.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(symbol)).
		Order("date ASC").
		Find(&lots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query lots for %s: %w", symbol, err)
	}
	return lots, nil
}

// AllLots 查询全部持仓成交记录。
func (r *financeRepository) AllLots(ctx context.Context) ([]model.HoldingLot, error) {
	var lots []model.HoldingLot
	if err := r.db.WithContext(ctx).Order("symbol ASC, date ASC").Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	return lots, nil
}

// Accounts 查询全部资金账户。
func (r *financeRepository) Accounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := r.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	return accounts, nil
}

// FxRate 查询货币对汇率。没有对应记录时返回 found=false，由调用方决定降级策略。
func (r *financeRepository) FxRate(ctx context.Context, from, to string) (float64, bool, error) {
	var rate model.FxRate
	err := r.db.WithContext(ctx).
		Where("from_currency = ? AND to_currency = ?", strings.ToUpper(from), strings.ToUpper(to)).
		First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query fx rate %s/%s: %w", from, to, err)
	}
	return rate.Rate, true, nil
}

// MonthlyBudget 返回每月预算，未设置时为 nil。
func (r *financeRepository) MonthlyBudget(ctx context.Context) (*float64, error) {
	var setting model.Setting
	err := r.db.WithContext(ctx).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query budget setting: %w", err)
	}
	return setting.MonthlyBudget, nil
}

// AddWatchlistItem 将标的加入自选股，重复添加是幂等的。
func (r *financeRepository) AddWatchlistItem(ctx context.Context, symbol string) error {
	item := model.WatchlistItem{Symbol: strings.ToUpper(symbol)}
	err := r.db.WithContext(ctx).
		Where("symbol = ?", item.Symbol).
		FirstOrCreate(&item).Error
	if err != nil {
		return fmt.Errorf("failed to add watchlist item %s: %w", symbol, err)
	}
	return nil
}
