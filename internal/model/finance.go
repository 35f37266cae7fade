package model

import "time"

// Transaction 代表一条收支流水。
type Transaction struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Date     time.Time `gorm:"index;not null" json:"date"`
	Type     string    `gorm:"size:16;index;not null" json:"type"` // "expense" 或 "income"
	Amount   float64   `gorm:"not null" json:"amount"`
	Currency string    `gorm:"size:8;not null" json:"currency"`
	Category string    `gorm:"size:64;index" json:"category"`
	Merchant string    `gorm:"size:128" json:"merchant"`
	Note     string    `gorm:"type:text" json:"note"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// HoldingLot 代表某只股票的一笔买入或卖出成交记录。
type HoldingLot struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Symbol   string    `gorm:"size:16;index;not null" json:"symbol"`
	Side     string    `gorm:"size:8;not null" json:"side"` // "buy" 或 "sell"
	Qty      float64   `gorm:"not null" json:"qty"`
	Price    float64   `gorm:"not null" json:"price"`
	Currency string    `gorm:"size:8;not null" json:"currency"`
	Date     time.Time `gorm:"index" json:"date"`
}

func (HoldingLot) TableName() string {
	return "holding_lots"
}

// Account 代表一个资金账户（现金、储蓄、信用卡等）。
type Account struct {
	ID                uint    `gorm:"primaryKey" json:"id"`
	Name              string  `gorm:"size:64;not null" json:"name"`
	Kind              string  `gorm:"size:32;not null" json:"kind"`
	Balance           float64 `gorm:"not null" json:"balance"`
	Currency          string  `gorm:"size:8;not null" json:"currency"`
	IncludeInNetWorth bool    `gorm:"not null;default:true" json:"includeInNetWorth"`
}

func (Account) TableName() string {
	return "accounts"
}

// FxRate 代表一条货币对汇率，amount(from) * rate = amount(to)。
type FxRate struct {
	ID   uint    `gorm:"primaryKey" json:"id"`
	From string  `gorm:"column:from_currency;size:8;uniqueIndex:idx_fx_pair" json:"from"`
	To   string  `gorm:"column:to_currency;size:8;uniqueIndex:idx_fx_pair" json:"to"`
	Rate float64 `gorm:"not null" json:"rate"`
}

func (FxRate) TableName() string {
	return "fx_rates"
}

// WatchlistItem 代表自选股列表中的一个标的。
type WatchlistItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"size:16;uniqueIndex;not null" json:"symbol"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (WatchlistItem) TableName() string {
	return "watchlist_items"
}

// Setting 存储全局单值设置，目前只有每月预算（可为空表示未设置）。
type Setting struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	MonthlyBudget *float64 `json:"monthlyBudget"`
}

func (Setting) TableName() string {
	return "settings"
}
