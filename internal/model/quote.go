package model

import "time"

// Quote 代表一只股票的最新行情快照。
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"changePct"`
	Currency  string    `json:"currency"`
	AsOf      time.Time `json:"asOf"`
}

// Fundamentals 代表一只股票的基本面指标。
type Fundamentals struct {
	Symbol        string  `json:"symbol"`
	MarketCap     float64 `json:"marketCap"`
	PERatio       float64 `json:"peRatio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividendYield"`
	High52W       float64 `json:"high52w"`
	Low52W        float64 `json:"low52w"`
}
