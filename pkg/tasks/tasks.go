// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// QuoteRefreshTask represents a request to refresh the cached quote of a symbol.
type QuoteRefreshTask struct {
	Symbol      string `json:"symbol"`
	RequestedAt int64  `json:"requested_at"`
}
