// Package service 包含了应用的业务逻辑层。
package service

import (
	"regexp"
	"strings"
)

// IntentType 是本地意图分类的枚举。
type IntentType string

const (
	IntentSpendingQuery    IntentType = "spending_query"
	IntentPortfolioQuery   IntentType = "portfolio_query"
	IntentNetWorthQuery    IntentType = "net_worth_query"
	IntentBudgetQuery      IntentType = "budget_query"
	IntentStockQuery       IntentType = "stock_query"
	IntentTransactionEntry IntentType = "transaction_entry"
	IntentGreeting         IntentType = "greeting"
	IntentHelp             IntentType = "help"
	IntentUnsupported      IntentType = "unsupported"
)

// 置信度只决定是否值得发起远端调用，从不用来拒绝回答。
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Intent 是一轮用户输入的本地分类结果，当轮消费，从不持久化。
type Intent struct {
	Type           IntentType
	Confidence     string
	Params         map[string]string
	DirectResponse string
}

// IntentRouter 是一个纯本地、确定性的关键词/正则分类器，不发起任何网络调用。
type IntentRouter struct {
	amountRe    *regexp.Regexp
	spendVerbRe *regexp.Regexp
	symbolRe    *regexp.Regexp
	periodTable map[string]string
	categories  []string
}

// NewIntentRouter 创建一个新的 IntentRouter 实例。
func NewIntentRouter() *IntentRouter {
	return &IntentRouter{
		amountRe:    regexp.MustCompile(`(\d+(?:\.\d+)?)`),
		spendVerbRe: regexp.MustCompile(`\b(spent|spend|paid|pay|bought|purchased)\b`),
		symbolRe:    regexp.MustCompile(`\b([A-Z]{1,5})\b`),
		periodTable: map[string]string{
			"today":      "today",
			"this week":  "this_week",
			"this month": "this_month",
			"last month": "last_month",
			"this year":  "this_year",
		},
		categories: []string{
			"food", "groceries", "restaurants", "transport", "rent",
			"entertainment", "utilities", "shopping", "travel", "health",
			"subscriptions",
		},
	}
}

const helpResponse = "I can answer questions about your spending, portfolio, net worth and budget, " +
	"look up stock details, or record a transaction you describe (for example: \"spent 12.50 on lunch\")."

const unsupportedResponse = "I can only help with your finances — spending, budget, portfolio, " +
	"net worth and stocks. Try asking something like \"what did I spend on food this month?\"."

// Classify 对一轮用户输入做本地分类。
// 它总是返回一个合法的 Intent，任何输入都不会导致失败。
func (r *IntentRouter) Classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	params := map[string]string{}

	if lower == "" {
		return Intent{Type: IntentUnsupported, Confidence: ConfidenceLow, Params: params, DirectResponse: unsupportedResponse}
	}

	// 记账叙述优先：金额 + 消费动词的组合几乎不会出现在查询里。
	if r.spendVerbRe.MatchString(lower) {
		if m := r.amountRe.FindString(lower); m != "" {
			params["amount"] = m
			if c := r.findCategory(lower); c != "" {
				params["category"] = c
			}
			return Intent{Type: IntentTransactionEntry, Confidence: ConfidenceHigh, Params: params}
		}
	}

	if isGreeting(lower) {
		return Intent{
			Type:           IntentGreeting,
			Confidence:     ConfidenceHigh,
			Params:         params,
			DirectResponse: "Hi! Ask me about your spending, portfolio or budget — or tell me about a purchase and I'll record it.",
		}
	}
	if strings.Contains(lower, "help") || strings.Contains(lower, "what can you do") {
		return Intent{Type: IntentHelp, Confidence: ConfidenceHigh, Params: params, DirectResponse: helpResponse}
	}

	if p := r.findPeriod(lower); p != "" {
		params["period"] = p
	}
	if c := r.findCategory(lower); c != "" {
		params["category"] = c
	}

	switch {
	case containsAny(lower, "net worth", "networth", "how much am i worth"):
		return Intent{Type: IntentNetWorthQuery, Confidence: ConfidenceHigh, Params: params}
	case containsAny(lower, "budget"):
		return Intent{Type: IntentBudgetQuery, Confidence: ConfidenceHigh, Params: params}
	case containsAny(lower, "portfolio", "holdings", "my stocks", "investments", "positions"):
		if s := r.findSymbol(text); s != "" {
			params["symbol"] = s
		}
		return Intent{Type: IntentPortfolioQuery, Confidence: ConfidenceHigh, Params: params}
	case containsAny(lower, "stock", "share price", "quote", "ticker", "fundamentals", "watchlist", "watch list"):
		conf := ConfidenceMedium
		if s := r.findSymbol(text); s != "" {
			params["symbol"] = s
			conf = ConfidenceHigh
		}
		return Intent{Type: IntentStockQuery, Confidence: conf, Params: params}
	case containsAny(lower, "spend", "spent", "spending", "expense", "expenses", "cost", "costs", "paid", "outgoings"):
		conf := ConfidenceMedium
		if len(params) > 0 {
			conf = ConfidenceHigh
		}
		return Intent{Type: IntentSpendingQuery, Confidence: conf, Params: params}
	case containsAny(lower, "transaction", "transactions", "money", "balance", "account", "income", "save", "saving"):
		// 财务相关但没有明确归类，交给模型配合工具回答。
		return Intent{Type: IntentSpendingQuery, Confidence: ConfidenceLow, Params: params}
	}

	return Intent{Type: IntentUnsupported, Confidence: ConfidenceLow, Params: params, DirectResponse: unsupportedResponse}
}

func (r *IntentRouter) findPeriod(lower string) string {
	for phrase, period := range r.periodTable {
		if strings.Contains(lower, phrase) {
			return period
		}
	}
	return ""
}

func (r *IntentRouter) findCategory(lower string) string {
	for _, c := range r.categories {
		if strings.Contains(lower, c) {
			return c
		}
	}
	// 常见同义词
	switch {
	case containsAny(lower, "pizza", "lunch", "dinner", "coffee", "eating"):
		return "food"
	case containsAny(lower, "uber", "taxi", "bus", "train", "fuel", "gas"):
		return "transport"
	}
	return ""
}

// findSymbol 在原始大小写文本中找一个 1-5 位的全大写 ticker。
// 常见的全大写干扰词被排除。
func (r *IntentRouter) findSymbol(text string) string {
	stop := map[string]bool{"I": true, "A": true, "AI": true, "USD": true, "EUR": true, "GBP": true, "ETF": true}
	for _, m := range r.symbolRe.FindAllString(text, -1) {
		if !stop[m] {
			return m
		}
	}
	return ""
}

func isGreeting(lower string) bool {
	for _, g := range []string{"hi", "hello", "hey", "good morning", "good evening"} {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
