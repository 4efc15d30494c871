package model

import "time"

// SignalType defines the kind of trading instruction a strategy emits.
type SignalType string

const (
	SignalBuy              SignalType = "buy"
	SignalSell             SignalType = "sell"
	SignalHold             SignalType = "hold"
	SignalClose            SignalType = "close"
	SignalLimitBuy         SignalType = "limit_buy"
	SignalLimitSell        SignalType = "limit_sell"
	SignalStopBuy          SignalType = "stop_buy"
	SignalStopSell         SignalType = "stop_sell"
	SignalStopLimitBuy     SignalType = "stop_limit_buy"
	SignalStopLimitSell    SignalType = "stop_limit_sell"
	SignalTrailingStopSell SignalType = "trailing_stop_sell"
)

// IsBuy reports whether the signal opens long exposure (including the
// limit/stop buy variants).
func (s SignalType) IsBuy() bool {
	switch s {
	case SignalBuy, SignalLimitBuy, SignalStopBuy, SignalStopLimitBuy:
		return true
	}
	return false
}

// IsSell reports whether the signal reduces or closes exposure.
// Close counts as a sell, as do all sell variants.
func (s SignalType) IsSell() bool {
	switch s {
	case SignalSell, SignalClose, SignalLimitSell, SignalStopSell,
		SignalStopLimitSell, SignalTrailingStopSell:
		return true
	}
	return false
}

// Signal is a timestamped trading instruction produced by one strategy
// for one symbol.
type Signal struct {
	Type       SignalType `json:"type"`
	Symbol     string     `json:"symbol"`
	StrategyID string     `json:"strategy_id"`

	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`

	// Size is the fraction of the strategy's allocated capital to commit.
	// Zero means "use the full available allocation".
	Size float64 `json:"size,omitempty"`

	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	TrailPercent float64 `json:"trail_percent,omitempty"`

	// Indicators carries the intermediate values the adapter based its
	// decision on (fast/slow averages, momentum, ...). Display only.
	Indicators map[string]float64 `json:"indicators,omitempty"`

	// Error is set when the pool downgraded a failing adapter to HOLD.
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HoldSignal builds a neutral signal for the given strategy and symbol.
func HoldSignal(strategyID, symbol string, ts time.Time) Signal {
	return Signal{
		Type:       SignalHold,
		Symbol:     symbol,
		StrategyID: strategyID,
		Timestamp:  ts,
	}
}
