package model

import (
	"encoding/json"
	"time"
)

// StrategyStatus defines the lifecycle status of a deployed strategy.
type StrategyStatus string

const (
	StrategyStatusInitialized StrategyStatus = "initialized"
	StrategyStatusActive      StrategyStatus = "active"
	StrategyStatusPaused      StrategyStatus = "paused"
	StrategyStatusRemoved     StrategyStatus = "removed"
)

// DeploySpec describes one strategy to deploy into the pool.
type DeploySpec struct {
	// ID is the unique strategy identifier. Empty lets the daemon generate
	// one from the adapter name, symbol and deploy time.
	ID string `json:"strategy_id"`

	// Strategy names a registered adapter type ("sma", "momentum", ...).
	Strategy string `json:"strategy"`

	// Config is the adapter-specific parameter block.
	// Example for sma: {"fast": 10, "slow": 30}
	Config json.RawMessage `json:"config,omitempty"`

	// Allocation is the fraction of total capital granted to the strategy.
	Allocation float64 `json:"allocation"`

	// Symbol restricts the strategy to one symbol. Empty means every
	// symbol the orchestrator trades.
	Symbol string `json:"symbol,omitempty"`
}

// DeployRequest is the wire form of a deploy command. The session fields
// (Symbols, Granularity, DurationMinutes) only apply on the first deploy,
// which boots the trading system; hot-swap deploys ignore them.
type DeployRequest struct {
	DeploySpec

	Symbols         []string `json:"symbols,omitempty"`
	Granularity     string   `json:"granularity,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

// StrategyInfo is the externally visible state of one pool entry.
type StrategyInfo struct {
	ID         string         `json:"id"`
	Strategy   string         `json:"strategy"`
	Status     StrategyStatus `json:"status"`
	Allocation float64        `json:"allocation"`
	Lookback   int            `json:"lookback"`
	Symbol     string         `json:"symbol,omitempty"`
	DeployedAt time.Time      `json:"deployed_at"`
}

// LedgerEntryInfo is the externally visible state of one ledger entry.
type LedgerEntryInfo struct {
	StrategyID       string   `json:"strategy_id"`
	AllocationPct    float64  `json:"allocation_pct"`
	TotalAllocated   float64  `json:"total_allocated"`
	TotalSpent       float64  `json:"total_spent"`
	AvailableCapital float64  `json:"available_capital"`
	OwnedSymbols     []string `json:"owned_symbols"`
}

// SystemStatus is the consistent snapshot returned by the status command.
type SystemStatus struct {
	DaemonRunning  bool              `json:"daemon_running"`
	SystemRunning  bool              `json:"system_running"`
	State          string            `json:"state,omitempty"`
	Symbols        []string          `json:"symbols,omitempty"`
	DataSource     string            `json:"data_source,omitempty"`
	Granularity    string            `json:"granularity,omitempty"`
	TradingEnabled bool              `json:"trading_enabled"`
	TickCount      int64             `json:"tick_count"`
	AccountValue   float64           `json:"account_value"`
	Strategies     []StrategyInfo    `json:"strategies"`
	Ledger         []LedgerEntryInfo `json:"ledger,omitempty"`
	SymbolOwners   map[string]string `json:"symbol_owners,omitempty"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
}

// CommandResponse is the uniform wire response for every command verb.
// Exactly one of Message/Error is set; a command is never partially applied.
type CommandResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	StrategyID string `json:"strategy_id,omitempty"`
}
