package store

import "time"

// WalletType enumerates the kinds of account this process manages. Only
// smart-contract accounts exist today.
type WalletType string

const WalletTypeSmart WalletType = "smart"

// StrategyMode controls how a cluster's wallet set divides a SUPPORT_COIN
// or EXIT_COIN operation's total amount.
type StrategyMode string

const (
	StrategySync       StrategyMode = "sync"
	StrategyStaggered  StrategyMode = "staggered"
	StrategyMomentum   StrategyMode = "momentum"
)

// OperationType enumerates the kinds of durable intent the engine executes.
type OperationType string

const (
	OperationFundingRequest OperationType = "FUNDING_REQUEST"
	OperationSupportCoin    OperationType = "SUPPORT_COIN"
	OperationExitCoin       OperationType = "EXIT_COIN"
)

// OperationStatus is a node in the monotone operation-status lattice.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusApproved  OperationStatus = "approved"
	StatusExecuting OperationStatus = "executing"
	StatusComplete  OperationStatus = "complete"
	StatusPartial   OperationStatus = "partial"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// TradeStatus and FundingStatus share the same two terminal values.
type TradeStatus string

const (
	TradeComplete TradeStatus = "complete"
	TradeFailed   TradeStatus = "failed"
)

// Wallet is a smart-contract account managed by this process.
type Wallet struct {
	ID                  int64
	Name                string
	Address             string
	OwnerAddress        string
	ProviderAccountName string
	Type                WalletType
	IsMaster            bool
	CreatedAt           time.Time
}

// Cluster is a named, ordered group of non-master wallets.
type Cluster struct {
	ID           int64
	Name         string
	StrategyMode StrategyMode
	CreatedAt    time.Time
}

// ClusterWallet pairs a cluster with one ordered member wallet.
type ClusterWallet struct {
	Wallet
	Position int
}

// Operation is the unit of durable intent.
type Operation struct {
	ID           int64
	Type         OperationType
	ClusterID    int64
	Status       OperationStatus
	RequestedBy  string
	ApprovedBy   string
	PayloadJSON  string
	ResultJSON   string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Trade is the record of one wallet's single swap.
type Trade struct {
	ID           int64
	WalletID     int64
	FromToken    string
	ToToken      string
	AmountIn     string
	AmountOut    *string
	UserOpHash   string
	TxHash       string
	Status       TradeStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// Funding is the record of one value transfer from the master wallet to a
// fleet wallet.
type Funding struct {
	ID           int64
	WalletID     int64
	AmountWei    string
	UserOpHash   string
	TxHash       string
	Status       TradeStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// Position is the per-(wallet, coin) running ledger.
type Position struct {
	WalletID          int64
	CoinAddress       string
	TotalCostWei      string
	TotalReceivedWei  string
	HoldingsRaw       string
	BuyCount          int
	SellCount         int
	FirstActionAt     time.Time
	LastActionAt      time.Time
}

// SwingConfig is a per-(fleet, coin) auto-exit rule.
type SwingConfig struct {
	ID              int64
	FleetName       string
	CoinAddress     string
	TakeProfitBps   int
	StopLossBps     int
	TrailingStopBps *int
	CooldownSec     int
	SlippageBps     int
	Enabled         bool
	PeakPnlBps      *int
	LastActionAt    *time.Time
}

// SwingConfigUpdate carries the mutable subset of a SwingConfig; nil fields
// are left unchanged.
type SwingConfigUpdate struct {
	TakeProfitBps   *int
	StopLossBps     *int
	TrailingStopBps **int
	CooldownSec     *int
	SlippageBps     *int
	Enabled         *bool
	PeakPnlBps      **int
	LastActionAt    **time.Time
}
