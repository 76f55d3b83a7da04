package ledger

// 账本事务终态
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// 记账动作标签
const (
	ActionInstoreOrder       = "instore_order"
	ActionInstoreOrderReward = "instore_order_reward"
)

// TokenLedger 积分账本服务。烧币按 (externalUserID, correlationID)
// 去重，同一支付事务的重复请求在账本侧幂等。
type TokenLedger interface {
	SpendTokens(externalUserID, memo string, amount int64, correlationID, actionTag string) (*LedgerTx, error)
	CompleteTransactions(ids []string) error
	AddCashback(req CashbackRequest, actionTag string) error
	GetTransactionsByIDs(ids []string) ([]LedgerTxStatus, error)
}

type LedgerTx struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type LedgerTxStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type CashbackRequest struct {
	ExternalUserID string `json:"externalUserId"`
	AssetID        string `json:"assetId"`
	Title          string `json:"title"`
	Amount         int64  `json:"amount"`
}
