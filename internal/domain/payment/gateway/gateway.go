package gateway

// PaymentGateway 卡支付网关。实现视为不透明协作方，
// 结算编排只依赖这组最小操作。
type PaymentGateway interface {
	CreateIntent(customerID, description string, req IntentRequest) (*Intent, error)
	CreateTransfer(req TransferRequest) (*Transfer, error)
	RetrieveIntent(id string) (*Intent, error)
	ListPaymentMethods(customerID string) ([]PaymentMethod, error)
}

type IntentRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	ApplicationFee int64             `json:"applicationFee"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type Intent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type TransferRequest struct {
	Amount      int64             `json:"amount"`
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Transfer struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

type PaymentMethod struct {
	ID    string `json:"id"`
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}
