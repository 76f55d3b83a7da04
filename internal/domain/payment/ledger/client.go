package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketplace_backend/internal/pkg/config"
)

// HTTPLedger TokenLedger 的 REST 实现
type HTTPLedger struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPLedger() *HTTPLedger {
	cfg := config.GlobalConfig.Ledger
	return &HTTPLedger{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (l *HTTPLedger) SpendTokens(externalUserID, memo string, amount int64, correlationID, actionTag string) (*LedgerTx, error) {
	payload := map[string]interface{}{
		"externalUserId": externalUserID,
		"memo":           memo,
		"amount":         amount,
		"correlationId":  correlationID,
		"action":         actionTag,
	}

	var tx LedgerTx
	if err := l.post("/v1/transactions/spend", payload, &tx); err != nil {
		return nil, fmt.Errorf("ledger spend tokens: %w", err)
	}
	return &tx, nil
}

func (l *HTTPLedger) CompleteTransactions(ids []string) error {
	payload := map[string]interface{}{"ids": ids}
	if err := l.post("/v1/transactions/complete", payload, &struct{}{}); err != nil {
		return fmt.Errorf("ledger complete transactions: %w", err)
	}
	return nil
}

func (l *HTTPLedger) AddCashback(req CashbackRequest, actionTag string) error {
	payload := map[string]interface{}{
		"externalUserId": req.ExternalUserID,
		"assetId":        req.AssetID,
		"title":          req.Title,
		"amount":         req.Amount,
		"action":         actionTag,
	}
	if err := l.post("/v1/cashbacks", payload, &struct{}{}); err != nil {
		return fmt.Errorf("ledger add cashback: %w", err)
	}
	return nil
}

func (l *HTTPLedger) GetTransactionsByIDs(ids []string) ([]LedgerTxStatus, error) {
	payload := map[string]interface{}{"ids": ids}

	var result struct {
		Data []LedgerTxStatus `json:"data"`
	}
	if err := l.post("/v1/transactions/query", payload, &result); err != nil {
		return nil, fmt.Errorf("ledger get transactions: %w", err)
	}
	return result.Data, nil
}

func (l *HTTPLedger) post(path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, apiErr.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
