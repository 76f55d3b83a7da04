package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"marketplace_backend/internal/pkg/config"
)

// HTTPGateway PaymentGateway 的 REST 实现
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPGateway() *HTTPGateway {
	cfg := config.GlobalConfig.Gateway
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (g *HTTPGateway) CreateIntent(customerID, description string, req IntentRequest) (*Intent, error) {
	payload := map[string]interface{}{
		"customer":       customerID,
		"description":    description,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"applicationFee": req.ApplicationFee,
		"metadata":       req.Metadata,
	}

	var intent Intent
	if err := g.post("/v1/payment_intents", payload, &intent); err != nil {
		return nil, fmt.Errorf("gateway create intent: %w", err)
	}
	return &intent, nil
}

func (g *HTTPGateway) CreateTransfer(req TransferRequest) (*Transfer, error) {
	var transfer Transfer
	if err := g.post("/v1/transfers", req, &transfer); err != nil {
		return nil, fmt.Errorf("gateway create transfer: %w", err)
	}
	return &transfer, nil
}

func (g *HTTPGateway) RetrieveIntent(id string) (*Intent, error) {
	var intent Intent
	if err := g.get("/v1/payment_intents/"+url.PathEscape(id), &intent); err != nil {
		return nil, fmt.Errorf("gateway retrieve intent: %w", err)
	}
	return &intent, nil
}

func (g *HTTPGateway) ListPaymentMethods(customerID string) ([]PaymentMethod, error) {
	var result struct {
		Data []PaymentMethod `json:"data"`
	}
	if err := g.get("/v1/customers/"+url.PathEscape(customerID)+"/payment_methods", &result); err != nil {
		return nil, fmt.Errorf("gateway list payment methods: %w", err)
	}
	return result.Data, nil
}

func (g *HTTPGateway) post(path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	return g.do(req, out)
}

func (g *HTTPGateway) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	return g.do(req, out)
}

func (g *HTTPGateway) do(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
