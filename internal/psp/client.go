package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// YooKassaClient talks to the YooKassa payments API. Authentication is HTTP
// basic with shopID:secretKey; create requests carry an Idempotence-Key
// header so provider-side retries never create duplicate payments.
type YooKassaClient struct {
	httpClient *http.Client
	shopID     string
	secretKey  string
	baseURL    string
	returnURL  string
	currency   string
}

func NewYooKassaClient(cfg *config.YooKassaConfig) *YooKassaClient {
	return &YooKassaClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		returnURL: cfg.ReturnURL,
		currency:  cfg.Currency,
	}
}

type createPaymentRequest struct {
	Amount       types.YooKassaAmount `json:"amount"`
	Capture      bool                 `json:"capture"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url"`
	} `json:"confirmation"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreatePayment registers a payment with the provider and returns the
// provider payment id plus the confirmation URL the user is redirected to.
func (c *YooKassaClient) CreatePayment(ctx context.Context, amount decimal.Decimal, description, idempotencyKey string, metadata map[string]string) (*types.YooKassaPaymentObject, error) {
	req := createPaymentRequest{
		Amount: types.YooKassaAmount{
			Value:    amount.StringFixed(2),
			Currency: c.currency,
		},
		Capture:     true,
		Description: description,
		Metadata:    metadata,
	}
	req.Confirmation.Type = "redirect"
	req.Confirmation.ReturnURL = c.returnURL

	respBody, err := c.doRequest(ctx, http.MethodPost, "/payments", idempotencyKey, req)
	if err != nil {
		return nil, err
	}

	var payment types.YooKassaPaymentObject
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if payment.ID == "" {
		return nil, fmt.Errorf("yookassa returned no payment id")
	}

	return &payment, nil
}

func (c *YooKassaClient) doRequest(ctx context.Context, method, path, idempotencyKey string, body any) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal request body")
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotence-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error().Err(err).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Msg("HTTP request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Msg("Failed to read response body")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Str("body", string(respBody)).
			Msg("YooKassa API error response")
		return nil, fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	log.Info().
		Int("status", resp.StatusCode).
		Str("method", method).
		Str("url", url).
		Int64("duration_ms", duration).
		Msg("YooKassa API request successful")

	return respBody, nil
}
