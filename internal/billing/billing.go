// Package billing talks to the platform's wallet service. Deployments are
// metered in coins; the reconciler debits owners on a fixed interval and the
// wallet answers with 402 when the balance runs out.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInsufficientFunds is returned when the owner's balance cannot cover a
// debit. Callers treat it as a business outcome, not a transport failure.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Service debits and credits owner wallets.
type Service interface {
	Debit(ctx context.Context, ownerID string, amount int64) error
	Credit(ctx context.Context, ownerID string, amount int64) error
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewClient creates a wallet service client.
func NewClient(baseURL, internalKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type walletRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// Debit removes coins from the owner's wallet.
func (c *Client) Debit(ctx context.Context, ownerID string, amount int64) error {
	return c.post(ctx, ownerID, "debit", amount)
}

// Credit returns coins to the owner's wallet.
func (c *Client) Credit(ctx context.Context, ownerID string, amount int64) error {
	return c.post(ctx, ownerID, "credit", amount)
}

func (c *Client) post(ctx context.Context, ownerID, op string, amount int64) error {
	url := fmt.Sprintf("%s/api/internal/wallets/%s/%s", c.baseURL, ownerID, op)

	body, err := json.Marshal(walletRequest{Amount: amount, Reason: "deployment_hosting"})
	if err != nil {
		return fmt.Errorf("marshal wallet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrInsufficientFunds
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("wallet service returned status %d", resp.StatusCode)
	}
	return nil
}
