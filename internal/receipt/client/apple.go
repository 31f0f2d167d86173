package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"go.uber.org/zap"
)

var ErrUnexpectedResponse = errors.New("apple_unexpected_response")

const maxResponseBytes = 1 << 20

type AppleClient struct {
	http          *http.Client
	log           *zap.Logger
	productionURL string
	sandboxURL    string
	sharedSecret  string
}

func NewAppleClient(cfg config.Config, log *zap.Logger) *AppleClient {
	return &AppleClient{
		http:          &http.Client{Timeout: 15 * time.Second},
		log:           log.Named("receipt.apple"),
		productionURL: cfg.Billing.AppleProductionURL,
		sandboxURL:    cfg.Billing.AppleSandboxURL,
		sharedSecret:  cfg.Billing.AppleSharedSecret,
	}
}

// Verify submits to production first. A 21007 answer means the receipt was
// issued by the sandbox; it is resubmitted there exactly once.
func (c *AppleClient) Verify(ctx context.Context, receiptData string) (*domain.VerifyResponse, error) {
	body, err := json.Marshal(domain.VerifyRequest{
		ReceiptData:            receiptData,
		Password:               c.sharedSecret,
		ExcludeOldTransactions: true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.productionURL, body)
	if err != nil {
		return nil, err
	}
	if resp.Status != domain.StatusSandboxReceipt {
		return resp, nil
	}

	c.log.Info("sandbox receipt sent to production, retrying against sandbox")
	return c.post(ctx, c.sandboxURL, body)
}

func (c *AppleClient) post(ctx context.Context, url string, body []byte) (*domain.VerifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrUnexpectedResponse, res.StatusCode)
	}

	var out domain.VerifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return &out, nil
}
