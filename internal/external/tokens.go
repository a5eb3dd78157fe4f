package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billingsync/internal/types"
)

// TokenServiceConfig holds the configuration for creating a TokenServiceClient.
type TokenServiceConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
	Logger  *slog.Logger
}

// creditRequest is the JSON body sent to the token service.
type creditRequest struct {
	Amount       int64             `json:"amount"`
	PlanTier     types.PlanTier    `json:"plan_tier,omitempty"`
	AuditContext map[string]string `json:"audit_context,omitempty"`
}

// creditResponse is the token service's answer.
type creditResponse struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"new_balance"`
	Error      string `json:"error,omitempty"`
}

// TokenServiceClient implements TokenService over the token-balance service's
// REST API through BaseClient. Each credit carries an Idempotency-Key derived
// from the order or payment id, so BaseClient retries cannot double-credit.
type TokenServiceClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewTokenServiceClient creates a TokenServiceClient with its own breaker.
func NewTokenServiceClient(cfg TokenServiceConfig, opts ...BaseClientOption) *TokenServiceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := NewBaseClient(
		&http.Client{Timeout: timeout},
		"token-service",
		DefaultRetryPolicy(),
		"BillingSync/1.0",
		append([]BaseClientOption{WithLogger(cfg.Logger)}, opts...)...,
	)
	return NewTokenServiceClientWithBase(base, cfg)
}

// NewTokenServiceClientWithBase creates a TokenServiceClient with a
// pre-configured BaseClient.
func NewTokenServiceClientWithBase(base *BaseClient, cfg TokenServiceConfig) *TokenServiceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenServiceClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// CreditTokens adds req.Amount tokens to the user's balance.
func (c *TokenServiceClient) CreditTokens(ctx context.Context, req types.CreditRequest) (types.CreditResult, error) {
	body, err := json.Marshal(creditRequest{
		Amount:       req.Amount,
		PlanTier:     req.PlanTier,
		AuditContext: req.AuditContext,
	})
	if err != nil {
		return types.CreditResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode credit request", err)
	}

	endpoint := fmt.Sprintf("%s/v1/balances/%s/credit", c.baseURL, url.PathEscape(req.UserID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.CreditResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build credit request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if !c.apiKey.IsZero() {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	}
	if key := idempotencyKey(req); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return types.CreditResult{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "token service rejected credit",
			"status", resp.StatusCode,
			"user_id", req.UserID,
			"amount", req.Amount,
		)
		return types.CreditResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamTokenService,
			fmt.Sprintf("token service returned %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode, "body": truncate(string(respBody), 256)},
		)
	}

	var out creditResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return types.CreditResult{}, types.NewAppError(types.ErrCodeUpstreamTokenService, "token service returned malformed JSON", err)
	}

	return types.CreditResult{Success: out.Success, NewBalance: out.NewBalance}, nil
}

// idempotencyKey prefers the order id, then the payment id.
func idempotencyKey(req types.CreditRequest) string {
	if v := req.AuditContext["order_id"]; v != "" {
		return "credit:" + v
	}
	if v := req.AuditContext["payment_id"]; v != "" {
		return "credit:" + v
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ TokenService = (*TokenServiceClient)(nil)
