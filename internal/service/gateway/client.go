package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/logger"
)

// Provider transaction statuses. SUCCESS and PAID both mean the reference was
// paid; everything else is either in flight or terminally failed.
const (
	StatusSuccess    = "SUCCESS"
	StatusPaid       = "PAID"
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusFailed     = "FAILED"
	StatusExpired    = "EXPIRED"
	StatusCancelled  = "CANCELLED"
)

// PaidStatus reports whether the provider status means money arrived.
func PaidStatus(status string) bool {
	return status == StatusSuccess || status == StatusPaid
}

// FailedStatus reports whether the provider status is a terminal failure.
func FailedStatus(status string) bool {
	return status == StatusFailed || status == StatusExpired || status == StatusCancelled
}

const (
	CodeRetryAfter = "retry-after"
	CodeNotFound   = "not-found"
	CodeUnknown    = "unknown"
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %d, error: %v", e.Code, e.RetryAfter, e.Err)
}

func NewError(code string, retryAfter int, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

type ClientInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Item struct {
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type CreateTransactionRequest struct {
	ExternalID  string          `json:"externalId"`
	CallbackURL string          `json:"callbackUrl"`
	Method      string          `json:"method"`
	Client      ClientInfo      `json:"client"`
	Items       []Item          `json:"items"`
	Amount      decimal.Decimal `json:"amount"`
}

// Transaction is the provider's view of one payment: the bank entity and
// reference the user pays against, plus the current status.
type Transaction struct {
	ExternalID string `json:"externalId"`
	Entity     string `json:"entity"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
}

type Client struct {
	BaseURL string
	APIKey  string

	client *http.Client
	logger logger.Logger
}

func NewClient(baseURL string, apiKey string, l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		client:  &http.Client{},
		logger:  l,
	}
}

// CreateTransaction registers a payable reference with the provider.
func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (Transaction, error) {
	var tx Transaction

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if req.Method == "" {
		req.Method = "REFERENCE"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transaction", bytes.NewReader(body))
	if err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return c.decodeTransaction(resp)
	case http.StatusTooManyRequests:
		return tx, c.tooManyRequests(resp)
	default:
		c.logger.Warn("Failed to create transaction", "status_code", resp.StatusCode, "external_id", req.ExternalID)
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("unexpected status code %d for transaction %s", resp.StatusCode, req.ExternalID))
	}
}

// GetTransaction asks the provider for the current status of a transaction.
// The reconciliation poller uses it to discover payments whose webhook never
// arrived.
func (c *Client) GetTransaction(ctx context.Context, externalID string) (Transaction, error) {
	var tx Transaction

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/transaction/"+externalID, nil)
	if err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("api-key", c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decodeTransaction(resp)
	case http.StatusNotFound:
		return tx, NewError(CodeNotFound, 0, fmt.Errorf("no transaction %s at provider", externalID))
	case http.StatusTooManyRequests:
		return tx, c.tooManyRequests(resp)
	default:
		c.logger.Warn("Failed to get transaction", "status_code", resp.StatusCode, "external_id", externalID)
		return tx, NewError(CodeUnknown, 0, fmt.Errorf("unexpected status code %d for transaction %s", resp.StatusCode, externalID))
	}
}

func (c *Client) decodeTransaction(resp *http.Response) (Transaction, error) {
	var tx Transaction
	err := json.NewDecoder(resp.Body).Decode(&tx)
	if err != nil {
		c.logger.Warn("Failed to decode response", "error", err)
		return tx, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("Provider response", "external_id", tx.ExternalID, "status", tx.Status)
	return tx, nil
}

func (c *Client) tooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	c.logger.Warn("Provider throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
