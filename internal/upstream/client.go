// Package upstream talks to the REST backend that owns products, parties and
// persisted invoices.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
)

// Client wraps interactions with the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Login exchanges credentials for an API token.
func (c *Client) Login(ctx context.Context, username, password string) (string, Account, error) {
	var out loginResponse
	err := c.call(ctx, "", "login", http.MethodPost, "/auth/login", loginRequest{Username: username, Password: password}, &out, MsgLoginFailed)
	if err != nil {
		return "", Account{}, err
	}
	if out.AccessToken == "" {
		return "", Account{}, &Error{Op: "login", Status: http.StatusBadGateway, Message: MsgLoginFailed}
	}
	return out.AccessToken, out.User, nil
}

// Profile returns the account token belongs to.
func (c *Client) Profile(ctx context.Context, token string) (Account, error) {
	var out profileResponse
	if err := c.do(ctx, token, "profile", http.MethodGet, "/auth/profile", nil, &out, MsgLoadFailed); err != nil {
		return Account{}, err
	}
	return out.User, nil
}

// ListProducts returns the product catalogue.
func (c *Client) ListProducts(ctx context.Context, token string) ([]invoice.Product, error) {
	var out productsResponse
	if err := c.do(ctx, token, "list products", http.MethodGet, "/products", nil, &out, MsgLoadFailed); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// ListParties returns customers for sales and suppliers for purchases.
func (c *Client) ListParties(ctx context.Context, token string, kind invoice.Kind) ([]invoice.Party, error) {
	path := "/customers"
	if kind == invoice.KindPurchase {
		path = "/suppliers"
	}
	var out partiesResponse
	if err := c.do(ctx, token, "list parties", http.MethodGet, path, nil, &out, MsgLoadFailed); err != nil {
		return nil, err
	}
	if kind == invoice.KindPurchase {
		return out.Suppliers, nil
	}
	return out.Customers, nil
}

// CreateInvoice persists the draft and returns the identifiers the backend
// assigned to it.
func (c *Client) CreateInvoice(ctx context.Context, token string, draft invoice.DraftInvoice) (Created, error) {
	var out Created
	err := c.do(ctx, token, "create invoice", http.MethodPost, invoicesPath(draft.Kind), newCreateRequest(draft), &out, MsgSaveFailed)
	if err != nil {
		return Created{}, err
	}
	if out.ID == 0 {
		return Created{}, &Error{Op: "create invoice", Status: http.StatusBadGateway, Message: MsgSaveFailed}
	}
	return out, nil
}

// GetInvoice fetches the authoritative record of a persisted invoice.
func (c *Client) GetInvoice(ctx context.Context, token string, kind invoice.Kind, id int64) (*invoice.PersistedInvoice, error) {
	var out wireInvoice
	path := invoicesPath(kind) + "/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, token, "get invoice", http.MethodGet, path, nil, &out, MsgLoadFailed); err != nil {
		return nil, err
	}
	inv := out.toDomain(kind)
	return &inv, nil
}

func invoicesPath(kind invoice.Kind) string {
	if kind == invoice.KindPurchase {
		return "/purchases/invoices"
	}
	return "/sales/invoices"
}

func (c *Client) do(ctx context.Context, token, op, method, path string, body, out any, fallback string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	return c.call(ctx, token, op, method, path, body, out, fallback)
}

func (c *Client) call(ctx context.Context, token, op, method, path string, body, out any, fallback string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Message: fallback, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		msg := fallback
		var payload errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil && payload.Error != "" {
			msg = payload.Error
		}
		c.logger.Warn("upstream call failed",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Message: fallback, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
