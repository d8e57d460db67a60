package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

const (
	defaultBaseURL = "https://api.monzo.com"
	requestTimeout = 30 * time.Second
	pageLimit      = 100
)

// Client is an HTTP client for the Monzo REST API
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new Monzo API client
func NewClient(baseURL string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.WithField("component", "monzo"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

var _ sync.ProviderClient = (*Client)(nil)

// Provider returns the Monzo provider name
func (c *Client) Provider() string {
	return Provider
}

// doRequest performs an authenticated request and decodes the JSON body into out.
// 401 maps to ledger.ErrTokenExpired; 429 and 5xx wrap sync.ErrUpstreamUnavailable.
func (c *Client) doRequest(ctx context.Context, method, path, token string, params url.Values, form url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	c.logger.Debug("API request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", sync.ErrUpstreamUnavailable, err)
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: monzo %s", ledger.ErrTokenExpired, apiMessage(data))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: monzo status %d", sync.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("API error", "status_code", resp.StatusCode, "path", path)
		return fmt.Errorf("monzo API error: status %d: %s", resp.StatusCode, apiMessage(data))
	}

	c.logger.Debug("API response", "status_code", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiMessage(data []byte) string {
	var apiErr APIError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Code + ": " + apiErr.Message
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

// ListTransactions fetches an account's transactions in [since, until).
// Pages are chained by passing the last transaction id as since.
func (c *Client) ListTransactions(ctx context.Context, token, account string, since, until time.Time) ([]Transaction, error) {
	var all []Transaction
	cursor := since.UTC().Format(time.RFC3339)

	for {
		params := url.Values{}
		params.Set("account_id", account)
		params.Set("since", cursor)
		params.Set("before", until.UTC().Format(time.RFC3339))
		params.Set("limit", fmt.Sprint(pageLimit))
		params.Add("expand[]", "merchant")

		var page TransactionsResponse
		if err := c.doRequest(ctx, http.MethodGet, "/transactions", token, params, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}

		all = append(all, page.Transactions...)
		if len(page.Transactions) < pageLimit {
			break
		}
		cursor = page.Transactions[len(page.Transactions)-1].ID
	}

	c.logger.Debug("transactions fetched", "account_id", account, "count", len(all))
	return all, nil
}

// ListEvents fetches an account's transactions as canonical events.
// Declined payments never moved money and are skipped.
func (c *Client) ListEvents(ctx context.Context, token, account string, since, until time.Time) ([]ledger.Event, error) {
	txs, err := c.ListTransactions(ctx, token, account, since, until)
	if err != nil {
		return nil, err
	}

	events := make([]ledger.Event, 0, len(txs))
	for i := range txs {
		if txs[i].IsDeclined() {
			continue
		}
		events = append(events, ToEvent(&txs[i], "", ledger.SourcePoll))
	}
	return events, nil
}

// ListAccounts lists open accounts and their pots
func (c *Client) ListAccounts(ctx context.Context, token string) ([]sync.ProviderAccount, error) {
	var accounts AccountsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/accounts", token, nil, nil, &accounts); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var out []sync.ProviderAccount
	for _, a := range accounts.Accounts {
		out = append(out, sync.ProviderAccount{
			Ref:    ledger.ExternalRef{ID: a.ID, Kind: ledger.RefKindAccount},
			Name:   a.Description,
			Closed: a.Closed,
		})
		if a.Closed {
			continue
		}

		params := url.Values{}
		params.Set("current_account_id", a.ID)
		var pots PotsResponse
		if err := c.doRequest(ctx, http.MethodGet, "/pots", token, params, nil, &pots); err != nil {
			return nil, fmt.Errorf("failed to list pots: %w", err)
		}
		for _, p := range pots.Pots {
			out = append(out, sync.ProviderAccount{
				Ref:    ledger.ExternalRef{ID: p.ID, Kind: ledger.RefKindPot},
				Name:   p.Name,
				Closed: p.Deleted,
			})
		}
	}
	return out, nil
}

// RegisterWebhook registers webhookURL for an account unless it already is
func (c *Client) RegisterWebhook(ctx context.Context, token, account, webhookURL string) error {
	params := url.Values{}
	params.Set("account_id", account)

	var existing WebhooksResponse
	if err := c.doRequest(ctx, http.MethodGet, "/webhooks", token, params, nil, &existing); err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, w := range existing.Webhooks {
		if w.URL == webhookURL {
			c.logger.Debug("webhook already registered", "account_id", account, "webhook_id", w.ID)
			return nil
		}
	}

	form := url.Values{}
	form.Set("account_id", account)
	form.Set("url", webhookURL)
	if err := c.doRequest(ctx, http.MethodPost, "/webhooks", token, nil, form, nil); err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}

	c.logger.Info("webhook registered", "account_id", account)
	return nil
}
