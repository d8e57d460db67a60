package plaid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/logger"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// Provider is the provider name of Plaid events
const Provider = "plaid"

const (
	dateLayout = "2006-01-02"
	pageSize   = 500
)

// Error codes that mean the access token needs user action or replacement
var tokenErrorCodes = map[string]bool{
	"ITEM_LOGIN_REQUIRED":  true,
	"INVALID_ACCESS_TOKEN": true,
	"ACCESS_NOT_GRANTED":   true,
}

// Client polls Plaid with the official SDK
type Client struct {
	api    *plaid.APIClient
	logger *logger.Logger
}

// NewClient creates a Plaid client for env ("sandbox" or "production")
func NewClient(clientID, secret, env string, log *logger.Logger) *Client {
	environment := plaid.Sandbox
	if strings.EqualFold(env, "production") {
		environment = plaid.Production
	}
	return NewClientWithEnvironment(clientID, secret, environment, log)
}

// NewClientWithEnvironment creates a Plaid client against an explicit server
func NewClientWithEnvironment(clientID, secret string, environment plaid.Environment, log *logger.Logger) *Client {
	cfg := plaid.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	cfg.AddDefaultHeader("PLAID-SECRET", secret)
	cfg.UseEnvironment(environment)
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &Client{
		api:    plaid.NewAPIClient(cfg),
		logger: log.WithField("component", "plaid"),
	}
}

var _ sync.ProviderClient = (*Client)(nil)

// Provider returns the Plaid provider name
func (c *Client) Provider() string {
	return Provider
}

// ListEvents fetches posted transactions of one account. Plaid works in
// whole days, so the window is widened to the surrounding dates and the
// ledger claim absorbs the overlap.
func (c *Client) ListEvents(ctx context.Context, token, account string, since, until time.Time) ([]ledger.Event, error) {
	start := since.UTC().Format(dateLayout)
	end := until.UTC().Format(dateLayout)

	var events []ledger.Event
	offset := int32(0)
	for {
		req := plaid.NewTransactionsGetRequest(token, start, end)
		req.SetOptions(plaid.TransactionsGetRequestOptions{
			AccountIds: &[]string{account},
			Count:      plaid.PtrInt32(pageSize),
			Offset:     plaid.PtrInt32(offset),
		})

		resp, httpResp, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*req).Execute()
		if err != nil {
			return nil, fmt.Errorf("failed to get transactions: %w", mapError(httpResp, err))
		}

		page := resp.GetTransactions()
		for _, tx := range page {
			if tx.GetPending() {
				// Pending ids are replaced when the transaction posts
				continue
			}
			ev, err := ToEvent(tx)
			if err != nil {
				c.logger.Warn("skipping plaid transaction", "transaction_id", tx.GetTransactionId(), "error", err)
				continue
			}
			events = append(events, ev)
		}

		offset += int32(len(page))
		if len(page) == 0 || offset >= resp.GetTotalTransactions() {
			break
		}
	}

	c.logger.Debug("transactions fetched", "account_id", account, "count", len(events))
	return events, nil
}

// ToEvent converts a Plaid transaction. Plaid amounts are positive for
// money leaving the account.
func ToEvent(tx plaid.Transaction) (ledger.Event, error) {
	occurred, err := time.Parse(dateLayout, tx.GetDate())
	if err != nil {
		return ledger.Event{}, fmt.Errorf("%w: date %q", ledger.ErrMalformedPayload, tx.GetDate())
	}

	amount := money.ToMinorUnits(decimal.NewFromFloat(tx.GetAmount()))

	currency := tx.GetIsoCurrencyCode()
	if currency == "" {
		currency = tx.GetUnofficialCurrencyCode()
	}

	category := ""
	if pfc, ok := tx.GetPersonalFinanceCategoryOk(); ok && pfc != nil {
		category = strings.ToLower(pfc.GetPrimary())
	}

	return ledger.Event{
		Provider:         Provider,
		ProviderTxID:     tx.GetTransactionId(),
		RawAmount:        -amount,
		Currency:         strings.ToUpper(currency),
		Description:      tx.GetName(),
		Merchant:         tx.GetMerchantName(),
		ProviderCategory: category,
		OccurredAt:       occurred,
		SourceAccountRef: ledger.ExternalRef{ID: tx.GetAccountId(), Kind: ledger.RefKindAccount},
	}, nil
}

// ListAccounts lists the accounts of the item behind token
func (c *Client) ListAccounts(ctx context.Context, token string) ([]sync.ProviderAccount, error) {
	req := plaid.NewAccountsGetRequest(token)
	resp, httpResp, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*req).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", mapError(httpResp, err))
	}

	accounts := resp.GetAccounts()
	out := make([]sync.ProviderAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, sync.ProviderAccount{
			Ref:  ledger.ExternalRef{ID: a.GetAccountId(), Kind: ledger.RefKindAccount},
			Name: a.GetName(),
		})
	}
	return out, nil
}

// RegisterWebhook is not supported; Plaid accounts are polled
func (c *Client) RegisterWebhook(_ context.Context, _, _, _ string) error {
	return sync.ErrWebhooksUnsupported
}

// mapError classifies SDK errors for the sync retry policy
func mapError(httpResp *http.Response, err error) error {
	if plaidErr, convErr := plaid.ToPlaidError(err); convErr == nil {
		if tokenErrorCodes[plaidErr.ErrorCode] {
			return fmt.Errorf("%w: plaid %s", ledger.ErrTokenExpired, plaidErr.ErrorCode)
		}
		if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" || plaidErr.ErrorType == "API_ERROR" {
			return fmt.Errorf("%w: plaid %s", sync.ErrUpstreamUnavailable, plaidErr.ErrorCode)
		}
	}
	return classifyStatus(httpResp, err)
}

func classifyStatus(httpResp *http.Response, err error) error {
	if httpResp == nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", sync.ErrUpstreamUnavailable, err)
		}
		return err
	}
	switch {
	case httpResp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ledger.ErrTokenExpired, err)
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %w", sync.ErrUpstreamUnavailable, httpResp.StatusCode, err)
	}
	return err
}
