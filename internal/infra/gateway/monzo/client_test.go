package monzo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/pocketflow/internal/infra/gateway/monzo"
	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("development", io.Discard)
}

func newClient(t *testing.T, handler http.HandlerFunc) *monzo.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := monzo.NewClient("", testLogger())
	client.SetBaseURL(server.URL)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

var (
	since = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	until = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
)

// =============================================================================
// Transactions
// =============================================================================

func TestClient_ListEvents(t *testing.T) {
	var receivedAuth, receivedAccount, receivedExpand string
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		receivedAccount = r.URL.Query().Get("account_id")
		receivedExpand = r.URL.Query().Get("expand[]")
		writeJSON(w, map[string]any{"transactions": []map[string]any{
			{
				"id": "tx_1", "account_id": "acc_X", "amount": -184, "currency": "GBP",
				"created": "2026-03-14T09:30:00Z", "description": "TESCO STORES 3297",
				"category": "groceries", "merchant": map[string]any{"id": "merch_1", "name": "Tesco"},
			},
			{
				"id": "tx_2", "account_id": "acc_X", "amount": -500, "currency": "GBP",
				"created": "2026-03-14T10:00:00Z", "description": "PRET", "decline_reason": "INSUFFICIENT_FUNDS",
			},
			{
				"id": "tx_3", "account_id": "acc_X", "amount": -2000, "currency": "GBP",
				"created": "2026-03-14T11:00:00Z", "description": "pot_123", "scheme": "uk_retail_pot",
				"category": "savings", "metadata": map[string]string{"pot_id": "pot_123"},
			},
		}})
	})

	events, err := client.ListEvents(context.Background(), "tok", "acc_X", since, until)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", receivedAuth)
	assert.Equal(t, "acc_X", receivedAccount)
	assert.Equal(t, "merchant", receivedExpand)

	require.Len(t, events, 2, "declined payment is skipped")

	card := events[0]
	assert.Equal(t, "monzo", card.Provider)
	assert.Equal(t, "tx_1", card.ProviderTxID)
	assert.Equal(t, int64(-184), card.RawAmount)
	assert.Equal(t, "Tesco", card.Merchant)
	assert.Equal(t, "groceries", card.ProviderCategory)
	assert.Equal(t, ledger.ExternalRef{ID: "acc_X", Kind: ledger.RefKindAccount}, card.SourceAccountRef)
	assert.Equal(t, ledger.SourcePoll, card.ReceivedVia)

	pot := events[1]
	assert.Equal(t, ledger.ExternalRef{ID: "pot_123", Kind: ledger.RefKindPot}, pot.SourceAccountRef)
	assert.Equal(t, int64(2000), pot.RawAmount)
	assert.True(t, pot.IsTransfer)
}

func TestClient_ListTransactions_Paginates(t *testing.T) {
	var calls atomic.Int32
	var cursors []string
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cursors = append(cursors, r.URL.Query().Get("since"))

		n := 100
		offset := 0
		if len(cursors) > 1 {
			n, offset = 3, 100
		}
		txs := make([]map[string]any, n)
		for i := range txs {
			txs[i] = map[string]any{
				"id": fmt.Sprintf("tx_%d", offset+i), "account_id": "acc_X", "amount": -1,
				"currency": "GBP", "created": "2026-03-14T09:30:00Z",
			}
		}
		writeJSON(w, map[string]any{"transactions": txs})
	})

	txs, err := client.ListTransactions(context.Background(), "tok", "acc_X", since, until)
	require.NoError(t, err)

	assert.Len(t, txs, 103)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"2026-03-14T00:00:00Z", "tx_99"}, cursors)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, target: ledger.ErrTokenExpired},
		{name: "rate limited", status: http.StatusTooManyRequests, target: sync.ErrUpstreamUnavailable},
		{name: "server error", status: http.StatusBadGateway, target: sync.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				writeJSON(w, map[string]string{"code": "x", "message": "nope"})
			})

			_, err := client.ListEvents(context.Background(), "tok", "acc_X", since, until)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestClient_BadRequestIsPermanent(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"code": "bad_request", "message": "invalid account"})
	})

	_, err := client.ListEvents(context.Background(), "tok", "acc_X", since, until)
	require.Error(t, err)
	assert.False(t, sync.IsRetryable(err))
	assert.Contains(t, err.Error(), "invalid account")
}

// =============================================================================
// Accounts and webhooks
// =============================================================================

func TestClient_ListAccounts(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			writeJSON(w, map[string]any{"accounts": []map[string]any{
				{"id": "acc_X", "description": "Current account", "closed": false},
				{"id": "acc_old", "description": "Old account", "closed": true},
			}})
		case "/pots":
			assert.Equal(t, "acc_X", r.URL.Query().Get("current_account_id"))
			writeJSON(w, map[string]any{"pots": []map[string]any{
				{"id": "pot_1", "name": "Holiday", "deleted": false},
			}})
		default:
			http.NotFound(w, r)
		}
	})

	accounts, err := client.ListAccounts(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	assert.Equal(t, ledger.RefKindAccount, accounts[0].Ref.Kind)
	assert.Equal(t, "pot_1", accounts[1].Ref.ID)
	assert.Equal(t, ledger.RefKindPot, accounts[1].Ref.Kind)
	assert.Equal(t, "Holiday", accounts[1].Name)
	assert.True(t, accounts[2].Closed)
}

func TestClient_RegisterWebhook_Idempotent(t *testing.T) {
	var posts atomic.Int32
	registered := ""
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			hooks := []map[string]string{}
			if registered != "" {
				hooks = append(hooks, map[string]string{"id": "wh_1", "account_id": "acc_X", "url": registered})
			}
			writeJSON(w, map[string]any{"webhooks": hooks})
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			posts.Add(1)
			registered = r.PostForm.Get("url")
			writeJSON(w, map[string]any{"webhook": map[string]string{"id": "wh_1"}})
		}
	})

	url := "https://pf.example.com/webhooks/monzo/personal"
	require.NoError(t, client.RegisterWebhook(context.Background(), "tok", "acc_X", url))
	require.NoError(t, client.RegisterWebhook(context.Background(), "tok", "acc_X", url))

	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, url, registered)
}
