package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// TransactionServiceInterface reads committed ledger rows
type TransactionServiceInterface interface {
	ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
}

// PocketServiceInterface lists a profile's pockets
type PocketServiceInterface interface {
	List(ctx context.Context, profile string) ([]*pocket.Pocket, error)
}

// TransactionHandler serves the read API for transactions and pockets
type TransactionHandler struct {
	transactions TransactionServiceInterface
	pockets      PocketServiceInterface
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions TransactionServiceInterface, pockets PocketServiceInterface) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, pockets: pockets}
}

// TransactionResponse is a committed transaction as served by the API
type TransactionResponse struct {
	ID            string  `json:"id"`
	Provider      string  `json:"provider"`
	ProviderTxID  string  `json:"provider_tx_id"`
	Amount        string  `json:"amount"`
	DisplayAmount string  `json:"display_amount"`
	Currency      string  `json:"currency"`
	Direction     string  `json:"direction"`
	Type          string  `json:"type"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	Merchant      string  `json:"merchant,omitempty"`
	PocketID      *string `json:"pocket_id"`
	Date          string  `json:"date"`
	ReceivedVia   string  `json:"received_via"`
	CommittedAt   string  `json:"committed_at"`
}

// TransactionListResponse is a page of transactions
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// PocketResponse is a pocket as served by the API
type PocketResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Balance     string  `json:"balance"`
	ExternalRef *string `json:"external_ref,omitempty"`
}

// GetTransactions handles GET /api/v1/transactions
//
// Query: provider, pocket_id, type, from, to (RFC3339), limit, offset
func (h *TransactionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.GetProfileFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	filters, err := parseTransactionFilters(r, profile)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	txs, err := h.transactions.ListTransactions(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := TransactionListResponse{
		Transactions: make([]TransactionResponse, 0, len(txs)),
		Limit:        filters.Limit,
		Offset:       filters.Offset,
	}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	respondJSON(w, resp, http.StatusOK)
}

// GetTransaction handles GET /api/v1/transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.GetProfileFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, "invalid transaction ID", http.StatusBadRequest)
		return
	}

	tx, err := h.transactions.GetTransaction(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	// Another profile's row is reported as missing
	if tx.Profile != profile {
		respondError(w, "transaction not found", http.StatusNotFound)
		return
	}
	respondJSON(w, toTransactionResponse(tx), http.StatusOK)
}

// GetPockets handles GET /api/v1/pockets
func (h *TransactionHandler) GetPockets(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.GetProfileFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	pockets, err := h.pockets.List(r.Context(), profile)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := make([]PocketResponse, 0, len(pockets))
	for _, p := range pockets {
		resp = append(resp, PocketResponse{
			ID:          p.ID.String(),
			Name:        p.Name,
			Type:        string(p.Type),
			Balance:     p.Balance.StringFixed(money.MinorUnitExponent),
			ExternalRef: p.ExternalRef,
		})
	}
	respondJSON(w, resp, http.StatusOK)
}

func parseTransactionFilters(r *http.Request, profile string) (ledger.TransactionFilters, error) {
	q := r.URL.Query()
	filters := ledger.TransactionFilters{Profile: profile, Provider: q.Get("provider"), Limit: 100}

	if v := q.Get("pocket_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filters, errBadQuery("pocket_id")
		}
		filters.PocketID = &id
	}
	if v := q.Get("type"); v != "" {
		t := ledger.TransactionType(v)
		if !t.IsValid() {
			return filters, errBadQuery("type")
		}
		filters.Type = &t
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filters.From}, {"to", &filters.To}} {
		if v := q.Get(bound.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filters, errBadQuery(bound.name)
			}
			*bound.dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return filters, errBadQuery("limit")
		}
		filters.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filters, errBadQuery("offset")
		}
		filters.Offset = n
	}
	return filters, nil
}

type errBadQuery string

func (e errBadQuery) Error() string {
	return "invalid query parameter: " + string(e)
}

func toTransactionResponse(tx *ledger.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:            tx.ID.String(),
		Provider:      tx.Provider,
		ProviderTxID:  tx.ProviderTxID,
		Amount:        tx.Amount.StringFixed(money.MinorUnitExponent),
		DisplayAmount: money.Format(tx.SignedAmount(), tx.Currency),
		Currency:      tx.Currency,
		Direction:     string(tx.Direction),
		Type:          string(tx.Type),
		Category:      tx.Category,
		Description:   tx.Description,
		Merchant:      tx.Merchant,
		Date:          tx.Date.UTC().Format(time.RFC3339),
		ReceivedVia:   string(tx.ReceivedVia),
		CommittedAt:   tx.CommittedAt.UTC().Format(time.RFC3339),
	}
	if tx.PocketID != nil {
		id := tx.PocketID.String()
		resp.PocketID = &id
	}
	return resp
}
