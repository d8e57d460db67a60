package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// RelayProvider is the provider namespace of relayed card notifications.
// Relay ids never collide with bank ids because the namespace differs.
const RelayProvider = "relay"

// Extraction is structured data pulled out of a free-text notification
type Extraction struct {
	Amount    decimal.Decimal  `json:"amount"` // unsigned, major units
	Currency  string           `json:"currency"`
	Merchant  string           `json:"merchant"`
	Category  string           `json:"category"`
	Direction ledger.Direction `json:"direction"`
}

// Extractor extracts transaction data from free text (AI fallback)
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// relayPayload is either pre-parsed fields or free text
type relayPayload struct {
	ID         string          `json:"id"`
	Amount     json.RawMessage `json:"amount"`
	Currency   string          `json:"currency"`
	Merchant   string          `json:"merchant"`
	Category   string          `json:"category"`
	Direction  string          `json:"direction"`
	AccountRef string          `json:"account_ref"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Text       string          `json:"text"`
}

// RelayCodec decodes notification relay payloads
type RelayCodec struct {
	extractor Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelayCodec creates the relay codec. extractor may be nil.
func NewRelayCodec(extractor Extractor, logger *slog.Logger) *RelayCodec {
	return &RelayCodec{
		extractor: extractor,
		logger:    logger.With("component", "relay_codec"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ Codec = (*RelayCodec)(nil)

// Provider returns the relay provider namespace
func (c *RelayCodec) Provider() string {
	return RelayProvider
}

// Decode turns one relay payload into one event. When the payload has no id
// the provider tx id is derived with RelayID.
func (c *RelayCodec) Decode(ctx context.Context, profile string, payload []byte) ([]ledger.Event, error) {
	var p relayPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ledger.ErrMalformedPayload, err)
	}

	occurredAt := c.now()
	if p.OccurredAt != nil && !p.OccurredAt.IsZero() {
		occurredAt = p.OccurredAt.UTC()
	}

	var ext *Extraction
	var err error
	switch {
	case len(p.Amount) > 0 && string(p.Amount) != "null":
		ext, err = preParsed(p)
	case strings.TrimSpace(p.Text) != "":
		ext, err = c.fromText(ctx, p.Text)
	default:
		err = fmt.Errorf("%w: amount or text is required", ledger.ErrMalformedPayload)
	}
	if err != nil {
		return nil, err
	}

	if ext.Amount.IsNegative() {
		ext.Amount = ext.Amount.Abs()
	}
	minor := money.ToMinorUnits(ext.Amount)
	if ext.Direction != ledger.DirectionIn {
		minor = -minor
	}

	currency := strings.ToUpper(ext.Currency)
	if currency == "" {
		currency = ledger.DefaultCurrency
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = RelayID(profile, p.AccountRef, minor, ext.Merchant, occurredAt)
		if p.OccurredAt == nil || p.OccurredAt.IsZero() {
			c.logger.Debug("relay id derived from receive time", "provider_tx_id", id, "profile", profile)
		}
	}

	return []ledger.Event{{
		Provider:         RelayProvider,
		ProviderTxID:     id,
		RawAmount:        minor,
		Currency:         currency,
		Description:      ext.Merchant,
		Merchant:         ext.Merchant,
		ProviderCategory: ext.Category,
		OccurredAt:       occurredAt,
		SourceAccountRef: ledger.ExternalRef{ID: p.AccountRef, Kind: ledger.RefKindAccount},
		Profile:          profile,
	}}, nil
}

func preParsed(p relayPayload) (*Extraction, error) {
	raw := strings.Trim(string(p.Amount), `"`)
	amount, err := money.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedPayload, err)
	}
	if strings.TrimSpace(p.Merchant) == "" {
		return nil, fmt.Errorf("%w: merchant is required", ledger.ErrMalformedPayload)
	}

	direction := ledger.DirectionOut
	if strings.EqualFold(p.Direction, string(ledger.DirectionIn)) {
		direction = ledger.DirectionIn
	}

	return &Extraction{
		Amount:    amount,
		Currency:  p.Currency,
		Merchant:  strings.TrimSpace(p.Merchant),
		Category:  strings.TrimSpace(p.Category),
		Direction: direction,
	}, nil
}

// fromText tries the built-in patterns, then the extractor
func (c *RelayCodec) fromText(ctx context.Context, text string) (*Extraction, error) {
	if ext, ok := ParseNotification(text); ok {
		return ext, nil
	}

	if c.extractor == nil {
		return nil, fmt.Errorf("%w: unrecognised notification text", ledger.ErrMalformedPayload)
	}

	ext, err := c.extractor.Extract(ctx, text)
	if err != nil {
		c.logger.Warn("extractor failed", "error", err)
		return nil, fmt.Errorf("%w: could not extract transaction: %v", ledger.ErrMalformedPayload, err)
	}
	if ext.Amount.IsZero() || strings.TrimSpace(ext.Merchant) == "" {
		return nil, fmt.Errorf("%w: extractor returned incomplete data", ledger.ErrMalformedPayload)
	}
	return ext, nil
}

// RelayID derives a stable id for a relayed notification without one.
// Repeats of the same notification within the same minute share an id.
// Without a sender occurred_at the minute is the receive minute, so a repeat
// delivered across a minute boundary gets a new id and commits again.
// Senders that may redeliver must set id or occurred_at.
func RelayID(profile, account string, minor int64, merchant string, occurredAt time.Time) string {
	key := fmt.Sprintf("%s|%s|%d|%s|%s",
		profile,
		account,
		minor,
		strings.ToLower(strings.TrimSpace(merchant)),
		occurredAt.UTC().Truncate(time.Minute).Format(time.RFC3339),
	)
	sum := sha256.Sum256([]byte(key))
	return "relay_" + hex.EncodeToString(sum[:16])
}

var (
	currencyAmount = `(£|€|\$|GBP\s?|EUR\s?|USD\s?)(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`

	spendPatterns = []*regexp.Regexp{
		// "£4.20 at PRET A MANGER", "Apple Pay: £4.20 at PRET"
		regexp.MustCompile(`(?i)` + currencyAmount + `\s+(?:at|to|with)\s+(.+?)(?:\s+on\s+\d.*)?\.?$`),
		// "You spent £4.20 at PRET", "Paid £4.20 to TFL"
		regexp.MustCompile(`(?i)(?:spent|paid)\s+` + currencyAmount + `\s+(?:at|to)\s+(.+?)\.?$`),
	}

	incomePatterns = []*regexp.Regexp{
		// "You received £10.00 from JOHN SMITH", "£10.00 from JOHN"
		regexp.MustCompile(`(?i)(?:received\s+)?` + currencyAmount + `\s+from\s+(.+?)\.?$`),
	}
)

// ParseNotification extracts a transaction from common card notification texts
func ParseNotification(text string) (*Extraction, bool) {
	text = strings.TrimSpace(text)

	for _, re := range incomePatterns {
		if ext, ok := match(re, text, ledger.DirectionIn); ok {
			return ext, true
		}
	}
	for _, re := range spendPatterns {
		if ext, ok := match(re, text, ledger.DirectionOut); ok {
			return ext, true
		}
	}
	return nil, false
}

func match(re *regexp.Regexp, text string, direction ledger.Direction) (*Extraction, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	amount, err := money.Parse(m[2])
	if err != nil || amount.IsZero() {
		return nil, false
	}

	merchant := strings.TrimSpace(m[3])
	if merchant == "" {
		return nil, false
	}

	return &Extraction{
		Amount:    amount,
		Currency:  currencyCode(m[1]),
		Merchant:  merchant,
		Direction: direction,
	}, true
}

func currencyCode(symbol string) string {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "£", "GBP":
		return "GBP"
	case "€", "EUR":
		return "EUR"
	case "$", "USD":
		return "USD"
	}
	return ""
}

// IsDecodeError reports whether err means the payload should be acknowledged
// and dropped rather than retried.
func IsDecodeError(err error) bool {
	return errors.Is(err, ledger.ErrMalformedPayload) || errors.Is(err, ledger.ErrIgnoredEvent)
}
