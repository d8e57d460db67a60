package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/categorize"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.0-flash"

// ErrEmptyResponse is returned when the model answers with no text
var ErrEmptyResponse = errors.New("empty response from model")

// generator is the subset of genai.Models used here
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client categorizes descriptions and extracts relayed notifications with Gemini
type Client struct {
	models     generator
	model      string
	categories []string
	logger     *logger.Logger
}

// NewClient creates a Gemini client. categories restricts the answers of
// Categorize; an empty list lets the model choose freely.
func NewClient(ctx context.Context, apiKey, model string, categories []string, log *logger.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newClient(client.Models, model, categories, log), nil
}

func newClient(models generator, model string, categories []string, log *logger.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		models:     models,
		model:      model,
		categories: categories,
		logger:     log.WithField("component", "gemini"),
	}
}

var (
	_ categorize.Categorizer = (*Client)(nil)
	_ ingest.Extractor       = (*Client)(nil)
)

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Categorize asks the model for one category of a transaction description
func (c *Client) Categorize(ctx context.Context, description string) (string, error) {
	var b strings.Builder
	b.WriteString("You categorize personal bank transactions.\n")
	b.WriteString("Answer with ONE lowercase category name and nothing else.\n")
	if len(c.categories) > 0 {
		b.WriteString("Allowed categories: ")
		b.WriteString(strings.Join(c.categories, ", "))
		b.WriteString(", uncategorized.\n")
	}
	b.WriteString("Transaction: ")
	b.WriteString(description)

	text, err := c.generate(ctx, b.String())
	if err != nil {
		return "", err
	}

	category := categorize.Normalize(firstLine(text))
	if len(c.categories) > 0 && !contains(c.categories, category) {
		c.logger.Debug("model answered outside the allowed categories", "answer", category)
		return ledger.DefaultCategory, nil
	}
	return category, nil
}

const extractPrompt = "You extract card payment data from a phone notification.\n" +
	"Output STRICT JSON only, no code fences, a single object with fields:\n" +
	"- \"amount\": number, unsigned, in major units\n" +
	"- \"currency\": ISO 4217 code, e.g. \"GBP\"\n" +
	"- \"merchant\": string\n" +
	"- \"category\": string or null\n" +
	"- \"direction\": \"out\" for payments, \"in\" for money received\n" +
	"If the text is not a payment notification, output {}.\n" +
	"Notification: "

type extraction struct {
	Amount    *decimal.Decimal `json:"amount"`
	Currency  string           `json:"currency"`
	Merchant  string           `json:"merchant"`
	Category  *string          `json:"category"`
	Direction string           `json:"direction"`
}

// Extract pulls payment fields out of a free-text notification
func (c *Client) Extract(ctx context.Context, text string) (*ingest.Extraction, error) {
	raw, err := c.generate(ctx, extractPrompt+text)
	if err != nil {
		return nil, err
	}

	var out extraction
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}
	if out.Amount == nil || out.Amount.IsZero() || strings.TrimSpace(out.Merchant) == "" {
		return nil, fmt.Errorf("%w: model found no payment", ledger.ErrMalformedPayload)
	}

	direction := ledger.DirectionOut
	if strings.EqualFold(out.Direction, string(ledger.DirectionIn)) {
		direction = ledger.DirectionIn
	}

	ext := &ingest.Extraction{
		Amount:    out.Amount.Abs(),
		Currency:  strings.ToUpper(strings.TrimSpace(out.Currency)),
		Merchant:  strings.TrimSpace(out.Merchant),
		Direction: direction,
	}
	if out.Category != nil {
		ext.Category = categorize.Normalize(*out.Category)
	}
	return ext, nil
}

// cleanModelJSON strips Markdown fences and text around the JSON object
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
