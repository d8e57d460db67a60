package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPNotifier posts messages to a push gateway as JSON
type HTTPNotifier struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPNotifier creates a push gateway notifier. token is sent as a bearer token when set.
func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify posts the message; any non-2xx status is an error
func (n *HTTPNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// LogNotifier writes messages to the log. Used when no gateway is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs the message
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("notification", "title", msg.Title, "body", msg.Body, "deep_link", msg.DeepLink)
	return nil
}
