// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/notification"
	"github.com/grindstone-hq/grindstone/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token
	Token string

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org)
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RetryAttempts counts the first attempt.
	RetryAttempts int

	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the envelope of every Bot API reply.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters carries hints attached to failed requests.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// Message is the part of a sent message the client reads back.
type Message struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewClient creates a client. Token is required.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	defaults := DefaultClientConfig(config.Token)
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "telegram")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retrier: retry.New(
			retry.WithMaxAttempts(config.RetryAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithMaxDelay(30*time.Second),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying telegram call", "attempt", attempt, "error", err, "delay", delay)
			}),
		),
		logger: logger,
	}, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (*Message, error) {
	body := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	var message Message
	if err := c.callAPI(ctx, "sendMessage", body, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &message, nil
}

// callAPI runs one Bot API method under the retrier. A rate limit reply
// waits for the server supplied retry_after before the next attempt.
func (c *Client) callAPI(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.doAPICall(ctx, method, body, result)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			timer := time.NewTimer(time.Duration(apiErr.RetryAfter) * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return retry.Permanent(err)
			case <-timer.C:
			}
		}
		if isRetryableError(err) {
			return retry.Retryable(err)
		}
		return err
	})
}

// doAPICall performs a single API call.
func (c *Client) doAPICall(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 500 {
			return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.OK {
		apiErr := &APIError{
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// transport failures
	msg := err.Error()
	for _, s := range []string{"timeout", "connection refused", "temporary", "reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION SENDER
// ══════════════════════════════════════════════════════════════════════════════

// Sender posts notifications to one chat.
type Sender struct {
	client  *Client
	chatID  int64
	limiter *RateLimiter

	// Silent sends notifications below this priority without a sound.
	Silent notification.Priority
}

// NewSender creates a sender for chatID.
func NewSender(client *Client, chatID int64) *Sender {
	return &Sender{
		client:  client,
		chatID:  chatID,
		limiter: NewRateLimiter(DefaultRateLimiterConfig()),
		Silent:  notification.PriorityHigh,
	}
}

// Send implements notification.Sender.
func (s *Sender) Send(ctx context.Context, n notification.Notification) error {
	body := map[string]interface{}{
		"chat_id": s.chatID,
		"text":    Format(n),
	}
	if n.Priority < s.Silent {
		body["disable_notification"] = true
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.client.callAPI(ctx, "sendMessage", body, nil)
}

// Format renders a notification as message text.
func Format(n notification.Notification) string {
	icon := "•"
	switch n.Priority {
	case notification.PriorityHigh:
		icon = "⚠️"
	case notification.PriorityUrgent:
		icon = "🚨"
	}
	return fmt.Sprintf("%s %s\n%s", icon, n.Title, n.Message)
}
