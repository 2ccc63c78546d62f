package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/logging"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

// Notifier delivers a message to a user. Delivery is best effort and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// Telegram sends notifications through the Bot API sendMessage method.
type Telegram struct {
	http    *httpx.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

func NewTelegram(httpClient *httpx.Client, token string, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Telegram{http: httpClient, baseURL: registry.TelegramAPIBaseURL, token: strings.TrimSpace(token), logger: logger}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) Notify(ctx context.Context, userID, message string) {
	if t.token == "" {
		return
	}
	body := sendMessageRequest{
		ChatID:                userID,
		Text:                  message,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	if _, err := httpx.DoBodyJSON(ctx, t.http, http.MethodPost, endpoint, body, nil, nil); err != nil {
		t.logger.Warn("telegram notification failed", "chat_id", userID, "code", int(clierr.CodeOf(err)))
	}
}

// Log writes notifications to a logger instead of a user channel.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, userID, message string) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("notification", "user_id", userID, "message", message)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) {}

// SwapSent is the success message for a broadcast swap.
func SwapSent(chain, aggregator, txHash, explorerURL string) string {
	lines := []string{
		"Swap sent.",
		"Network: " + html.EscapeString(chain),
		"Aggregator: " + html.EscapeString(aggregator),
		"Tx: <code>" + html.EscapeString(txHash) + "</code>",
	}
	if explorerURL != "" {
		lines = append(lines, fmt.Sprintf(`<a href="%s">Open in explorer</a>`, html.EscapeString(explorerURL)))
	}
	return strings.Join(lines, "\n")
}

// SwapFailed renders err for the user without internal details.
func SwapFailed(err error) string {
	return "Swap failed: " + html.EscapeString(clierr.UserMessage(err))
}
