// Package notification implements the outbound channel senders: Telegram
// via the bot HTTP API and email via SMTP.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// ErrBlocked marks a permission-denied send: the recipient blocked the bot
// or never started a chat. The caller deactivates the user.
var ErrBlocked = errors.New("recipient rejected the bot")

// InlineButton is one inline keyboard button with a callback payload.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboard is rows of inline buttons attached to a message.
type InlineKeyboard [][]InlineButton

// Telegram sends messages through the bot HTTP API.
type Telegram struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
}

// NewTelegram creates a sender for the given bot token.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{
		botToken:   botToken,
		apiBase:    telegramAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewTelegramWithBase creates a sender against a custom API base, used by
// tests to point at a local server.
func NewTelegramWithBase(botToken, apiBase string) *Telegram {
	t := NewTelegram(botToken)
	t.apiBase = apiBase
	return t
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Do performs one bot API call, decoding the result into out when non-nil.
// HTTP 403 maps to ErrBlocked.
func (t *Telegram) Do(ctx context.Context, method string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return fmt.Errorf("parsing %s response: %w", method, err)
	}
	if !api.OK {
		if resp.StatusCode == http.StatusForbidden || api.ErrorCode == 403 {
			return fmt.Errorf("%s: %s: %w", method, api.Description, ErrBlocked)
		}
		return fmt.Errorf("%s failed (%d): %s", method, api.ErrorCode, api.Description)
	}

	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

type sendMessageRequest struct {
	ChatID      string      `json:"chat_id"`
	Text        string      `json:"text"`
	ParseMode   string      `json:"parse_mode"`
	ReplyMarkup interface{} `json:"reply_markup,omitempty"`
}

type inlineMarkup struct {
	InlineKeyboard InlineKeyboard `json:"inline_keyboard"`
}

// SendMessage sends an HTML message, optionally with an inline keyboard.
func (t *Telegram) SendMessage(ctx context.Context, chatID, html string, keyboard InlineKeyboard) error {
	req := sendMessageRequest{
		ChatID:    chatID,
		Text:      html,
		ParseMode: "HTML",
	}
	if len(keyboard) > 0 {
		req.ReplyMarkup = inlineMarkup{InlineKeyboard: keyboard}
	}
	return t.Do(ctx, "sendMessage", req, nil)
}

// IsBlocked reports whether err is a permission-denied send.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}

// IsTimeout reports whether err is a client-side timeout. Timed-out sends
// are treated as probably delivered so they are not retried.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
