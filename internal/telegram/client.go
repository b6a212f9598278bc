package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/dentalcase"
)

const defaultAPIBase = "https://api.telegram.org"

// Client talks to the Telegram Bot HTTP API and implements
// dentalcase.Notifier. Broadcasts go to the configured group chat;
// direct messages go to a student's private chat.
type Client struct {
	http    *resty.Client
	groupID int64
	log     *zap.Logger
}

type Option func(*Client)

// WithAPIBase overrides the Telegram API host, used in tests.
func WithAPIBase(base string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(strings.TrimRight(base, "/"))
	}
}

func NewClient(token string, groupID int64, log *zap.Logger, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(defaultAPIBase).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	c := &Client{
		http:    httpClient,
		groupID: groupID,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}

	// The token is part of the path, not a header.
	c.http.SetBaseURL(c.http.BaseURL + "/bot" + token)

	return c
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

func (c *Client) call(ctx context.Context, method string, body any) (*apiResponse, error) {
	var out apiResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}

	if !out.OK {
		return &out, fmt.Errorf("telegram %s: %s (http %d)", method, out.Description, resp.StatusCode())
	}

	return &out, nil
}

func (c *Client) Broadcast(ctx context.Context, text string, action dentalcase.BroadcastAction) (*dentalcase.BroadcastRef, error) {
	body := map[string]any{
		"chat_id":    c.groupID,
		"text":       text,
		"parse_mode": "Markdown",
		"reply_markup": inlineKeyboardMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{{
				{
					Text:         action.Label,
					URL:          action.URL,
					CallbackData: action.CallbackData,
				},
			}},
		},
	}

	out, err := c.call(ctx, "sendMessage", body)
	if err != nil {
		return nil, err
	}

	var msg sentMessage
	if err := json.Unmarshal(out.Result, &msg); err != nil {
		return nil, fmt.Errorf("decode sendMessage result: %w", err)
	}

	return &dentalcase.BroadcastRef{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
	}, nil
}

func (c *Client) LockBroadcast(ctx context.Context, ref dentalcase.BroadcastRef, finalText string) error {
	body := map[string]any{
		"chat_id":      ref.ChatID,
		"message_id":   ref.MessageID,
		"text":         finalText,
		"parse_mode":   "Markdown",
		"reply_markup": inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{}},
	}

	out, err := c.call(ctx, "editMessageText", body)
	if err != nil {
		// Editing an already locked message to the same content is a
		// no-op, not a failure.
		if out != nil && strings.Contains(out.Description, "message is not modified") {
			return nil
		}
		return err
	}

	return nil
}

func (c *Client) DirectMessage(ctx context.Context, chatID int64, text string) error {
	body := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	_, err := c.call(ctx, "sendMessage", body)
	return err
}

// AnswerCallback closes the loading state on an inline button press,
// optionally with an alert popup.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	body := map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        showAlert,
	}

	_, err := c.call(ctx, "answerCallbackQuery", body)
	return err
}
