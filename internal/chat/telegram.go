// Package chat implements the chat-bot transport (§6): an opaque
// send(text) plus an incoming (chatId, userId, text) message stream, over
// the Telegram Bot API.
//
// Grounded on the other_examples billygk-alpha-trading telegram usage
// (telegram.Notify / telegram.SendInteractiveMessage) — that repo's own
// internal/telegram package wasn't retrieved as a complete file, so this
// is written fresh against Telegram's public Bot API HTTP contract
// (sendMessage / getUpdates long-polling) rather than copied from a body
// that wasn't in the pack.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Message is one inbound chat message.
type Message struct {
	ChatID string
	UserID string
	Text   string
}

// Transport is the minimal send/receive sink the Command Dispatcher and
// Scheduler notifications depend on.
type Transport interface {
	Send(ctx context.Context, text string) error
	Messages() <-chan Message
}

// Telegram implements Transport against the Telegram Bot API.
type Telegram struct {
	logger     *zap.Logger
	httpClient *http.Client
	token      string
	chatID     string

	messages chan Message
	offset   int64
}

// NewTelegram constructs a Telegram transport and starts its long-poll
// receive loop under ctx.
func NewTelegram(ctx context.Context, logger *zap.Logger, token, chatID string) *Telegram {
	t := &Telegram{
		logger:     logger,
		httpClient: &http.Client{Timeout: 35 * time.Second},
		token:      token,
		chatID:     chatID,
		messages:   make(chan Message, 100),
	}
	go t.pollLoop(ctx)
	return t
}

func (t *Telegram) apiURL(method string) string {
	return fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.token, method)
}

// Send delivers text to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL("sendMessage"), nil)
	if err != nil {
		return fmt.Errorf("chat: build sendMessage request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat: sendMessage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat: sendMessage status %d", resp.StatusCode)
	}
	return nil
}

// Messages returns the channel of inbound messages.
func (t *Telegram) Messages() <-chan Message {
	return t.messages
}

type updateResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		UpdateID int64 `json:"update_id"`
		Message  struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
			From struct {
				ID int64 `json:"id"`
			} `json:"from"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"result"`
}

func (t *Telegram) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(t.messages)
			return
		default:
		}

		form := url.Values{}
		form.Set("timeout", "30")
		form.Set("offset", fmt.Sprintf("%d", t.offset))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL("getUpdates"), nil)
		if err != nil {
			t.logger.Warn("chat: build getUpdates request", zap.Error(err))
			continue
		}
		req.URL.RawQuery = form.Encode()

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			t.logger.Warn("chat: getUpdates failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var out updateResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.logger.Warn("chat: decode getUpdates response", zap.Error(err))
			continue
		}

		for _, u := range out.Result {
			t.offset = u.UpdateID + 1
			if u.Message.Text == "" {
				continue
			}
			select {
			case t.messages <- Message{
				ChatID: fmt.Sprintf("%d", u.Message.Chat.ID),
				UserID: fmt.Sprintf("%d", u.Message.From.ID),
				Text:   u.Message.Text,
			}:
			case <-ctx.Done():
				close(t.messages)
				return
			}
		}
	}
}

// noop is a Transport that discards sends and never receives; used when
// chat credentials are absent.
type noop struct {
	messages chan Message
}

// NewNoop constructs a Transport with no backing chat service.
func NewNoop() Transport {
	return &noop{messages: make(chan Message)}
}

func (n *noop) Send(context.Context, string) error { return nil }
func (n *noop) Messages() <-chan Message           { return n.messages }
