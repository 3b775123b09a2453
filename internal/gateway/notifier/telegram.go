package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/internal/logger"
)

// Telegram 通知器：把交易/告警消息推送到指定群或频道。
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

// Send renders and pushes one message. Delivery errors are returned so the
// caller can record the failed send, but callers must not let them propagate
// into order handling.
func (t *Telegram) Send(severity Severity, symbol, text, correlationID string) error {
	msg := Message{
		Icon:      iconFor(severity),
		Title:     symbol,
		Lines:     []string{text},
		Footer:    correlationID,
		Timestamp: time.Now(),
	}
	if err := t.sendText(msg.Render()); err != nil {
		logger.Warnf("telegram: send failed (severity=%s symbol=%s): %v", severity, symbol, err)
		return err
	}
	return nil
}

// sendText 发送文本消息（带最多 3 次重试）。
func (t *Telegram) sendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram config incomplete")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

// Noop discards every message; used when no telegram credentials are set.
type Noop struct{}

func (Noop) Send(severity Severity, symbol, text, correlationID string) error {
	logger.Debugf("notifier(noop): [%s] %s %s", severity, symbol, text)
	return nil
}
