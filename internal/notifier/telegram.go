package notifier

import (
	"fmt"
	"net/http"
	"net/url"
)

// TelegramNotifier posts Markdown-formatted messages to a chat via the bot
// API.
type TelegramNotifier struct {
	Token  string
	ChatID string

	// BaseURL overrides the API host in tests. Empty means the real API.
	BaseURL string
	Client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{Token: token, ChatID: chatID}
}

func (t *TelegramNotifier) Send(subject, body string) error {
	base := t.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	text := body
	if subject != "" {
		text = "*" + subject + "*\n" + body
	}
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", base, t.Token)
	resp, err := client.PostForm(apiURL, url.Values{
		"chat_id":    {t.ChatID},
		"text":       {text},
		"parse_mode": {"Markdown"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}
