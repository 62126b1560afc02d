package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// Telegram posts the summary to a chat through the Bot API. QR payments with
// a proof image are sent as a photo with the summary as caption.
type Telegram struct {
	bot  *tgbotapi.BotAPI
	chat tgbotapi.BaseChat
}

// NewTelegram returns a Telegram notifier. apiURL is the Bot API root,
// normally https://api.telegram.org. chatID is a numeric chat id or an
// @channel username. No request is made until the first Notify.
func NewTelegram(apiURL, token, chatID string) (*Telegram, error) {
	var chat tgbotapi.BaseChat
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		chat.ChatID = id
	} else if strings.HasPrefix(chatID, "@") {
		chat.ChannelUsername = chatID
	} else {
		return nil, fmt.Errorf("invalid chat id %q", chatID)
	}

	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
	bot.SetAPIEndpoint(strings.TrimRight(apiURL, "/") + "/bot%s/%s")
	return &Telegram{bot: bot, chat: chat}, nil
}

// Notify sends the summary.
func (t *Telegram) Notify(ctx context.Context, s model.BatchSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caption := Caption(s)

	var c tgbotapi.Chattable
	if s.PaymentMethod == model.PaymentQR && s.Proof != nil && len(s.Proof.Data) > 0 {
		name := s.Proof.Filename
		if name == "" {
			name = "proof.jpg"
		}
		photo := tgbotapi.PhotoConfig{BaseFile: tgbotapi.BaseFile{
			BaseChat: t.chat,
			File:     tgbotapi.FileBytes{Name: name, Bytes: s.Proof.Data},
		}}
		photo.Caption = caption
		photo.ParseMode = tgbotapi.ModeMarkdown
		c = photo
	} else {
		msg := tgbotapi.MessageConfig{BaseChat: t.chat, Text: caption}
		msg.ParseMode = tgbotapi.ModeMarkdown
		c = msg
	}

	if _, err := t.bot.Request(c); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("telegram: code %d: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
