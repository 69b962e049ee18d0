package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"netopsbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram receives commands through long polling. Replies are sent as
// plain text because device output is full of Markdown metacharacters.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	endpoint  string

	bot    *tgbotapi.BotAPI
	queue  *queue
	logger *slog.Logger

	stopOnce sync.Once
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	// APIEndpoint overrides tgbotapi.APIEndpoint, mostly for tests.
	APIEndpoint string
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		endpoint:  cfg.APIEndpoint,
		queue:     newQueue(),
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Open connects to Telegram and starts forwarding updates until Close.
func (t *Telegram) Open(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		for update := range updates {
			msg, ok := t.toRaw(update)
			if !ok {
				continue
			}
			if !t.queue.push(ctx, msg) {
				return
			}
		}
		t.queue.fail(errors.New("telegram update stream closed"))
	}()
	return nil
}

func (t *Telegram) Receive(ctx context.Context) (domain.RawMessage, error) {
	return t.queue.receive(ctx)
}

func (t *Telegram) toRaw(update tgbotapi.Update) (domain.RawMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.RawMessage{}, false
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return domain.RawMessage{}, false
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.RawMessage{}, false
	}

	return domain.RawMessage{
		ID:        strconv.Itoa(m.MessageID),
		RoomID:    strconv.FormatInt(m.Chat.ID, 10),
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Send posts the text in chunks, then the attachment as a document.
func (t *Telegram) Send(ctx context.Context, roomID string, resp domain.ChatResponse) error {
	chatID, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", roomID, err)
	}

	for _, chunk := range splitMessage(resp.Text, telegramMaxMsgLen) {
		if err := t.send(ctx, tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}

	if resp.HasAttachment() {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
			Name:  resp.Attachment.Filename,
			Bytes: resp.Attachment.Data,
		})
		if err := t.send(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// send retries rate-limited and transient failures with a linear backoff.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err

		backoff := time.Duration(attempt+1) * time.Second
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			backoff = time.Duration(apiErr.RetryAfter) * time.Second
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// Close stops long polling. StopReceivingUpdates panics when called twice.
func (t *Telegram) Close() error {
	t.stopOnce.Do(func() {
		if t.bot != nil {
			t.bot.StopReceivingUpdates()
		}
	})
	return nil
}
