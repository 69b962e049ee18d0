package channel

import (
	"fmt"
	"log/slog"
	"time"

	"netopsbot/internal/config"
	"netopsbot/internal/domain"
)

// New builds the transport selected by cfg.Type. Credentials are checked
// here so a missing token fails at startup rather than on first use.
func New(cfg config.ChannelConfig, logger *slog.Logger) (domain.Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", cfg.Type)

	switch cfg.Type {
	case "webex":
		w := cfg.Webex
		if w.Token == "" || w.RoomID == "" {
			return nil, fmt.Errorf("webex: token and roomId are required")
		}
		return NewWebex(WebexConfig{
			Token:        w.Token,
			RoomID:       w.RoomID,
			APIBase:      w.APIBase,
			PollInterval: time.Duration(w.PollIntervalSeconds) * time.Second,
			Logger:       logger,
		}), nil

	case "telegram":
		if cfg.Telegram.Token == "" {
			return nil, fmt.Errorf("telegram: token is required")
		}
		return NewTelegram(TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			Logger:    logger,
		}), nil

	case "slack":
		if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
			return nil, fmt.Errorf("slack: botToken and appToken are required")
		}
		return NewSlack(SlackConfig{
			BotToken:  cfg.Slack.BotToken,
			AppToken:  cfg.Slack.AppToken,
			ChannelID: cfg.Slack.ChannelID,
			Logger:    logger,
		}), nil

	case "discord":
		if cfg.Discord.Token == "" {
			return nil, fmt.Errorf("discord: token is required")
		}
		return NewDiscord(DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
			Logger:    logger,
		}), nil

	case "matrix":
		m := cfg.Matrix
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" {
			return nil, fmt.Errorf("matrix: homeserver, userId and accessToken are required")
		}
		return NewMatrix(MatrixConfig{
			Homeserver:  m.Homeserver,
			UserID:      m.UserID,
			AccessToken: m.AccessToken,
			RoomID:      m.RoomID,
			Logger:      logger,
		}), nil

	case "cli", "":
		return NewCLI(CLIConfig{Prompt: "> ", Logger: logger}), nil
	}
	return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
}
