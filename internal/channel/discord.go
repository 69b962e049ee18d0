package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"netopsbot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord receives commands from guild and direct messages over the gateway.
type Discord struct {
	token     string
	channelID string

	session *discordgo.Session
	selfID  string
	queue   *queue
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token string
	// ChannelID restricts listening to one channel when set.
	ChannelID string
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:     cfg.Token,
		channelID: cfg.ChannelID,
		queue:     newQueue(),
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Open connects to the gateway. Messages arrive through the handler
// registered here until Close.
func (d *Discord) Open(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session
	d.ctx, d.cancel = context.WithCancel(ctx)

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := d.toRaw(m)
		if !ok {
			return
		}
		d.queue.push(d.ctx, msg)
	})

	if err := session.Open(); err != nil {
		d.cancel()
		return fmt.Errorf("discord connect: %w", err)
	}
	if session.State != nil && session.State.User != nil {
		d.selfID = session.State.User.ID
		d.logger.Info("discord bot connected", "user", session.State.User.Username)
	}
	return nil
}

func (d *Discord) toRaw(m *discordgo.MessageCreate) (domain.RawMessage, bool) {
	if m.Message == nil || m.Author == nil {
		return domain.RawMessage{}, false
	}
	if m.Author.Bot || m.Author.ID == d.selfID {
		return domain.RawMessage{}, false
	}
	if d.channelID != "" && m.ChannelID != d.channelID {
		return domain.RawMessage{}, false
	}

	d.logger.Debug("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
	)
	return domain.RawMessage{
		ID:        m.ID,
		RoomID:    m.ChannelID,
		SenderID:  m.Author.ID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}, true
}

func (d *Discord) Receive(ctx context.Context) (domain.RawMessage, error) {
	return d.queue.receive(ctx)
}

// Send splits long text; the attachment rides on the last chunk.
func (d *Discord) Send(ctx context.Context, roomID string, resp domain.ChatResponse) error {
	chunks := splitMessage(resp.Text, discordMaxMsgLen)
	for i, chunk := range chunks {
		msg := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 && resp.HasAttachment() {
			msg.Files = []*discordgo.File{{
				Name:        resp.Attachment.Filename,
				ContentType: resp.Attachment.MimeType,
				Reader:      bytes.NewReader(resp.Attachment.Data),
			}}
		}
		if _, err := d.session.ChannelMessageSendComplex(roomID, msg, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}
