package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"netopsbot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack receives commands over Socket Mode, either as plain channel
// messages or as a slash command named after the device.
type Slack struct {
	botToken  string
	appToken  string
	channelID string
	apiURL    string

	client *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
	queue  *queue
	logger *slog.Logger
	botUID string // the bot's own user ID, to avoid replying to self
}

type SlackConfig struct {
	BotToken string
	AppToken string
	// ChannelID restricts listening to one channel when set.
	ChannelID string
	// APIURL overrides the Web API base URL, mostly for tests.
	APIURL string
	Logger *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Slack{
		botToken:  cfg.BotToken,
		appToken:  cfg.AppToken,
		channelID: cfg.ChannelID,
		apiURL:    cfg.APIURL,
		queue:     newQueue(),
		logger:    cfg.Logger,
	}
	s.client = slack.New(s.botToken, s.clientOptions()...)
	return s
}

func (s *Slack) clientOptions() []slack.Option {
	opts := []slack.Option{slack.OptionAppLevelToken(s.appToken)}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	return opts
}

func (s *Slack) Name() string { return "slack" }

// Open authenticates and starts the Socket Mode connection in the
// background. A connection failure surfaces on the next Receive.
func (s *Slack) Open(ctx context.Context) error {
	authResp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	ctx, s.cancel = context.WithCancel(ctx)
	s.socket = socketmode.New(s.client)

	go s.consume(ctx)
	go func() {
		err := s.socket.RunContext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		s.queue.fail(fmt.Errorf("slack socket mode: %w", err))
	}()
	return nil
}

func (s *Slack) consume(ctx context.Context) {
	for {
		var evt socketmode.Event
		select {
		case <-ctx.Done():
			return
		case evt = <-s.socket.Events:
		}

		var (
			msg domain.RawMessage
			ok  bool
		)
		switch evt.Type {
		case socketmode.EventTypeEventsAPI:
			eventsAPIEvent, isAPI := evt.Data.(slackevents.EventsAPIEvent)
			if !isAPI {
				continue
			}
			s.socket.Ack(*evt.Request)
			if eventsAPIEvent.Type == slackevents.CallbackEvent {
				if ev, isMsg := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); isMsg {
					msg, ok = s.messageToRaw(ev)
				}
			}

		case socketmode.EventTypeSlashCommand:
			cmd, isCmd := evt.Data.(slack.SlashCommand)
			if !isCmd {
				continue
			}
			s.socket.Ack(*evt.Request)
			msg, ok = s.slashToRaw(cmd)

		default:
			// Acknowledge unknown events to prevent Socket Mode disconnection.
			if evt.Request != nil {
				s.socket.Ack(*evt.Request)
			}
		}

		if ok && !s.queue.push(ctx, msg) {
			return
		}
	}
}

func (s *Slack) messageToRaw(ev *slackevents.MessageEvent) (domain.RawMessage, bool) {
	// Ignore the bot's own messages, edits and other subtypes.
	if ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "" {
		return domain.RawMessage{}, false
	}
	if s.channelID != "" && ev.Channel != s.channelID {
		return domain.RawMessage{}, false
	}

	s.logger.Debug("slack message received", "user", ev.User, "channel", ev.Channel)
	return domain.RawMessage{
		ID:       ev.TimeStamp,
		RoomID:   ev.Channel,
		SenderID: ev.User,
		Text:     ev.Text,
	}, true
}

// slashToRaw rebuilds "/<command> <text>" so a slash command registered as
// the device ID parses exactly like a typed message.
func (s *Slack) slashToRaw(cmd slack.SlashCommand) (domain.RawMessage, bool) {
	if s.channelID != "" && cmd.ChannelID != s.channelID {
		return domain.RawMessage{}, false
	}
	content := strings.TrimSpace(cmd.Command + " " + cmd.Text)

	s.logger.Debug("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
	return domain.RawMessage{
		ID:       cmd.TriggerID,
		RoomID:   cmd.ChannelID,
		SenderID: cmd.UserID,
		Text:     content,
	}, true
}

func (s *Slack) Receive(ctx context.Context) (domain.RawMessage, error) {
	return s.queue.receive(ctx)
}

// Send posts the text, then uploads the attachment into the same channel.
func (s *Slack) Send(ctx context.Context, roomID string, resp domain.ChatResponse) error {
	for _, chunk := range splitMessage(resp.Text, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(ctx,
			roomID,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}

	if resp.HasAttachment() {
		att := resp.Attachment
		_, err := s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  roomID,
			Filename: att.Filename,
			Title:    att.Filename,
			FileSize: len(att.Data),
			Reader:   bytes.NewReader(att.Data),
		})
		if err != nil {
			return fmt.Errorf("slack upload: %w", err)
		}
	}
	return nil
}

func (s *Slack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
