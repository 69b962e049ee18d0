package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"netopsbot/internal/domain"
	"netopsbot/internal/metrics"
	"netopsbot/internal/parser"
)

// internalFailure is sent when the command could not be evaluated at all.
const internalFailure = "Error: Unable to process command."

// IntentParser turns message text into a validated Intent.
type IntentParser interface {
	Parse(ctx context.Context, text string) (domain.Intent, error)
}

// LoopConfig holds the dependencies of the run loop.
type LoopConfig struct {
	Transport  domain.Transport
	Parser     IntentParser
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Loop is the receive → parse → dispatch → send cycle. It handles one
// message at a time; the next message is not fetched until the reply is sent.
type Loop struct {
	transport  domain.Transport
	parser     IntentParser
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		transport:  cfg.Transport,
		parser:     cfg.Parser,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

// Run processes messages until ctx is cancelled (returns nil) or the
// transport fails to receive or send (returns the error).
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("command loop started", "transport", l.transport.Name())
	for {
		msg, err := l.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("command loop stopping")
				return nil
			}
			return fmt.Errorf("receive from %s: %w", l.transport.Name(), err)
		}
		if err := l.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle answers a single message. Only a failed send is returned.
func (l *Loop) Handle(ctx context.Context, msg domain.RawMessage) error {
	metrics.MessagesTotal.Inc()
	logger := l.logger.With("request_id", uuid.NewString(), "room", msg.RoomID)

	resp, ok := l.respond(ctx, msg.Text, logger)
	if !ok {
		return nil
	}

	if err := l.transport.Send(ctx, msg.RoomID, resp); err != nil {
		logger.Error("send reply failed", "err", err)
		return fmt.Errorf("send to %s: %w", l.transport.Name(), err)
	}
	metrics.SendsTotal.Inc()
	if resp.HasAttachment() {
		metrics.AttachmentsSent.Inc()
	}
	logger.Debug("reply sent", "text_len", len(resp.Text), "attachment", resp.HasAttachment())
	return nil
}

// Respond computes the reply for text without sending it. ok is false when
// the text is not addressed to this router.
func (l *Loop) Respond(ctx context.Context, text string) (domain.ChatResponse, bool) {
	return l.respond(ctx, text, l.logger)
}

func (l *Loop) respond(ctx context.Context, text string, logger *slog.Logger) (domain.ChatResponse, bool) {
	intent, err := l.parser.Parse(ctx, text)
	if err != nil {
		if errors.Is(err, parser.ErrNotCommand) {
			metrics.IgnoredTotal.Inc()
			return domain.ChatResponse{}, false
		}
		var uerr *parser.UserError
		if errors.As(err, &uerr) {
			metrics.UserError(uerr.Kind.String())
			logger.Info("command rejected", "reason", uerr.Kind.String())
			return domain.ChatResponse{Text: uerr.Error()}, true
		}
		logger.Error("parse failed", "err", err)
		return domain.ChatResponse{Text: internalFailure}, true
	}

	logger.Info("command received",
		"protocol", intent.Protocol,
		"action", intent.Action,
		"target", intent.Target,
	)
	return l.dispatcher.Dispatch(ctx, intent), true
}
