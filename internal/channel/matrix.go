package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"netopsbot/internal/domain"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	matrixMaxMsgLen    = 4000
	matrixRetryBackoff = 15 * time.Second
)

// Matrix syncs with a homeserver using an existing access token and takes
// commands from text messages in joined rooms.
type Matrix struct {
	homeserver  string
	userID      id.UserID
	accessToken string
	roomID      id.RoomID

	client    *mautrix.Client
	queue     *queue
	cancel    context.CancelFunc
	startTime int64
	logger    *slog.Logger
}

type MatrixConfig struct {
	Homeserver  string
	UserID      string // full MXID, e.g. @netops:example.org
	AccessToken string
	// RoomID restricts listening (and invite acceptance) to one room when set.
	RoomID string
	Logger *slog.Logger
}

func NewMatrix(cfg MatrixConfig) *Matrix {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Matrix{
		homeserver:  cfg.Homeserver,
		userID:      id.UserID(cfg.UserID),
		accessToken: cfg.AccessToken,
		roomID:      id.RoomID(cfg.RoomID),
		queue:       newQueue(),
		logger:      cfg.Logger,
	}
}

func (m *Matrix) Name() string { return "matrix" }

// Open creates the client and starts the sync loop, which reconnects on
// error until Close.
func (m *Matrix) Open(ctx context.Context) error {
	client, err := mautrix.NewClient(m.homeserver, m.userID, m.accessToken)
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	client.Store = mautrix.NewMemorySyncStore()
	m.client = client
	m.startTime = time.Now().UnixMilli()

	ctx, m.cancel = context.WithCancel(ctx)

	syncer, ok := client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix client syncer is not extensible")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if msg, ok := m.toRaw(evt); ok {
			m.queue.push(ctx, msg)
		}
	})
	syncer.OnEventType(event.StateMember, m.onMemberEvent)

	if m.roomID != "" {
		if _, err := client.JoinRoomByID(ctx, m.roomID); err != nil {
			m.cancel()
			return fmt.Errorf("join matrix room %s: %w", m.roomID, err)
		}
	}

	go m.syncLoop(ctx)
	m.logger.Info("matrix channel ready, starting sync", "user", m.userID, "room", m.roomID)
	return nil
}

func (m *Matrix) syncLoop(ctx context.Context) {
	for {
		err := m.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("matrix sync error, reconnecting", "err", err, "backoff", matrixRetryBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(matrixRetryBackoff):
		}
	}
}

func (m *Matrix) toRaw(evt *event.Event) (domain.RawMessage, bool) {
	if evt.Sender == m.userID {
		return domain.RawMessage{}, false
	}
	// Skip history delivered by the initial sync.
	if evt.Timestamp < m.startTime {
		return domain.RawMessage{}, false
	}
	if m.roomID != "" && evt.RoomID != m.roomID {
		return domain.RawMessage{}, false
	}

	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return domain.RawMessage{}, false
	}

	m.logger.Debug("matrix message received", "sender", evt.Sender, "room", evt.RoomID)
	return domain.RawMessage{
		ID:        string(evt.ID),
		RoomID:    string(evt.RoomID),
		SenderID:  string(evt.Sender),
		Text:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}, true
}

func (m *Matrix) onMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(m.userID) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if m.roomID != "" && evt.RoomID != m.roomID {
		m.logger.Warn("ignoring invite to unconfigured room", "room", evt.RoomID, "from", evt.Sender)
		return
	}

	m.logger.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := m.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		m.logger.Error("failed to join room", "room", evt.RoomID, "err", err)
	}
}

func (m *Matrix) Receive(ctx context.Context) (domain.RawMessage, error) {
	return m.queue.receive(ctx)
}

// Send posts the text, then uploads the attachment and posts it as an
// m.file event.
func (m *Matrix) Send(ctx context.Context, roomID string, resp domain.ChatResponse) error {
	room := id.RoomID(roomID)
	for _, chunk := range splitMessage(resp.Text, matrixMaxMsgLen) {
		if _, err := m.client.SendText(ctx, room, chunk); err != nil {
			return fmt.Errorf("matrix send: %w", err)
		}
	}
	if !resp.HasAttachment() {
		return nil
	}

	att := resp.Attachment
	upload, err := m.client.UploadBytesWithName(ctx, att.Data, att.MimeType, att.Filename)
	if err != nil {
		return fmt.Errorf("matrix upload: %w", err)
	}
	_, err = m.client.SendMessageEvent(ctx, room, event.EventMessage, fileContent(att, upload.ContentURI))
	if err != nil {
		return fmt.Errorf("matrix send file: %w", err)
	}
	return nil
}

func fileContent(att *domain.Attachment, uri id.ContentURI) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     att.Filename,
		FileName: att.Filename,
		URL:      uri.CUString(),
		Info: &event.FileInfo{
			MimeType: att.MimeType,
			Size:     len(att.Data),
		},
	}
}

func (m *Matrix) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil {
		m.client.StopSync()
	}
	return nil
}
