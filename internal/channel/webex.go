package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"netopsbot/internal/domain"
)

const (
	defaultWebexAPI  = "https://webexapis.com/v1"
	webexMaxErrorLen = 512
)

// Webex polls a single room for its latest message and replies through the
// messages API.
type Webex struct {
	token    string
	roomID   string
	apiBase  string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	lastID string
}

type WebexConfig struct {
	Token        string
	RoomID       string
	APIBase      string
	PollInterval time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

type webexMessage struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	PersonID    string    `json:"personId"`
	PersonEmail string    `json:"personEmail"`
	Text        string    `json:"text"`
	Created     time.Time `json:"created"`
}

type webexMessageList struct {
	Items []webexMessage `json:"items"`
}

func NewWebex(cfg WebexConfig) *Webex {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultWebexAPI
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webex{
		token:    cfg.Token,
		roomID:   cfg.RoomID,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		interval: cfg.PollInterval,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (w *Webex) Name() string { return "webex" }

// Open marks the room's current latest message as seen, so a restart does
// not replay the command that was last typed.
func (w *Webex) Open(ctx context.Context) error {
	msg, ok, err := w.latest(ctx)
	if err != nil {
		return fmt.Errorf("webex open: %w", err)
	}
	if ok {
		w.lastID = msg.ID
	}
	w.logger.Info("webex polling started", "room", w.roomID, "interval", w.interval)
	return nil
}

// Receive polls until the room's latest message is one it has not returned
// before.
func (w *Webex) Receive(ctx context.Context) (domain.RawMessage, error) {
	for {
		msg, ok, err := w.latest(ctx)
		if err != nil {
			return domain.RawMessage{}, err
		}
		if ok && msg.ID != w.lastID {
			w.lastID = msg.ID
			w.logger.Debug("webex message received", "id", msg.ID, "sender", msg.PersonEmail)
			return domain.RawMessage{
				ID:        msg.ID,
				RoomID:    msg.RoomID,
				SenderID:  msg.PersonID,
				Text:      msg.Text,
				Timestamp: msg.Created,
			}, nil
		}

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.RawMessage{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Webex) latest(ctx context.Context) (webexMessage, bool, error) {
	q := url.Values{}
	q.Set("roomId", w.roomID)
	q.Set("max", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiBase+"/messages?"+q.Encode(), nil)
	if err != nil {
		return webexMessage{}, false, err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	body, err := w.do(req)
	if err != nil {
		return webexMessage{}, false, fmt.Errorf("webex poll: %w", err)
	}

	var list webexMessageList
	if err := json.Unmarshal(body, &list); err != nil {
		return webexMessage{}, false, fmt.Errorf("webex poll: decode: %w", err)
	}
	if len(list.Items) == 0 {
		return webexMessage{}, false, nil
	}
	msg := list.Items[0]
	if msg.RoomID == "" {
		msg.RoomID = w.roomID
	}
	return msg, true, nil
}

// Send posts the text as JSON, or as multipart form data when a file is
// attached. Anything but 200 is an error.
func (w *Webex) Send(ctx context.Context, roomID string, resp domain.ChatResponse) error {
	if roomID == "" {
		roomID = w.roomID
	}

	var (
		body        io.Reader
		contentType string
	)
	if resp.HasAttachment() {
		buf, ct, err := webexMultipart(roomID, resp)
		if err != nil {
			return fmt.Errorf("webex send: %w", err)
		}
		body, contentType = buf, ct
	} else {
		payload, err := json.Marshal(map[string]string{"roomId": roomID, "text": resp.Text})
		if err != nil {
			return fmt.Errorf("webex send: %w", err)
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/messages", body)
	if err != nil {
		return fmt.Errorf("webex send: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", contentType)

	if _, err := w.do(req); err != nil {
		return fmt.Errorf("webex send: %w", err)
	}
	return nil
}

func webexMultipart(roomID string, resp domain.ChatResponse) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mp := multipart.NewWriter(buf)

	if err := mp.WriteField("roomId", roomID); err != nil {
		return nil, "", err
	}
	if err := mp.WriteField("text", resp.Text); err != nil {
		return nil, "", err
	}

	att := resp.Attachment
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, att.Filename))
	h.Set("Content-Type", att.MimeType)
	part, err := mp.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, "", err
	}
	if err := mp.Close(); err != nil {
		return nil, "", err
	}
	return buf, mp.FormDataContentType(), nil
}

func (w *Webex) do(req *http.Request) ([]byte, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > webexMaxErrorLen {
			body = body[:webexMaxErrorLen]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (w *Webex) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
