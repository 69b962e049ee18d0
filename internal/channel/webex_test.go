package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"netopsbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type webexPost struct {
	ContentType string
	Auth        string
	Body        []byte
}

// fakeWebex serves the two message endpoints the transport uses.
type fakeWebex struct {
	mu       sync.Mutex
	messages []webexMessage
	posts    []webexPost
	status   int
}

func (f *fakeWebex) add(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, webexMessage{ID: id, RoomID: "room-1", PersonID: "p1", Text: text})
}

func (f *fakeWebex) Posts() []webexPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webexPost(nil), f.posts...)
}

func (f *fakeWebex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, `{"message":"denied"}`, f.status)
		return
	}
	if r.URL.Path != "/v1/messages" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("roomId") != "room-1" || r.URL.Query().Get("max") != "1" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		list := webexMessageList{Items: []webexMessage{}}
		if n := len(f.messages); n > 0 {
			list.Items = append(list.Items, f.messages[n-1])
		}
		_ = json.NewEncoder(w).Encode(list)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.posts = append(f.posts, webexPost{
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
			Body:        body,
		})
		_, _ = w.Write([]byte(`{"id":"reply"}`))
	}
}

func newTestWebex(t *testing.T, f *fakeWebex) *Webex {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewWebex(WebexConfig{
		Token:        "tok",
		RoomID:       "room-1",
		APIBase:      srv.URL + "/v1",
		PollInterval: 10 * time.Millisecond,
		Logger:       testLogger(),
	})
}

func TestWebex_OpenSkipsExistingMessage(t *testing.T) {
	f := &fakeWebex{}
	f.add("m1", "/66070112 restconf 10.0.15.181 create")
	w := newTestWebex(t, f)

	if err := w.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive should wait for a new message, got %v", err)
	}
}

func TestWebex_ReceiveNewMessageOnce(t *testing.T) {
	f := &fakeWebex{}
	w := newTestWebex(t, f)
	if err := w.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f.add("m2", "/66070112 status")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := w.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.ID != "m2" || msg.Text != "/66070112 status" || msg.RoomID != "room-1" {
		t.Errorf("unexpected message: %+v", msg)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := w.Receive(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("same message must not be returned twice, got %v", err)
	}

	f.add("m3", "/66070112 showrun")
	msg, err = w.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.ID != "m3" {
		t.Errorf("got %q, want m3", msg.ID)
	}
}

func TestWebex_PollErrorStatus(t *testing.T) {
	f := &fakeWebex{status: http.StatusUnauthorized}
	w := newTestWebex(t, f)

	_, err := w.Receive(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebex_SendText(t *testing.T) {
	f := &fakeWebex{}
	w := newTestWebex(t, f)

	if err := w.Send(context.Background(), "room-1", domain.ChatResponse{Text: "Ok: restconf"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	posts := f.Posts()
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Auth != "Bearer tok" {
		t.Errorf("auth header = %q", p.Auth)
	}
	if p.ContentType != "application/json" {
		t.Errorf("content type = %q", p.ContentType)
	}
	var body map[string]string
	if err := json.Unmarshal(p.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["roomId"] != "room-1" || body["text"] != "Ok: restconf" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestWebex_SendAttachment(t *testing.T) {
	f := &fakeWebex{}
	w := newTestWebex(t, f)

	resp := domain.ChatResponse{
		Text: "show running config.",
		Attachment: &domain.Attachment{
			Filename: "show_run_66070112_CSRv1000.txt",
			Data:     []byte("hostname CSR1kv\n"),
			MimeType: "text/plain",
		},
	}
	if err := w.Send(context.Background(), "room-1", resp); err != nil {
		t.Fatalf("Send: %v", err)
	}

	posts := f.Posts()
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	req, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(string(posts[0].Body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", posts[0].ContentType)
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse multipart: %v", err)
	}

	if got := req.FormValue("roomId"); got != "room-1" {
		t.Errorf("roomId = %q", got)
	}
	if got := req.FormValue("text"); got != "show running config." {
		t.Errorf("text = %q", got)
	}
	file, hdr, err := req.FormFile("files")
	if err != nil {
		t.Fatalf("files part: %v", err)
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	if hdr.Filename != "show_run_66070112_CSRv1000.txt" || string(data) != "hostname CSR1kv\n" {
		t.Errorf("unexpected file %q: %q", hdr.Filename, data)
	}
	if ct := hdr.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("file content type = %q", ct)
	}
}

func TestWebex_SendErrorStatus(t *testing.T) {
	f := &fakeWebex{status: http.StatusBadRequest}
	w := newTestWebex(t, f)

	err := w.Send(context.Background(), "room-1", domain.ChatResponse{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status error, got %v", err)
	}
}
