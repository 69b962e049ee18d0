package router

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"netopsbot/internal/domain"
)

const (
	attachmentMissing = "Attachment missing on controller."
	archiveText       = "show running config."
	maxAttachmentSize = 25 << 20
)

// Normalize builds the chat reply for a backend result. The attachment is
// read here, at send time; a file that has gone missing is reported in the
// text instead of failing the reply.
func Normalize(res domain.BackendResult) domain.ChatResponse {
	resp := domain.ChatResponse{Text: res.Message}
	if !res.Success || res.AttachmentPath == "" {
		return resp
	}

	att, ok := readAttachment(res.AttachmentPath)
	if !ok {
		if resp.Text == "" {
			resp.Text = attachmentMissing
		} else {
			resp.Text += "\n" + attachmentMissing
		}
		return resp
	}

	if resp.Text == "" {
		resp.Text = archiveText
	}
	resp.Attachment = att
	return resp
}

func readAttachment(path string) (*domain.Attachment, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxAttachmentSize {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return &domain.Attachment{
		Filename: filepath.Base(path),
		Data:     data,
		MimeType: mimeType,
	}, true
}
