package domain

import "time"

// RawMessage is one inbound chat message.
type RawMessage struct {
	ID        string
	RoomID    string
	SenderID  string
	Text      string
	Timestamp time.Time
}

// Attachment is a single file sent alongside a chat reply.
type Attachment struct {
	Filename string
	Data     []byte
	MimeType string
}

// ChatResponse is the normalized reply posted back to the room.
type ChatResponse struct {
	Text       string
	Attachment *Attachment
}

// HasAttachment reports whether the response carries a file.
func (r ChatResponse) HasAttachment() bool {
	return r.Attachment != nil
}
