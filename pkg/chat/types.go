package chat

// Package chat defines the wire-level domain types exchanged with the
// SimpleChat backend: conversations, messages and their file attachments.
// Field names and JSON tags follow the server's response models, so these
// structs decode API payloads directly.

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks the lifecycle of an assistant reply. User messages are
// always completed.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status will never change again server-side.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Conversation is one chat thread. Active and Offline are client-side flags:
// the server knows nothing about which conversation the user is looking at,
// and the offline placeholder never exists server-side at all.
type Conversation struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id,omitempty"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count,omitempty"`

	Active  bool `json:"-"`
	Offline bool `json:"-"`
}

// Attachment is a file stored by the server for a message.
type Attachment struct {
	ID        int64  `json:"id"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	ID              int64        `json:"id"`
	UserID          int64        `json:"user_id"`
	ConversationID  int64        `json:"conversation_id"`
	Role            Role         `json:"sender_type"`
	Content         string       `json:"content"`
	Status          Status       `json:"status"`
	ParentMessageID *int64       `json:"parent_message_id,omitempty"`
	StoppedAt       *string      `json:"stopped_at,omitempty"`
	CreatedAt       string       `json:"created_at"`
	Attachments     []Attachment `json:"files"`
}

// Pending reports whether this is an assistant reply still being generated.
func (m *Message) Pending() bool {
	return m.Role == RoleAssistant && m.Status == StatusPending
}

// MessageList is the payload of GET /api/messages. ConversationTitle carries
// the server-side auto-generated title back to the client.
type MessageList struct {
	Messages          []Message `json:"messages"`
	ConversationTitle string    `json:"conversation_title,omitempty"`
}

// SendResult is the payload of POST /api/messages: the stored user message
// and, when the sender was a user, the assistant reply placeholder.
type SendResult struct {
	Message Message  `json:"message"`
	Reply   *Message `json:"reply,omitempty"`
}
