// Package protocol defines the narrow contract between the session
// lifecycle manager and the underlying chat-protocol connection, plus
// the event structs published on each session's event bus. The
// whatsmeow-backed dialer in this package is the production
// implementation; tests substitute their own.
package protocol

import (
	"context"
	"strings"

	"github.com/asaskevich/EventBus"
)

// Per-session event bus topics. Every session owns its own bus, so
// handlers never share state across devices.
const (
	TopicConnection    = "connection.update"
	TopicHistorySync   = "history.sync"
	TopicMessageUpsert = "messages.upsert"
	TopicMessageUpdate = "messages.update"
	TopicChatUpsert    = "chats.upsert"
	TopicContactUpsert = "contacts.upsert"
)

// Message upsert delivery types. Only notify and append reach the
// conversation store through TopicMessageUpsert; history backfill
// arrives via TopicHistorySync instead.
const (
	UpsertNotify = "notify"
	UpsertAppend = "append"
)

const defaultUserServer = "s.whatsapp.net"

// UserInfo identifies the authenticated account behind a connection.
type UserInfo struct {
	JID  string `json:"jid"`
	Name string `json:"name,omitempty"`
}

// PhoneNumber derives the bare phone number from the account JID
// ("628xx:5@s.whatsapp.net" -> "628xx").
func (u UserInfo) PhoneNumber() string {
	num := u.JID
	if i := strings.IndexByte(num, '@'); i >= 0 {
		num = num[:i]
	}
	if i := strings.IndexByte(num, ':'); i >= 0 {
		num = num[:i]
	}
	return num
}

// Chat is one conversation in the per-device index.
type Chat struct {
	ID                    string `json:"id"`
	Name                  string `json:"name,omitempty"`
	UnreadCount           int    `json:"unread_count,omitempty"`
	ConversationTimestamp int64  `json:"conversation_timestamp,omitempty"`
	LastMessageTimestamp  int64  `json:"last_message_timestamp,omitempty"`
}

// Contact is one known participant.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Notify   string `json:"notify,omitempty"`
	PushName string `json:"push_name,omitempty"`
}

// Message is one conversation entry. ID is the protocol message id used
// for de-duplication; Status carries the delivery state overlay.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	Sender    string `json:"sender,omitempty"`
	FromMe    bool   `json:"from_me"`
	PushName  string `json:"push_name,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status,omitempty"`
}

// ConnectionUpdate is published on TopicConnection. Exactly one of QR,
// Open or Closed is meaningful per emission.
type ConnectionUpdate struct {
	QR        string
	Open      bool
	User      *UserInfo
	Closed    bool
	LoggedOut bool
	Reason    string
}

// HistorySync is one bulk page of chats/contacts/messages.
type HistorySync struct {
	Chats    []Chat
	Contacts []Contact
	Messages []Message
	IsLatest bool
}

// MessageUpsert carries newly arrived messages.
type MessageUpsert struct {
	Type     string
	Messages []Message
}

// MessageUpdate overlays delivery status onto an already stored message.
type MessageUpdate struct {
	ChatID    string
	MessageID string
	Status    string
}

// Conn is an open protocol connection for one device. Implementations
// publish events on the bus handed to the Dialer and must be safe for
// concurrent use.
type Conn interface {
	// SendText sends a plain text message and returns the
	// provider-assigned message id, which may be empty.
	SendText(ctx context.Context, target string, text string) (string, error)
	// Logout revokes the device credentials upstream.
	Logout(ctx context.Context) error
	// Close ends the connection without logging out.
	Close() error
}

// Dialer opens a connection for a device. credentialDir holds the
// device's opaque credential material and must outlive the connection.
type Dialer interface {
	Dial(ctx context.Context, deviceID string, credentialDir string, bus EventBus.Bus) (Conn, error)
}

// NormalizeTarget converts a bare phone number into the protocol's
// addressing form. Values already carrying a server part pass through.
func NormalizeTarget(target string) string {
	if strings.ContainsRune(target, '@') {
		return target
	}
	return target + "@" + defaultUserServer
}
