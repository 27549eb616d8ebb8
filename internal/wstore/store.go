// Package wstore holds the per-device in-memory conversation index:
// chats, contacts and messages rebuilt from protocol events. It is a
// derived cache, not the source of truth; every handler is best-effort
// and merges idempotently so event replay after a restart is harmless.
package wstore

import (
	"sync"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/protocol"
)

type Store struct {
	mu       sync.RWMutex
	chats    map[string]protocol.Chat
	contacts map[string]protocol.Contact
	messages map[string][]protocol.Message

	path string
}

// NewStore creates an empty store that snapshots to path.
func NewStore(path string) *Store {
	return &Store{
		chats:    make(map[string]protocol.Chat),
		contacts: make(map[string]protocol.Contact),
		messages: make(map[string][]protocol.Message),
		path:     path,
	}
}

// Bind subscribes the store to a session's event bus. The bus belongs
// to exactly one device, so no cross-device state is shared.
func (s *Store) Bind(bus EventBus.Bus) {
	subscribe := func(topic string, fn interface{}) {
		if err := bus.Subscribe(topic, fn); err != nil {
			zap.L().Error("wstore: subscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	subscribe(protocol.TopicHistorySync, s.HandleHistorySync)
	subscribe(protocol.TopicMessageUpsert, s.HandleMessageUpsert)
	subscribe(protocol.TopicMessageUpdate, s.HandleMessageUpdate)
	subscribe(protocol.TopicChatUpsert, s.HandleChatUpsert)
	subscribe(protocol.TopicContactUpsert, s.HandleContactUpsert)
}

// HandleHistorySync merges one bulk history page. Chats and contacts
// use shallow field overlay; messages are appended unless their id is
// already present in the conversation.
func (s *Store) HandleHistorySync(ev protocol.HistorySync) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range ev.Chats {
		s.chats[chat.ID] = mergeChat(s.chats[chat.ID], chat)
	}
	for _, contact := range ev.Contacts {
		s.contacts[contact.ID] = mergeContact(s.contacts[contact.ID], contact)
	}
	for _, msg := range ev.Messages {
		s.appendMessageLocked(msg)
	}
}

// HandleChatUpsert merges chat updates by shallow overlay.
func (s *Store) HandleChatUpsert(chats []protocol.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range chats {
		s.chats[chat.ID] = mergeChat(s.chats[chat.ID], chat)
	}
}

// HandleContactUpsert merges contact updates by shallow overlay.
func (s *Store) HandleContactUpsert(contacts []protocol.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range contacts {
		s.contacts[contact.ID] = mergeContact(s.contacts[contact.ID], contact)
	}
}

// HandleMessageUpsert stores newly arrived messages and bumps the chat
// activity counters. Only notify/append deliveries are indexed here;
// history backfill arrives through HandleHistorySync.
func (s *Store) HandleMessageUpsert(ev protocol.MessageUpsert) {
	if ev.Type != protocol.UpsertNotify && ev.Type != protocol.UpsertAppend {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range ev.Messages {
		if !s.appendMessageLocked(msg) {
			continue
		}

		chat := s.chats[msg.ChatID]
		chat.ID = msg.ChatID
		chat.ConversationTimestamp = msg.Timestamp
		chat.LastMessageTimestamp = msg.Timestamp
		if !msg.FromMe {
			chat.UnreadCount++
		}
		s.chats[msg.ChatID] = chat
	}
}

// HandleMessageUpdate overlays a delivery status onto a stored message.
// Unknown messages are ignored.
func (s *Store) HandleMessageUpdate(ev protocol.MessageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[ev.ChatID]
	for i := range list {
		if list[i].ID == ev.MessageID {
			list[i].Status = ev.Status
			return
		}
	}
}

// appendMessageLocked stores the message unless its id is already
// present, reporting whether it was added.
func (s *Store) appendMessageLocked(msg protocol.Message) bool {
	list := s.messages[msg.ChatID]
	for i := range list {
		if list[i].ID == msg.ID {
			return false
		}
	}
	s.messages[msg.ChatID] = append(list, msg)
	return true
}

// Chats returns a copy of every chat. Callers sort by recency.
func (s *Store) Chats() []protocol.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, chat)
	}
	return out
}

// Chat returns one chat by conversation id.
func (s *Store) Chat(id string) (protocol.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	return chat, ok
}

// Contact returns one contact by participant id.
func (s *Store) Contact(id string) (protocol.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[id]
	return contact, ok
}

// LoadMessages returns the most recent count messages of a
// conversation in stored order.
func (s *Store) LoadMessages(chatID string, count int) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	if count > 0 && len(list) > count {
		list = list[len(list)-count:]
	}
	out := make([]protocol.Message, len(list))
	copy(out, list)
	return out
}

// MessageCount returns the number of stored messages for a conversation.
func (s *Store) MessageCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[chatID])
}

// mergeChat overlays non-zero fields of src onto dst, keeping the rest.
func mergeChat(dst, src protocol.Chat) protocol.Chat {
	dst.ID = src.ID
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.UnreadCount != 0 {
		dst.UnreadCount = src.UnreadCount
	}
	if src.ConversationTimestamp != 0 {
		dst.ConversationTimestamp = src.ConversationTimestamp
	}
	if src.LastMessageTimestamp != 0 {
		dst.LastMessageTimestamp = src.LastMessageTimestamp
	}
	return dst
}

func mergeContact(dst, src protocol.Contact) protocol.Contact {
	dst.ID = src.ID
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Notify != "" {
		dst.Notify = src.Notify
	}
	if src.PushName != "" {
		dst.PushName = src.PushName
	}
	return dst
}
