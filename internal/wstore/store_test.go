package wstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talkincode/wagate/internal/protocol"
)

func TestHandleHistorySyncMerge(t *testing.T) {
	assert := assert.New(t)
	store := NewStore("")

	page := protocol.HistorySync{
		Chats: []protocol.Chat{
			{ID: "628111@s.whatsapp.net", Name: "Alice", LastMessageTimestamp: 100},
		},
		Contacts: []protocol.Contact{
			{ID: "628111@s.whatsapp.net", Notify: "alice"},
		},
		Messages: []protocol.Message{
			{ID: "m1", ChatID: "628111@s.whatsapp.net", Text: "hi", Timestamp: 100},
		},
	}

	store.HandleHistorySync(page)
	// Replaying the same page must not duplicate anything.
	store.HandleHistorySync(page)

	assert.Equal(1, store.MessageCount("628111@s.whatsapp.net"))
	chat, found := store.Chat("628111@s.whatsapp.net")
	assert.True(found)
	assert.Equal("Alice", chat.Name)

	// A later page with fewer fields overlays without erasing the name.
	store.HandleHistorySync(protocol.HistorySync{
		Chats: []protocol.Chat{
			{ID: "628111@s.whatsapp.net", LastMessageTimestamp: 200},
		},
	})
	chat, _ = store.Chat("628111@s.whatsapp.net")
	assert.Equal("Alice", chat.Name)
	assert.EqualValues(200, chat.LastMessageTimestamp)
}

func TestHandleMessageUpsert(t *testing.T) {
	assert := assert.New(t)
	store := NewStore("")

	inbound := protocol.MessageUpsert{
		Type: protocol.UpsertNotify,
		Messages: []protocol.Message{
			{ID: "m1", ChatID: "628222@s.whatsapp.net", Text: "hello", Timestamp: 50},
		},
	}
	store.HandleMessageUpsert(inbound)
	store.HandleMessageUpsert(inbound)

	assert.Equal(1, store.MessageCount("628222@s.whatsapp.net"))
	chat, found := store.Chat("628222@s.whatsapp.net")
	assert.True(found)
	assert.EqualValues(50, chat.LastMessageTimestamp)
	// Duplicate deliveries must not inflate the unread counter.
	assert.EqualValues(1, chat.UnreadCount)

	store.HandleMessageUpsert(protocol.MessageUpsert{
		Type: protocol.UpsertNotify,
		Messages: []protocol.Message{
			{ID: "m2", ChatID: "628222@s.whatsapp.net", Text: "mine", FromMe: true, Timestamp: 60},
		},
	})
	chat, _ = store.Chat("628222@s.whatsapp.net")
	assert.EqualValues(1, chat.UnreadCount)
	assert.EqualValues(60, chat.LastMessageTimestamp)

	// Non indexable upsert types are ignored entirely.
	store.HandleMessageUpsert(protocol.MessageUpsert{
		Type: "history",
		Messages: []protocol.Message{
			{ID: "m3", ChatID: "628222@s.whatsapp.net", Text: "old"},
		},
	})
	assert.Equal(2, store.MessageCount("628222@s.whatsapp.net"))
}

func TestHandleMessageUpdate(t *testing.T) {
	assert := assert.New(t)
	store := NewStore("")

	store.HandleMessageUpsert(protocol.MessageUpsert{
		Type: protocol.UpsertAppend,
		Messages: []protocol.Message{
			{ID: "m1", ChatID: "628333@s.whatsapp.net", Text: "out", FromMe: true},
		},
	})

	store.HandleMessageUpdate(protocol.MessageUpdate{
		ChatID:    "628333@s.whatsapp.net",
		MessageID: "m1",
		Status:    "READ",
	})
	msgs := store.LoadMessages("628333@s.whatsapp.net", 0)
	assert.Len(msgs, 1)
	assert.Equal("READ", msgs[0].Status)

	// Updates for unknown messages are dropped silently.
	store.HandleMessageUpdate(protocol.MessageUpdate{
		ChatID:    "628333@s.whatsapp.net",
		MessageID: "missing",
		Status:    "READ",
	})
	assert.Equal(1, store.MessageCount("628333@s.whatsapp.net"))
}

func TestLoadMessagesTail(t *testing.T) {
	assert := assert.New(t)
	store := NewStore("")

	for i := 0; i < 5; i++ {
		store.HandleMessageUpsert(protocol.MessageUpsert{
			Type: protocol.UpsertNotify,
			Messages: []protocol.Message{
				{ID: string(rune('a' + i)), ChatID: "c", Timestamp: int64(i)},
			},
		})
	}

	tail := store.LoadMessages("c", 2)
	assert.Len(tail, 2)
	assert.Equal("d", tail[0].ID)
	assert.Equal("e", tail[1].ID)

	all := store.LoadMessages("c", 0)
	assert.Len(all, 5)
}
