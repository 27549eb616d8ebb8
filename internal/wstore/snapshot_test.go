package wstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wagate/internal/protocol"
)

func TestSnapshotRoundTrip(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "store.json")

	store := NewStore(path)
	store.HandleHistorySync(protocol.HistorySync{
		Chats: []protocol.Chat{
			{ID: "628111@s.whatsapp.net", Name: "Alice", LastMessageTimestamp: 100},
		},
		Contacts: []protocol.Contact{
			{ID: "628111@s.whatsapp.net", Notify: "alice"},
		},
		Messages: []protocol.Message{
			{ID: "m1", ChatID: "628111@s.whatsapp.net", Text: "hi", Timestamp: 100},
		},
	})
	require.NoError(t, store.WriteToFile())

	restored := NewStore(path)
	require.NoError(t, restored.ReadFromFile())

	chat, found := restored.Chat("628111@s.whatsapp.net")
	assert.True(found)
	assert.Equal("Alice", chat.Name)

	contact, found := restored.Contact("628111@s.whatsapp.net")
	assert.True(found)
	assert.Equal("alice", contact.Notify)

	msgs := restored.LoadMessages("628111@s.whatsapp.net", 0)
	assert.Len(msgs, 1)
	assert.Equal("hi", msgs[0].Text)
}

func TestSnapshotMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, store.ReadFromFile())
	assert.Empty(t, store.Chats())
}

func TestSnapshotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store := NewStore(path)
	assert.Error(t, store.ReadFromFile())
}

func TestSnapshotAtomicReplace(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store := NewStore(path)
	require.NoError(t, store.WriteToFile())
	require.NoError(t, store.WriteToFile())

	// No temp file may survive a completed write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(entries, 1)
	assert.Equal("store.json", entries[0].Name())
}
