package wstore

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/talkincode/wagate/internal/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotDoc is the on-disk form of a store: the three maps as one
// flat JSON document.
type snapshotDoc struct {
	Chats    map[string]protocol.Chat      `json:"chats"`
	Contacts map[string]protocol.Contact   `json:"contacts"`
	Messages map[string][]protocol.Message `json:"messages"`
}

// WriteToFile serializes the store to its snapshot path. The write is
// atomic (tmp file + rename) so a crash never leaves a torn snapshot.
func (s *Store) WriteToFile() error {
	s.mu.RLock()
	doc := snapshotDoc{
		Chats:    s.chats,
		Contacts: s.contacts,
		Messages: s.messages,
	}
	data, err := json.Marshal(doc)
	s.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshal store snapshot")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// ReadFromFile loads the snapshot into the store, replacing current
// contents. A missing file is not an error; the store simply starts
// empty. A corrupt file is reported but leaves the store usable.
func (s *Store) ReadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read snapshot")
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Chats != nil {
		s.chats = doc.Chats
	}
	if doc.Contacts != nil {
		s.contacts = doc.Contacts
	}
	if doc.Messages != nil {
		s.messages = doc.Messages
	}
	return nil
}
