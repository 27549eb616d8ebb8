package webapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/talkincode/wagate/internal/protocol"
)

type chatView struct {
	protocol.Chat
	ContactName string `json:"contact_name,omitempty"`
}

// listChats returns the device's conversations newest first, with
// contact names joined in from the contact cache.
func (h *Handler) listChats(c echo.Context) error {
	device := currentDevice(c)

	store := h.sessions.GetStore(device.DeviceID)
	if store == nil {
		return fail(c, http.StatusServiceUnavailable, "SESSION_NOT_ACTIVE", "Device session is not active", nil)
	}

	chats := store.Chats()
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageTimestamp > chats[j].LastMessageTimestamp
	})

	views := make([]chatView, 0, len(chats))
	for _, chat := range chats {
		view := chatView{Chat: chat}
		if contact, found := store.Contact(chat.ID); found {
			view.ContactName = contactDisplayName(contact)
		}
		views = append(views, view)
	}
	return ok(c, map[string]interface{}{"chats": views})
}

func (h *Handler) listMessages(c echo.Context) error {
	device := currentDevice(c)
	chatID := c.Param("chatId")

	store := h.sessions.GetStore(device.DeviceID)
	if store == nil {
		return fail(c, http.StatusServiceUnavailable, "SESSION_NOT_ACTIVE", "Device session is not active", nil)
	}

	count := cast.ToInt(c.QueryParam("count"))
	if count <= 0 {
		count = 50
	}
	messages := store.LoadMessages(protocol.NormalizeTarget(chatID), count)
	return ok(c, map[string]interface{}{
		"chat_id":  chatID,
		"messages": messages,
		"total":    store.MessageCount(protocol.NormalizeTarget(chatID)),
	})
}

func (h *Handler) getContact(c echo.Context) error {
	device := currentDevice(c)
	contactID := c.Param("id")

	store := h.sessions.GetStore(device.DeviceID)
	if store == nil {
		return fail(c, http.StatusServiceUnavailable, "SESSION_NOT_ACTIVE", "Device session is not active", nil)
	}

	contact, found := store.Contact(protocol.NormalizeTarget(contactID))
	if !found {
		return fail(c, http.StatusNotFound, "CONTACT_NOT_FOUND", "Contact not found", nil)
	}
	return ok(c, map[string]interface{}{"contact": contact})
}

func contactDisplayName(contact protocol.Contact) string {
	switch {
	case contact.Name != "":
		return contact.Name
	case contact.Notify != "":
		return contact.Notify
	default:
		return contact.PushName
	}
}
