package protocol

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/asaskevich/EventBus"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// WameowDialer opens whatsmeow-backed connections. Each device keeps its
// own sqlite credential container under its credential directory, so
// removing the directory is a complete local logout.
type WameowDialer struct{}

func NewWameowDialer() *WameowDialer {
	return &WameowDialer{}
}

func (d *WameowDialer) Dial(ctx context.Context, deviceID string, credentialDir string, bus EventBus.Bus) (Conn, error) {
	dbPath := filepath.Join(credentialDir, "creds.db")
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open credential store")
	}

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list credential store devices")
	}
	device := container.NewDevice()
	if len(devices) > 0 {
		device = devices[0]
	}

	client := whatsmeow.NewClient(device, nil)
	conn := &wameowConn{deviceID: deviceID, client: client, bus: bus}
	client.AddEventHandler(conn.handleEvent)

	if err := client.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return conn, nil
}

type wameowConn struct {
	deviceID string
	client   *whatsmeow.Client
	bus      EventBus.Bus
}

func (c *wameowConn) SendText(ctx context.Context, target string, text string) (string, error) {
	jid, err := waTypes.ParseJID(NormalizeTarget(target))
	if err != nil {
		return "", errors.Wrapf(err, "invalid jid %q", target)
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *wameowConn) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

func (c *wameowConn) Close() error {
	c.client.Disconnect()
	return nil
}

func (c *wameowConn) user() *UserInfo {
	store := c.client.Store
	if store == nil || store.ID == nil {
		return nil
	}
	return &UserInfo{JID: store.ID.String(), Name: store.PushName}
}

// handleEvent translates whatsmeow events into bus publications. The
// bus is owned by one session, so publishing is device-local.
func (c *wameowConn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		if len(e.Codes) > 0 {
			c.bus.Publish(TopicConnection, ConnectionUpdate{QR: e.Codes[0]})
		}
	case *events.Connected:
		c.bus.Publish(TopicConnection, ConnectionUpdate{Open: true, User: c.user()})
	case *events.LoggedOut:
		c.bus.Publish(TopicConnection, ConnectionUpdate{Closed: true, LoggedOut: true, Reason: e.Reason.String()})
	case *events.Disconnected:
		c.bus.Publish(TopicConnection, ConnectionUpdate{Closed: true, Reason: "stream closed"})
	case *events.Message:
		c.bus.Publish(TopicMessageUpsert, MessageUpsert{
			Type:     UpsertNotify,
			Messages: []Message{messageFromEvent(e)},
		})
	case *events.Receipt:
		status := receiptStatus(e.Type)
		if status == "" {
			return
		}
		for _, id := range e.MessageIDs {
			c.bus.Publish(TopicMessageUpdate, MessageUpdate{
				ChatID:    e.Chat.String(),
				MessageID: string(id),
				Status:    status,
			})
		}
	case *events.HistorySync:
		c.bus.Publish(TopicHistorySync, historyFromEvent(e))
	default:
		zap.L().Debug("wameow event ignored",
			zap.String("device_id", c.deviceID),
			zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func receiptStatus(t waTypes.ReceiptType) string {
	switch t {
	case waTypes.ReceiptTypeDelivered:
		return "DELIVERED"
	case waTypes.ReceiptTypeRead, waTypes.ReceiptTypeReadSelf:
		return "READ"
	default:
		return ""
	}
}

func messageFromEvent(e *events.Message) Message {
	return Message{
		ID:        string(e.Info.ID),
		ChatID:    e.Info.Chat.String(),
		Sender:    e.Info.Sender.String(),
		FromMe:    e.Info.IsFromMe,
		PushName:  e.Info.PushName,
		Text:      extractText(e.Message),
		Timestamp: e.Info.Timestamp.Unix(),
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if conv := msg.GetConversation(); conv != "" {
		return conv
	}
	return msg.GetExtendedTextMessage().GetText()
}

func historyFromEvent(e *events.HistorySync) HistorySync {
	sync := HistorySync{IsLatest: e.Data.GetProgress() >= 100}
	for _, conv := range e.Data.GetConversations() {
		chatID := conv.GetID()
		sync.Chats = append(sync.Chats, Chat{
			ID:                    chatID,
			Name:                  conv.GetName(),
			UnreadCount:           int(conv.GetUnreadCount()),
			ConversationTimestamp: int64(conv.GetConversationTimestamp()),
		})
		for _, hm := range conv.GetMessages() {
			wmi := hm.GetMessage()
			if wmi == nil {
				continue
			}
			key := wmi.GetKey()
			sync.Messages = append(sync.Messages, Message{
				ID:        key.GetID(),
				ChatID:    chatID,
				FromMe:    key.GetFromMe(),
				PushName:  wmi.GetPushName(),
				Text:      extractText(wmi.GetMessage()),
				Timestamp: int64(wmi.GetMessageTimestamp()),
			})
		}
	}
	for _, push := range e.Data.GetPushnames() {
		sync.Contacts = append(sync.Contacts, Contact{
			ID:       push.GetID(),
			PushName: push.GetPushname(),
		})
	}
	return sync
}
