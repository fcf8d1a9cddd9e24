// Package events fans relay activity out to UI clients and accepts
// their read actions. Events are JSON objects with a "type" field.
package events

import "github.com/alexjbarnes/notify-relay/internal/models"

// Event types.
const (
	TypeMessage      = "message"
	TypeReset        = "reset"
	TypeSyncEnd      = "sync_end"
	TypeRead         = "read"
	TypeUnread       = "unread"
	TypeConnection   = "connection"
	TypeStatus       = "status"
	TypeNotification = "notification"
)

type Event struct {
	Type         string             `json:"type"`
	Message      *MessageEvent      `json:"message,omitempty"`
	IDs          []string           `json:"ids,omitempty"`
	Connected    *bool              `json:"connected,omitempty"`
	Remote       string             `json:"remote,omitempty"`
	Text         string             `json:"text,omitempty"`
	Error        bool               `json:"error,omitempty"`
	Notification *NotificationEvent `json:"notification,omitempty"`
}

// MessageEvent is emitted once per ingested message. SubCategory is the
// raw name from the wire; SubCategoryID is the stored grouping key.
type MessageEvent struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	SubCategory   string `json:"sub_category"`
	SubCategoryID string `json:"sub_category_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	IconPath      string `json:"icon_path"`
	Timestamp     int64  `json:"timestamp"`
}

// NotificationEvent mirrors one entry posted to the tray. Thumbnail is a
// PNG data URL or empty.
type NotificationEvent struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Evicted   uint64 `json:"evicted,omitempty"`
}

func Message(m models.Message, subCategory string) Event {
	return Event{
		Type: TypeMessage,
		Message: &MessageEvent{
			ID:            m.ID,
			Category:      m.CategoryID,
			SubCategory:   subCategory,
			SubCategoryID: m.SubCategoryID,
			Title:         m.Title,
			Body:          m.Body,
			IconPath:      m.IconPath,
			Timestamp:     m.Timestamp,
		},
	}
}

func Reset() Event {
	return Event{Type: TypeReset}
}

func SyncEnd() Event {
	return Event{Type: TypeSyncEnd}
}

func Read(ids []string) Event {
	return Event{Type: TypeRead, IDs: ids}
}

func Unread(ids []string) Event {
	return Event{Type: TypeUnread, IDs: ids}
}

func Connection(connected bool, remote string) Event {
	return Event{Type: TypeConnection, Connected: &connected, Remote: remote}
}

func Status(text string, isError bool) Event {
	return Event{Type: TypeStatus, Text: text, Error: isError}
}

func Notification(n NotificationEvent) Event {
	return Event{Type: TypeNotification, Notification: &n}
}
