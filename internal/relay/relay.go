// Package relay is the protocol session engine. It accepts peer
// connections, frames and decodes their byte streams, ingests content
// packets and keeps read state reconciled with the peer.
package relay

import (
	"image"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/models"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mock_notifier_test.go -package=relay . Notifier

// Store is the persistence collaborator.
type Store interface {
	Upsert(m models.Message) error
	MarkRead(ids []string) ([]string, error)
	MarkReadSynced(ids []string) ([]string, error)
	MarkUnread(ids []string) ([]string, error)
	PendingReadSync() ([]string, error)
	ConfirmSynced(ids []string) error
	ConfirmAllSynced() (int, error)
	DeleteAll() error
}

// Icons is the icon cache.
type Icons interface {
	LookupOrStore(key string, data []byte) (string, error)
	Clear() error
}

// Emitter receives UI events.
type Emitter interface {
	Emit(e events.Event)
}

// Notifier is the presentation surface.
type Notifier interface {
	ShowText(title, body string)
	ShowImage(img image.Image, title, body string)
	ShowState(connected bool, remote string)
}

// Options tunes the engine. Zero values take the defaults below.
type Options struct {
	Limits       protocol.Limits
	ReadSyncWait time.Duration
	ReadSyncPoll time.Duration
	EchoReadAcks bool
	// WriteTimeout bounds a single frame write to the peer.
	WriteTimeout time.Duration
}

const (
	defaultReadSyncWait = 5 * time.Second
	defaultReadSyncPoll = 250 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Limits.MaxFieldBytes <= 0 {
		o.Limits = protocol.DefaultLimits()
	}

	if o.ReadSyncWait <= 0 {
		o.ReadSyncWait = defaultReadSyncWait
	}

	if o.ReadSyncPoll <= 0 {
		o.ReadSyncPoll = defaultReadSyncPoll
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	return o
}
