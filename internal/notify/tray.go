// Package notify is the presentation surface of the relay: a bounded
// tray of active notifications plus a persistent connection indicator.
// Notifications are logged and forwarded to UI clients as events.
package notify

import (
	"image"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/imaging"
)

const (
	KindText  = "text"
	KindImage = "image"
)

// Emitter receives tray events.
type Emitter interface {
	Emit(e events.Event)
}

// Tray holds at most maxActive notifications. The connection indicator
// does not count toward the bound.
type Tray struct {
	logger    *slog.Logger
	emitter   Emitter
	maxActive int
	thumbSize int

	mu        sync.Mutex
	seq       uint64
	active    []uint64
	connected bool
	remote    string
}

func NewTray(logger *slog.Logger, emitter Emitter, maxActive, thumbSize int) *Tray {
	if maxActive <= 0 {
		maxActive = 24
	}

	return &Tray{
		logger:    logger,
		emitter:   emitter,
		maxActive: maxActive,
		thumbSize: thumbSize,
	}
}

// ShowText posts a text-only notification.
func (t *Tray) ShowText(title, body string) {
	t.post(events.NotificationEvent{Kind: KindText, Title: title, Body: body})
}

// ShowImage posts an image+text notification. A thumbnail that cannot be
// encoded degrades to text.
func (t *Tray) ShowImage(img image.Image, title, body string) {
	n := events.NotificationEvent{Kind: KindImage, Title: title, Body: body}

	thumb, err := imaging.DataURL(imaging.Thumbnail(img, t.thumbSize))
	if err != nil {
		t.logger.Warn("encoding notification thumbnail", slog.String("error", err.Error()))
		n.Kind = KindText
	} else {
		n.Thumbnail = thumb
	}

	t.post(n)
}

// ShowState updates the connection indicator.
func (t *Tray) ShowState(connected bool, remote string) {
	t.mu.Lock()
	t.connected = connected
	t.remote = remote
	t.mu.Unlock()

	t.logger.Info("connection state",
		slog.Bool("connected", connected),
		slog.String("remote", remote),
	)

	t.emitter.Emit(events.Connection(connected, remote))
}

// State returns the current indicator.
func (t *Tray) State() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected, t.remote
}

// Active returns the sequence numbers of the active notifications,
// oldest first.
func (t *Tray) Active() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]uint64(nil), t.active...)
}

func (t *Tray) post(n events.NotificationEvent) {
	t.mu.Lock()
	t.seq++
	n.Seq = t.seq
	t.active = append(t.active, n.Seq)

	if len(t.active) > t.maxActive {
		n.Evicted = t.active[0]
		t.active = t.active[1:]
	}
	t.mu.Unlock()

	t.logger.Info("notification",
		slog.Uint64("seq", n.Seq),
		slog.String("kind", n.Kind),
		slog.String("title", n.Title),
	)

	t.emitter.Emit(events.Notification(n))
}
