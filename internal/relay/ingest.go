package relay

import (
	"image"
	"log/slog"

	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/iconcache"
	"github.com/alexjbarnes/notify-relay/internal/imaging"
	"github.com/alexjbarnes/notify-relay/internal/models"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
)

const (
	// defaultTextCategory applies to TXT frames older than v2.
	defaultTextCategory = "text"
	// defaultImageCategory applies to legacy IMG frames.
	defaultImageCategory = "misc"
)

func (e *Engine) ingestText(s *Session, p *protocol.TextPacket) {
	cat := p.Category
	if p.Version < 2 {
		cat = defaultTextCategory
	}

	m := e.newMessage(p.ID, cat, p.SubCategory, p.Title, p.Body, "")

	e.deliver(s, m, p.SubCategory, nil)
	e.metrics.MessageIngested("text")
}

func (e *Engine) ingestImage(s *Session, p *protocol.ImagePacket) {
	cat, sub := p.Category, p.SubCategory
	if p.Legacy() {
		cat, sub = defaultImageCategory, ""
	}

	var (
		iconPath string
		raw      []byte
	)

	switch {
	case p.MultiIcon():
		catPath := e.storeIcon(s, iconcache.CategoryKey(cat), p.CategoryIcon)
		subPath := e.storeIcon(s, iconcache.SubCategoryKey(cat, sub), p.SubCategoryIcon)
		msgPath := e.storeIcon(s, iconcache.MessageKey(cat, sub), p.MessageIcon)

		iconPath = firstNonEmpty(msgPath, subPath, catPath)
		raw = firstNonEmptyBytes(p.MessageIcon, p.SubCategoryIcon, p.CategoryIcon)

	case p.Version == 2:
		iconPath = e.storeIcon(s, iconcache.SubCategoryKey(cat, sub), p.Image)
		raw = p.Image

	default:
		raw = p.Image
	}

	var bitmap image.Image

	if len(raw) > 0 {
		img, _, err := imaging.Decode(raw)
		if err != nil {
			s.logger.Warn("image decode failed, falling back to text",
				slog.Int("bytes", len(raw)),
				slog.String("error", err.Error()),
			)
			e.metrics.ImageFallback()
			e.emitter.Emit(events.Status("image decode failed: "+err.Error(), true))
		} else {
			bitmap = img
		}
	}

	m := e.newMessage(p.ID, cat, sub, p.Title, p.Body, iconPath)

	e.deliver(s, m, sub, bitmap)
	e.metrics.MessageIngested("image")
}

func (e *Engine) newMessage(wireID, cat, sub, title, body, iconPath string) models.Message {
	id := wireID
	if id == "" {
		id = e.newID()
	}

	return models.Message{
		ID:            id,
		CategoryID:    cat,
		SubCategoryID: models.SubCategoryID(cat, sub),
		Title:         title,
		Body:          body,
		Timestamp:     e.now().UnixMilli(),
		IconPath:      iconPath,
	}
}

// deliver hands m to persistence, the UI and, outside a bulk resync,
// the notifier.
func (e *Engine) deliver(s *Session, m models.Message, sub string, bitmap image.Image) {
	s.persist.Enqueue(m)
	e.emitter.Emit(events.Message(m, sub))

	if e.suppressed.Load() {
		return
	}

	title := "[" + m.CategoryID + "/" + sub + "] " + m.Title

	if bitmap != nil {
		e.notifier.ShowImage(bitmap, title, m.Body)
		return
	}

	e.notifier.ShowText(title, m.Body)
}

// storeIcon caches data under key. Failures are a cache miss.
func (e *Engine) storeIcon(s *Session, key string, data []byte) string {
	if len(data) == 0 {
		return ""
	}

	path, err := e.icons.LookupOrStore(key, imaging.IconPNG(data))
	if err != nil {
		s.logger.Warn("caching icon", slog.String("key", key), slog.String("error", err.Error()))
		return ""
	}

	return path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func firstNonEmptyBytes(values ...[]byte) []byte {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}

	return nil
}
