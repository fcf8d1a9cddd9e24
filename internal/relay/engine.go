package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/notify-relay/internal/errors"
	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const syncKey = "push"

// Engine owns the live sessions and the read-state reconciliation with
// the peer. The most recently connected session is the output path for
// pushes.
type Engine struct {
	logger   *slog.Logger
	store    Store
	icons    Icons
	emitter  Emitter
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options

	newID func() string
	now   func() time.Time

	mu       sync.Mutex
	active   *Session
	sessions map[*Session]struct{}

	// suppressed is set between DEVICE_RESET and SYNC_END.
	suppressed atomic.Bool

	// pushMu serializes push attempts so two triggers never send the
	// same pending ids twice.
	pushMu sync.Mutex

	// syncs merges background push triggers into one running attempt.
	// syncDirty is set by every trigger and cleared by the attempt that
	// picks it up.
	syncs     singleflight.Group
	syncDirty atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

func NewEngine(logger *slog.Logger, store Store, icons Icons, emitter Emitter, notifier Notifier, m *metrics.Metrics, opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		logger:   logger,
		store:    store,
		icons:    icons,
		emitter:  emitter,
		notifier: notifier,
		metrics:  m,
		opts:     opts.withDefaults(),
		newID:    uuid.NewString,
		now:      time.Now,
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops background pushes and waits for them to return.
func (e *Engine) Close() {
	e.cancel()
	e.bg.Wait()
}

// ServeConn runs a session on conn until it ends. It blocks; the
// acceptor calls it on its own goroutine.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn, endpoint string) error {
	s := newSession(e, conn, endpoint)

	done := e.metrics.SessionOpened(endpoint)
	defer done()

	e.attach(s)
	defer e.detach(s)

	s.logger.Info("peer connected")

	return s.run(ctx)
}

// Connected reports whether any session is live.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active != nil
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.sessions)
}

// Suppressed reports whether a bulk resync is in progress.
func (e *Engine) Suppressed() bool {
	return e.suppressed.Load()
}

func (e *Engine) attach(s *Session) {
	e.mu.Lock()
	e.sessions[s] = struct{}{}
	e.active = s
	e.mu.Unlock()

	e.notifier.ShowState(true, s.remote)
	e.RequestSync()
}

func (e *Engine) detach(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s)

	if e.active == s {
		e.active = nil
		for other := range e.sessions {
			e.active = other
			break
		}
	}
	active := e.active
	e.mu.Unlock()

	s.logger.Info("peer disconnected")

	if active != nil {
		e.notifier.ShowState(true, active.remote)
		return
	}

	e.notifier.ShowState(false, s.remote)
}

func (e *Engine) activeSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// dispatch routes a decoded packet from s.
func (e *Engine) dispatch(s *Session, p protocol.Packet) {
	switch pkt := p.(type) {
	case *protocol.TextPacket:
		e.ingestText(s, pkt)
	case *protocol.ImagePacket:
		e.ingestImage(s, pkt)
	case *protocol.ControlPacket:
		if err := e.handleControl(s, pkt); err != nil {
			s.logger.Error("handling control frame",
				slog.String("op", pkt.Op.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleControl applies a TXT v4 frame. Messages queued earlier on the
// session are persisted first so the control acts on them.
func (e *Engine) handleControl(s *Session, p *protocol.ControlPacket) error {
	s.persist.Flush()

	s.logger.Debug("control frame", slog.String("op", p.Op.String()), slog.Int("ids", len(p.IDs)))

	switch p.Op {
	case protocol.OpReadFromPhone:
		// Our own push echoed back.
		return nil

	case protocol.OpReadToPhone:
		if _, err := e.store.MarkReadSynced(p.IDs); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}

		e.emitter.Emit(events.Read(p.IDs))

		if e.opts.EchoReadAcks && len(p.IDs) > 0 {
			if err := s.writer.writeIDs(protocol.OpReadFromPhone, p.IDs, nil); err != nil {
				return fmt.Errorf("echoing read ack: %w", err)
			}
		}

		return nil

	case protocol.OpUnreadToPhone:
		if _, err := e.store.MarkUnread(p.IDs); err != nil {
			return fmt.Errorf("marking unread: %w", err)
		}

		e.emitter.Emit(events.Unread(p.IDs))

		return nil

	case protocol.OpDeviceReset:
		e.suppressed.Store(true)

		if err := e.store.DeleteAll(); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}

		if err := e.icons.Clear(); err != nil {
			s.logger.Warn("clearing icon cache", slog.String("error", err.Error()))
		}

		s.logger.Info("device reset, bulk resync started")
		e.emitter.Emit(events.Reset())

		return nil

	case protocol.OpSyncEnd:
		n, err := e.store.ConfirmAllSynced()

		e.suppressed.Store(false)

		if err != nil {
			return fmt.Errorf("confirming all synced: %w", err)
		}

		s.logger.Info("bulk resync finished", slog.Int("confirmed", n))
		e.emitter.Emit(events.SyncEnd())

		return nil
	}

	return nil
}

// MarkRead flips ids to read locally and schedules a push.
func (e *Engine) MarkRead(_ context.Context, ids []string) error {
	changed, err := e.store.MarkRead(ids)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}

	if len(changed) > 0 {
		e.emitter.Emit(events.Read(changed))
	}

	e.RequestSync()

	return nil
}

// RequestSync runs a push attempt in the background. Triggers that
// arrive while an attempt is running fold into a single follow-up.
func (e *Engine) RequestSync() {
	if e.ctx.Err() != nil {
		return
	}

	e.syncDirty.Store(true)
	e.bg.Add(1)

	go func() {
		defer e.bg.Done()

		// A trigger can join an attempt that already cleared the flag,
		// so recheck after each shared call returns.
		for e.syncDirty.Load() && e.ctx.Err() == nil {
			e.syncs.Do(syncKey, func() (any, error) {
				e.drainSyncs()
				return nil, nil
			})
		}
	}()
}

func (e *Engine) drainSyncs() {
	for e.syncDirty.Swap(false) && e.ctx.Err() == nil {
		if _, err := e.PushPending(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Info("read sync push not sent", slog.String("error", err.Error()))
		}
	}
}

// PushPending sends every pending read to the peer as READ_FROM_PHONE
// and marks them synced once written. It waits up to ReadSyncWait for a
// session. Returns the number of ids pushed.
func (e *Engine) PushPending(ctx context.Context) (int, error) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	ids, err := e.store.PendingReadSync()
	if err != nil {
		e.metrics.Push(metrics.PushFailed, 0)
		return 0, fmt.Errorf("loading pending reads: %w", err)
	}

	if len(ids) == 0 {
		e.metrics.Push(metrics.PushEmpty, 0)
		return 0, nil
	}

	s, err := e.waitForSession(ctx)
	if err != nil {
		e.metrics.Push(metrics.PushAbandoned, len(ids))
		return 0, err
	}

	pushed := 0

	err = s.writer.writeIDs(protocol.OpReadFromPhone, ids, func(chunk []string) error {
		if err := e.store.ConfirmSynced(chunk); err != nil {
			return fmt.Errorf("confirming synced: %w", err)
		}

		pushed += len(chunk)

		return nil
	})
	if err != nil {
		e.metrics.Push(metrics.PushFailed, pushed)
		return pushed, err
	}

	e.metrics.Push(metrics.PushSent, pushed)
	s.logger.Info("read sync pushed", slog.Int("ids", pushed))

	return pushed, nil
}

func (e *Engine) waitForSession(ctx context.Context) (*Session, error) {
	if s := e.activeSession(); s != nil {
		return s, nil
	}

	deadline := time.NewTimer(e.opts.ReadSyncWait)
	defer deadline.Stop()

	ticker := time.NewTicker(e.opts.ReadSyncPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, fmt.Errorf("%w: %w", apperrors.ErrPushAbandoned, apperrors.ErrNoActiveSession)

		case <-ticker.C:
			if s := e.activeSession(); s != nil {
				return s, nil
			}
		}
	}
}
