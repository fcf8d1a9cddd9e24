package relay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/iconcache"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
	"github.com/alexjbarnes/notify-relay/internal/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEmitter keeps every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEmitter) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event

	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}

	return out
}

type harness struct {
	engine   *Engine
	store    *state.State
	icons    *iconcache.Cache
	emitter  *recordingEmitter
	notifier *MockNotifier
}

func fastOptions() Options {
	return Options{
		ReadSyncWait: 2 * time.Second,
		ReadSyncPoll: 10 * time.Millisecond,
		EchoReadAcks: true,
		WriteTimeout: 2 * time.Second,
	}
}

// newHarness builds an engine over a real bbolt store and icon cache.
// ShowState calls are allowed any number of times.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().ShowState(gomock.Any(), gomock.Any()).AnyTimes()

	dir := t.TempDir()

	store, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	icons, err := iconcache.New(filepath.Join(dir, "icons"), testLogger())
	require.NoError(t, err)

	emitter := &recordingEmitter{}

	e := NewEngine(testLogger(), store, icons, emitter, notifier, nil, opts)
	t.Cleanup(e.Close)

	return &harness{
		engine:   e,
		store:    store,
		icons:    icons,
		emitter:  emitter,
		notifier: notifier,
	}
}

// peer is the remote side of a net.Pipe session.
type peer struct {
	conn   net.Conn
	frames chan protocol.Packet
	done   chan error
}

// connect starts a session and returns the peer end. The session is
// torn down when the test ends.
func (h *harness) connect(t *testing.T) *peer {
	t.Helper()

	server, client := net.Pipe()

	p := &peer{
		conn:   client,
		frames: make(chan protocol.Packet, 16),
		done:   make(chan error, 1),
	}

	go func() {
		p.done <- h.engine.ServeConn(context.Background(), server, EndpointInsecure)
	}()

	go func() {
		dec := protocol.NewDecoder(client, protocol.DefaultLimits())
		for {
			pkt, err := dec.Decode()
			if err != nil {
				close(p.frames)
				return
			}
			p.frames <- pkt
		}
	}()

	waitFor(t, time.Second, h.engine.Connected)

	t.Cleanup(func() {
		client.Close()
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})

	return p
}

func (p *peer) send(t *testing.T, pkt protocol.Packet) {
	t.Helper()
	require.NoError(t, protocol.Encode(p.conn, pkt))
}

func (p *peer) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	_, err := p.conn.Write(data)
	require.NoError(t, err)
}

// expectControl returns the next frame written by the relay.
func (p *peer) expectControl(t *testing.T) *protocol.ControlPacket {
	t.Helper()

	select {
	case pkt, ok := <-p.frames:
		require.True(t, ok, "connection closed before a frame arrived")
		cp, isControl := pkt.(*protocol.ControlPacket)
		require.True(t, isControl, "unexpected frame %T", pkt)
		return cp
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a frame from the relay")
		return nil
	}
}

// expectNoFrame asserts the relay writes nothing for d.
func (p *peer) expectNoFrame(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case pkt, ok := <-p.frames:
		if ok {
			t.Fatalf("unexpected frame %#v", pkt)
		}
	case <-time.After(d):
	}
}

// waitFor polls cond until it returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}

// waitForMessage waits until id is persisted and returns it.
func (h *harness) waitForMessage(t *testing.T, id string) {
	t.Helper()

	waitFor(t, 2*time.Second, func() bool {
		m, err := h.store.GetMessage(id)
		return err == nil && m != nil
	})
}

func (h *harness) messageCount(t *testing.T) int {
	t.Helper()

	all, err := h.store.AllMessages()
	require.NoError(t, err)

	return len(all)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}
