package relay

import (
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/notify-relay/internal/errors"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
)

// frameWriter serializes whole frames onto a connection. The session
// and the reconciliation engine share one per connection.
type frameWriter struct {
	conn    net.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newFrameWriter(conn net.Conn, timeout time.Duration) *frameWriter {
	return &frameWriter{conn: conn, timeout: timeout}
}

// WritePacket encodes p and writes it under the frame lock.
func (w *frameWriter) WritePacket(p protocol.Packet) error {
	data, err := protocol.Marshal(p)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return apperrors.ErrSessionClosed
	}

	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}

	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("writing %s frame: %w", p.Header(), err)
	}

	return nil
}

// writeIDs sends op with ids, split across as many frames as needed.
// onChunk runs after each frame is written.
func (w *frameWriter) writeIDs(op protocol.Opcode, ids []string, onChunk func(chunk []string) error) error {
	for _, chunk := range protocol.SplitIDs(ids) {
		if err := w.WritePacket(&protocol.ControlPacket{Op: op, IDs: chunk}); err != nil {
			return err
		}

		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *frameWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
