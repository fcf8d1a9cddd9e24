package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
	"github.com/google/uuid"
)

// SessionState is the framer position within the byte stream.
type SessionState int32

const (
	AwaitingHeader SessionState = iota
	AwaitingVersion
	AwaitingBody
	Closed
)

func (s SessionState) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingVersion:
		return "awaiting_version"
	case AwaitingBody:
		return "awaiting_body"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one accepted peer connection.
type Session struct {
	id       string
	endpoint string
	remote   string
	conn     net.Conn
	logger   *slog.Logger
	engine   *Engine

	dec     *protocol.Decoder
	writer  *frameWriter
	persist *persistQueue

	state atomic.Int32
}

func newSession(e *Engine, conn net.Conn, endpoint string) *Session {
	id := uuid.NewString()[:8]
	remote := conn.RemoteAddr().String()

	s := &Session{
		id:       id,
		endpoint: endpoint,
		remote:   remote,
		conn:     conn,
		engine:   e,
		logger: e.logger.With(
			slog.String("session", id),
			slog.String("endpoint", endpoint),
			slog.String("remote", remote),
		),
		dec:    protocol.NewDecoder(conn, e.opts.Limits),
		writer: newFrameWriter(conn, e.opts.WriteTimeout),
	}

	s.persist = newPersistQueue(e.store, s.logger)

	return s
}

// ID returns the short session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the peer address.
func (s *Session) Remote() string {
	return s.remote
}

// State returns the current framer state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// run reads frames until EOF, an I/O error, a decode error or ctx
// cancellation. The connection is closed on return.
func (s *Session) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.close()

	for {
		s.setState(AwaitingHeader)

		magic, err := s.dec.ReadMagic()
		if err != nil {
			return s.classify(ctx, err)
		}

		s.setState(AwaitingVersion)

		version, err := s.dec.ReadVersion()
		if err != nil {
			return s.classify(ctx, err)
		}

		s.setState(AwaitingBody)

		h := protocol.Header{Magic: magic, Version: version}

		p, err := s.dec.DecodeBody(h)
		if err != nil {
			var unknown *protocol.UnknownFrameError
			if errors.As(err, &unknown) {
				s.logger.Warn("unknown frame, skipping", slog.String("header", h.String()), slog.String("error", err.Error()))
				s.engine.metrics.FrameError(metrics.ErrorKindUnknown)
				s.engine.emitter.Emit(events.Status("unknown header "+h.String(), true))

				continue
			}

			return s.classify(ctx, err)
		}

		s.engine.metrics.FrameDecoded(h.Magic.String(), h.Version)
		s.engine.dispatch(s, p)
	}
}

// classify maps a read loop error to its outcome. A clean EOF or a
// shutdown returns nil.
func (s *Session) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("peer closed connection")
		return nil

	case ctx.Err() != nil:
		return nil

	case errors.Is(err, protocol.ErrTruncated),
		errors.Is(err, protocol.ErrFieldTooLarge),
		errors.Is(err, protocol.ErrInvalidField):
		s.logger.Warn("decode error, closing session",
			slog.String("state", s.State().String()),
			slog.String("error", err.Error()),
		)
		s.engine.metrics.FrameError(metrics.ErrorKindDecode)

		return fmt.Errorf("decoding frame: %w", err)

	default:
		s.logger.Warn("transport error, closing session", slog.String("error", err.Error()))
		s.engine.metrics.FrameError(metrics.ErrorKindTransport)
		s.engine.emitter.Emit(events.Status("I/O error: "+err.Error(), true))

		return fmt.Errorf("reading frame: %w", err)
	}
}

func (s *Session) close() {
	s.setState(Closed)
	s.writer.close()
	s.conn.Close()
	s.persist.Close()
}
