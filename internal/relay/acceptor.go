package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/notify-relay/internal/errors"
	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	EndpointInsecure = "insecure"
	EndpointSecure   = "secure"

	acceptRetryDelay = 100 * time.Millisecond
)

// Endpoint is one listening socket the acceptor serves.
type Endpoint struct {
	Name     string
	Listener net.Listener
}

// TLSConfig builds the secure endpoint configuration. When clientCAFile
// is set, peers must present a certificate it signed.
func TLSConfig(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if clientCAFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(clientCAFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", clientCAFile)
	}

	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	return cfg, nil
}

// Listen opens an endpoint on addr. A nil tlsCfg gives a plain listener.
func Listen(name, addr string, tlsCfg *tls.Config) (Endpoint, error) {
	var (
		ln  net.Listener
		err error
	)

	if tlsCfg != nil {
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %s on %s: %w", apperrors.ErrListenerUnavailable, name, addr, err)
	}

	return Endpoint{Name: name, Listener: ln}, nil
}

// Acceptor runs one accept loop per endpoint and hands each connection
// to the engine on its own goroutine.
type Acceptor struct {
	engine    *Engine
	endpoints []Endpoint
	logger    *slog.Logger
	emitter   Emitter
	metrics   *metrics.Metrics

	sessions sync.WaitGroup
}

func NewAcceptor(engine *Engine, logger *slog.Logger, emitter Emitter, m *metrics.Metrics, endpoints ...Endpoint) *Acceptor {
	return &Acceptor{
		engine:    engine,
		endpoints: endpoints,
		logger:    logger,
		emitter:   emitter,
		metrics:   m,
	}
}

// Run accepts until ctx is cancelled, then closes the listeners and
// waits for open sessions to finish.
func (a *Acceptor) Run(ctx context.Context) error {
	if len(a.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured", apperrors.ErrListenerUnavailable)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, ep := range a.endpoints {
		a.logger.Info("listening for peers",
			slog.String("endpoint", ep.Name),
			slog.String("addr", ep.Listener.Addr().String()),
		)
		a.emitter.Emit(events.Status("listening on "+ep.Listener.Addr().String()+" ("+ep.Name+")", false))

		g.Go(func() error {
			<-ctx.Done()
			return ep.Listener.Close()
		})

		g.Go(func() error {
			return a.acceptLoop(ctx, ep)
		})
	}

	err := g.Wait()

	a.sessions.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func (a *Acceptor) acceptLoop(ctx context.Context, ep Endpoint) error {
	for {
		conn, err := ep.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			a.logger.Warn("accept failed",
				slog.String("endpoint", ep.Name),
				slog.String("error", err.Error()),
			)
			a.metrics.FrameError(metrics.ErrorKindTransport)
			a.emitter.Emit(events.Status("accept failed: "+err.Error(), true))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}

			continue
		}

		a.sessions.Add(1)

		go func() {
			defer a.sessions.Done()

			if err := a.engine.ServeConn(ctx, conn, ep.Name); err != nil {
				a.logger.Warn("session ended with error",
					slog.String("endpoint", ep.Name),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}
