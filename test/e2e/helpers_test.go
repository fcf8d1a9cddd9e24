package e2e_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/auth"
	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/iconcache"
	"github.com/alexjbarnes/notify-relay/internal/mcpserver"
	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"github.com/alexjbarnes/notify-relay/internal/notify"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
	"github.com/alexjbarnes/notify-relay/internal/relay"
	"github.com/alexjbarnes/notify-relay/internal/server"
	"github.com/alexjbarnes/notify-relay/internal/state"
	"github.com/coder/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness holds the full e2e stack: a peer listener on TCP, the relay
// engine and an HTTP server exposing events, MCP, metrics and health.
type harness struct {
	URL      string
	PeerAddr string
	Token    string
	State    *state.State
	Engine   *relay.Engine
	Hub      *events.Hub
	Client   *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	st, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()

	icons, err := iconcache.New(filepath.Join(dir, "icons"), logger)
	require.NoError(t, err)
	icons.SetRecorder(m)

	hub := events.NewHub(logger, m)
	tray := notify.NewTray(logger, hub, 8, 64)

	engine := relay.NewEngine(logger, st, icons, hub, tray, m, relay.Options{
		ReadSyncWait: 2 * time.Second,
		ReadSyncPoll: 10 * time.Millisecond,
		EchoReadAcks: true,
	})
	t.Cleanup(engine.Close)

	hub.SetActions(engine)

	ep, err := relay.Listen(relay.EndpointInsecure, "127.0.0.1:0", nil)
	require.NoError(t, err)

	acceptor := relay.NewAcceptor(engine, logger, hub, m, ep)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acceptor.Run(ctx) }()

	token := auth.GenerateToken()
	hash, err := auth.HashToken(token)
	require.NoError(t, err)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "notify-relay-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, st, engine)

	mux := server.NewMux(server.MuxConfig{
		Events: hub,
		MCPHandler: mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
			return mcpServer
		}, nil),
		Metrics:   m.Handler(),
		Status:    engine,
		UIClients: hub.Subscribers,
		Verifier:  auth.NewVerifier([]string{hash}),
		Logger:    logger,
	})

	srv := httptest.NewServer(mux)

	// Registered last so it runs first: stop the HTTP side, then the
	// acceptor, before the engine and store close.
	t.Cleanup(func() {
		srv.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("acceptor did not stop")
		}
	})

	return &harness{
		URL:      srv.URL,
		PeerAddr: ep.Listener.Addr().String(),
		Token:    token,
		State:    st,
		Engine:   engine,
		Hub:      hub,
		Client:   srv.Client(),
	}
}

// peer is a phone-side connection to the relay's insecure endpoint.
type peer struct {
	conn   net.Conn
	frames chan protocol.Packet
}

func (h *harness) connectPeer(t *testing.T) *peer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", h.PeerAddr, 5*time.Second)
	require.NoError(t, err)

	p := &peer{conn: conn, frames: make(chan protocol.Packet, 16)}

	go func() {
		defer close(p.frames)
		dec := protocol.NewDecoder(conn, protocol.DefaultLimits())
		for {
			pkt, err := dec.Decode()
			if err != nil {
				return
			}
			p.frames <- pkt
		}
	}()

	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, h.Engine.Connected, 5*time.Second, 10*time.Millisecond)

	return p
}

func (p *peer) send(t *testing.T, pkt protocol.Packet) {
	t.Helper()
	require.NoError(t, protocol.Encode(p.conn, pkt))
}

// expectControl returns the next control frame written by the relay.
func (p *peer) expectControl(t *testing.T) *protocol.ControlPacket {
	t.Helper()

	select {
	case pkt, ok := <-p.frames:
		require.True(t, ok, "peer connection closed")
		ctrl, isCtrl := pkt.(*protocol.ControlPacket)
		require.True(t, isCtrl, "expected control frame, got %T", pkt)
		return ctrl
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for control frame")
		return nil
	}
}

// waitForMessage polls the store until the message with id exists.
func (h *harness) waitForMessage(t *testing.T, id string) {
	t.Helper()

	require.Eventually(t, func() bool {
		m, err := h.State.GetMessage(id)
		return err == nil && m != nil
	}, 5*time.Second, 10*time.Millisecond)
}

// mcpSession connects an MCP client over streamable HTTP with the given
// bearer token.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// dialEvents opens the UI event stream, passing the token as a query
// parameter the way a browser client would.
func (h *harness) dialEvents(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(h.URL, "http") + "/events?access_token=" + token

	conn, _, err := websocket.Dial(ctx, u, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return h.Hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	return conn
}

// nextEvent reads events until one of the wanted type arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, typ string) events.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var ev events.Event
		require.NoError(t, json.Unmarshal(data, &ev))

		if ev.Type == typ {
			return ev
		}
	}
}

// doGet performs a GET request with t.Context() and an optional token.
func (h *harness) doGet(t *testing.T, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// extractTextContent pulls the text from the first TextContent in a
// CallToolResult.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}
