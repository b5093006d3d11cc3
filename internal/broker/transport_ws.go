package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	telerrors "github.com/dough654/Telescope.Browser/internal/errors"
)

func init() {
	RegisterTransportFactory("ws", func(rawURL string) (Transport, error) {
		return NewWSTransport(rawURL)
	})
}

// wsHello is the first frame a connecting endpoint sends.
type wsHello struct {
	EndpointID string `json:"endpointId"`
	TabID      int    `json:"tabId"`
	WindowID   int    `json:"windowId"`
	Eligible   bool   `json:"eligible"`
}

// wsFrame is every later frame from the endpoint: either a delivery
// acknowledgement or an eligibility update.
type wsFrame struct {
	EnvelopeID string `json:"envelopeId,omitempty"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Eligible   *bool  `json:"eligible,omitempty"`
}

// WSTransport hosts a WebSocket hub that tab endpoints dial into. One
// connection per endpoint; deliveries are acknowledged per envelope id.
type WSTransport struct {
	server *http.Server

	mu    sync.RWMutex
	conns map[string]*wsEndpoint
}

type wsEndpoint struct {
	info EndpointInfo
	conn *websocket.Conn

	writeMu sync.Mutex
	ackMu   sync.Mutex
	acks    map[string]chan wsFrame
}

// NewWSTransport starts the hub listening on the host and port of
// rawURL (ws://host:port).
func NewWSTransport(rawURL string) (*WSTransport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, telerrors.Wrap(err, telerrors.CategoryTransport, "invalid websocket url").
			WithContext("url", rawURL)
	}

	t := &WSTransport{conns: make(map[string]*wsEndpoint)}
	listener, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return nil, telerrors.Wrap(err, telerrors.CategoryTransport, "failed to bind websocket hub").
			WithContext("addr", parsed.Host)
	}
	t.server = &http.Server{Handler: t, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("WebSocket hub stopped", "error", err)
		}
	}()

	slog.Info("WebSocket hub listening", "addr", parsed.Host)
	return t, nil
}

func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Endpoints live in browser pages on arbitrary origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err)
		return
	}

	helloCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	var hello wsHello
	err = wsjson.Read(helloCtx, conn, &hello)
	cancel()
	if err != nil || hello.EndpointID == "" {
		conn.Close(websocket.StatusPolicyViolation, "missing hello")
		return
	}

	ep := &wsEndpoint{
		info: EndpointInfo{
			ID:       hello.EndpointID,
			TabID:    hello.TabID,
			WindowID: hello.WindowID,
			Eligible: hello.Eligible,
		},
		conn: conn,
		acks: make(map[string]chan wsFrame),
	}
	t.mu.Lock()
	t.conns[hello.EndpointID] = ep
	t.mu.Unlock()
	slog.Debug("Endpoint connected", "endpoint_id", hello.EndpointID, "tab_id", hello.TabID)

	t.readLoop(ep)

	t.mu.Lock()
	if current, ok := t.conns[hello.EndpointID]; ok && current == ep {
		delete(t.conns, hello.EndpointID)
	}
	t.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Debug("Endpoint disconnected", "endpoint_id", hello.EndpointID)
}

// readLoop routes acknowledgement frames to waiting deliveries and
// applies eligibility updates. Returns when the connection dies.
func (t *WSTransport) readLoop(ep *wsEndpoint) {
	for {
		var frame wsFrame
		if err := wsjson.Read(context.Background(), ep.conn, &frame); err != nil {
			return
		}
		if frame.Eligible != nil {
			t.mu.Lock()
			ep.info.Eligible = *frame.Eligible
			t.mu.Unlock()
			continue
		}
		if frame.EnvelopeID == "" {
			continue
		}
		ep.ackMu.Lock()
		ch, ok := ep.acks[frame.EnvelopeID]
		if ok {
			delete(ep.acks, frame.EnvelopeID)
		}
		ep.ackMu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (t *WSTransport) Deliver(ctx context.Context, endpoint EndpointInfo, env Envelope) error {
	t.mu.RLock()
	ep, ok := t.conns[endpoint.ID]
	t.mu.RUnlock()
	if !ok {
		return telerrors.DeliveryError(nil, "endpoint is not connected").
			WithContext("endpoint_id", endpoint.ID)
	}

	ackCh := make(chan wsFrame, 1)
	ep.ackMu.Lock()
	ep.acks[env.ID] = ackCh
	ep.ackMu.Unlock()
	defer func() {
		ep.ackMu.Lock()
		delete(ep.acks, env.ID)
		ep.ackMu.Unlock()
	}()

	ep.writeMu.Lock()
	err := wsjson.Write(ctx, ep.conn, env)
	ep.writeMu.Unlock()
	if err != nil {
		return telerrors.DeliveryError(err, "failed to write envelope").
			WithContext("endpoint_id", endpoint.ID)
	}

	select {
	case frame := <-ackCh:
		if !frame.OK {
			return telerrors.DeliveryError(nil, "endpoint rejected envelope").
				WithContext("endpoint_id", endpoint.ID).
				WithContext("reason", frame.Error)
		}
		return nil
	case <-ctx.Done():
		return telerrors.DeliveryError(ctx.Err(), "endpoint did not acknowledge").
			WithContext("endpoint_id", endpoint.ID)
	}
}

func (t *WSTransport) Endpoints(ctx context.Context) ([]EndpointInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(t.conns))
	for _, ep := range t.conns {
		out = append(out, ep.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conns := make([]*wsEndpoint, 0, len(t.conns))
	for _, ep := range t.conns {
		conns = append(conns, ep)
	}
	t.conns = make(map[string]*wsEndpoint)
	t.mu.Unlock()

	for _, ep := range conns {
		ep.conn.Close(websocket.StatusGoingAway, "hub shutting down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}
