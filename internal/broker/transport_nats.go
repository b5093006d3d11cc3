package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

func init() {
	RegisterTransportFactory("nats", func(rawURL string) (Transport, error) {
		return NewNATSTransport(rawURL)
	})
}

const (
	presenceSubject = "telescope.presence"
	endpointSubject = "telescope.endpoint.%s"

	// Endpoints heartbeat on the presence subject; one that goes quiet
	// for this long is considered gone.
	presenceTTL = 30 * time.Second
)

// presenceMsg is what a tab endpoint publishes to announce itself.
type presenceMsg struct {
	EndpointID string `json:"endpointId"`
	TabID      int    `json:"tabId"`
	WindowID   int    `json:"windowId"`
	Eligible   bool   `json:"eligible"`
	Gone       bool   `json:"gone,omitempty"`
}

type ackMsg struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSTransport delivers envelopes over NATS request/reply. Each
// endpoint subscribes to its own subject and acknowledges deliveries;
// presence heartbeats drive endpoint discovery.
type NATSTransport struct {
	conn *nats.Conn
	sub  *nats.Subscription

	mu       sync.RWMutex
	presence map[string]presenceEntry
}

type presenceEntry struct {
	info EndpointInfo
	seen time.Time
}

// NewNATSTransport connects to the NATS server at rawURL.
func NewNATSTransport(rawURL string) (*NATSTransport, error) {
	conn, err := nats.Connect(rawURL,
		nats.Name("telescope-broker"),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryTransport, "failed to connect to NATS").
			WithContext("url", rawURL)
	}

	t := &NATSTransport{
		conn:     conn,
		presence: make(map[string]presenceEntry),
	}
	sub, err := conn.Subscribe(presenceSubject, t.handlePresence)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.CategoryTransport, "failed to subscribe to presence subject")
	}
	t.sub = sub

	slog.Info("NATS transport connected", "url", rawURL)
	return t, nil
}

func (t *NATSTransport) handlePresence(msg *nats.Msg) {
	var p presenceMsg
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		slog.Warn("Dropping malformed presence message", "error", err)
		return
	}
	if p.EndpointID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Gone {
		delete(t.presence, p.EndpointID)
		return
	}
	t.presence[p.EndpointID] = presenceEntry{
		info: EndpointInfo{
			ID:       p.EndpointID,
			TabID:    p.TabID,
			WindowID: p.WindowID,
			Eligible: p.Eligible,
		},
		seen: time.Now(),
	}
}

func (t *NATSTransport) Deliver(ctx context.Context, endpoint EndpointInfo, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to marshal envelope")
	}

	subject := fmt.Sprintf(endpointSubject, endpoint.ID)
	reply, err := t.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return errors.DeliveryError(err, "endpoint did not acknowledge").
			WithContext("endpoint_id", endpoint.ID).
			WithContext("subject", subject)
	}

	var ack ackMsg
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return errors.DeliveryError(err, "endpoint sent malformed acknowledgement").
			WithContext("endpoint_id", endpoint.ID)
	}
	if !ack.OK {
		return errors.DeliveryError(nil, "endpoint rejected envelope").
			WithContext("endpoint_id", endpoint.ID).
			WithContext("reason", ack.Error)
	}
	return nil
}

func (t *NATSTransport) Endpoints(ctx context.Context) ([]EndpointInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-presenceTTL)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EndpointInfo, 0, len(t.presence))
	for id, entry := range t.presence {
		if entry.seen.Before(cutoff) {
			delete(t.presence, id)
			continue
		}
		out = append(out, entry.info)
	}
	return out, nil
}

func (t *NATSTransport) Close() error {
	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			slog.Warn("Failed to unsubscribe from presence subject", "error", err)
		}
	}
	t.conn.Close()
	return nil
}
