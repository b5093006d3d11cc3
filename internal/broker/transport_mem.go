package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

func init() {
	RegisterTransportFactory("mem", func(string) (Transport, error) {
		return NewMemTransport(), nil
	})
}

// EndpointHandler receives an envelope on an in-process endpoint. A
// non-nil return is treated as a failed delivery attempt.
type EndpointHandler func(env Envelope) error

// MemTransport is an in-process transport. The daemon's own managers
// and the test suite register handlers directly; there is no wire
// format.
type MemTransport struct {
	mu        sync.RWMutex
	endpoints map[string]EndpointInfo
	handlers  map[string]EndpointHandler
	closed    bool
}

// NewMemTransport creates an empty in-process transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		endpoints: make(map[string]EndpointInfo),
		handlers:  make(map[string]EndpointHandler),
	}
}

// RegisterEndpoint adds or replaces an endpoint. Endpoints start
// ineligible until MarkEligible is called, mirroring a page that is
// still loading.
func (t *MemTransport) RegisterEndpoint(id string, tabID, windowID int, handler EndpointHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[id] = EndpointInfo{ID: id, TabID: tabID, WindowID: windowID}
	t.handlers[id] = handler
}

// MarkEligible flips an endpoint's eligibility.
func (t *MemTransport) MarkEligible(id string, eligible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.endpoints[id]; ok {
		info.Eligible = eligible
		t.endpoints[id] = info
	}
}

// RemoveEndpoint drops an endpoint, as when its tab closes.
func (t *MemTransport) RemoveEndpoint(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.endpoints, id)
	delete(t.handlers, id)
}

func (t *MemTransport) Deliver(ctx context.Context, endpoint EndpointInfo, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	handler, ok := t.handlers[endpoint.ID]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errors.New(errors.CategoryTransport, errors.SeverityError, "transport is closed")
	}
	if !ok {
		return errors.DeliveryError(nil, fmt.Sprintf("endpoint %s is gone", endpoint.ID))
	}
	if err := handler(env); err != nil {
		return errors.DeliveryError(err, "endpoint rejected envelope").
			WithContext("endpoint_id", endpoint.ID)
	}
	return nil
}

func (t *MemTransport) Endpoints(ctx context.Context) ([]EndpointInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(t.endpoints))
	for _, info := range t.endpoints {
		out = append(out, info)
	}
	// Deterministic order keeps sequential broadcasts reproducible.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *MemTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.endpoints = make(map[string]EndpointInfo)
	t.handlers = make(map[string]EndpointHandler)
	return nil
}
