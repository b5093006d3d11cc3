package broker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// EndpointInfo describes one transient per-tab endpoint. Eligible means
// the endpoint's page has finished loading and its listener is
// installed; ineligible endpoints are skipped without error.
type EndpointInfo struct {
	ID       string
	TabID    int
	WindowID int
	Eligible bool
}

// Transport carries envelopes to endpoints. Implementations are
// registered per URL scheme.
type Transport interface {
	// Deliver sends one envelope to one endpoint and blocks until the
	// endpoint acknowledges or ctx expires. Errors are retryable unless
	// wrapped otherwise.
	Deliver(ctx context.Context, endpoint EndpointInfo, env Envelope) error
	// Endpoints lists the currently known endpoints, eligible or not.
	Endpoints(ctx context.Context) ([]EndpointInfo, error)
	Close() error
}

// TransportFactory builds a transport from its URL.
type TransportFactory func(rawURL string) (Transport, error)

var transportRegistry = struct {
	mu        sync.RWMutex
	factories map[string]TransportFactory
}{
	factories: map[string]TransportFactory{},
}

// RegisterTransportFactory registers a factory for a URL scheme.
// Transports self-register from init, so importing a transport file is
// enough to make its scheme available.
func RegisterTransportFactory(scheme string, factory TransportFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	transportRegistry.mu.Lock()
	defer transportRegistry.mu.Unlock()
	transportRegistry.factories[scheme] = factory
}

// NewTransport resolves rawURL's scheme against the registry and builds
// the matching transport.
func NewTransport(rawURL string) (Transport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryTransport, "invalid transport url").
			WithContext("url", rawURL)
	}
	transportRegistry.mu.RLock()
	factory, ok := transportRegistry.factories[normalizeScheme(parsed.Scheme)]
	transportRegistry.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CategoryTransport, errors.SeverityFatal,
			fmt.Sprintf("no transport registered for scheme %q", parsed.Scheme)).
			WithContext("url", rawURL)
	}
	return factory(rawURL)
}

// RegisteredSchemes returns the schemes with a registered factory.
func RegisteredSchemes() []string {
	transportRegistry.mu.RLock()
	defer transportRegistry.mu.RUnlock()
	schemes := make([]string, 0, len(transportRegistry.factories))
	for scheme := range transportRegistry.factories {
		schemes = append(schemes, scheme)
	}
	return schemes
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
