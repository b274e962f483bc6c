// Package portal binds inbound packet types to handler functions. A Portal
// groups the gates reachable on one transport path, and the Registry maps
// paths to portals so the transport layer can route an accepted connection
// to the right handler set.
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Replier sends a packet back to one client. The base client sender
// satisfies it; a nil Replier disables failure replies.
type Replier interface {
	Send(ctx context.Context, clientID types.ConnectionID, pkt packet.Packet) error
}

// handlerFunc is the normalized gate shape every accepted signature is
// adapted to.
type handlerFunc func(ctx context.Context, pkt packet.Packet, clientID types.ConnectionID) error

// Portal routes decoded packets to the gates registered for their type.
type Portal struct {
	path    string
	replies Replier

	mu    sync.RWMutex
	gates map[string]handlerFunc
}

// New builds a portal served under the given transport path. replies may be
// nil, in which case handler failures are logged but not reported back to
// the client.
func New(path string, replies Replier) (*Portal, error) {
	if path == "" {
		return nil, errors.New("portal path must not be empty")
	}
	return &Portal{
		path:    path,
		replies: replies,
		gates:   make(map[string]handlerFunc),
	}, nil
}

// Path returns the transport path this portal serves.
func (p *Portal) Path() string {
	return p.path
}

// Gate binds a handler to one packet type. The handler must be either
//
//	func(ctx context.Context, pkt packet.Packet) error
//	func(ctx context.Context, pkt packet.Packet, clientID types.ConnectionID) error
//
// Any other signature, an empty event, or a duplicate registration is
// rejected.
func (p *Portal) Gate(event string, handler any) error {
	if event == "" {
		return fmt.Errorf("portal %s: gate event must not be empty", p.path)
	}

	var fn handlerFunc
	switch h := handler.(type) {
	case func(context.Context, packet.Packet) error:
		fn = func(ctx context.Context, pkt packet.Packet, _ types.ConnectionID) error {
			return h(ctx, pkt)
		}
	case func(context.Context, packet.Packet, types.ConnectionID) error:
		fn = h
	default:
		return fmt.Errorf("portal %s: gate %s: unsupported handler signature %T", p.path, event, handler)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.gates[event]; exists {
		return fmt.Errorf("portal %s: gate %s already registered", p.path, event)
	}
	p.gates[event] = fn
	return nil
}

// Events returns the packet types this portal has gates for.
func (p *Portal) Events() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	events := make([]string, 0, len(p.gates))
	for event := range p.gates {
		events = append(events, event)
	}
	return events
}

// Dispatch routes one decoded packet to its gate. Unknown packet types are
// logged and dropped. A handler error or panic is logged and answered with a
// best-effort FailedPacket; the connection stays open either way.
func (p *Portal) Dispatch(ctx context.Context, clientID types.ConnectionID, pkt packet.Packet) {
	p.mu.RLock()
	fn, ok := p.gates[pkt.Type()]
	p.mu.RUnlock()

	if !ok {
		metrics.PacketsReceived.WithLabelValues(pkt.Type(), "unknown").Inc()
		logging.Warn(ctx, "No gate for packet type",
			zap.String("portal", p.path),
			zap.String("packetType", pkt.Type()),
			zap.String("clientId", string(clientID)))
		return
	}

	start := time.Now()
	err := p.call(ctx, fn, clientID, pkt)
	metrics.DispatchDuration.WithLabelValues(pkt.Type()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PacketsReceived.WithLabelValues(pkt.Type(), "error").Inc()
		logging.Error(ctx, "Gate handler failed",
			zap.String("portal", p.path),
			zap.String("packetType", pkt.Type()),
			zap.String("clientId", string(clientID)),
			zap.Error(err))
		p.replyFailed(ctx, clientID, pkt.Type(), err)
		return
	}
	metrics.PacketsReceived.WithLabelValues(pkt.Type(), "ok").Inc()
}

// call runs the gate with panic containment so a broken handler cannot take
// down the read pump that dispatched it.
func (p *Portal) call(ctx context.Context, fn handlerFunc, clientID types.ConnectionID, pkt packet.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate panicked: %v", r)
			logging.Error(ctx, "Gate handler panicked",
				zap.String("portal", p.path),
				zap.String("packetType", pkt.Type()),
				zap.Any("panic", r),
				zap.Stack("stacktrace"))
		}
	}()
	return fn(ctx, pkt, clientID)
}

func (p *Portal) replyFailed(ctx context.Context, clientID types.ConnectionID, failedType string, cause error) {
	if p.replies == nil {
		return
	}
	failed := &packet.FailedPacket{
		Head:     packet.NewHeader(packet.SenderServer, string(clientID)),
		Reason:   cause.Error(),
		FailType: failedType,
	}
	if err := p.replies.Send(ctx, clientID, failed); err != nil {
		logging.Debug(ctx, "Failure reply not delivered",
			zap.String("clientId", string(clientID)),
			zap.Error(err))
	}
}

// Registry maps transport paths to portals.
type Registry struct {
	mu      sync.RWMutex
	portals map[string]*Portal
}

// NewRegistry builds an empty portal registry.
func NewRegistry() *Registry {
	return &Registry{portals: make(map[string]*Portal)}
}

// Add registers a portal under its path. Two portals on one path is a
// configuration mistake and fails.
func (r *Registry) Add(p *Portal) error {
	if p == nil {
		return errors.New("registry: portal must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.portals[p.Path()]; exists {
		return fmt.Errorf("registry: path %s already has a portal", p.Path())
	}
	r.portals[p.Path()] = p
	return nil
}

// Get returns the portal serving a path.
func (r *Registry) Get(path string) (*Portal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.portals[path]
	return p, ok
}

// Paths returns every registered transport path.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.portals))
	for path := range r.portals {
		paths = append(paths, path)
	}
	return paths
}
