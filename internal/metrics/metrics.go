package metrics

import "sync"

// Event names counted by the relay.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	Joins             = "joins"
	RoomsCreated      = "rooms_created"
	RoomsEvicted      = "rooms_evicted"
	MessagesForwarded = "messages_forwarded"
	DeliveriesSkipped = "deliveries_skipped"
	ProtocolErrors    = "protocol_errors"
	PresenceDropped   = "presence_dropped"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// everything.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
