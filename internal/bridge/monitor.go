package bridge

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// MonitorWindow is the sliding window over which PassiveMonitor counts
// Neighbor Discovery chatter per peer.
const MonitorWindow = 5 * time.Minute

// PeerActivity is one observed Wi-Fi-side peer's Neighbor Discovery traffic.
type PeerActivity struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Messages  map[Kind][]time.Time
}

// ActivitySummary is a display snapshot of one peer's activity within the
// window, sorted by total message count when returned from Snapshot.
type ActivitySummary struct {
	Address   netip.Addr
	FirstSeen time.Time
	LastSeen  time.Time
	Counts    map[Kind]int
	Total     int
}

// PassiveMonitor is a read-only Listener that tallies the NS/NA traffic
// WifiIO already classifies, for display on the live dashboard. It does
// not open its own capture; WifiIO's classification is the source of
// truth, so the monitor only counts what's already been dispatched as an
// event, avoiding a second parse of the same frames.
type PassiveMonitor struct {
	mu     sync.Mutex
	peers  map[netip.Addr]*PeerActivity
	window time.Duration
	now    func() time.Time
}

// NewPassiveMonitor creates an empty monitor with the given sliding window.
// now defaults to time.Now; tests may override it.
func NewPassiveMonitor(window time.Duration, now func() time.Time) *PassiveMonitor {
	if now == nil {
		now = time.Now
	}
	return &PassiveMonitor{peers: make(map[netip.Addr]*PeerActivity), window: window, now: now}
}

// Notify implements Listener, recording KindNeighbourSolicitation and
// KindNeighbourAdvertisement events by source address.
func (m *PassiveMonitor) Notify(e Event) {
	switch e.Kind {
	case KindNeighbourSolicitation:
		m.record(e.Payload.(NeighbourSolicitation).Source, e.Kind)
	case KindNeighbourAdvertisement:
		m.record(e.Payload.(NeighbourAdvertisement).Source, e.Kind)
	}
}

func (m *PassiveMonitor) record(addr netip.Addr, kind Kind) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[addr]
	if !ok {
		peer = &PeerActivity{FirstSeen: now, Messages: make(map[Kind][]time.Time)}
		m.peers[addr] = peer
	}
	peer.LastSeen = now
	peer.Messages[kind] = append(peer.Messages[kind], now)
}

// Snapshot returns a summary per peer, sorted by total activity descending,
// counting only messages within the window.
func (m *PassiveMonitor) Snapshot() []ActivitySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	out := make([]ActivitySummary, 0, len(m.peers))
	for addr, peer := range m.peers {
		s := ActivitySummary{Address: addr, FirstSeen: peer.FirstSeen, LastSeen: peer.LastSeen, Counts: make(map[Kind]int)}
		for kind, timestamps := range peer.Messages {
			count := 0
			for _, ts := range timestamps {
				if ts.After(cutoff) {
					count++
				}
			}
			s.Counts[kind] = count
			s.Total += count
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// Prune drops timestamps older than the window, and peers with none left.
func (m *PassiveMonitor) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	for addr, peer := range m.peers {
		kept := 0
		for kind, timestamps := range peer.Messages {
			filtered := timestamps[:0]
			for _, ts := range timestamps {
				if ts.After(cutoff) {
					filtered = append(filtered, ts)
				}
			}
			if len(filtered) == 0 {
				delete(peer.Messages, kind)
			} else {
				peer.Messages[kind] = filtered
				kept += len(filtered)
			}
		}
		if kept == 0 {
			delete(m.peers, addr)
		}
	}
}
