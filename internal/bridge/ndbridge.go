package bridge

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// NSTimeout is how long a pending solicitation waits for a matching NA
// before retrying or giving up.
const NSTimeout = 3 * time.Second

// NSMaxRetries is the number of NS retransmissions after the first attempt.
const NSMaxRetries = 2

// NeighbourSender is the Wi-Fi-side action surface NDBridge drives: sending
// a confirming/proxy NS or a proxy NA. Implemented by WifiIO.
type NeighbourSender interface {
	SendNS(target netip.Addr) error
	SendProxyNA(target netip.Addr, solicited bool) error
}

// RouteResponder is the serial-side action surface NDBridge drives to
// answer a co-processor route query. Implemented by SerialIO.
type RouteResponder interface {
	SendRouteResponse(qid uint32, forward bool)
}

// pendingEntry is one outstanding NS awaiting a matching NA.
type pendingEntry struct {
	target    netip.Addr
	onArrival func(NodeAddress)
	onTimeout func()
	retries   int
	timer     *time.Timer
}

// PendingSolicitations tracks NS we've sent that are awaiting an NA.
type PendingSolicitations struct {
	mu      sync.Mutex
	pending map[netip.Addr]*pendingEntry
}

// NewPendingSolicitations creates an empty table.
func NewPendingSolicitations() *PendingSolicitations {
	return &PendingSolicitations{pending: make(map[netip.Addr]*pendingEntry)}
}

// add registers target as pending, scheduling a retry/timeout chain on sched.
func (p *PendingSolicitations) add(target netip.Addr, onArrival func(NodeAddress), onTimeout func(), sched func(netip.Addr)) {
	p.mu.Lock()
	if _, exists := p.pending[target]; exists {
		p.mu.Unlock()
		return
	}
	entry := &pendingEntry{target: target, onArrival: onArrival, onTimeout: onTimeout}
	p.pending[target] = entry
	p.mu.Unlock()

	p.armTimer(target, sched)
}

func (p *PendingSolicitations) armTimer(target netip.Addr, sched func(netip.Addr)) {
	p.mu.Lock()
	entry, ok := p.pending[target]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry.timer = time.AfterFunc(NSTimeout, func() { sched(target) })
	p.mu.Unlock()
}

// resolve fires onArrival for target if pending, and removes the entry.
// Returns false if nothing was pending (a plain refresh, not a resolution).
// Idempotent: a second NA for an already-resolved (removed) target is a no-op.
func (p *PendingSolicitations) resolve(target netip.Addr, node NodeAddress) bool {
	p.mu.Lock()
	entry, ok := p.pending[target]
	if ok {
		delete(p.pending, target)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if entry.onArrival != nil {
		entry.onArrival(node)
	}
	return true
}

// retryOrExpire is invoked when a pending entry's timer fires. It either
// re-arms for another attempt or, past NSMaxRetries, expires the entry.
func (p *PendingSolicitations) retryOrExpire(target netip.Addr, resend func(netip.Addr) error, sched func(netip.Addr)) {
	p.mu.Lock()
	entry, ok := p.pending[target]
	if !ok {
		p.mu.Unlock()
		return
	}
	if entry.retries >= NSMaxRetries {
		delete(p.pending, target)
		p.mu.Unlock()
		if entry.onTimeout != nil {
			entry.onTimeout()
		}
		return
	}
	entry.retries++
	p.mu.Unlock()

	_ = resend(target)
	p.armTimer(target, sched)
}

// Snapshot lists all pending targets, for the "pending" shell command.
func (p *PendingSolicitations) Snapshot() []netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]netip.Addr, 0, len(p.pending))
	for target := range p.pending {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// PrintPendings renders the pending solicitation table.
func (p *PendingSolicitations) PrintPendings() string {
	rows := p.Snapshot()
	if len(rows) == 0 {
		return "no pending solicitations"
	}
	out := ""
	for _, target := range rows {
		out += fmt.Sprintf("%s\n", target)
	}
	return out
}

// NDBridge proxies IPv6 Neighbor Discovery between Wi-Fi and the RPL side,
// and answers the co-processor's "should I route through Wi-Fi" queries.
type NDBridge struct {
	table    *NodeTable
	store    *Store
	pending  *PendingSolicitations
	wifi     NeighbourSender
	serial   RouteResponder
	log      *slog.Logger
}

// NewNDBridge wires the ND bridge to its table, store and pending
// solicitations. The Wi-Fi and serial action surfaces are attached
// separately via SetSenders; both must be set before Run-time events arrive.
func NewNDBridge(table *NodeTable, store *Store, pending *PendingSolicitations, log *slog.Logger) *NDBridge {
	if log == nil {
		log = slog.Default()
	}
	return &NDBridge{table: table, store: store, pending: pending, log: log.With("component", "ndbridge")}
}

// SetSenders attaches the Wi-Fi and serial action surfaces.
func (n *NDBridge) SetSenders(wifi NeighbourSender, serial RouteResponder) {
	n.wifi = wifi
	n.serial = serial
}

// Notify implements Listener, dispatching by event kind.
func (n *NDBridge) Notify(e Event) {
	switch e.Kind {
	case KindNewNode:
		n.onNewNode(e.Payload.(NodeAddress))
	case KindNodeRefresh:
		// last-seen only; NodeTable already updated it.
	case KindNeighbourSolicitation:
		n.onSolicitation(e.Payload.(NeighbourSolicitation))
	case KindNeighbourAdvertisement:
		n.onAdvertisement(e.Payload.(NeighbourAdvertisement))
	case KindRequestRouteToMote:
		n.onRouteRequest(e.Payload.(RequestRouteToMote))
	}
}

// onNewNode confirms a newly discovered Wi-Fi node is actually reachable by
// sending it an NS; rpl-tech nodes need no Wi-Fi confirmation.
func (n *NDBridge) onNewNode(node NodeAddress) {
	if node.Tech != TechWifi {
		return
	}
	n.solicit(node.IP)
}

func (n *NDBridge) solicit(target netip.Addr) {
	resend := func(t netip.Addr) error {
		if n.wifi == nil {
			return nil
		}
		return n.wifi.SendNS(t)
	}
	onTimeout := func() {
		n.log.Debug("pending solicitation expired without NA", "target", target)
	}
	onArrival := func(node NodeAddress) {
		n.log.Debug("pending solicitation resolved", "target", target)
	}
	var sched func(netip.Addr)
	sched = func(t netip.Addr) {
		n.pending.retryOrExpire(t, resend, sched)
	}

	n.pending.add(target, onArrival, onTimeout, sched)
	_ = resend(target)
}

// NeighbourSolicitation is the payload of KindNeighbourSolicitation.
type NeighbourSolicitation struct {
	Source netip.Addr
	Target netip.Addr
}

// NeighbourAdvertisement is the payload of KindNeighbourAdvertisement.
type NeighbourAdvertisement struct {
	Source netip.Addr
}

// RequestRouteToMote is the payload of KindRequestRouteToMote.
type RequestRouteToMote struct {
	QID uint32
	IP  netip.Addr
}

// onSolicitation answers an NS for a known mote with a proxy NA; anything
// else is left for the kernel's own ND to handle.
func (n *NDBridge) onSolicitation(ns NeighbourSolicitation) {
	cfg := n.store.Config()
	isMote := ns.Target == n.store.MoteGlobal() || ns.Target == cfg.BorderRouterIPv6
	if !isMote {
		if node, ok := n.table.Lookup(ns.Target); !ok || node.Tech != TechRPL {
			return
		}
	}
	if n.wifi == nil {
		return
	}
	if err := n.wifi.SendProxyNA(ns.Target, true); err != nil {
		n.log.Warn("failed to send proxy NA", "target", ns.Target, "err", err)
	}
}

// onAdvertisement resolves a pending solicitation if one matches the
// source, promoting the node; otherwise it's just a refresh.
func (n *NDBridge) onAdvertisement(na NeighbourAdvertisement) {
	node := NodeAddress{IP: na.Source, Tech: TechWifi, LastSeen: time.Now()}
	if n.pending.resolve(na.Source, node) {
		n.table.Upsert(na.Source, TechWifi)
		return
	}
	n.table.Upsert(na.Source, TechWifi)
}

// onRouteRequest answers the co-processor's "should I send this to <ip>
// over Wi-Fi" query by looking the target up in the node table.
func (n *NDBridge) onRouteRequest(req RequestRouteToMote) {
	node, ok := n.table.Lookup(req.IP)
	forward := ok && node.Tech == TechWifi
	if n.serial != nil {
		n.serial.SendRouteResponse(req.QID, forward)
	}
}
