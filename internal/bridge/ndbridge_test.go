package bridge

import (
	"net/netip"
	"sync"
	"testing"
)

type fakeNeighbourSender struct {
	mu  sync.Mutex
	nss []netip.Addr
	nas []netip.Addr
}

func (f *fakeNeighbourSender) SendNS(target netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nss = append(f.nss, target)
	return nil
}

func (f *fakeNeighbourSender) SendProxyNA(target netip.Addr, solicited bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nas = append(f.nas, target)
	return nil
}

type fakeRouteResponder struct {
	mu       sync.Mutex
	qid      uint32
	forward  bool
	answered bool
}

func (f *fakeRouteResponder) SendRouteResponse(qid uint32, forward bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qid, f.forward, f.answered = qid, forward, true
}

func TestNDBridge_RouteRequestKnownWifiHost(t *testing.T) {
	table := NewNodeTable(nil, nil)
	store := NewStore(Config{})
	pending := NewPendingSolicitations()
	nd := NewNDBridge(table, store, pending, nil)
	responder := &fakeRouteResponder{}
	nd.SetSenders(&fakeNeighbourSender{}, responder)

	ip := netip.MustParseAddr("2001:db8::2")
	table.Upsert(ip, TechWifi)

	nd.onRouteRequest(RequestRouteToMote{QID: 7, IP: ip})

	if !responder.answered || responder.qid != 7 || !responder.forward {
		t.Fatalf("responder = %+v, want qid=7 forward=true", responder)
	}
}

func TestNDBridge_RouteRequestUnknownHost(t *testing.T) {
	table := NewNodeTable(nil, nil)
	store := NewStore(Config{})
	pending := NewPendingSolicitations()
	nd := NewNDBridge(table, store, pending, nil)
	responder := &fakeRouteResponder{}
	nd.SetSenders(&fakeNeighbourSender{}, responder)

	nd.onRouteRequest(RequestRouteToMote{QID: 8, IP: netip.MustParseAddr("2001:db8::3")})

	if !responder.answered || responder.qid != 8 || responder.forward {
		t.Fatalf("responder = %+v, want qid=8 forward=false", responder)
	}
}

func TestNDBridge_RouteRequestRPLHostAnswersNoForward(t *testing.T) {
	table := NewNodeTable(nil, nil)
	store := NewStore(Config{})
	pending := NewPendingSolicitations()
	nd := NewNDBridge(table, store, pending, nil)
	responder := &fakeRouteResponder{}
	nd.SetSenders(&fakeNeighbourSender{}, responder)

	ip := netip.MustParseAddr("2001:db8::4")
	table.Upsert(ip, TechRPL)

	nd.onRouteRequest(RequestRouteToMote{QID: 9, IP: ip})

	if !responder.answered || responder.forward {
		t.Fatalf("responder = %+v, want forward=false for an rpl-tech node", responder)
	}
}

func TestNDBridge_NewWifiNodeSendsConfirmingNS(t *testing.T) {
	table := NewNodeTable(nil, nil)
	store := NewStore(Config{})
	pending := NewPendingSolicitations()
	nd := NewNDBridge(table, store, pending, nil)
	sender := &fakeNeighbourSender{}
	nd.SetSenders(sender, &fakeRouteResponder{})

	ip := netip.MustParseAddr("2001:db8::5")
	table.Subscribe(KindNewNode, nd)
	table.Upsert(ip, TechWifi)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.nss) != 1 || sender.nss[0] != ip {
		t.Fatalf("NS sent = %v, want one NS to %v", sender.nss, ip)
	}
}

func TestNDBridge_NewRPLNodeSendsNoNS(t *testing.T) {
	table := NewNodeTable(nil, nil)
	store := NewStore(Config{})
	pending := NewPendingSolicitations()
	nd := NewNDBridge(table, store, pending, nil)
	sender := &fakeNeighbourSender{}
	nd.SetSenders(sender, &fakeRouteResponder{})

	table.Subscribe(KindNewNode, nd)
	table.Upsert(netip.MustParseAddr("2001:db8::6"), TechRPL)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.nss) != 0 {
		t.Fatalf("NS sent = %v, want none for an rpl-tech node", sender.nss)
	}
}

func TestPendingSolicitations_ResolveIdempotent(t *testing.T) {
	pending := NewPendingSolicitations()
	target := netip.MustParseAddr("2001:db8::7")

	arrivals := 0
	pending.add(target, func(NodeAddress) { arrivals++ }, func() {}, func(netip.Addr) {})

	node := NodeAddress{IP: target, Tech: TechWifi}
	if !pending.resolve(target, node) {
		t.Fatal("first resolve should report true")
	}
	if pending.resolve(target, node) {
		t.Fatal("second resolve of an already-resolved target should report false")
	}
	if arrivals != 1 {
		t.Fatalf("onArrival fired %d times, want 1", arrivals)
	}
}

func TestPendingSolicitations_SnapshotListsOutstanding(t *testing.T) {
	pending := NewPendingSolicitations()
	a := netip.MustParseAddr("2001:db8::1")
	b := netip.MustParseAddr("2001:db8::2")

	pending.add(a, nil, nil, func(netip.Addr) {})
	pending.add(b, nil, nil, func(netip.Addr) {})

	got := pending.Snapshot()
	if len(got) != 2 {
		t.Fatalf("Snapshot() = %v, want 2 entries", got)
	}
}
