package bridge

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildIPv6Frame(t *testing.T, src, dst netip.Addr, srcMAC net.HardwareAddr, next layers.IPProtocol, payload gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0}, EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: next,
		HopLimit:   64,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(dst.AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, payload); err != nil {
		t.Fatalf("build test frame: %v", err)
	}
	return buf.Bytes()
}

func TestWifiIO_ClassifiesNeighborSolicitation(t *testing.T) {
	store := NewStore(Config{})
	table := NewNodeTable(nil, nil)
	w := NewWifiIO(nil, net.HardwareAddr{1, 2, 3, 4, 5, 6}, store, table, nil)

	var got NeighbourSolicitation
	w.Subscribe(KindNeighbourSolicitation, ListenerFunc(func(e Event) { got = e.Payload.(NeighbourSolicitation) }))

	src := netip.MustParseAddr("fe80::1")
	target := netip.MustParseAddr("2001:db8::1")
	dst := netip.MustParseAddr("ff02::1:ff00:1")
	ns := &layers.ICMPv6NeighborSolicitation{TargetAddress: net.IP(target.AsSlice())}

	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{9, 9, 9, 9, 9, 9}, DstMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0}, EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolICMPv6, HopLimit: 255, SrcIP: net.IP(src.AsSlice()), DstIP: net.IP(dst.AsSlice())}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)}
	_ = icmp.SetNetworkLayerForChecksum(ip6)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp, ns); err != nil {
		t.Fatalf("build NS frame: %v", err)
	}
	w.handleFrame(buf.Bytes())

	if got.Source != src || got.Target != target {
		t.Fatalf("got = %+v, want source=%v target=%v", got, src, target)
	}

	if node, ok := table.Lookup(src); !ok || node.Tech != TechWifi {
		t.Fatalf("table entry for %v = %+v, ok=%v, want tech=wifi", src, node, ok)
	}
}

func TestWifiIO_RouterModeForwardsMoteSubnetTraffic(t *testing.T) {
	store := NewStore(Config{WifiSubnet: "2001:db8::/64"})
	store.SetMode(ModeRouter)
	table := NewNodeTable(nil, nil)
	w := NewWifiIO(nil, net.HardwareAddr{1, 2, 3, 4, 5, 6}, store, table, nil)

	var forwarded bool
	w.Subscribe(KindRootPacketForward, ListenerFunc(func(e Event) { forwarded = true }))

	src := netip.MustParseAddr("2001:db8::ffff")
	dst := netip.MustParseAddr("2001:db8::1")

	data := buildIPv6Frame(t, src, dst, net.HardwareAddr{9, 9, 9, 9, 9, 9}, layers.IPProtocolUDP, gopacket.Payload([]byte{1, 2, 3, 4}))
	w.handleFrame(data)

	if !forwarded {
		t.Fatal("expected KindRootPacketForward for mote-subnet traffic in ROUTER mode")
	}
}

func TestWifiIO_NodeModeSendsMoteGlobalTrafficToSerial(t *testing.T) {
	store := NewStore(Config{})
	store.SetMoteGlobal(netip.MustParseAddr("2001:db8::9"))
	table := NewNodeTable(nil, nil)
	w := NewWifiIO(nil, net.HardwareAddr{1, 2, 3, 4, 5, 6}, store, table, nil)

	var sent bool
	w.Subscribe(KindPacketSendToSerial, ListenerFunc(func(e Event) { sent = true }))

	src := netip.MustParseAddr("2001:db8::ffff")
	dst := netip.MustParseAddr("2001:db8::9")

	data := buildIPv6Frame(t, src, dst, net.HardwareAddr{9, 9, 9, 9, 9, 9}, layers.IPProtocolUDP, gopacket.Payload([]byte{1, 2, 3, 4}))
	w.handleFrame(data)

	if !sent {
		t.Fatal("expected KindPacketSendToSerial for mote-global-destined traffic in NODE mode")
	}
}

func TestWifiIO_DropsUnrelatedTraffic(t *testing.T) {
	store := NewStore(Config{})
	table := NewNodeTable(nil, nil)
	w := NewWifiIO(nil, net.HardwareAddr{1, 2, 3, 4, 5, 6}, store, table, nil)

	var events int
	for _, k := range []Kind{KindRootPacketForward, KindPacketSendToSerial} {
		w.Subscribe(k, ListenerFunc(func(e Event) { events++ }))
	}

	src := netip.MustParseAddr("2001:db8::ffff")
	dst := netip.MustParseAddr("2001:db9::1")
	data := buildIPv6Frame(t, src, dst, net.HardwareAddr{9, 9, 9, 9, 9, 9}, layers.IPProtocolUDP, gopacket.Payload([]byte{1, 2, 3, 4}))
	w.handleFrame(data)

	if events != 0 {
		t.Fatalf("events fired = %d, want 0 for unrelated traffic", events)
	}
}
