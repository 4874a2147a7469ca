package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// WifiCapture is the subset of gopacket/pcap's Handle this package depends
// on; capturing/injecting Ethernet frames on a named interface is an
// external collaborator per the spec, satisfied here by gopacket/pcap.
type WifiCapture interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	WritePacketData(data []byte) error
	Close()
}

// OpenWifiCapture opens a live capture on device, matching frames up to the
// standard Ethernet MTU.
func OpenWifiCapture(device string) (WifiCapture, error) {
	handle, err := pcap.OpenLive(device, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("wifi: open %s: %w", device, err)
	}
	if err := handle.SetBPFFilter("ip6"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("wifi: set bpf filter: %w", err)
	}
	return handle, nil
}

// WifiIO captures IPv6 frames from the Wi-Fi interface, classifies them,
// and injects crafted frames (NS, NA, generic re-injection) back onto it.
type WifiIO struct {
	cap   WifiCapture
	mac   net.HardwareAddr
	store *Store
	table *NodeTable

	bus *Bus
	log *slog.Logger

	writeMu sync.Mutex

	macMu sync.Mutex
	macs  map[netip.Addr]net.HardwareAddr
}

// NewWifiIO constructs a WifiIO bound to an already-open capture handle and
// the bridge's own Wi-Fi MAC address.
func NewWifiIO(cap WifiCapture, mac net.HardwareAddr, store *Store, table *NodeTable, log *slog.Logger) *WifiIO {
	if log == nil {
		log = slog.Default()
	}
	return &WifiIO{
		cap:   cap,
		mac:   mac,
		store: store,
		table: table,
		bus: NewBus(
			KindNeighbourSolicitation, KindNeighbourAdvertisement,
			KindRootPacketForward, KindPacketSendToSerial, KindPacketForwardToSerial,
		),
		log:  log.With("component", "wifi"),
		macs: make(map[netip.Addr]net.HardwareAddr),
	}
}

// Subscribe registers l for events WifiIO produces.
func (w *WifiIO) Subscribe(kind Kind, l Listener) { w.bus.Subscribe(kind, l) }

// Run captures frames until ctx is done. It is the Wi-Fi capture task (T2).
func (w *WifiIO) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, _, err := w.cap.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("capture error, continuing", "err", err)
			continue
		}
		w.handleFrame(data)
	}
}

func (w *WifiIO) handleFrame(data []byte) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ipLayer := pkt.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return // discard non-IPv6
	}
	ip6, _ := ipLayer.(*layers.IPv6)

	src, ok := netip.AddrFromSlice(ip6.SrcIP)
	if !ok {
		return
	}
	src = src.Unmap()
	if src.IsValid() && !src.IsUnspecified() {
		w.table.Upsert(src, TechWifi)
		if ethLayer := pkt.Layer(layers.LayerTypeEthernet); ethLayer != nil {
			eth := ethLayer.(*layers.Ethernet)
			w.learnMAC(src, eth.SrcMAC)
		}
	}

	if ns := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation); ns != nil {
		sol := ns.(*layers.ICMPv6NeighborSolicitation)
		target, _ := netip.AddrFromSlice(sol.TargetAddress)
		w.bus.Publish(Event{Kind: KindNeighbourSolicitation, Payload: NeighbourSolicitation{
			Source: src, Target: target.Unmap(),
		}})
		return
	}

	if na := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement); na != nil {
		w.bus.Publish(Event{Kind: KindNeighbourAdvertisement, Payload: NeighbourAdvertisement{Source: src}})
		return
	}

	dst, ok := netip.AddrFromSlice(ip6.DstIP)
	if !ok {
		return
	}
	dst = dst.Unmap()

	cfg := w.store.Config()
	moteGlobal := w.store.MoteGlobal()
	onMoteSide := (moteGlobal.IsValid() && dst == moteGlobal) || inSubnet(dst, cfg.WifiSubnet)

	rawIPv6 := data
	if eth := pkt.LinkLayer(); eth != nil {
		rawIPv6 = eth.LayerPayload()
	}

	switch {
	case onMoteSide && w.store.Mode() == ModeRouter:
		w.bus.Publish(Event{Kind: KindRootPacketForward, Payload: NewContikiPacket(rawIPv6)})
	case dst == moteGlobal && w.store.Mode() == ModeNode:
		w.bus.Publish(Event{Kind: KindPacketSendToSerial, Payload: NewContikiPacket(rawIPv6)})
	}
}

// learnMAC records which Ethernet source address an IPv6 address was last
// observed from, the way a learning switch builds its forwarding table;
// used to address frames we inject back rather than always broadcasting.
func (w *WifiIO) learnMAC(ip netip.Addr, mac net.HardwareAddr) {
	if len(mac) == 0 {
		return
	}
	w.macMu.Lock()
	defer w.macMu.Unlock()
	learned := make(net.HardwareAddr, len(mac))
	copy(learned, mac)
	w.macs[ip] = learned
}

func (w *WifiIO) lookupMAC(ip netip.Addr) (net.HardwareAddr, bool) {
	w.macMu.Lock()
	defer w.macMu.Unlock()
	mac, ok := w.macs[ip]
	return mac, ok
}

// resolveDst picks a destination MAC for an already-built IPv6 packet: the
// learned unicast MAC for its destination address if one of ours has seen
// it before, otherwise that destination's solicited-node multicast MAC. A
// packet too short to carry an IPv6 header falls back to the Ethernet
// broadcast address rather than guessing.
func (w *WifiIO) resolveDst(pkt ContikiPacket) net.HardwareAddr {
	raw := pkt.Bytes()
	if len(raw) < 40 {
		return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	dst, ok := netip.AddrFromSlice(raw[24:40])
	if !ok {
		return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	dst = dst.Unmap()
	if mac, ok := w.lookupMAC(dst); ok {
		return mac
	}
	return solicitedNodeMulticastMAC(dst)
}

func inSubnet(addr netip.Addr, subnet string) bool {
	if subnet == "" {
		return false
	}
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return false
	}
	return prefix.Contains(addr)
}

// --- outbound frame construction ---

var solicitedNodeMulticastMAC = func(target netip.Addr) net.HardwareAddr {
	b := target.As16()
	return net.HardwareAddr{0x33, 0x33, 0xff, b[13], b[14], b[15]}
}

func solicitedNodeMulticastAddr(target netip.Addr) netip.Addr {
	b := target.As16()
	mc := [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, b[13], b[14], b[15]}
	return netip.AddrFrom16(mc)
}

// SendNS builds and injects a Neighbor Solicitation for target, destined to
// its solicited-node multicast group, carrying our MAC as the source
// link-layer address option.
func (w *WifiIO) SendNS(target netip.Addr) error {
	dstIP := solicitedNodeMulticastAddr(target)
	dstMAC := solicitedNodeMulticastMAC(target)

	src := w.store.WifiGlobal()
	if !src.IsValid() {
		return fmt.Errorf("wifi: no source address to solicit from")
	}

	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: net.IP(target.AsSlice()),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: []byte(w.mac)},
		},
	}
	return w.sendICMPv6(src, dstIP, dstMAC, layers.ICMPv6TypeNeighborSolicitation, 0, ns)
}

// SendProxyNA answers a solicitation for target with our own MAC as the
// target link-layer address, override bit set so the requester replaces
// any cached entry, solicited bit mirroring whether this answers a unicast
// solicitation.
func (w *WifiIO) SendProxyNA(target netip.Addr, solicited bool) error {
	src := target
	dstIP := netip.MustParseAddr("ff02::1") // all-nodes; proxy NA is unsolicited-style broadcast of our mapping
	dstMAC := net.HardwareAddr{0x33, 0x33, 0, 0, 0, 1}

	var flags uint8 = 0x20 // override
	if solicited {
		flags |= 0x40
	}

	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: net.IP(target.AsSlice()),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: []byte(w.mac)},
		},
	}
	return w.sendICMPv6(src, dstIP, dstMAC, layers.ICMPv6TypeNeighborAdvertisement, 0, na)
}

func (w *WifiIO) sendICMPv6(src, dst netip.Addr, dstMAC net.HardwareAddr, icmpType uint8, icmpCode uint8, payload gopacket.SerializableLayer) error {
	eth := &layers.Ethernet{
		SrcMAC:       w.mac,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(dst.AsSlice()),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(icmpType, icmpCode)}
	_ = icmp.SetNetworkLayerForChecksum(ip6)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp, payload); err != nil {
		return fmt.Errorf("wifi: serialize: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.cap.WritePacketData(buf.Bytes())
}

// InjectPacket writes an already-built IPv6 packet back onto the Wi-Fi
// link as-is (used when forwarding a co-processor-originated packet). If
// dstMAC is nil, the destination is resolved from the packet's own IPv6
// header: a learned unicast MAC if one of ours has seen that address
// before, otherwise its solicited-node multicast MAC.
func (w *WifiIO) InjectPacket(pkt ContikiPacket, dstMAC net.HardwareAddr) error {
	if dstMAC == nil {
		dstMAC = w.resolveDst(pkt)
	}
	eth := &layers.Ethernet{SrcMAC: w.mac, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(pkt.Bytes())); err != nil {
		return fmt.Errorf("wifi: serialize inject: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.cap.WritePacketData(buf.Bytes())
}

// WaitUntilReady blocks briefly to allow the capture handle's BPF filter to
// settle before the first read; best-effort, mirrors the small startup
// pause the original bridge used while waiting for its listeners.
func WaitUntilReady(d time.Duration) { time.Sleep(d) }
