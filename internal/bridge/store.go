package bridge

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// Mode is the bridge's operating mode: whether it passively joins an
// existing IPv6 link (NODE) or actively advertises/routes for it (ROUTER).
type Mode int

const (
	ModeNode Mode = iota
	ModeRouter
)

func (m Mode) String() string {
	if m == ModeRouter {
		return "ROUTER"
	}
	return "NODE"
}

// Metrics are the RPL link-metric weights sent to the co-processor on boot
// (`!we<en>b<bw>x<etx>`).
type Metrics struct {
	EN int
	BW int
	ETX int
}

// Config is the static, file-loaded configuration (§6 of the spec).
type Config struct {
	SerialDevice     string
	WifiDevice       string
	WifiSubnet       string
	BorderRouterIPv6 netip.Addr
	Metrics          Metrics
}

// Store holds the bridge's global mutable configuration: mode, learned
// addresses, and the static Config. Mutations to Mode publish
// KindChangeMode. Lock order: Store is acquired before NodeTable, which is
// acquired before PendingSolicitations, which is acquired before
// PacketBuffer (spec §5) — Store never calls into those while holding its
// own lock, so this file only needs to honor its own position at the head
// of the chain.
type Store struct {
	mu  sync.Mutex
	bus *Bus

	cfg Config

	mode            Mode
	wifiL2          net.HardwareAddr
	wifiGlobal      netip.Addr
	moteGlobal      netip.Addr
	moteLinkLocal   netip.Addr
}

// NewStore creates a Store seeded with the loaded Config.
func NewStore(cfg Config) *Store {
	return &Store{
		bus: NewBus(KindChangeMode),
		cfg: cfg,
		mode: ModeNode,
	}
}

// Subscribe registers l for KindChangeMode events.
func (s *Store) Subscribe(kind Kind, l Listener) { s.bus.Subscribe(kind, l) }

// Config returns the static configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetMode updates the operating mode and publishes KindChangeMode,
// regardless of whether the mode actually changed (§9 open question:
// re-running the IP configurator on every `!c` line, not just transitions).
func (s *Store) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.bus.Publish(Event{Kind: KindChangeMode, Payload: m})
}

// Mode returns the current operating mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetWifiL2 records the bridge's own Wi-Fi MAC address.
func (s *Store) SetWifiL2(mac net.HardwareAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wifiL2 = mac
}

// WifiL2 returns the bridge's own Wi-Fi MAC address, if learned.
func (s *Store) WifiL2() net.HardwareAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wifiL2
}

// SetWifiGlobal records the bridge's Wi-Fi-side global IPv6 address, once
// assigned by the IP auto-configurator.
func (s *Store) SetWifiGlobal(a netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wifiGlobal = a
}

// WifiGlobal returns the Wi-Fi-side global IPv6 address, if any.
func (s *Store) WifiGlobal() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wifiGlobal
}

// SetMoteGlobal records the co-processor's global IPv6 address (from `!r`).
func (s *Store) SetMoteGlobal(a netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moteGlobal = a
}

// MoteGlobal returns the co-processor's global IPv6 address, if any.
func (s *Store) MoteGlobal() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moteGlobal
}

// SetMoteLinkLocal records the co-processor's link-local IPv6 address.
func (s *Store) SetMoteLinkLocal(a netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moteLinkLocal = a
}

// MoteLinkLocal returns the co-processor's link-local IPv6 address, if any.
func (s *Store) MoteLinkLocal() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moteLinkLocal
}

// PrintData renders a snapshot of the bridge's internal data, matching the
// original bridge's "data" shell command.
func (s *Store) PrintData() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf(
		"mode=%s\nwifi_l2=%s\nwifi_global=%s\nmote_global=%s\nmote_link_local=%s\nserial=%s\nwifi_device=%s\nsubnet=%s\nborder_router=%s\nmetrics=en:%d bw:%d etx:%d\n",
		s.mode, macOrDash(s.wifiL2), addrOrDash(s.wifiGlobal), addrOrDash(s.moteGlobal), addrOrDash(s.moteLinkLocal),
		s.cfg.SerialDevice, s.cfg.WifiDevice, s.cfg.WifiSubnet, s.cfg.BorderRouterIPv6,
		s.cfg.Metrics.EN, s.cfg.Metrics.BW, s.cfg.Metrics.ETX,
	)
}

func macOrDash(m net.HardwareAddr) string {
	if len(m) == 0 {
		return "-"
	}
	return m.String()
}

func addrOrDash(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}
