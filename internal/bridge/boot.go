package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

// LoadingTimeout bounds the startup wait for a Wi-Fi global address before
// giving up (the original's `while not wifi_global_address: sleep(1)` loop
// had no bound; a production bridge needs one, per §12).
const LoadingTimeout = 60 * time.Second

// BootConfig gathers everything Boot needs to construct the bridge.
type BootConfig struct {
	Config       Config
	Log          *slog.Logger
	SerialPort   SerialPort
	WifiCapture  WifiCapture
	WifiMAC      net.HardwareAddr
	WifiIfi      *net.Interface
	Dashboard    bool
	ShellIn      *os.File
	ShellOut     *os.File
}

// Boot constructs every component in dependency order, wires the bus
// subscriptions, and runs the bridge's concurrent tasks. It mirrors
// boot.py's Boot class: _load_services, _boot_event_subscribers, and run.
type Boot struct {
	cfg BootConfig

	store    *Store
	table    *NodeTable
	pending  *PendingSolicitations
	buffer   *PacketBuffer
	serial   *SerialIO
	wifi     *WifiIO
	nd       *NDBridge
	monitor  *PassiveMonitor
	ipconfig *IPConfigurator
	shell    *Shell
}

// NewBoot constructs every component and wires their bus subscriptions
// (the Go analogue of _load_services + _boot_event_subscribers).
func NewBoot(cfg BootConfig) (*Boot, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	store := NewStore(cfg.Config)
	store.SetWifiL2(cfg.WifiMAC)
	table := NewNodeTable(nil, log)
	pending := NewPendingSolicitations()
	buffer := NewPacketBuffer(log, nil)
	serialIO := NewSerialIO(cfg.SerialPort, store, table, log)
	wifiIO := NewWifiIO(cfg.WifiCapture, cfg.WifiMAC, store, table, log)
	nd := NewNDBridge(table, store, pending, log)
	nd.SetSenders(wifiIO, serialIO)
	monitor := NewPassiveMonitor(MonitorWindow, nil)

	ndpConn, _, err := OpenNDPConn(cfg.WifiIfi)
	if err != nil {
		return nil, err
	}
	ipconfig := NewIPConfigurator(ndpConn, cfg.WifiIfi, store, log)

	var shellIn, shellOut = (*os.File)(cfg.ShellIn), (*os.File)(cfg.ShellOut)
	if shellIn == nil {
		shellIn = os.Stdin
	}
	if shellOut == nil {
		shellOut = os.Stdout
	}
	shell := NewShell(shellIn, shellOut, table, store, buffer, pending, serialIO)

	// --- event wiring, mirroring Boot._boot_event_subscribers ---
	serialIO.Subscribe(KindContikiBoot, serialIO)
	buffer.Subscribe(KindPacketBuff, serialIO)
	serialIO.Subscribe(KindSerialPacketToSend, ListenerFunc(func(e Event) {
		if err := wifiIO.InjectPacket(e.Payload.(ContikiPacket), nil); err != nil {
			log.Warn("failed to inject packet onto wifi", "err", err)
		}
	}))
	wifiIO.Subscribe(KindPacketSendToSerial, serialIO)
	wifiIO.Subscribe(KindPacketForwardToSerial, serialIO)
	table.Subscribe(KindNewNode, nd)
	table.Subscribe(KindNodeRefresh, nd)
	wifiIO.Subscribe(KindNeighbourSolicitation, nd)
	wifiIO.Subscribe(KindNeighbourAdvertisement, nd)
	wifiIO.Subscribe(KindNeighbourSolicitation, monitor)
	wifiIO.Subscribe(KindNeighbourAdvertisement, monitor)
	wifiIO.Subscribe(KindRootPacketForward, ListenerFunc(func(e Event) {
		buffer.Insert(e.Payload.(ContikiPacket))
	}))
	serialIO.Subscribe(KindMoteGlobalAddress, ipconfig)
	serialIO.Subscribe(KindRequestRouteToMote, nd)
	store.Subscribe(KindChangeMode, ipconfig)
	serialIO.Subscribe(KindResponseToPacketRequest, ListenerFunc(func(e Event) {
		ev := e.Payload.(ResponseToPacketRequestEvent)
		pkt, ok := buffer.Resolve(ev.QID)
		if !ok {
			return
		}
		if ev.Forward {
			wifiIO.bus.Publish(Event{Kind: KindPacketForwardToSerial, Payload: pkt})
		}
	}))
	serialIO.Subscribe(KindHelloBridgeRequest, serialIO)

	return &Boot{
		cfg: cfg, store: store, table: table, pending: pending, buffer: buffer,
		serial: serialIO, wifi: wifiIO, nd: nd, monitor: monitor, ipconfig: ipconfig, shell: shell,
	}, nil
}

// Run starts every concurrent task and blocks until ctx is done or one of
// them fails, at which point the group cancels the rest. Startup order
// mirrors boot.py.run(): serial listener first, then the NODE-mode startup
// pending solicitation, then the loading gate on a Wi-Fi global address,
// then Wi-Fi capture, timers, and the shell.
func (b *Boot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.serial.Run(ctx) })

	if b.store.Mode() == ModeNode {
		cfg := b.store.Config()
		if cfg.BorderRouterIPv6.IsValid() {
			b.nd.solicit(cfg.BorderRouterIPv6)
		}
	}

	// The IP auto-configurator runs on its own NDP socket, independent of
	// Wi-Fi frame capture, so it can start before the loading gate below —
	// mirroring load_wifi_l2_address() running ahead of the gate in the
	// original bridge.
	g.Go(func() error { return b.ipconfig.Run(ctx) })

	if err := b.awaitLoaded(ctx); err != nil {
		return err
	}

	WaitUntilReady(200 * time.Millisecond)
	g.Go(func() error { return b.wifi.Run(ctx) })
	g.Go(func() error { return RunNeighbourRequestTimer(ctx, b.serial, NeighbourRequestPeriod) })
	g.Go(func() error { return RunPurgeTimer(ctx, b.table, b.buffer, b.monitor, PurgePeriod) })

	if b.cfg.Dashboard {
		g.Go(func() error { return b.runDashboard(ctx) })
	} else {
		g.Go(func() error { return b.shell.Run(ctx) })
	}

	return g.Wait()
}

func (b *Boot) runDashboard(ctx context.Context) error {
	model := NewDashboard(b.table, b.pending, b.buffer, b.store, b.monitor, 2*time.Second)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// awaitLoaded blocks until the Wi-Fi auto-configurator has assigned a
// global address or LoadingTimeout elapses (§12's bounded loading gate).
func (b *Boot) awaitLoaded(ctx context.Context) error {
	deadline := time.Now().Add(LoadingTimeout)
	for !b.store.WifiGlobal().IsValid() {
		if time.Now().After(deadline) {
			return fmt.Errorf("boot: timed out waiting for wifi global address")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}
