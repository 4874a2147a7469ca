package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/ndp"
)

// RAPeriod is how often the IP auto-configurator re-advertises the mote
// prefix while acting as a router.
const RAPeriod = 10 * time.Second

// ndpReadTimeout bounds each blocking read on the NDP socket so ctx
// cancellation (including a mode switch tearing down the active goroutine)
// is honored promptly, matching the teacher's own read-deadline loop.
const ndpReadTimeout = 800 * time.Millisecond

// IPConfigurator assigns the bridge's own Wi-Fi-side global IPv6 address.
// In ROUTER mode it derives a static address from the configured
// border-router prefix and periodically advertises that prefix; in NODE
// mode it listens for a Router Advertisement and derives an EUI-64 address
// from its own MAC, mirroring the two branches of the original bridge's
// boot sequence (§12: NODE-mode loading gate, ROUTER-mode SLAAC source).
type IPConfigurator struct {
	conn  *ndp.Conn
	ifi   *net.Interface
	store *Store
	log   *slog.Logger
	wake  chan struct{}
}

// NewIPConfigurator constructs an auto-configurator bound to an already
// dialed NDP connection on the Wi-Fi interface.
func NewIPConfigurator(conn *ndp.Conn, ifi *net.Interface, store *Store, log *slog.Logger) *IPConfigurator {
	if log == nil {
		log = slog.Default()
	}
	return &IPConfigurator{
		conn:  conn,
		ifi:   ifi,
		store: store,
		log:   log.With("component", "ipconfig"),
		wake:  make(chan struct{}, 1),
	}
}

// Notify implements Listener: every mode change wakes Run so it tears down
// whichever of runRouter/runNode is active and restarts with the Store's
// current mode, idempotent if the mode did not actually change (§13).
func (c *IPConfigurator) Notify(e Event) {
	if e.Kind != KindChangeMode {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run drives the auto-configurator until ctx is done: in ROUTER mode it
// advertises the mote prefix at RAPeriod and on every Router Solicitation;
// in NODE mode it listens for a Router Advertisement, derives an EUI-64
// address from the interface MAC, and stores it once found. A ChangeModeEvent
// delivered via Notify cancels whichever of those is running and restarts it
// against the new mode.
func (c *IPConfigurator) Run(ctx context.Context) error {
	for {
		mode := c.store.Mode()
		roundCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			if mode == ModeRouter {
				done <- c.runRouter(roundCtx)
			} else {
				done <- c.runNode(roundCtx)
			}
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-c.wake:
			cancel()
			<-done
			c.log.Debug("re-evaluating wifi address for mode", "mode", c.store.Mode())
		case err := <-done:
			cancel()
			if mode == ModeNode && err == nil {
				// the NODE-mode address is learned once; stay configured
				// under it until a later ChangeModeEvent asks otherwise.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-c.wake:
					c.log.Debug("re-evaluating wifi address for mode", "mode", c.store.Mode())
				}
				continue
			}
			return err
		}
	}
}

func (c *IPConfigurator) runRouter(ctx context.Context) error {
	cfg := c.store.Config()
	prefix := cfg.BorderRouterIPv6
	if !prefix.IsValid() {
		return fmt.Errorf("ipconfig: router mode requires border-router.ipv6")
	}
	c.store.SetWifiGlobal(prefix)

	if err := c.conn.JoinGroup(netip.MustParseAddr("ff02::2")); err != nil {
		return fmt.Errorf("ipconfig: join all-routers group: %w", err)
	}

	ra := &ndp.RouterAdvertisement{
		CurrentHopLimit:           64,
		RouterSelectionPreference: ndp.Medium,
		RouterLifetime:            30 * time.Second,
		Options: []ndp.Option{
			&ndp.PrefixInformation{
				PrefixLength:                   64,
				AutonomousAddressConfiguration: true,
				ValidLifetime:                  60 * time.Second,
				PreferredLifetime:              30 * time.Second,
				Prefix:                         prefix,
			},
			&ndp.LinkLayerAddress{Direction: ndp.Source, Addr: c.ifi.HardwareAddr},
		},
	}

	rs := make(chan struct{}, 1)
	go c.watchForSolicitations(ctx, rs)

	for {
		if err := c.conn.WriteTo(ra, nil, netip.IPv6LinkLocalAllNodes()); err != nil {
			return fmt.Errorf("ipconfig: send RA: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RAPeriod):
		case <-rs:
		}
	}
}

func (c *IPConfigurator) watchForSolicitations(ctx context.Context, rs chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ndpReadTimeout))
		msg, _, _, err := c.conn.ReadFrom()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if _, ok := msg.(*ndp.RouterSolicitation); ok {
			select {
			case rs <- struct{}{}:
			default:
			}
		}
	}
}

func (c *IPConfigurator) runNode(ctx context.Context) error {
	if err := c.conn.JoinGroup(netip.MustParseAddr("ff02::1")); err != nil {
		return fmt.Errorf("ipconfig: join all-nodes group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ndpReadTimeout))
		msg, _, _, err := c.conn.ReadFrom()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		ra, ok := msg.(*ndp.RouterAdvertisement)
		if !ok {
			continue
		}
		prefix := raPrefix(ra)
		if !prefix.IsValid() {
			continue
		}
		addr, err := eui64Address(prefix, c.ifi.HardwareAddr)
		if err != nil {
			c.log.Warn("failed to derive EUI-64 address from RA", "err", err)
			continue
		}
		c.store.SetWifiGlobal(addr)
		c.log.Info("wifi global address assigned via RA", "addr", addr)
		return nil
	}
}

func raPrefix(ra *ndp.RouterAdvertisement) netip.Addr {
	for _, opt := range ra.Options {
		if pi, ok := opt.(*ndp.PrefixInformation); ok && pi.AutonomousAddressConfiguration {
			return pi.Prefix
		}
	}
	return netip.Addr{}
}

// eui64Address builds a modified-EUI-64 interface identifier from mac and
// combines it with prefix's top 64 bits, per RFC 4291 appendix A.
func eui64Address(prefix netip.Addr, mac net.HardwareAddr) (netip.Addr, error) {
	if len(mac) != 6 {
		return netip.Addr{}, fmt.Errorf("ipconfig: mac %s is not 6 bytes", mac)
	}
	p := prefix.As16()
	var out [16]byte
	copy(out[:8], p[:8])
	out[8] = mac[0] ^ 0x02
	out[9] = mac[1]
	out[10] = mac[2]
	out[11] = 0xff
	out[12] = 0xfe
	out[13] = mac[3]
	out[14] = mac[4]
	out[15] = mac[5]
	return netip.AddrFrom16(out), nil
}

// OpenNDPConn dials an NDP connection on ifi's link-local scope.
func OpenNDPConn(ifi *net.Interface) (*ndp.Conn, netip.Addr, error) {
	conn, addr, err := ndp.Listen(ifi, ndp.LinkLocal)
	if err != nil {
		return nil, netip.Addr{}, fmt.Errorf("ipconfig: listen on %s: %w", ifi.Name, err)
	}
	return conn, addr, nil
}
