// Package bridge implements the border bridge between a serial-attached
// RPL/6LoWPAN co-processor and a Wi-Fi IPv6 link.
package bridge

import "sync"

// Kind tags the payload carried by an Event. Components declare which
// kinds they produce; subscribers register against a (producer, kind) pair.
type Kind string

const (
	KindContikiBoot             Kind = "contiki-boot"
	KindSerialPacketToSend      Kind = "slip-packet-to-send"
	KindMoteGlobalAddress       Kind = "mote-global-address"
	KindRequestRouteToMote      Kind = "request-route-to-mote"
	KindResponseToPacketRequest Kind = "response-to-packet-request"
	KindHelloBridgeRequest      Kind = "hello-bridge-request"
	KindNewNode                 Kind = "new-node"
	KindNodeRefresh             Kind = "node-refresh"
	KindNeighbourSolicitation   Kind = "neighbour-solicitation"
	KindNeighbourAdvertisement  Kind = "neighbour-advertisement"
	KindRootPacketForward       Kind = "root-packet-forward"
	KindPacketSendToSerial      Kind = "packet-send-to-serial"
	KindPacketForwardToSerial   Kind = "packet-forward-to-serial"
	KindPacketBuff              Kind = "packet-buff"
	KindChangeMode              Kind = "change-mode"
)

// Event is an immutable, tagged value dispatched synchronously to subscribers.
type Event struct {
	Kind    Kind
	Payload any
}

// Listener receives events a producer dispatches. Implementations must not
// block: any I/O performed inside Notify extends the producer's own
// latency, and must not call back into the producer that invoked it.
type Listener interface {
	Notify(e Event)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(e Event)

// Notify implements Listener.
func (f ListenerFunc) Notify(e Event) { f(e) }

// Bus is a single producer's publish/subscribe table. Each component that
// emits events owns one Bus. Subscribers register against a Kind; dispatch
// is synchronous and in registration order. Duplicate subscription is
// permitted but discouraged.
type Bus struct {
	mu        sync.Mutex
	supported map[Kind]bool
	listeners map[Kind][]Listener
}

// NewBus creates a Bus that only accepts the given supported kinds.
func NewBus(kinds ...Kind) *Bus {
	supported := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		supported[k] = true
	}
	return &Bus{
		supported: supported,
		listeners: make(map[Kind][]Listener),
	}
}

// Subscribe registers l against kind. Panics if kind was not declared
// supported at construction — a programmer error, not a runtime one.
func (b *Bus) Subscribe(kind Kind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.supported[kind] {
		panic("bridge: bus does not support event kind " + string(kind))
	}
	b.listeners[kind] = append(b.listeners[kind], l)
}

// Publish dispatches e to every listener registered for e.Kind, in
// registration order, on the calling goroutine.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	ls := append([]Listener(nil), b.listeners[e.Kind]...)
	b.mu.Unlock()

	for _, l := range ls {
		l.Notify(e)
	}
}
