package bridge

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DecisionTTL is how long a pending forward decision is kept before it is
// dropped by the sweeper.
const DecisionTTL = 5 * time.Second

// decisionEntry is a packet awaiting a forward/drop answer from the
// co-processor, keyed by question-id.
type decisionEntry struct {
	qid      uint32
	packet   ContikiPacket
	inserted time.Time
}

// PacketBuffer holds inbound Wi-Fi packets pending a route decision from the
// co-processor. Each inserted qid fires at most one of {forward, drop};
// late or unknown answers are no-ops.
type PacketBuffer struct {
	mu      sync.Mutex
	bus     *Bus
	now     func() time.Time
	nextQID uint32
	entries map[uint32]*decisionEntry
	log     *slog.Logger
}

// NewPacketBuffer creates an empty decision buffer.
func NewPacketBuffer(log *slog.Logger, now func() time.Time) *PacketBuffer {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &PacketBuffer{
		bus:     NewBus(KindPacketBuff),
		now:     now,
		entries: make(map[uint32]*decisionEntry),
		log:     log.With("component", "packet_buffer"),
	}
}

// Subscribe registers l for KindPacketBuff events.
func (b *PacketBuffer) Subscribe(kind Kind, l Listener) { b.bus.Subscribe(kind, l) }

// PacketBuffEvent is the payload of a KindPacketBuff event: a question is
// ready to be asked of the co-processor.
type PacketBuffEvent struct {
	QID    uint32
	Packet ContikiPacket
}

// Insert assigns a fresh, monotonically increasing qid to pkt, stores it,
// and publishes KindPacketBuff so SerialIO can ask the co-processor.
func (b *PacketBuffer) Insert(pkt ContikiPacket) uint32 {
	qid := atomic.AddUint32(&b.nextQID, 1)

	b.mu.Lock()
	b.entries[qid] = &decisionEntry{qid: qid, packet: pkt, inserted: b.now()}
	b.mu.Unlock()

	b.bus.Publish(Event{Kind: KindPacketBuff, Payload: PacketBuffEvent{QID: qid, Packet: pkt}})
	return qid
}

// Resolve answers a previously inserted qid. It returns the packet and true
// if qid was pending; otherwise the answer is a late/unknown reply and is
// ignored. Either way the entry, if present, is removed.
func (b *PacketBuffer) Resolve(qid uint32) (ContikiPacket, bool) {
	b.mu.Lock()
	entry, ok := b.entries[qid]
	if ok {
		delete(b.entries, qid)
	}
	b.mu.Unlock()

	if !ok {
		b.log.Info("unknown qid in response, ignoring", "qid", qid)
		return ContikiPacket{}, false
	}
	return entry.packet, true
}

// Sweep drops entries older than ttl (the purge timer passes DecisionTTL)
// and returns how many were dropped.
func (b *PacketBuffer) Sweep(ttl time.Duration) int {
	cutoff := b.now().Add(-ttl)

	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for qid, e := range b.entries {
		if e.inserted.Before(cutoff) {
			delete(b.entries, qid)
			dropped++
		}
	}
	return dropped
}

// PrintBufferStats renders occupancy, matching the "buffer" shell command.
func (b *PacketBuffer) PrintBufferStats() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return "packet buffer empty"
	}
	qids := make([]uint32, 0, len(b.entries))
	for qid := range b.entries {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })

	out := fmt.Sprintf("packet buffer: %d pending\n", len(b.entries))
	for _, qid := range qids {
		e := b.entries[qid]
		out += fmt.Sprintf("  qid=%-10d bytes=%-5d age=%s\n", qid, e.packet.Len(), b.now().Sub(e.inserted).Round(time.Millisecond))
	}
	return out
}
