package bridge

import (
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPacketBuffer_InsertPublishesAndAssignsMonotonicQIDs(t *testing.T) {
	buf := NewPacketBuffer(discardLogger(), nil)

	var seen []uint32
	buf.Subscribe(KindPacketBuff, ListenerFunc(func(e Event) {
		seen = append(seen, e.Payload.(PacketBuffEvent).QID)
	}))

	q1 := buf.Insert(NewContikiPacket([]byte{1}))
	q2 := buf.Insert(NewContikiPacket([]byte{2}))

	if q2 <= q1 {
		t.Fatalf("qids not monotonic: q1=%d q2=%d", q1, q2)
	}
	if len(seen) != 2 || seen[0] != q1 || seen[1] != q2 {
		t.Fatalf("published qids = %v, want [%d %d]", seen, q1, q2)
	}
}

func TestPacketBuffer_ResolveAtMostOnce(t *testing.T) {
	buf := NewPacketBuffer(discardLogger(), nil)
	qid := buf.Insert(NewContikiPacket([]byte{0xAA}))

	pkt, ok := buf.Resolve(qid)
	if !ok {
		t.Fatal("expected first Resolve to find the entry")
	}
	if pkt.Hex() != "aa" {
		t.Fatalf("resolved packet = %q, want aa", pkt.Hex())
	}

	if _, ok := buf.Resolve(qid); ok {
		t.Fatal("second Resolve of the same qid should be a no-op")
	}
}

func TestPacketBuffer_ResolveUnknownQIDIsNoop(t *testing.T) {
	buf := NewPacketBuffer(discardLogger(), nil)
	if _, ok := buf.Resolve(999); ok {
		t.Fatal("Resolve of an unknown qid should report false")
	}
}

func TestPacketBuffer_SweepDropsExpiredEntries(t *testing.T) {
	clock := time.Now()
	buf := NewPacketBuffer(discardLogger(), func() time.Time { return clock })

	old := buf.Insert(NewContikiPacket([]byte{1}))
	clock = clock.Add(DecisionTTL + time.Second)
	fresh := buf.Insert(NewContikiPacket([]byte{2}))

	dropped := buf.Sweep(DecisionTTL)
	if dropped != 1 {
		t.Fatalf("Sweep dropped %d, want 1", dropped)
	}
	if _, ok := buf.Resolve(old); ok {
		t.Fatal("expired entry should have been swept")
	}
	if _, ok := buf.Resolve(fresh); !ok {
		t.Fatal("fresh entry should survive sweep")
	}
}
