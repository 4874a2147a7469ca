package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialPort is the subset of go.bug.st/serial's Port this package depends
// on; the raw UART driver itself (open an 8N1 115200 baud port) is an
// external collaborator per the spec, satisfied here by go.bug.st/serial.
type SerialPort interface {
	io.ReadWriteCloser
}

// OpenSerialPort opens device at 115200 8N1, matching the co-processor wire
// format (§6).
func OpenSerialPort(device string) (SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", device, err)
	}
	return port, nil
}

// SerialIO frames the serial line into tagged messages, emits events for
// them, and encodes outgoing commands. Reads happen on one task; writes may
// be called from any task and are serialized by writeMu.
type SerialIO struct {
	port SerialPort

	bus   *Bus
	store *Store
	table *NodeTable
	log   *slog.Logger

	writeMu sync.Mutex

	readingPrint bool
}

// NewSerialIO constructs a SerialIO over an already-open port.
func NewSerialIO(port SerialPort, store *Store, table *NodeTable, log *slog.Logger) *SerialIO {
	if log == nil {
		log = slog.Default()
	}
	return &SerialIO{
		port: port,
		bus: NewBus(
			KindContikiBoot, KindSerialPacketToSend, KindMoteGlobalAddress,
			KindRequestRouteToMote, KindResponseToPacketRequest, KindHelloBridgeRequest,
		),
		store: store,
		table: table,
		log:   log.With("component", "serial"),
	}
}

// Subscribe registers l for events SerialIO produces.
func (s *SerialIO) Subscribe(kind Kind, l Listener) { s.bus.Subscribe(kind, l) }

// ResponseToPacketRequestEvent is the payload of KindResponseToPacketRequest.
type ResponseToPacketRequestEvent struct {
	QID     uint32
	Forward bool
}

// Run reads lines from the serial port until ctx is done, the input ends
// (io.EOF), or a read fails. It is the serial reader task (T1). Read errors
// are not classified: any read error ends Run, transient or not.
func (s *SerialIO) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.port)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("serial: read: %w", err)
				}
				return io.EOF
			}
			s.parse(line)
		}
	}
}

// parse dispatches a single line by its two-byte tag (§4.2). Malformed
// lines are logged at debug level and discarded; unknown tags are logged
// and ignored.
func (s *SerialIO) parse(line string) {
	switch {
	case strings.HasPrefix(line, "<-"):
		s.readingPrint = true
	case strings.HasPrefix(line, "->"):
		s.readingPrint = false
	case s.readingPrint:
		s.log.Debug("contiki print", "line", line)
	case strings.HasPrefix(line, "!t"):
		s.parseTimestamp(line)
	case strings.HasPrefix(line, "?w"):
		s.bus.Publish(Event{Kind: KindHelloBridgeRequest})
	case strings.HasPrefix(line, "!r"):
		s.parseAddresses(line)
	case strings.HasPrefix(line, "?p"):
		s.parseRouteQuestion(line)
	case strings.HasPrefix(line, "$p"):
		s.parseRouteAnswer(line)
	case strings.HasPrefix(line, "!p"):
		s.parsePacket(line)
	case strings.HasPrefix(line, "!b"):
		s.bus.Publish(Event{Kind: KindContikiBoot})
	case strings.HasPrefix(line, "!c"):
		s.parseMode(line)
	case strings.HasPrefix(line, "!n"):
		s.parseNeighbours(line)
	default:
		s.log.Debug("unknown serial tag", "line", line)
	}
}

var timestampLabels = map[string]string{
	"!t1": "sent rpl",
	"!t2": "sent wifi",
	"!t3": "R forwarded rpl",
	"!t4": "R forwarded wifi",
	"!t5": "W forwarded rpl",
	"!t6": "W forwarded wifi",
	"!t7": "received over wifi",
	"!t8": "received over rpl",
}

func (s *SerialIO) parseTimestamp(line string) {
	if len(line) < 3 {
		return
	}
	label, ok := timestampLabels[line[:3]]
	if !ok {
		return
	}
	s.log.Debug("instrumentation timestamp", "event", label, "ms", time.Now().UnixMilli())
}

func (s *SerialIO) parseAddresses(line string) {
	body := strings.TrimPrefix(line, "!r")
	for _, field := range strings.Split(body, ";") {
		if field == "" {
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			s.log.Debug("malformed address in !r line", "field", field, "err", err)
			continue
		}
		if addr.IsGlobalUnicast() {
			s.store.SetMoteGlobal(addr)
			s.bus.Publish(Event{Kind: KindMoteGlobalAddress, Payload: addr})
		} else if addr.IsLinkLocalUnicast() {
			s.store.SetMoteLinkLocal(addr)
		}
	}
}

func (s *SerialIO) parseRouteQuestion(line string) {
	body := strings.TrimPrefix(line, "?p;")
	parts := strings.SplitN(body, ";", 2)
	if len(parts) != 2 {
		s.log.Debug("malformed ?p line", "line", line)
		return
	}
	qid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		s.log.Debug("malformed qid in ?p line", "line", line, "err", err)
		return
	}
	addr, err := netip.ParseAddr(parts[1])
	if err != nil {
		s.log.Debug("malformed ip in ?p line", "line", line, "err", err)
		return
	}
	s.bus.Publish(Event{Kind: KindRequestRouteToMote, Payload: RequestRouteToMote{QID: uint32(qid), IP: addr}})
}

func (s *SerialIO) parseRouteAnswer(line string) {
	body := strings.TrimPrefix(line, "$p;")
	parts := strings.SplitN(body, ";", 2)
	if len(parts) != 2 {
		s.log.Debug("malformed $p line", "line", line)
		return
	}
	qid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		s.log.Debug("malformed qid in $p line", "line", line, "err", err)
		return
	}
	s.bus.Publish(Event{Kind: KindResponseToPacketRequest, Payload: ResponseToPacketRequestEvent{
		QID:     uint32(qid),
		Forward: parts[1] == "1",
	}})
}

func (s *SerialIO) parsePacket(line string) {
	body := strings.TrimPrefix(line, "!p;")
	pkt, err := DecodeContikiPacket(body)
	if err != nil {
		s.log.Debug("malformed !p line", "line", line, "err", err)
		return
	}
	s.bus.Publish(Event{Kind: KindSerialPacketToSend, Payload: pkt})
}

func (s *SerialIO) parseMode(line string) {
	body := strings.TrimPrefix(line, "!c")
	n, err := strconv.Atoi(body)
	if err != nil {
		s.log.Debug("malformed !c line", "line", line, "err", err)
		return
	}
	mode := ModeNode
	if n != 0 {
		mode = ModeRouter
	}
	s.store.SetMode(mode)
}

func (s *SerialIO) parseNeighbours(line string) {
	body := strings.TrimPrefix(line, "!n")
	for _, field := range strings.Split(body, ";") {
		if field == "" {
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			s.log.Debug("neighbour ip address is not valid", "field", field, "err", err)
			continue
		}
		s.table.Upsert(addr, TechRPL)
	}
}

// --- outbound commands ---

func (s *SerialIO) write(cmd string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write([]byte(cmd)); err != nil {
		s.log.Warn("serial write failed", "err", err)
	}
}

// SendMetricsConfig sends the configured RPL metric weights.
func (s *SerialIO) SendMetricsConfig() {
	m := s.store.Config().Metrics
	s.write(fmt.Sprintf("!we%db%dx%d\n", m.EN, m.BW, m.ETX))
}

// RequestConfig asks the co-processor for its current configuration.
func (s *SerialIO) RequestConfig() { s.write("?c\n") }

// RequestNeighbours asks the co-processor for its current RPL neighbour set.
func (s *SerialIO) RequestNeighbours() { s.write("?n\n") }

// SendRouteResponse answers a previously asked route question.
func (s *SerialIO) SendRouteResponse(qid uint32, forward bool) {
	v := 0
	if forward {
		v = 1
	}
	s.write(fmt.Sprintf("$p;%d;%d\n", qid, v))
}

// AskRouteDecision asks the co-processor whether pkt may be routed over
// Wi-Fi, identified by qid.
func (s *SerialIO) AskRouteDecision(qid uint32, pkt ContikiPacket) {
	s.write(fmt.Sprintf("?p;%d;%s\n", qid, pkt.Hex()))
}

// InjectPacket injects pkt into the RPL side (not a routed forward).
func (s *SerialIO) InjectPacket(pkt ContikiPacket) {
	s.write(fmt.Sprintf("!p;%s\n", pkt.Hex()))
}

// ForwardPacket forwards pkt to the RPL side as a routed packet.
func (s *SerialIO) ForwardPacket(pkt ContikiPacket) {
	s.write(fmt.Sprintf("!f;%s\n", pkt.Hex()))
}

// PrintFlows asks the co-processor to print its flow table.
func (s *SerialIO) PrintFlows() { s.write("#f") }

// PrintMetrics asks the co-processor to print its metrics table.
func (s *SerialIO) PrintMetrics() { s.write("#m") }

// PrintStats asks the co-processor to print its statistics.
func (s *SerialIO) PrintStats() { s.write("#s") }

func (s *SerialIO) sendHelloResponse() { s.write("$w\n") }

// Notify implements Listener: SerialIO reacts to its own boot/hello events
// and to packets handed to it by WifiIO and PacketBuffer.
func (s *SerialIO) Notify(e Event) {
	switch e.Kind {
	case KindContikiBoot:
		s.SendMetricsConfig()
	case KindHelloBridgeRequest:
		s.sendHelloResponse()
	case KindPacketSendToSerial:
		s.InjectPacket(e.Payload.(ContikiPacket))
	case KindPacketForwardToSerial:
		s.ForwardPacket(e.Payload.(ContikiPacket))
	case KindPacketBuff:
		ev := e.Payload.(PacketBuffEvent)
		s.AskRouteDecision(ev.QID, ev.Packet)
	}
}
