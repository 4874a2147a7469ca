package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Shell is the interactive command surface described in §6: a line-oriented
// REPL for inspecting bridge state without restarting it.
type Shell struct {
	in     *bufio.Scanner
	out    io.Writer
	table  *NodeTable
	store  *Store
	buffer *PacketBuffer
	pend   *PendingSolicitations
	serial *SerialIO
}

// NewShell constructs a Shell reading commands from in and writing output
// to out.
func NewShell(in io.Reader, out io.Writer, table *NodeTable, store *Store, buffer *PacketBuffer, pend *PendingSolicitations, serial *SerialIO) *Shell {
	return &Shell{
		in:     bufio.NewScanner(in),
		out:    out,
		table:  table,
		store:  store,
		buffer: buffer,
		pend:   pend,
		serial: serial,
	}
}

// Run reads and dispatches one command per line until ctx is done or the
// input is exhausted.
func (sh *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		for sh.in.Scan() {
			lines <- sh.in.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return io.EOF
			}
			sh.dispatch(strings.TrimSpace(line))
		}
	}
}

func (sh *Shell) dispatch(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "node":
		sh.renderNodes()
	case "metric":
		sh.serial.PrintMetrics()
	case "flow":
		sh.serial.PrintFlows()
	case "stats":
		sh.serial.PrintStats()
	case "data":
		fmt.Fprint(sh.out, sh.store.PrintData())
	case "pending":
		sh.renderPending()
	case "buffer":
		fmt.Fprint(sh.out, sh.buffer.PrintBufferStats())
	default:
		fmt.Fprintf(sh.out, "unknown command: %s\n", fields[0])
	}
}

func (sh *Shell) renderNodes() {
	rows := sh.table.Snapshot()
	if len(rows) == 0 {
		fmt.Fprintln(sh.out, "node table empty")
		return
	}
	tw := tablewriter.NewWriter(sh.out)
	tw.SetHeader([]string{"address", "tech", "last seen"})
	for _, n := range rows {
		tw.Append([]string{n.IP.String(), string(n.Tech), n.LastSeen.Format("15:04:05")})
	}
	tw.Render()
}

func (sh *Shell) renderPending() {
	rows := sh.pend.Snapshot()
	if len(rows) == 0 {
		fmt.Fprintln(sh.out, "no pending solicitations")
		return
	}
	tw := tablewriter.NewWriter(sh.out)
	tw.SetHeader([]string{"target"})
	for _, target := range rows {
		tw.Append([]string{target.String()})
	}
	tw.Render()
}
