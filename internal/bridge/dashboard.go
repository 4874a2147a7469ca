package bridge

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

// refreshMsg ticks the dashboard's periodic redraw, the bubbletea analogue
// of the teacher's raw ANSI RenderTable loop.
type refreshMsg time.Time

// Dashboard is the live tea.Model the teacher's main.go references as
// lib.NewModel but never defines in the retrieved snapshot; it renders the
// node table, pending solicitations, and packet buffer occupancy side by
// side with the passive NS/NA activity monitor.
type Dashboard struct {
	table    *NodeTable
	pending  *PendingSolicitations
	buffer   *PacketBuffer
	store    *Store
	monitor  *PassiveMonitor
	refresh  time.Duration

	nodes table.Model
	peers table.Model
}

// NewDashboard constructs the dashboard model, matching the signature shape
// of the teacher's missing lib.NewModel(stats, window, refresh).
func NewDashboard(nt *NodeTable, pend *PendingSolicitations, buf *PacketBuffer, store *Store, mon *PassiveMonitor, refresh time.Duration) Dashboard {
	nodes := table.New(
		table.WithColumns([]table.Column{
			{Title: "Address", Width: 40},
			{Title: "Tech", Width: 6},
			{Title: "Last Seen", Width: 10},
		}),
		table.WithFocused(false),
	)
	peers := table.New(
		table.WithColumns([]table.Column{
			{Title: "Peer", Width: 40},
			{Title: "NS", Width: 4},
			{Title: "NA", Width: 4},
			{Title: "Total", Width: 6},
		}),
		table.WithFocused(false),
	)
	return Dashboard{table: nt, pending: pend, buffer: buf, store: store, monitor: mon, refresh: refresh, nodes: nodes, peers: peers}
}

// Init implements tea.Model.
func (d Dashboard) Init() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Update implements tea.Model.
func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return d, tea.Quit
		}
	case refreshMsg:
		d.syncTables()
		return d, tea.Tick(d.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
	}
	return d, nil
}

func (d *Dashboard) syncTables() {
	nodeRows := make([]table.Row, 0)
	for _, n := range d.table.Snapshot() {
		nodeRows = append(nodeRows, table.Row{n.IP.String(), string(n.Tech), n.LastSeen.Format("15:04:05")})
	}
	d.nodes.SetRows(nodeRows)

	peerRows := make([]table.Row, 0)
	for _, p := range d.monitor.Snapshot() {
		peerRows = append(peerRows, table.Row{
			p.Address.String(),
			fmt.Sprintf("%d", p.Counts[KindNeighbourSolicitation]),
			fmt.Sprintf("%d", p.Counts[KindNeighbourAdvertisement]),
			fmt.Sprintf("%d", p.Total),
		})
	}
	d.peers.SetRows(peerRows)
}

// View implements tea.Model.
func (d Dashboard) View() string {
	out := headerStyle.Render(fmt.Sprintf("bridge mode: %s", d.store.Mode())) + "\n\n"
	out += headerStyle.Render("Node Table") + "\n" + d.nodes.View() + "\n\n"
	out += headerStyle.Render("Pending Solicitations") + "\n" + d.pending.PrintPendings() + "\n"
	out += headerStyle.Render("Packet Buffer") + "\n" + d.buffer.PrintBufferStats() + "\n"
	out += headerStyle.Render("Wi-Fi Neighbour Discovery Activity") + "\n" + d.peers.View() + "\n\n"
	out += footerStyle.Render("press q to quit")
	return out
}
