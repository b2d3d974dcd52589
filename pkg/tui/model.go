// Package tui provides the live terminal view for wireprobe fetch. It is
// built on the bubbletea/lipgloss stack and shows each chunk as it is
// decoded, with a status bar and a summary once the response ends.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/strand-protocol/wireprobe/pkg/chunked"
	"github.com/strand-protocol/wireprobe/pkg/probe"
)

// ---------------------------------------------------------------------------
// Shared styles
// ---------------------------------------------------------------------------

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(1)

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(1)

	// altRowStyle is used for even-numbered rows (zebra striping).
	altRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Background(lipgloss.Color("236")).
			PaddingRight(1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	summaryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("2")).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

// ---------------------------------------------------------------------------
// Tea messages
// ---------------------------------------------------------------------------

// tickMsg refreshes the elapsed time while the fetch runs.
type tickMsg time.Time

// headMsg carries the parsed response head.
type headMsg chunked.Head

// chunkMsg carries one decoded chunk.
type chunkMsg struct {
	index int
	chunk chunked.Chunk
}

// bodyMsg carries bytes of a response that is not chunked.
type bodyMsg []byte

// doneMsg ends the fetch.
type doneMsg struct {
	rep *chunked.Report
	err error
}

// Done returns the message that tells the model the fetch has returned.
func Done(rep *chunked.Report, err error) tea.Msg {
	return doneMsg{rep: rep, err: err}
}

// Relay forwards fetch events into a running program. It implements
// chunked.Observer.
type Relay struct {
	send func(tea.Msg)
}

// NewRelay returns a Relay that delivers to send, usually (*tea.Program).Send.
func NewRelay(send func(tea.Msg)) *Relay {
	return &Relay{send: send}
}

func (r *Relay) OnHead(h chunked.Head) { r.send(headMsg(h)) }

func (r *Relay) OnChunk(index int, c chunked.Chunk) {
	r.send(chunkMsg{index: index, chunk: c})
}

func (r *Relay) OnBody(p []byte) { r.send(bodyMsg(append([]byte(nil), p...))) }

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

const refreshInterval = 100 * time.Millisecond

// row is one decoded chunk as displayed.
type row struct {
	index   int
	size    uint64
	sizeHex string
	data    string
}

// Model is the bubbletea model for a live fetch.
type Model struct {
	target  string
	path    string
	cancel  context.CancelFunc
	started time.Time
	now     time.Time

	head    *chunked.Head
	rows    []row
	body    []byte
	total   int64
	done    bool
	outcome probe.Outcome
	err     error

	width  int
	height int
}

// New returns a Model for a fetch of path from target. cancel is called
// when the user quits before the fetch has finished.
func New(target, path string, cancel context.CancelFunc) Model {
	now := time.Now()
	return Model{
		target:  target,
		path:    path,
		cancel:  cancel,
		started: now,
		now:     now,
	}
}

// Init starts the elapsed-time ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update processes messages and returns an updated model plus any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.now = time.Time(msg)
		return m, tick()

	case headMsg:
		h := chunked.Head(msg)
		m.head = &h
		return m, nil

	case chunkMsg:
		m.rows = append(m.rows, row{
			index:   msg.index,
			size:    msg.chunk.Size,
			sizeHex: msg.chunk.SizeHex,
			data:    oneLine(msg.chunk.Data),
		})
		m.total += int64(msg.chunk.Size)
		return m, nil

	case bodyMsg:
		m.body = append(m.body, msg...)
		m.total += int64(len(msg))
		return m, nil

	case doneMsg:
		m.done = true
		m.now = time.Now()
		m.err = msg.err
		if msg.rep != nil {
			m.outcome = msg.rep.Outcome
			m.total = msg.rep.TotalBytes
		} else {
			m.outcome = probe.OutcomeOf(msg.err, probe.OutcomeFailed)
		}
		return m, nil
	}

	return m, nil
}

// Chunks returns how many chunks the model has shown.
func (m Model) Chunks() int { return len(m.rows) }

// Finished reports whether the fetch has returned.
func (m Model) Finished() bool { return m.done }

// View renders the whole screen.
func (m Model) View() string {
	if m.width == 0 {
		return "Connecting…"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("  wireprobe fetch %s%s  ", m.target, m.path)))
	sb.WriteString("\n")
	if m.head != nil {
		sb.WriteString(dimStyle.Render(m.head.StatusLine))
	} else {
		sb.WriteString(dimStyle.Render("waiting for response headers…"))
	}
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	// title(1) + status line(1) + dividers(2) + summary(1) + status bar(1)
	contentHeight := m.height - 6
	if contentHeight < 1 {
		contentHeight = 1
	}
	sb.WriteString(tail(m.renderContent(), contentHeight))
	sb.WriteString("\n")

	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderSummary())
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())

	return sb.String()
}

func (m Model) renderContent() string {
	if m.head != nil && m.head.Complete && !m.head.Chunked() {
		if len(m.body) == 0 {
			return dimStyle.Render("  (empty body)")
		}
		return strings.ToValidUTF8(string(m.body), "�")
	}
	if len(m.rows) == 0 {
		return dimStyle.Render("  No chunks yet.")
	}

	cols := []int{6, 8, 6}
	dataWidth := m.width - 2 - cols[0] - cols[1] - cols[2] - 4
	if dataWidth < 10 {
		dataWidth = 10
	}

	var sb strings.Builder
	sb.WriteString(headerCellStyle.Width(cols[0]).Render("#"))
	sb.WriteString(headerCellStyle.Width(cols[1]).Render("SIZE"))
	sb.WriteString(headerCellStyle.Width(cols[2]).Render("HEX"))
	sb.WriteString(headerCellStyle.Render("DATA"))
	for i, r := range m.rows {
		style := rowStyle
		if i%2 == 1 {
			style = altRowStyle
		}
		sb.WriteString("\n")
		sb.WriteString(style.Width(cols[0]).Render(fmt.Sprintf("%d", r.index)))
		sb.WriteString(style.Width(cols[1]).Render(fmt.Sprintf("%d", r.size)))
		sb.WriteString(style.Width(cols[2]).Render(r.sizeHex))
		sb.WriteString(style.Render(truncate(r.data, dataWidth)))
	}
	return sb.String()
}

func (m Model) renderSummary() string {
	if !m.done {
		return statusBarStyle.Render(fmt.Sprintf("receiving… %d bytes in %d chunks", m.total, len(m.rows)))
	}
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("%s: %v", m.outcome, m.err))
	}
	return summaryStyle.Render(fmt.Sprintf("%s: %d bytes in %d chunks", m.outcome, m.total, len(m.rows)))
}

func (m Model) renderStatus() string {
	parts := []string{
		fmt.Sprintf("elapsed: %s", m.now.Sub(m.started).Round(time.Millisecond)),
	}
	if m.done {
		parts = append(parts, "q: close")
	} else {
		parts = append(parts, "q: cancel")
	}
	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}

// tail keeps the last maxLines lines of s so the newest chunks stay visible.
func tail(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

func oneLine(p []byte) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(string(p), "�")), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
