package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/strand-protocol/wireprobe/pkg/chunked"
	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/slowsend"
)

const ruleWidth = 40

// Tracer prints a line per step of a send or fetch as it happens. It
// implements both slowsend.Observer and chunked.Observer. Styles degrade to
// plain text when w is not a terminal.
type Tracer struct {
	w io.Writer

	label lipgloss.Style
	dim   lipgloss.Style
	warn  lipgloss.Style
	good  lipgloss.Style

	inBody bool
}

var (
	_ slowsend.Observer = (*Tracer)(nil)
	_ chunked.Observer  = (*Tracer)(nil)
)

// NewTracer returns a Tracer writing to w.
func NewTracer(w io.Writer) *Tracer {
	r := lipgloss.NewRenderer(w)
	return &Tracer{
		w:     w,
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("241")),
		warn:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		good:  r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

func (t *Tracer) OnWrite(p []byte, total int) {
	fmt.Fprintf(t.w, "%s %q %s\n", t.label.Render("Sent:"), p, t.dim.Render(fmt.Sprintf("(%d)", total)))
}

func (t *Tracer) OnHalfClose(total int) {
	fmt.Fprintf(t.w, "\n%s %d bytes\n", t.label.Render("Total:"), total)
	fmt.Fprintln(t.w, t.dim.Render("Shutdown write side"))
}

func (t *Tracer) OnWait(attempt, max int) {
	fmt.Fprintln(t.w, t.dim.Render(fmt.Sprintf("Waiting... (%d/%d)", attempt, max)))
}

func (t *Tracer) OnHead(h chunked.Head) {
	fmt.Fprintf(t.w, "%s\n%s\n\n", t.label.Render("Response headers:"), h.Raw)
	if !h.Complete {
		fmt.Fprintln(t.w, t.warn.Render("[!] Connection closed before the end of the headers"))
		return
	}
	fmt.Fprintln(t.w, strings.Repeat("-", ruleWidth))
	if !h.Chunked() {
		fmt.Fprintln(t.w, t.dim.Render("Response is not chunked, reading until close..."))
	}
}

func (t *Tracer) OnChunk(index int, c chunked.Chunk) {
	fmt.Fprintf(t.w, "%s size=%d (0x%x)\n", t.label.Render(fmt.Sprintf("Chunk %d:", index)), c.Size, c.Size)
	fmt.Fprintf(t.w, "  Data: %s\n", strings.ToValidUTF8(string(c.Data), "�"))
}

func (t *Tracer) OnBody(p []byte) {
	if !t.inBody {
		fmt.Fprintf(t.w, "%s ", t.label.Render("Body:"))
		t.inBody = true
	}
	fmt.Fprint(t.w, strings.ToValidUTF8(string(p), "�"))
}

// SendDone prints how a send ended.
func (t *Tracer) SendDone(rep *slowsend.Report) {
	switch rep.Outcome {
	case probe.OutcomeEarlyClosed:
		fmt.Fprintln(t.w, t.warn.Render(fmt.Sprintf("\n[!] Closing connection early after %d bytes!", rep.TotalSent)))
	case probe.OutcomeResponded:
		fmt.Fprintf(t.w, "\n%s\n%s\n",
			t.good.Render(fmt.Sprintf("Response (%d bytes):", len(rep.Response))),
			strings.ToValidUTF8(string(rep.Response), "�"))
	case probe.OutcomePeerClosed:
		fmt.Fprintln(t.w, t.warn.Render(fmt.Sprintf("Connection closed by server after %d bytes", rep.TotalSent)))
	case probe.OutcomeTimedOut:
		fmt.Fprintln(t.w, t.warn.Render("Timeout - no response received"))
	}
}

// FetchDone prints the fetch totals.
func (t *Tracer) FetchDone(rep *chunked.Report) {
	if t.inBody {
		fmt.Fprintln(t.w)
		t.inBody = false
	}
	if !rep.Head.Complete {
		return
	}
	if !rep.Chunked {
		fmt.Fprintf(t.w, "\n%s %d bytes\n", t.label.Render("Total received:"), rep.TotalBytes)
		return
	}
	if rep.Outcome == probe.OutcomeCompleted {
		fmt.Fprintln(t.w, t.dim.Render("\nReceived final chunk (size=0)"))
	}
	fmt.Fprintf(t.w, "\n%s %d bytes in %d chunks\n", t.label.Render("Total received:"), rep.TotalBytes, rep.ChunkCount)
}
