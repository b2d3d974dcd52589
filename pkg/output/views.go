package output

import (
	"strings"
	"time"

	"github.com/strand-protocol/wireprobe/pkg/chunked"
	"github.com/strand-protocol/wireprobe/pkg/slowsend"
)

// previewLen caps how much chunk data a ChunkRow carries.
const previewLen = 40

// SendSummary is the printable form of a slowsend.Report.
type SendSummary struct {
	Session      string `json:"session" yaml:"session"`
	Target       string `json:"target" yaml:"target"`
	Outcome      string `json:"outcome" yaml:"outcome"`
	PayloadBytes int    `json:"payload_bytes" yaml:"payload_bytes"`
	TotalSent    int    `json:"total_sent" yaml:"total_sent"`
	Writes       int    `json:"writes" yaml:"writes"`
	HalfClosed   bool   `json:"half_closed" yaml:"half_closed"`
	PollAttempts int    `json:"poll_attempts,omitempty" yaml:"poll_attempts,omitempty"`
	ResponseLen  int    `json:"response_bytes,omitempty" yaml:"response_bytes,omitempty"`
	Response     string `json:"response,omitempty" yaml:"response,omitempty"`
	Elapsed      string `json:"elapsed" yaml:"elapsed"`
}

// SendView flattens r for printing.
func SendView(r *slowsend.Report) SendSummary {
	return SendSummary{
		Session:      r.Session,
		Target:       r.Target,
		Outcome:      r.Outcome.String(),
		PayloadBytes: r.PayloadBytes,
		TotalSent:    r.TotalSent,
		Writes:       r.Writes,
		HalfClosed:   r.HalfClosed,
		PollAttempts: r.PollAttempts,
		ResponseLen:  len(r.Response),
		Response:     strings.ToValidUTF8(string(r.Response), "�"),
		Elapsed:      r.Elapsed.Round(time.Millisecond).String(),
	}
}

// FetchSummary is the printable form of a chunked.Report.
type FetchSummary struct {
	Session    string `json:"session" yaml:"session"`
	Target     string `json:"target" yaml:"target"`
	Path       string `json:"path" yaml:"path"`
	Status     string `json:"status" yaml:"status"`
	Outcome    string `json:"outcome" yaml:"outcome"`
	Chunked    bool   `json:"chunked" yaml:"chunked"`
	ChunkCount int    `json:"chunk_count" yaml:"chunk_count"`
	TotalBytes int64  `json:"total_bytes" yaml:"total_bytes"`
	Elapsed    string `json:"elapsed" yaml:"elapsed"`
}

// FetchView flattens r for printing. Chunk data is left out; see ChunkRows.
func FetchView(r *chunked.Report) FetchSummary {
	return FetchSummary{
		Session:    r.Session,
		Target:     r.Target,
		Path:       r.Path,
		Status:     r.Head.StatusLine,
		Outcome:    r.Outcome.String(),
		Chunked:    r.Chunked,
		ChunkCount: r.ChunkCount,
		TotalBytes: r.TotalBytes,
		Elapsed:    r.Elapsed.Round(time.Millisecond).String(),
	}
}

// ChunkRow is one line of the chunk table.
type ChunkRow struct {
	Index   int    `json:"index" yaml:"index"`
	Size    uint64 `json:"size" yaml:"size"`
	SizeHex string `json:"size_hex" yaml:"size_hex"`
	Data    string `json:"data" yaml:"data"`
}

// ChunkRows lists cs with a short, single-line preview of each chunk's data.
func ChunkRows(cs []chunked.Chunk) []ChunkRow {
	rows := make([]ChunkRow, 0, len(cs))
	for i, c := range cs {
		rows = append(rows, ChunkRow{
			Index:   i + 1,
			Size:    c.Size,
			SizeHex: c.SizeHex,
			Data:    preview(c.Data),
		})
	}
	return rows
}

func preview(p []byte) string {
	s := strings.ToValidUTF8(string(p), "�")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return s
}
