package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strand-protocol/wireprobe/pkg/chunked"
	"github.com/strand-protocol/wireprobe/pkg/probe"
	"github.com/strand-protocol/wireprobe/pkg/slowsend"
)

func sendReport() *slowsend.Report {
	return &slowsend.Report{
		Session:      "2Bx9Yq",
		Target:       "127.0.0.1:42069",
		PayloadBytes: 5,
		TotalSent:    5,
		Writes:       3,
		Progress:     []int{2, 4, 5},
		HalfClosed:   true,
		PollAttempts: 1,
		Outcome:      probe.OutcomeResponded,
		Response:     []byte("HTTP/1.1 200 OK\r\n\r\n"),
		Elapsed:      1234567 * time.Microsecond,
	}
}

func TestTableFormatStruct(t *testing.T) {
	out := NewFormatter("table").Format(SendView(sendReport()))
	for _, want := range []string{"session:", "2Bx9Yq", "total sent:", "outcome:", "responded", "elapsed:", "1.235s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	rep := sendReport()
	rep.PollAttempts = 0
	rep.Response = nil
	out = NewFormatter("table").Format(SendView(rep))
	if strings.Contains(out, "poll attempts") || strings.Contains(out, "response") {
		t.Errorf("empty omitempty fields printed:\n%s", out)
	}
}

func TestTableFormatSlice(t *testing.T) {
	rows := ChunkRows([]chunked.Chunk{
		{SizeHex: "1c", Size: 28, Data: []byte("Chunk 1: starting stream...\n")},
		{SizeHex: "5", Size: 5, Data: []byte("hello")},
	})
	out := NewFormatter("table").Format(rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "INDEX") || !strings.Contains(lines[0], "SIZE HEX") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Chunk 1: starting stream...") || strings.Contains(lines[1], "\\n") {
		t.Errorf("row = %q", lines[1])
	}

	if out := NewFormatter("table").Format([]ChunkRow{}); out != "Nothing to show.\n" {
		t.Errorf("empty = %q", out)
	}
}

func TestJSONAndYAML(t *testing.T) {
	view := FetchView(&chunked.Report{
		Session:    "s1",
		Target:     "127.0.0.1:42069",
		Path:       "/httpbin/stream/3",
		Head:       chunked.Head{StatusLine: "HTTP/1.1 200 OK", Complete: true},
		Chunked:    true,
		ChunkCount: 3,
		TotalBytes: 90,
		Outcome:    probe.OutcomeCompleted,
	})

	var fromJSON FetchSummary
	if err := json.Unmarshal([]byte(NewFormatter("json").Format(view)), &fromJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	if fromJSON != view {
		t.Errorf("json = %+v, want %+v", fromJSON, view)
	}

	var fromYAML FetchSummary
	if err := yaml.Unmarshal([]byte(NewFormatter("YAML").Format(view)), &fromYAML); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if fromYAML.Status != "HTTP/1.1 200 OK" || fromYAML.ChunkCount != 3 {
		t.Errorf("yaml = %+v", fromYAML)
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", "table", "JSON", "yaml"} {
		if !ValidFormat(f) {
			t.Errorf("ValidFormat(%q) = false", f)
		}
	}
	if ValidFormat("xml") {
		t.Error("ValidFormat(xml) = true")
	}
}

func TestChunkRowPreview(t *testing.T) {
	long := strings.Repeat("x", 100)
	rows := ChunkRows([]chunked.Chunk{{Size: 100, SizeHex: "64", Data: []byte(long)}})
	if got := rows[0].Data; got != strings.Repeat("x", previewLen)+"..." {
		t.Errorf("preview = %q", got)
	}
	if rows[0].Index != 1 {
		t.Errorf("index = %d, want 1", rows[0].Index)
	}
}

func TestTracerSend(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(&buf)
	tr.OnWrite([]byte("AB"), 2)
	tr.OnWrite([]byte("C\r\n"), 5)
	tr.OnHalfClose(5)
	tr.OnWait(1, 50)
	tr.SendDone(sendReport())

	out := buf.String()
	for _, want := range []string{
		`Sent: "AB" (2)`,
		`Sent: "C\r\n" (5)`,
		"Total: 5 bytes",
		"Shutdown write side",
		"Waiting... (1/50)",
		"Response (19 bytes):",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	tr.SendDone(&slowsend.Report{Outcome: probe.OutcomeTimedOut})
	if !strings.Contains(buf.String(), "Timeout - no response received") {
		t.Errorf("timeout trace = %q", buf.String())
	}

	buf.Reset()
	tr.SendDone(&slowsend.Report{Outcome: probe.OutcomeEarlyClosed, TotalSent: 20})
	if !strings.Contains(buf.String(), "Closing connection early after 20 bytes") {
		t.Errorf("early-close trace = %q", buf.String())
	}
}

func TestTracerFetch(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(&buf)
	head := chunked.Head{
		StatusLine: "HTTP/1.1 200 OK",
		Header:     map[string][]string{"Transfer-Encoding": {"chunked"}},
		Raw:        "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked",
		Complete:   true,
	}
	tr.OnHead(head)
	tr.OnChunk(1, chunked.Chunk{SizeHex: "1c", Size: 28, Data: []byte("Chunk 1: starting stream...\n")})
	tr.FetchDone(&chunked.Report{
		Head:       head,
		Chunked:    true,
		ChunkCount: 1,
		TotalBytes: 28,
		Outcome:    probe.OutcomeCompleted,
	})

	out := buf.String()
	for _, want := range []string{
		"Response headers:",
		strings.Repeat("-", 40),
		"Chunk 1: size=28 (0x1c)",
		"  Data: Chunk 1: starting stream...",
		"Received final chunk (size=0)",
		"Total received: 28 bytes in 1 chunks",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
}

func TestTracerPlainBody(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(&buf)
	head := chunked.Head{StatusLine: "HTTP/1.1 200 OK", Raw: "HTTP/1.1 200 OK", Complete: true}
	tr.OnHead(head)
	tr.OnBody([]byte("hello"))
	tr.OnBody([]byte(" world"))
	tr.FetchDone(&chunked.Report{Head: head, TotalBytes: 11, Outcome: probe.OutcomeCompleted})

	out := buf.String()
	if !strings.Contains(out, "not chunked") || !strings.Contains(out, "Body: hello world\n") {
		t.Errorf("trace = %q", out)
	}
	if !strings.Contains(out, "Total received: 11 bytes") || strings.Contains(out, "chunks") {
		t.Errorf("totals = %q", out)
	}
}
