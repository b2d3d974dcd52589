package chunked

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strand-protocol/wireprobe/pkg/probe"
)

// serve starts a loopback server that reads the request head, hands it to
// requests, and then plays back the given writes with a short pause between
// each so that the client sees them as separate reads.
func serve(t *testing.T, writes ...string) (addr string, requests <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	reqs := make(chan string, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				br := bufio.NewReader(c)
				var head strings.Builder
				for {
					line, err := br.ReadString('\n')
					head.WriteString(line)
					if err != nil || line == "\r\n" {
						break
					}
				}
				reqs <- head.String()
				for _, w := range writes {
					if _, err := c.Write([]byte(w)); err != nil {
						return
					}
					time.Sleep(5 * time.Millisecond)
				}
			}()
		}
	}()
	return ln.Addr().String(), reqs
}

type chunkRecorder struct {
	mu     sync.Mutex
	head   *Head
	chunks []Chunk
	index  []int
	body   []byte
}

func (r *chunkRecorder) OnHead(h Head) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = &h
}

func (r *chunkRecorder) OnChunk(i int, c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	r.index = append(r.index, i)
}

func (r *chunkRecorder) OnBody(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = append(r.body, p...)
}

const chunkedHead = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n"

func TestFetchChunked(t *testing.T) {
	addr, reqs := serve(t,
		chunkedHead+"1c\r\nChunk 1: starting stream...\n\r\n",
		"1d\r\nChunk 2: Processing data....\n\r",
		"\n18\r\nChunk 3: Almost done...\n\r\n13",
		"\r\nChunk 4: Complete!\n\r\n0\r\n\r\n",
	)
	rec := &chunkRecorder{}

	rep, err := New(WithObserver(rec)).Fetch(context.Background(), addr, "/stream")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	req := <-reqs
	if !strings.HasPrefix(req, "GET /stream HTTP/1.1\r\n") {
		t.Errorf("request line = %q", req)
	}
	if !strings.Contains(req, "Host: "+addr+"\r\n") || !strings.Contains(req, "Connection: close\r\n") {
		t.Errorf("request headers = %q", req)
	}

	want := []string{
		"Chunk 1: starting stream...\n",
		"Chunk 2: Processing data....\n",
		"Chunk 3: Almost done...\n",
		"Chunk 4: Complete!\n",
	}
	if rep.ChunkCount != len(want) || len(rec.chunks) != len(want) {
		t.Fatalf("chunks = %d (observer %d), want %d", rep.ChunkCount, len(rec.chunks), len(want))
	}
	var total int64
	for i, w := range want {
		if string(rep.Chunks[i].Data) != w {
			t.Errorf("chunk[%d] = %q, want %q", i, rep.Chunks[i].Data, w)
		}
		if rec.index[i] != i+1 {
			t.Errorf("observer index[%d] = %d, want %d", i, rec.index[i], i+1)
		}
		total += int64(len(w))
	}
	if rep.TotalBytes != total {
		t.Errorf("TotalBytes = %d, want %d", rep.TotalBytes, total)
	}
	if !rep.Chunked || rep.Outcome != probe.OutcomeCompleted {
		t.Errorf("chunked/outcome = %v/%v", rep.Chunked, rep.Outcome)
	}
	if rep.Head.StatusLine != "HTTP/1.1 200 OK" || rec.head == nil {
		t.Errorf("head = %+v", rep.Head)
	}
}

func TestFetchTerminatorOnly(t *testing.T) {
	addr, _ := serve(t, chunkedHead, "0\r\n\r\n")
	rep, err := New().Fetch(context.Background(), addr, "/empty")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rep.ChunkCount != 0 || rep.TotalBytes != 0 {
		t.Errorf("ChunkCount/TotalBytes = %d/%d, want 0/0", rep.ChunkCount, rep.TotalBytes)
	}
	if rep.Outcome != probe.OutcomeCompleted {
		t.Errorf("outcome = %v", rep.Outcome)
	}
}

func TestFetchPlainBody(t *testing.T) {
	addr, _ := serve(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nhello",
		" world",
	)
	rec := &chunkRecorder{}
	rep, err := New(WithObserver(rec)).Fetch(context.Background(), addr, "/")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rep.Chunked {
		t.Error("plain response reported as chunked")
	}
	if string(rep.Body) != "hello world" || string(rec.body) != "hello world" {
		t.Errorf("body = %q (observer %q)", rep.Body, rec.body)
	}
	if rep.TotalBytes != 11 || rep.Outcome != probe.OutcomeCompleted {
		t.Errorf("TotalBytes/outcome = %d/%v", rep.TotalBytes, rep.Outcome)
	}
}

func TestFetchHeadersTruncated(t *testing.T) {
	addr, _ := serve(t, "HTTP/1.1 200 OK\r\nTransfer-Enc")
	rep, err := New().Fetch(context.Background(), addr, "/")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rep.Outcome != probe.OutcomePeerClosed {
		t.Errorf("outcome = %v, want peer-closed", rep.Outcome)
	}
	if rep.Head.Complete || rep.Head.StatusLine != "HTTP/1.1 200 OK" {
		t.Errorf("head = %+v", rep.Head)
	}
}

func TestFetchMalformedChunk(t *testing.T) {
	addr, _ := serve(t, chunkedHead+"5\r\nHello\r\nzz\r\nmore\r\n0\r\n\r\n")
	rep, err := New().Fetch(context.Background(), addr, "/")
	if !errors.Is(err, probe.ErrMalformedChunk) {
		t.Fatalf("err = %v, want ErrMalformedChunk", err)
	}
	if probe.ExitCode(err) != probe.ExitMalformed {
		t.Errorf("ExitCode = %d, want %d", probe.ExitCode(err), probe.ExitMalformed)
	}
	if rep.ChunkCount != 1 || rep.Outcome != probe.OutcomeMalformed {
		t.Errorf("ChunkCount/outcome = %d/%v, want 1/malformed-input", rep.ChunkCount, rep.Outcome)
	}
}

func TestFetchTruncatedChunk(t *testing.T) {
	addr, _ := serve(t, chunkedHead+"a\r\n01234")
	rep, err := New().Fetch(context.Background(), addr, "/")
	if !errors.Is(err, probe.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if rep.Outcome != probe.OutcomeMalformed {
		t.Errorf("outcome = %v", rep.Outcome)
	}
}

func TestFetchConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	rep, err := New().Fetch(context.Background(), addr, "/")
	if !errors.Is(err, probe.ErrConnect) {
		t.Fatalf("err = %v, want ErrConnect", err)
	}
	if rep.Outcome != probe.OutcomeConnectFailed {
		t.Errorf("outcome = %v", rep.Outcome)
	}
}

func TestFetchRejectsBadPath(t *testing.T) {
	for _, p := range []string{"", "/a b", "/x\r\nEvil: 1"} {
		if _, err := New().Fetch(context.Background(), "127.0.0.1:1", p); !errors.Is(err, probe.ErrInvalidOption) {
			t.Errorf("Fetch(%q) err = %v, want ErrInvalidOption", p, err)
		}
	}
}

func TestRequest(t *testing.T) {
	got := Request("127.0.0.1:42069", "/httpbin/stream/3")
	want := "GET /httpbin/stream/3 HTTP/1.1\r\nHost: 127.0.0.1:42069\r\nConnection: close\r\n\r\n"
	if got != want {
		t.Errorf("Request = %q, want %q", got, want)
	}
}
