package cmd

import (
	"strings"
	"testing"
)

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`GET / HTTP/1.1\r\n\r\n`, "GET / HTTP/1.1\r\n\r\n"},
		{`a\tb`, "a\tb"},
		{`back\\slash`, `back\slash`},
		{`keep\x`, `keep\x`},
		{`trailing\`, `trailing\`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := unescape(tt.in); got != tt.want {
			t.Errorf("unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExamplePost(t *testing.T) {
	req := examplePost("127.0.0.1:42069")
	head, body, ok := strings.Cut(req, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header terminator in %q", req)
	}
	if !strings.HasPrefix(head, "POST /api/data HTTP/1.1\r\nHost: 127.0.0.1:42069\r\n") {
		t.Errorf("head = %q", head)
	}
	if body != `{"name":"test","value":123}` {
		t.Errorf("body = %q", body)
	}
	if !strings.Contains(head, "Content-Length: 27") {
		t.Errorf("Content-Length does not match body length: %q", head)
	}
}
