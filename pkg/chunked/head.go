package chunked

import (
	"bytes"
	"net/textproto"
	"strings"
)

var headerEnd = []byte("\r\n\r\n")

// Head is the status line and header section of a response.
type Head struct {
	StatusLine string              `json:"status_line" yaml:"status_line"`
	Header     map[string][]string `json:"header" yaml:"header"`
	Raw        string              `json:"-" yaml:"-"`
	// Complete is false when the peer closed before the blank line.
	Complete bool `json:"complete" yaml:"complete"`
}

// Chunked reports whether the Transfer-Encoding header names chunked framing.
// Field names and values are compared case-insensitively.
func (h Head) Chunked() bool {
	for _, v := range h.Header["Transfer-Encoding"] {
		for _, coding := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(coding), "chunked") {
				return true
			}
		}
	}
	return false
}

// Get returns the first value of a header field.
func (h Head) Get(key string) string {
	if v := h.Header[textproto.CanonicalMIMEHeaderKey(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// splitHead cuts buf at the first blank line. The second result is the body
// bytes already read; ok is false if no separator was found.
func splitHead(buf []byte) (head, rest []byte, ok bool) {
	i := bytes.Index(buf, headerEnd)
	if i < 0 {
		return buf, nil, false
	}
	return buf[:i], buf[i+len(headerEnd):], true
}

// parseHead splits the header text into the status line and fields. Lines
// without a colon are ignored.
func parseHead(raw []byte, complete bool) Head {
	h := Head{
		Raw:      string(raw),
		Header:   make(map[string][]string),
		Complete: complete,
	}
	lines := strings.Split(h.Raw, "\r\n")
	h.StatusLine = strings.TrimSpace(lines[0])
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		h.Header[key] = append(h.Header[key], strings.TrimSpace(value))
	}
	return h
}
