// Package chunked reads HTTP/1.1 responses over a raw connection and decodes
// chunked transfer-coding (`<hex-size>\r\n<data>\r\n ... 0\r\n\r\n`) one
// chunk at a time, as the bytes arrive.
package chunked

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/strand-protocol/wireprobe/pkg/probe"
)

// DefaultReadSize is how many bytes each refill of the decoder asks for.
const DefaultReadSize = 1024

var crlf = []byte("\r\n")

// Chunk is one decoded chunk. The terminator chunk has Size 0 and no data.
type Chunk struct {
	SizeHex string `json:"size_hex" yaml:"size_hex"`
	Size    uint64 `json:"size" yaml:"size"`
	Data    []byte `json:"data" yaml:"data"`
}

// Last reports whether c is the zero-size terminator.
func (c Chunk) Last() bool { return c.Size == 0 }

// Decoder pulls chunks out of an accumulating buffer, reading more from r
// only when the buffer does not yet hold a complete size line or a complete
// chunk.
type Decoder struct {
	r       io.Reader
	buf     []byte
	scratch []byte
	eof     bool
	done    bool
}

// NewDecoder returns a Decoder that starts from the already-read bytes in
// buffered and refills from r in reads of readSize bytes.
func NewDecoder(r io.Reader, buffered []byte, readSize int) *Decoder {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &Decoder{
		r:       r,
		buf:     append([]byte(nil), buffered...),
		scratch: make([]byte, readSize),
	}
}

// Next returns the next chunk. The terminator is returned as a chunk for
// which Last is true; calls after it return io.EOF. Framing problems are
// reported as probe.ErrMalformedChunk, and a stream that ends early as
// probe.ErrTruncated.
func (d *Decoder) Next() (Chunk, error) {
	if d.done {
		return Chunk{}, io.EOF
	}

	idx := bytes.Index(d.buf, crlf)
	for idx < 0 {
		more, err := d.fill()
		if err != nil {
			return Chunk{}, err
		}
		if !more {
			return Chunk{}, fmt.Errorf("%w: closed before size line (%d bytes buffered)", probe.ErrTruncated, len(d.buf))
		}
		idx = bytes.Index(d.buf, crlf)
	}

	line := string(d.buf[:idx])
	sizeHex, size, err := parseSizeLine(line)
	if err != nil {
		return Chunk{}, err
	}
	d.buf = d.buf[idx+len(crlf):]

	if size == 0 {
		d.done = true
		return Chunk{SizeHex: sizeHex}, nil
	}
	if size > math.MaxInt-uint64(len(crlf)) {
		return Chunk{}, fmt.Errorf("%w: chunk size 0x%s does not fit in memory", probe.ErrMalformedChunk, sizeHex)
	}

	need := int(size) + len(crlf)
	for len(d.buf) < need {
		more, err := d.fill()
		if err != nil {
			return Chunk{}, err
		}
		if !more {
			return Chunk{}, fmt.Errorf("%w: chunk 0x%s has %d of %d bytes", probe.ErrTruncated, sizeHex, len(d.buf), need)
		}
	}

	c := Chunk{
		SizeHex: sizeHex,
		Size:    size,
		Data:    append([]byte(nil), d.buf[:size]...),
	}
	d.buf = d.buf[need:]
	return c, nil
}

// Buffered returns bytes read from the stream but not yet consumed.
func (d *Decoder) Buffered() []byte { return d.buf }

// fill appends one read to the buffer. It returns false once the source is
// exhausted: a zero-byte read or io.EOF both mean the peer closed.
func (d *Decoder) fill() (bool, error) {
	if d.eof {
		return false, nil
	}
	n, err := d.r.Read(d.scratch)
	d.buf = append(d.buf, d.scratch[:n]...)
	switch {
	case errors.Is(err, io.EOF), n == 0 && err == nil:
		d.eof = true
		return n > 0, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// parseSizeLine reads the hexadecimal chunk size, ignoring surrounding
// whitespace and any chunk extensions after ';'.
func parseSizeLine(line string) (string, uint64, error) {
	s := line
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("%w: empty size line", probe.ErrMalformedChunk)
	}
	size, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return s, 0, fmt.Errorf("%w: size line %q is not hexadecimal", probe.ErrMalformedChunk, line)
	}
	return s, size, nil
}

// DecodeAll decodes every chunk in r up to and excluding the terminator.
func DecodeAll(r io.Reader) ([]Chunk, error) {
	d := NewDecoder(r, nil, DefaultReadSize)
	var chunks []Chunk
	for {
		c, err := d.Next()
		if err != nil {
			return chunks, err
		}
		if c.Last() {
			return chunks, nil
		}
		chunks = append(chunks, c)
	}
}

// Encode writes each non-empty chunk as `<hex(len)>\r\n<data>\r\n` followed
// by the terminator `0\r\n\r\n`. Empty chunks are skipped since a zero size
// would end the body.
func Encode(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%x\r\n", len(c)); err != nil {
			return err
		}
		if _, err := w.Write(c); err != nil {
			return err
		}
		if _, err := w.Write(crlf); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}
