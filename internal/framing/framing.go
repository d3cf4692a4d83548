// Package framing splits a byte stream into protocol frames and encodes
// outgoing frames.
//
// Two modes are supported: newline-delimited JSON (the default for stdio MCP
// peers) and Content-Length headers as used by LSP-style peers.
package framing

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wagiedev/mcp-client-go/internal/errors"
)

// Mode selects how frames are delimited on the wire.
type Mode int

const (
	// ModeNewline writes one JSON value per line.
	ModeNewline Mode = iota
	// ModeContentLength prefixes each frame with a Content-Length header.
	ModeContentLength
)

func (m Mode) String() string {
	switch m {
	case ModeContentLength:
		return "content-length"
	default:
		return "newline"
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newline", "ndjson", "lines":
		return ModeNewline, nil
	case "content-length", "lsp":
		return ModeContentLength, nil
	default:
		return ModeNewline, fmt.Errorf("unknown framing mode %q", s)
	}
}

// DefaultMaxFrameSize bounds a single incoming frame.
const DefaultMaxFrameSize = 10 * 1024 * 1024 // 10MB

// Reader yields complete frames one at a time.
// It returns io.EOF once the stream ends cleanly between frames.
type Reader interface {
	ReadFrame() ([]byte, error)
}

// NewReader returns a Reader for the given mode.
// A maxSize of zero or less selects DefaultMaxFrameSize.
func NewReader(mode Mode, r io.Reader, maxSize int) Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	if mode == ModeContentLength {
		return NewContentLengthReader(r, maxSize)
	}

	return NewLineReader(r, maxSize)
}

// Encode appends the framing for mode around data.
// The returned slice never aliases data.
func Encode(mode Mode, data []byte) []byte {
	if mode == ModeContentLength {
		header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
		out := make([]byte, 0, len(header)+len(data))
		out = append(out, header...)

		return append(out, data...)
	}

	data = bytes.TrimRight(data, "\r\n")
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'

	return out
}

// LineReader reads newline-delimited frames, skipping blank lines.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader returns a LineReader with a buffer capped at maxSize.
func NewLineReader(r io.Reader, maxSize int) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxSize)), maxSize)

	return &LineReader{scanner: scanner}
}

// ReadFrame implements Reader. The returned slice is owned by the caller.
func (l *LineReader) ReadFrame() ([]byte, error) {
	for l.scanner.Scan() {
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		return bytes.Clone(line), nil
	}

	if err := l.scanner.Err(); err != nil {
		if stderrors.Is(err, bufio.ErrTooLong) {
			return nil, errors.ErrFrameTooLarge
		}

		return nil, err
	}

	return nil, io.EOF
}

// ContentLengthReader reads "Content-Length: N\r\n\r\n<body>" frames.
// Other headers are accepted and ignored.
type ContentLengthReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewContentLengthReader returns a ContentLengthReader limited to maxSize bodies.
func NewContentLengthReader(r io.Reader, maxSize int) *ContentLengthReader {
	return &ContentLengthReader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame implements Reader.
func (c *ContentLengthReader) ReadFrame() ([]byte, error) {
	length := -1
	sawHeader := false

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if stderrors.Is(err, io.EOF) && !sawHeader && line == "" {
				return nil, io.EOF
			}

			if stderrors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}

			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawHeader {
				// Stray blank line between frames.
				continue
			}

			break
		}

		sawHeader = true

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}

		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", value)
			}

			length = n
		}
	}

	if length < 0 {
		return nil, stderrors.New("frame is missing Content-Length header")
	}

	if length > c.maxSize {
		return nil, errors.ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return body, nil
}
