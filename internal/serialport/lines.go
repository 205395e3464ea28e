package serialport

import (
	"io"
	"strings"
)

const maxPending = 4096

// LineReader frames a serial byte stream into lines terminated by CR, LF or
// CRLF. It is not safe for concurrent use.
type LineReader struct {
	r       io.Reader
	buf     []byte
	pending string
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, buf: make([]byte, 256)}
}

// ReadLine performs at most one read on the underlying port and returns the
// next line, decoded permissively. ok is false when the read timed out with
// nothing buffered. Bytes left without a terminator when a read comes back
// empty are returned as a line, matching devices that do not send one.
func (lr *LineReader) ReadLine() (line string, ok bool, err error) {
	raw, ok, err := lr.ReadRaw()
	if !ok || err != nil {
		return "", ok, err
	}
	return Decode(raw), true, nil
}

// ReadRaw is ReadLine without decoding: the frame comes back exactly as the
// device sent it, minus the terminator.
func (lr *LineReader) ReadRaw() (frame string, ok bool, err error) {
	if frame, rest, found := popSerialFrame(lr.pending); found {
		lr.pending = rest
		return frame, true, nil
	}

	n, err := lr.r.Read(lr.buf)
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		if lr.pending == "" {
			return "", false, nil
		}
		frame := lr.pending
		lr.pending = ""
		return frame, true, nil
	}

	lr.pending = appendRaw(lr.pending, string(lr.buf[:n]), maxPending)
	if frame, rest, found := popSerialFrame(lr.pending); found {
		lr.pending = rest
		return frame, true, nil
	}
	return "", false, nil
}

// Decode drops invalid UTF-8 sequences and surrounding whitespace.
func Decode(raw string) string {
	return strings.TrimSpace(strings.ToValidUTF8(raw, ""))
}

func popSerialFrame(buf string) (frame, rest string, ok bool) {
	idx := strings.IndexAny(buf, "\r\n")
	if idx < 0 {
		return "", buf, false
	}

	frame = buf[:idx]
	j := idx
	for j < len(buf) {
		if buf[j] != '\r' && buf[j] != '\n' {
			break
		}
		j++
	}
	rest = buf[j:]
	return frame, rest, true
}

func appendRaw(cur, chunk string, limit int) string {
	cur += chunk
	if len(cur) > limit {
		cur = cur[len(cur)-limit:]
	}
	return cur
}
