package frame

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// Reader decodes a multiplexed frame stream, one frame per line.
//
// Empty lines and lines that do not parse as frames are skipped silently,
// since chunk boundaries on the transport can legitimately produce them.
type Reader struct {
	scanner *bufio.Scanner
}

// DecodeMultiplexed returns a Reader over r.
func DecodeMultiplexed(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{scanner: scanner}
}

// Next returns the next well-formed frame. It returns io.EOF once the
// underlying reader is exhausted.
func (r *Reader) Next() (Frame, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			continue
		}

		f, ok := Decode(strings.ToValidUTF8(line, "\uFFFD"))
		if !ok {
			continue
		}

		return f, nil
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}

	return Frame{}, io.EOF
}

// TextReader decodes a simple (unframed) stream as UTF-8 text.
// Multi-byte sequences split across reads are held back until complete.
type TextReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	err     error
}

// DecodeSimple returns a TextReader over r.
func DecodeSimple(r io.Reader) *TextReader {
	return &TextReader{
		r:   r,
		buf: make([]byte, 4096),
	}
}

// Next returns the next decoded text chunk. It returns io.EOF once the
// underlying reader is exhausted.
func (t *TextReader) Next() (string, error) {
	for {
		if t.err != nil {
			if len(t.pending) > 0 {
				s := strings.ToValidUTF8(string(t.pending), "\uFFFD")
				t.pending = nil
				return s, nil
			}
			return "", t.err
		}

		n, err := t.r.Read(t.buf)
		data := append(t.pending, t.buf[:n]...)
		cut := completePrefix(data)
		t.pending = append([]byte(nil), data[cut:]...)

		if err != nil {
			if errors.Is(err, io.EOF) {
				t.err = io.EOF
			} else {
				t.err = err
			}
		}

		if cut > 0 {
			return strings.ToValidUTF8(string(data[:cut]), "\uFFFD"), nil
		}
	}
}

// completePrefix returns the length of the longest prefix of b that does not
// end in a truncated UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
