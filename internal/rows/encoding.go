package rows

// encoding.go holds the streaming readers placed in front of the CSV reader:
//
//   - UTF8Validator: fails the stream on the first invalid UTF-8 sequence
//   - skipBOM: drops a leading UTF-8 byte order mark
//   - CountingReader: tracks bytes consumed for job logs
//
// All of them work in O(buffer) memory so a large upload is never held whole.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrInvalidEncoding reports input that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("input is not valid UTF-8")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// UTF8Validator passes bytes through unchanged until it sees an invalid
// sequence, after which every Read returns ErrInvalidEncoding.
//
// A multi-byte rune split across two underlying reads is held back until the
// rest of it arrives.
type UTF8Validator struct {
	reader io.Reader
	buf    []byte
	ready  []byte
	tail   [utf8.UTFMax]byte
	ntail  int
	offset int64
	err    error
}

// NewUTF8Validator wraps r.
func NewUTF8Validator(r io.Reader) *UTF8Validator {
	return &UTF8Validator{reader: r}
}

// Read implements io.Reader.
func (v *UTF8Validator) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(v.ready) == 0 {
		if v.err != nil {
			return 0, v.err
		}
		v.fill()
	}
	n := copy(p, v.ready)
	v.ready = v.ready[n:]
	return n, nil
}

// fill reads the next chunk and validates everything but an incomplete
// trailing rune. It is only called once ready has been drained.
func (v *UTF8Validator) fill() {
	if v.buf == nil {
		v.buf = make([]byte, 32*1024)
	}

	start := copy(v.buf, v.tail[:v.ntail])
	v.ntail = 0

	n, err := v.reader.Read(v.buf[start:])
	data := v.buf[:start+n]

	keep := len(data)
	if err != io.EOF {
		keep -= incompleteTrailingBytes(data)
	}

	if !isASCII(data[:keep]) && !utf8.Valid(data[:keep]) {
		v.err = fmt.Errorf("%w (near byte %d)", ErrInvalidEncoding, v.offset+int64(firstInvalid(data[:keep])))
		return
	}

	v.ntail = copy(v.tail[:], data[keep:])
	v.ready = data[:keep]
	v.offset += int64(keep)
	if err != nil {
		v.err = err
	}
}

// firstInvalid returns the index of the first byte in data that does not
// start a valid UTF-8 sequence.
func firstInvalid(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(data)
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// incompleteTrailingBytes returns how many bytes at the end of data begin a
// multi-byte sequence that has not been completed yet.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the encoded length announced by a leading byte.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// skipBOM returns a buffered reader positioned after a leading UTF-8 BOM,
// if there is one.
func skipBOM(r io.Reader) *bufio.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// CountingReader tracks bytes read through it.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.BytesRead += int64(n)
	return n, err
}
