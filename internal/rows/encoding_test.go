package rows

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestUTF8Validator(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{name: "valid ASCII", input: []byte("sku,name\nA1,Widget\n")},
		{name: "valid multibyte", input: []byte("sku,name\nA1,Größe 日本\n")},
		{name: "empty input", input: []byte{}},
		{name: "invalid continuation byte", input: []byte{'a', 0x80, 'b'}, wantErr: true},
		{name: "latin-1 e acute", input: []byte("caf\xe9\n"), wantErr: true},
		{name: "truncated sequence at EOF", input: []byte{'a', 0xE6, 0x97}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewUTF8Validator(bytes.NewReader(tt.input)))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEncoding) {
					t.Fatalf("err = %v, want ErrInvalidEncoding", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.input) {
				t.Errorf("got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestUTF8Validator_SplitRunes(t *testing.T) {
	input := strings.Repeat("日本語,€,ß\n", 50)

	// OneByteReader splits every multibyte rune across reads.
	got, err := io.ReadAll(NewUTF8Validator(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("output differs from input")
	}
}

func TestUTF8Validator_ReportsBadByteOffset(t *testing.T) {
	input := "sku,name\nA1,ok\nA2,caf\xe9\n"

	tests := []struct {
		name   string
		reader io.Reader
	}{
		{"single read", strings.NewReader(input)},
		{"byte at a time", iotest.OneByteReader(strings.NewReader(input))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := io.ReadAll(NewUTF8Validator(tt.reader))
			if !errors.Is(err, ErrInvalidEncoding) {
				t.Fatalf("err = %v, want ErrInvalidEncoding", err)
			}
			if !strings.Contains(err.Error(), "near byte 21") {
				t.Errorf("err = %q, want offset 21", err)
			}
		})
	}
}

func TestUTF8Validator_StickyError(t *testing.T) {
	v := NewUTF8Validator(bytes.NewReader([]byte{0xFF, 'a', 'b'}))
	buf := make([]byte, 16)

	if _, err := v.Read(buf); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("first read err = %v", err)
	}
	if _, err := v.Read(buf); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("second read err = %v", err)
	}
}

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"file with BOM", append([]byte{0xEF, 0xBB, 0xBF}, "sku,name"...), "sku,name"},
		{"file without BOM", []byte("sku,name"), "sku,name"},
		{"empty file", []byte{}, ""},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"partial BOM", []byte{0xEF, 0xBB, 'a'}, string([]byte{0xEF, 0xBB, 'a'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(skipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(input))

	if _, err := io.Copy(io.Discard, reader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", reader.BytesRead, len(input))
	}
}
