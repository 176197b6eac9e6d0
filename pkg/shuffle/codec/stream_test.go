package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	RegisterTypes[string, int]()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	records := []struct {
		key string
		val int
	}{
		{"a", 3}, {"b", 5}, {"c", 1},
	}

	for _, rec := range records {
		if _, err := w.Write(rec.key, rec.val); err != nil {
			t.Fatalf("write %v: %v", rec, err)
		}
	}

	r := NewReader(&buf)
	for _, want := range records {
		key, val, ok, err := r.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			t.Fatalf("expected a record, got clean EOF")
		}
		if key != want.key || val != want.val {
			t.Fatalf("got (%v, %v), want (%v, %v)", key, val, want.key, want.val)
		}
	}

	_, _, ok, err := r.Next()
	if err != nil {
		t.Fatalf("expected clean EOF, got error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false at end of stream")
	}
}

func TestReaderTruncatedBody(t *testing.T) {
	RegisterTypes[string, int]()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if _, err := w.Write("a", 1); err != nil {
		t.Fatalf("write: %v", err)
	}

	full := buf.Bytes()
	truncated := full[:len(full)-2]

	r := NewReader(bytes.NewReader(truncated))
	_, _, _, err := r.Next()
	if err == nil {
		t.Fatalf("expected an error reading a truncated record body")
	}
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderTruncatedLengthPrefix(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x00}))
	_, _, _, err := r.Next()
	if err == nil {
		t.Fatalf("expected an error reading a truncated length prefix")
	}
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestWriterLenTracksBytesWritten(t *testing.T) {
	RegisterTypes[string, int]()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if w.Len() != 0 {
		t.Fatalf("expected Len()==0 before any write")
	}

	n, err := w.Write("a", 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("Write returned %d, buffer holds %d bytes", n, buf.Len())
	}
	if w.Len() != n {
		t.Fatalf("Len()==%d after write, want %d", w.Len(), n)
	}
}
