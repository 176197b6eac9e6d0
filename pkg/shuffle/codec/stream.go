// Package codec implements the block stream's wire framing: a
// length-delimited sequence of (key, combiner) records, applied
// symmetrically by the writer and the fetcher: a 4-byte big-endian
// length prefix followed by an encoding/gob-encoded record. End-of-stream
// is signalled by EOF at the length-prefix boundary; EOF (or a short
// read) anywhere inside a record is a truncated stream, not a normal
// terminator.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// RegisterTypes registers K and C's concrete zero values with
// encoding/gob so they can ride inside a record's interface{} fields.
// Idempotent; call once per (K, C) instantiation before writing or
// reading any stream of that shape.
func RegisterTypes[K, C any]() {
	var k K
	var c C
	gob.Register(k)
	gob.Register(c)
}

// ErrTruncated is returned by Reader.Next when the stream ends in the
// middle of a record. Callers must treat this the same as a connection
// failure: retryable, never a clean terminator.
var ErrTruncated = errors.New("codec: truncated record stream")

// record is the on-the-wire shape of one (key, combiner) pair. Key and
// Value are boxed as interface{} so a single framing works for every
// instantiation of the generic writer/fetcher API; callers register their
// concrete K/C types with gob once at startup (gob.Register).
type record struct {
	Key   interface{}
	Value interface{}
}

// Writer appends length-delimited records to an underlying file and
// tracks the number of bytes written so callers can apply their own
// block-size policy after each write completes.
type Writer struct {
	w       io.Writer
	written int64
}

// NewWriter wraps w for record-at-a-time writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one record and returns the stream's total byte length so
// far, so the caller can compare against a configured threshold.
func (rw *Writer) Write(key, value interface{}) (int64, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record{Key: key, Value: value}); err != nil {
		return rw.written, fmt.Errorf("codec: encode record: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	n1, err := rw.w.Write(lenPrefix[:])
	rw.written += int64(n1)
	if err != nil {
		return rw.written, fmt.Errorf("codec: write length prefix: %w", err)
	}

	n2, err := rw.w.Write(buf.Bytes())
	rw.written += int64(n2)
	if err != nil {
		return rw.written, fmt.Errorf("codec: write record body: %w", err)
	}

	return rw.written, nil
}

// Len reports the number of bytes written so far.
func (rw *Writer) Len() int64 {
	return rw.written
}

// Reader decodes length-delimited records from an underlying stream.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for record-at-a-time reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next record. It returns ok=false, err=nil on a clean
// end-of-stream at a record boundary, the normal terminator. Any other
// failure, including EOF in the middle of a record, is reported via err
// (wrapping ErrTruncated where the cause is a short read).
func (rr *Reader) Next() (key, value interface{}, ok bool, err error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(rr.r, lenPrefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("%w: reading length prefix: %v", ErrTruncated, err)
	}

	size := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(rr.r, body); err != nil {
		return nil, nil, false, fmt.Errorf("%w: reading record body: %v", ErrTruncated, err)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
		return nil, nil, false, fmt.Errorf("codec: decode record: %w", err)
	}

	return rec.Key, rec.Value, true, nil
}
