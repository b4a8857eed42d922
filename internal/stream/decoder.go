package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

const readChunkSize = 4096

// Decoder turns arbitrarily fragmented input into newline-delimited records. Fragments may split a
// record anywhere, including in the middle of a multi-byte character, since splitting happens on the
// '\n' byte only.
//
// A Decoder belongs to exactly one stream; create a new one for every stream.
type Decoder struct {
	carry []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the carry-over buffer and returns every complete record, in arrival order.
// The trailing incomplete record, if any, is kept for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	d.carry = append(d.carry, chunk...)

	var records []string
	for {
		idx := bytes.IndexByte(d.carry, '\n')
		if idx == -1 {
			break
		}
		records = append(records, string(d.carry[:idx]))
		d.carry = d.carry[idx+1:]
	}

	// Compact so the backing array does not grow without bound on long streams.
	if len(d.carry) == 0 {
		d.carry = nil
	} else if len(records) > 0 {
		d.carry = append([]byte(nil), d.carry...)
	}

	return records
}

// Pending returns the incomplete record currently held in the carry-over buffer.
func (d *Decoder) Pending() string {
	return string(d.carry)
}

// Records reads r until EOF and yields every complete record. A record left unterminated when the
// stream ends is dropped. A read error other than io.EOF is yielded once and ends the sequence.
func Records(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dec := NewDecoder()
		buf := make([]byte, readChunkSize)

		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, rec := range dec.Feed(buf[:n]) {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("error reading stream: %w", err))
				return
			}
		}
	}
}
