// Package shortvec implements the compact-u16 length encoding used
// throughout the solana wire format.
package shortvec

import (
	"fmt"
	"io"
	"math"
)

// EncodeLen encodes the specified len into the writer.
//
// If len > math.MaxUint16, an error is returned.
func EncodeLen(w io.Writer, len int) (n int, err error) {
	if len > math.MaxUint16 {
		return 0, fmt.Errorf("len exceeds %d", math.MaxUint16)
	}

	valBuf := make([]byte, 1)

	for {
		valBuf[0] = byte(len & 0x7f)
		len >>= 7
		if len == 0 {
			written, err := w.Write(valBuf)
			return n + written, err
		}

		valBuf[0] |= 0x80
		written, err := w.Write(valBuf)
		n += written
		if err != nil {
			return n, err
		}
	}
}

// EncodedLen returns the number of bytes EncodeLen will produce for the
// specified len without performing the encoding.
func EncodedLen(len int) int {
	if len <= 0x7f {
		return 1
	}
	if len <= 0x3fff {
		return 2
	}
	return 3
}

// DecodeLen decodes a shortvec encoded len from the reader.
func DecodeLen(r io.Reader) (val int, err error) {
	var offset int
	valBuf := make([]byte, 1)

	for {
		if _, err := r.Read(valBuf); err != nil {
			return 0, err
		}

		val |= int(valBuf[0]&0x7f) << (offset * 7)
		offset++

		if valBuf[0]&0x80 == 0 {
			break
		}
	}

	if offset > 3 {
		return 0, fmt.Errorf("invalid size: %d (max 3)", offset)
	}

	return val, nil
}
