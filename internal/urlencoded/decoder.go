package urlencoded

import (
	"bytes"

	"github.com/heishamon/webserver/internal/hexconv"
)

// Decode writes the decoded src into dst and returns the number of bytes written. dst
// must be at least len(src) long and may be src itself, as decoding never grows the data.
// When form is set, '+' is decoded as a space. A '%' not followed by two hex digits is
// copied literally, including one at the very end of src. Callers which might receive
// the rest of a sequence later must hold it back, see Pending.
func Decode(dst, src []byte, form bool) (n int) {
	if !form && bytes.IndexByte(src, '%') == -1 {
		return copy(dst, src)
	}

	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '+':
			if form {
				c = ' '
			}

			dst[n] = c
		case '%':
			if len(src)-i < 3 {
				dst[n] = c
				break
			}

			if a, b := src[i+1], src[i+2]; hexconv.Valid(a, b) {
				dst[n] = hexconv.Pair(a, b)
				i += 2
			} else {
				dst[n] = c
			}
		default:
			dst[n] = c
		}

		n++
	}

	return n
}

// DecodeInPlace decodes b into itself and returns the decoded prefix.
func DecodeInPlace(b []byte, form bool) []byte {
	return b[:Decode(b, b, form)]
}

// Pending reports the position of a '%' within the last two bytes of b, whose sequence
// cannot be decoded until more data arrives. It returns -1 if there is no such byte.
func Pending(b []byte) int {
	for i := max(len(b)-2, 0); i < len(b); i++ {
		if b[i] == '%' {
			return i
		}
	}

	return -1
}
