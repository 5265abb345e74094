package hexconv

// Halfbyte maps an ASCII hex digit to its value. Any other character maps to 0xff, so
// a|b > 0x0f reports an invalid pair without branching on each digit separately.
var Halfbyte = [256]byte{}

func init() {
	for i := range Halfbyte {
		Halfbyte[i] = 0xff
	}

	for c := byte('0'); c <= '9'; c++ {
		Halfbyte[c] = c - '0'
	}

	for c := byte('a'); c <= 'f'; c++ {
		Halfbyte[c] = c - 'a' + 10
		Halfbyte[c-'a'+'A'] = c - 'a' + 10
	}
}

// Valid reports whether both characters are hex digits.
func Valid(a, b byte) bool {
	return Halfbyte[a]|Halfbyte[b] <= 0x0f
}

// Pair decodes two hex digits into a byte. The result is undefined unless Valid(a, b).
func Pair(a, b byte) byte {
	return Halfbyte[a]<<4 | Halfbyte[b]
}
