package classfile

import "unicode/utf8"

// Class files store strings in modified UTF-8: NUL is the two-byte form
// C0 80 and supplementary characters are a surrogate pair, each half a
// three-byte sequence. decodeMUTF8 and encodeMUTF8 convert to and from Go
// strings losslessly; an unpaired surrogate stays as its three raw bytes.

func decodeMUTF8(b []byte) string {
	plain := true
	for _, c := range b {
		if c == 0xC0 || c == 0xED {
			plain = false
			break
		}
	}
	if plain {
		return string(b)
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0xC0 && i+1 < len(b) && b[i+1] == 0x80:
			out = append(out, 0)
			i += 2
		case c == 0xED && i+5 < len(b) && isHighSurrogate(b[i:]) && b[i+3] == 0xED && isLowSurrogate(b[i+3:]):
			hi := surrogate(b[i:])
			lo := surrogate(b[i+3:])
			r := 0x10000 + (hi-0xD800)<<10 + (lo - 0xDC00)
			out = utf8.AppendRune(out, r)
			i += 6
		default:
			out = append(out, c)
			i++
		}
	}
	return string(out)
}

func isHighSurrogate(b []byte) bool { return b[1]&0xF0 == 0xA0 }
func isLowSurrogate(b []byte) bool  { return b[1]&0xF0 == 0xB0 }

func surrogate(b []byte) rune {
	return rune(b[0]&0x0F)<<12 | rune(b[1]&0x3F)<<6 | rune(b[2]&0x3F)
}

func encodeMUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == 0:
			out = append(out, 0xC0, 0x80)
			i++
		case c >= 0xF0:
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				out = append(out, c)
				i++
				continue
			}
			r -= 0x10000
			out = appendSurrogate(out, 0xD800+(r>>10))
			out = appendSurrogate(out, 0xDC00+(r&0x3FF))
			i += size
		default:
			out = append(out, c)
			i++
		}
	}
	return out
}

func appendSurrogate(out []byte, r rune) []byte {
	return append(out, 0xE0|byte(r>>12), 0x80|byte(r>>6)&0x3F, 0x80|byte(r)&0x3F)
}
