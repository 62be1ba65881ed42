package classfile

import (
	"encoding/binary"
	"fmt"
)

// reader is a bounds-checked big-endian cursor. The first failure sticks;
// later reads return zero values and err reports the original failure.
type reader struct {
	data []byte
	pos  int
	err  error
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("unexpected end of class file reading %s at offset %d", what, r.pos)
		return false
	}
	return true
}

func (r *reader) u1(what string) uint8 {
	if !r.need(1, what) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u2(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u4(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u8(what string) uint64 {
	if !r.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes(n int, what string) []byte {
	if !r.need(n, what) {
		return nil
	}
	v := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return v
}

// writer accumulates a big-endian byte stream.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)             { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16)            { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32)            { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u8(v uint64)            { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) raw(b []byte)           { w.buf = append(w.buf, b...) }
func (w *writer) len() int               { return len(w.buf) }
func (w *writer) bytes() []byte          { return w.buf }
func (w *writer) putU2(at int, v uint16) { binary.BigEndian.PutUint16(w.buf[at:], v) }
func (w *writer) putU4(at int, v uint32) { binary.BigEndian.PutUint32(w.buf[at:], v) }
