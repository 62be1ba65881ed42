package classfile

import "github.com/chazu/deobby/pkg/bytecode"

// Stack map frame types.
const (
	frameSameMax          = 63
	frameSameLocals1      = 64
	frameSameLocals1Ext   = 247
	frameChopBase         = 251 // chop k is 251-k
	frameSameExtended     = 251
	frameAppendBase       = 251 // append k is 251+k
	frameFull             = 255
	itemTop               = 0
	itemInteger           = 1
	itemFloat             = 2
	itemDouble            = 3
	itemLong              = 4
	itemNull              = 5
	itemUninitializedThis = 6
	itemObject            = 7
	itemUninitialized     = 8
)

// compact turns slot-level types into verification_type_info entries: the
// top after a long or double is implicit.
func compact(slots []vtype) []vtype {
	var out []vtype
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].isWide() {
			i++
		}
	}
	return out
}

// compactLocals is compact with trailing tops dropped.
func compactLocals(slots []vtype) []vtype {
	out := compact(slots)
	for len(out) > 0 && out[len(out)-1].kind == vTop {
		out = out[:len(out)-1]
	}
	return out
}

func sameTypes(a, b []vtype) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stackMapWriter emits the StackMapTable entries for a sequence of frames
// at increasing offsets.
type stackMapWriter struct {
	pool    *Pool
	offsets func(bytecode.Instruction) int
	w       writer
	count   int
	prevPC  int
	prev    []vtype
}

func newStackMapWriter(pool *Pool, initial *frame, offsetOf func(bytecode.Instruction) int) *stackMapWriter {
	return &stackMapWriter{pool: pool, offsets: offsetOf, prevPC: -1, prev: compactLocals(initial.locals)}
}

func (sm *stackMapWriter) add(pc int, f *frame) {
	locals := compactLocals(f.locals)
	stack := compact(f.stack)
	delta := pc - sm.prevPC - 1
	sm.prevPC = pc
	sm.count++
	w := &sm.w

	k := len(locals) - len(sm.prev)
	switch {
	case len(stack) == 0 && sameTypes(locals, sm.prev):
		if delta <= frameSameMax {
			w.u1(uint8(delta))
		} else {
			w.u1(frameSameExtended)
			w.u2(uint16(delta))
		}
	case len(stack) == 1 && sameTypes(locals, sm.prev):
		if delta <= frameSameMax {
			w.u1(uint8(frameSameLocals1 + delta))
		} else {
			w.u1(frameSameLocals1Ext)
			w.u2(uint16(delta))
		}
		sm.item(stack[0])
	case len(stack) == 0 && k >= 1 && k <= 3 && sameTypes(locals[:len(sm.prev)], sm.prev):
		w.u1(uint8(frameAppendBase + k))
		w.u2(uint16(delta))
		for _, t := range locals[len(sm.prev):] {
			sm.item(t)
		}
	case len(stack) == 0 && k <= -1 && k >= -3 && sameTypes(locals, sm.prev[:len(locals)]):
		w.u1(uint8(frameChopBase + k))
		w.u2(uint16(delta))
	default:
		w.u1(frameFull)
		w.u2(uint16(delta))
		w.u2(uint16(len(locals)))
		for _, t := range locals {
			sm.item(t)
		}
		w.u2(uint16(len(stack)))
		for _, t := range stack {
			sm.item(t)
		}
	}
	sm.prev = locals
}

func (sm *stackMapWriter) item(t vtype) {
	w := &sm.w
	switch t.kind {
	case vTop:
		w.u1(itemTop)
	case vInt:
		w.u1(itemInteger)
	case vFloat:
		w.u1(itemFloat)
	case vLong:
		w.u1(itemLong)
	case vDouble:
		w.u1(itemDouble)
	case vNull:
		w.u1(itemNull)
	case vUninitThis:
		w.u1(itemUninitializedThis)
	case vObject:
		w.u1(itemObject)
		w.u2(sm.pool.AddClass(t.name))
	case vUninit:
		w.u1(itemUninitialized)
		w.u2(uint16(sm.offsets(t.alloc)))
	}
}

// bytes returns the attribute body.
func (sm *stackMapWriter) bytes() []byte {
	var out writer
	out.u2(uint16(sm.count))
	out.raw(sm.w.bytes())
	return out.bytes()
}
