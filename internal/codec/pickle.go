package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
)

// The recorded attachment id set is stored as a pickled Python set of ints so archives
// stay readable by the tooling that produced the earlier ones. Only the opcodes needed
// for that one shape are supported.

const (
	opMark            = '('
	opStop            = '.'
	opBinInt          = 'J'
	opBinInt1         = 'K'
	opBinInt2         = 'M'
	opBinUnicode      = 'X'
	opAppend          = 'a'
	opAppends         = 'e'
	opBinGet          = 'h'
	opLongBinGet      = 'j'
	opBinPut          = 'q'
	opLongBinPut      = 'r'
	opEmptyList       = ']'
	opTuple           = 't'
	opEmptyTuple      = ')'
	opReduce          = 'R'
	opGlobal          = 'c'
	opProto           = 0x80
	opLong1           = 0x8a
	opTuple1          = 0x85
	opShortBinUnicode = 0x8c
	opEmptySet        = 0x8f
	opAddItems        = 0x90
	opFrozenSet       = 0x91
	opStackGlobal     = 0x93
	opMemoize         = 0x94
	opFrame           = 0x95
)

var errBadPickle = errors.New("unsupported pickle content")

// EncodeIDSet writes ids as a protocol 2 pickle of a Python set.
func EncodeIDSet(ids []int64) []byte {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var buf bytes.Buffer
	buf.Write([]byte{opProto, 2})
	buf.WriteByte(opGlobal)
	buf.WriteString("__builtin__\nset\n")
	buf.WriteByte(opEmptyList)
	if len(sorted) > 0 {
		buf.WriteByte(opMark)
		for _, id := range sorted {
			writePickleInt(&buf, id)
		}
		buf.WriteByte(opAppends)
	}
	buf.WriteByte(opTuple1)
	buf.WriteByte(opReduce)
	buf.WriteByte(opStop)
	return buf.Bytes()
}

func writePickleInt(buf *bytes.Buffer, v int64) {
	switch {
	case v >= 0 && v < 1<<8:
		buf.WriteByte(opBinInt1)
		buf.WriteByte(byte(v))
	case v >= 0 && v < 1<<16:
		buf.WriteByte(opBinInt2)
		_ = binary.Write(buf, binary.LittleEndian, uint16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		buf.WriteByte(opBinInt)
		_ = binary.Write(buf, binary.LittleEndian, int32(v))
	default:
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint64(raw, uint64(v))
		// trim redundant sign bytes
		n := 8
		for n > 1 {
			last, prev := raw[n-1], raw[n-2]
			if (last == 0x00 && prev&0x80 == 0) || (last == 0xff && prev&0x80 != 0) {
				n--
				continue
			}
			break
		}
		buf.WriteByte(opLong1)
		buf.WriteByte(byte(n))
		buf.Write(raw[:n])
	}
}

type pickleMark struct{}

type pickleGlobal struct{ module, name string }

type pickleList struct{ items []any }

type pickleSet struct{ items []int64 }

// DecodeIDSet reads a pickled set (or frozenset, or list) of ints written with any
// protocol from 2 to 5.
func DecodeIDSet(data []byte) ([]int64, error) {
	r := &pickleReader{data: data, memo: map[int]any{}}
	v, err := r.run()
	if err != nil {
		return nil, err
	}
	var ids []int64
	switch t := v.(type) {
	case *pickleSet:
		ids = t.items
	case *pickleList:
		ids, err = intsOf(t.items)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: top-level %T", errBadPickle, v)
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out), nil
}

type pickleReader struct {
	data  []byte
	pos   int
	stack []any
	memo  map[int]any
}

func (r *pickleReader) next(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: truncated at offset %d", errBadPickle, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *pickleReader) line() (string, error) {
	i := bytes.IndexByte(r.data[r.pos:], '\n')
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated line", errBadPickle)
	}
	s := string(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}

func (r *pickleReader) push(v any) { r.stack = append(r.stack, v) }

func (r *pickleReader) pop() (any, error) {
	if len(r.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow", errBadPickle)
	}
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v, nil
}

func (r *pickleReader) top() (any, error) {
	if len(r.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow", errBadPickle)
	}
	return r.stack[len(r.stack)-1], nil
}

// popMark pops everything above the topmost mark.
func (r *pickleReader) popMark() ([]any, error) {
	for i := len(r.stack) - 1; i >= 0; i-- {
		if _, ok := r.stack[i].(pickleMark); ok {
			items := slices.Clone(r.stack[i+1:])
			r.stack = r.stack[:i]
			return items, nil
		}
	}
	return nil, fmt.Errorf("%w: missing mark", errBadPickle)
}

func (r *pickleReader) run() (any, error) {
	for {
		b, err := r.next(1)
		if err != nil {
			return nil, err
		}
		switch op := b[0]; op {
		case opProto:
			if _, err := r.next(1); err != nil {
				return nil, err
			}
		case opFrame:
			if _, err := r.next(8); err != nil {
				return nil, err
			}
		case opMark:
			r.push(pickleMark{})
		case opStop:
			return r.pop()
		case opBinInt1:
			v, err := r.next(1)
			if err != nil {
				return nil, err
			}
			r.push(int64(v[0]))
		case opBinInt2:
			v, err := r.next(2)
			if err != nil {
				return nil, err
			}
			r.push(int64(binary.LittleEndian.Uint16(v)))
		case opBinInt:
			v, err := r.next(4)
			if err != nil {
				return nil, err
			}
			r.push(int64(int32(binary.LittleEndian.Uint32(v))))
		case opLong1:
			n, err := r.next(1)
			if err != nil {
				return nil, err
			}
			raw, err := r.next(int(n[0]))
			if err != nil {
				return nil, err
			}
			v, err := decodeLong(raw)
			if err != nil {
				return nil, err
			}
			r.push(v)
		case opShortBinUnicode:
			n, err := r.next(1)
			if err != nil {
				return nil, err
			}
			s, err := r.next(int(n[0]))
			if err != nil {
				return nil, err
			}
			r.push(string(s))
		case opBinUnicode:
			n, err := r.next(4)
			if err != nil {
				return nil, err
			}
			s, err := r.next(int(binary.LittleEndian.Uint32(n)))
			if err != nil {
				return nil, err
			}
			r.push(string(s))
		case opGlobal:
			module, err := r.line()
			if err != nil {
				return nil, err
			}
			name, err := r.line()
			if err != nil {
				return nil, err
			}
			r.push(pickleGlobal{module: module, name: name})
		case opStackGlobal:
			name, err := r.pop()
			if err != nil {
				return nil, err
			}
			module, err := r.pop()
			if err != nil {
				return nil, err
			}
			ms, ok1 := module.(string)
			ns, ok2 := name.(string)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%w: bad STACK_GLOBAL operands", errBadPickle)
			}
			r.push(pickleGlobal{module: ms, name: ns})
		case opEmptyList:
			r.push(&pickleList{})
		case opEmptyTuple:
			r.push([]any{})
		case opEmptySet:
			r.push(&pickleSet{})
		case opAppend:
			v, err := r.pop()
			if err != nil {
				return nil, err
			}
			if err := r.extendList([]any{v}); err != nil {
				return nil, err
			}
		case opAppends:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			if err := r.extendList(items); err != nil {
				return nil, err
			}
		case opAddItems:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			t, err := r.top()
			if err != nil {
				return nil, err
			}
			set, ok := t.(*pickleSet)
			if !ok {
				return nil, fmt.Errorf("%w: ADDITEMS on %T", errBadPickle, t)
			}
			ints, err := intsOf(items)
			if err != nil {
				return nil, err
			}
			set.items = append(set.items, ints...)
		case opFrozenSet:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			ints, err := intsOf(items)
			if err != nil {
				return nil, err
			}
			r.push(&pickleSet{items: ints})
		case opTuple1:
			v, err := r.pop()
			if err != nil {
				return nil, err
			}
			r.push([]any{v})
		case opTuple:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			r.push(items)
		case opReduce:
			if err := r.reduce(); err != nil {
				return nil, err
			}
		case opMemoize:
			t, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[len(r.memo)] = t
		case opBinPut, opLongBinPut:
			idx, err := r.memoIndex(op == opLongBinPut)
			if err != nil {
				return nil, err
			}
			t, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[idx] = t
		case opBinGet, opLongBinGet:
			idx, err := r.memoIndex(op == opLongBinGet)
			if err != nil {
				return nil, err
			}
			v, ok := r.memo[idx]
			if !ok {
				return nil, fmt.Errorf("%w: memo %d missing", errBadPickle, idx)
			}
			r.push(v)
		default:
			return nil, fmt.Errorf("%w: opcode 0x%02x at offset %d", errBadPickle, op, r.pos-1)
		}
	}
}

func (r *pickleReader) memoIndex(long bool) (int, error) {
	if long {
		b, err := r.next(4)
		if err != nil {
			return 0, err
		}
		return int(binary.LittleEndian.Uint32(b)), nil
	}
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

func (r *pickleReader) extendList(items []any) error {
	t, err := r.top()
	if err != nil {
		return err
	}
	list, ok := t.(*pickleList)
	if !ok {
		return fmt.Errorf("%w: APPENDS on %T", errBadPickle, t)
	}
	list.items = append(list.items, items...)
	return nil
}

// reduce supports set(iterable) and frozenset(iterable) only.
func (r *pickleReader) reduce() error {
	args, err := r.pop()
	if err != nil {
		return err
	}
	fn, err := r.pop()
	if err != nil {
		return err
	}
	g, ok := fn.(pickleGlobal)
	if !ok || (g.module != "builtins" && g.module != "__builtin__") || (g.name != "set" && g.name != "frozenset") {
		return fmt.Errorf("%w: call to %v", errBadPickle, fn)
	}
	tuple, ok := args.([]any)
	if !ok {
		return fmt.Errorf("%w: REDUCE args %T", errBadPickle, args)
	}
	set := &pickleSet{}
	if len(tuple) == 1 {
		list, ok := tuple[0].(*pickleList)
		if !ok {
			return fmt.Errorf("%w: set argument %T", errBadPickle, tuple[0])
		}
		if set.items, err = intsOf(list.items); err != nil {
			return err
		}
	}
	r.push(set)
	return nil
}

func intsOf(items []any) ([]int64, error) {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		i, ok := it.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: set member %T", errBadPickle, it)
		}
		out = append(out, i)
	}
	return out, nil
}

// decodeLong reads a little-endian two's complement integer.
func decodeLong(raw []byte) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	be := make([]byte, len(raw))
	for i := range raw {
		be[len(raw)-1-i] = raw[i]
	}
	v := new(big.Int).SetBytes(be)
	if raw[len(raw)-1]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw))))
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: integer out of range", errBadPickle)
	}
	return v.Int64(), nil
}
