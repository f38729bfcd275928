package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// State encoding: the flat little-endian format of snapshots
// ---------------------------------------------------------------------------

// Integers are 32-bit, strings are a 32-bit length followed by their bytes
// and a cell is (number, text, tag).

var (
	ErrBadState      = errors.New("invalid execution state")
	ErrCorruptData   = errors.New("corrupt snapshot data")
	ErrUnexpectedEOF = errors.New("unexpected end of snapshot data")
	ErrInvalidMagic  = errors.New("invalid magic number")
)

// HeapMagic identifies a heap snapshot.
var HeapMagic = [4]byte{'R', 'P', 'G', 'H'}

// HeapVersion is the heap snapshot format version.
const HeapVersion uint32 = 1

// stateWriter appends encoded values to a buffer.
type stateWriter struct {
	buf []byte
}

func (w *stateWriter) int(v int) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(int32(v)))
}

func (w *stateWriter) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *stateWriter) float64(f float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(f))
}

func (w *stateWriter) string(s string) {
	w.int(len(s))
	w.buf = append(w.buf, s...)
}

func (w *stateWriter) bool(b bool) {
	if b {
		w.int(1)
	} else {
		w.int(0)
	}
}

// cell writes the concrete value of c. Host cells are written as a snapshot
// of their current value.
func (w *stateWriter) cell(c Cell) {
	if c.host != nil {
		c = c.Resolved()
	}
	w.float64(c.Num)
	w.string(c.Lit)
	w.uint32(uint32(c.Tag))
}

// stateReader decodes a buffer written by stateWriter. The first error
// sticks; later reads return zero values.
type stateReader struct {
	data []byte
	off  int
	err  error
}

func (r *stateReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w at offset %d", ErrUnexpectedEOF, r.off)
		return false
	}
	return true
}

func (r *stateReader) int() int {
	if !r.need(4) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return int(v)
}

func (r *stateReader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *stateReader) float64() float64 {
	if !r.need(8) {
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v
}

func (r *stateReader) string() string {
	n := r.int()
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

func (r *stateReader) bool() bool {
	return r.int() != 0
}

// count reads a collection length. Each element takes at least min bytes,
// which bounds the length by the data left.
func (r *stateReader) count(min int) int {
	n := r.int()
	if r.err != nil {
		return 0
	}
	if n < 0 || n*min > len(r.data)-r.off {
		r.err = fmt.Errorf("%w: length %d at offset %d", ErrCorruptData, n, r.off-4)
		return 0
	}
	return n
}

func (r *stateReader) cell(p *Program) Cell {
	c := Cell{Num: r.float64(), Lit: r.string(), prg: p}
	c.Tag = DataType(r.uint32())
	return c
}

// cellSize is the smallest encoded cell.
const cellSize = 8 + 4 + 4

// done reports trailing bytes as corruption.
func (r *stateReader) done() error {
	if r.err == nil && r.off != len(r.data) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrCorruptData, len(r.data)-r.off)
	}
	return r.err
}
