package memory

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
)

// Load reads the value selected by a at byte address addr of buf and
// returns it as an operand slot. Narrow integer loads are extended to 32
// bits according to the access signedness; i32 results are sign-extended
// to 64 bits.
func Load(buf []byte, addr uint64, a bytecode.Access) (uint64, error) {
	w := uint64(a.Width())
	if addr+w > uint64(len(buf)) || addr+w < addr {
		return 0, errors.Memory("load %s at %d out of bounds (size %d)", a, addr, len(buf))
	}
	if addr%w != 0 {
		return 0, errors.Memory("misaligned %s load at %d", a, addr)
	}
	b := buf[addr : addr+w]
	var v32 uint32
	switch a {
	case bytecode.AccessI64, bytecode.AccessF64:
		return binary.LittleEndian.Uint64(b), nil
	case bytecode.AccessF32:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case bytecode.AccessI32S, bytecode.AccessI32U:
		v32 = binary.LittleEndian.Uint32(b)
	case bytecode.AccessI16S:
		v32 = uint32(int32(int16(binary.LittleEndian.Uint16(b))))
	case bytecode.AccessI16U:
		v32 = uint32(binary.LittleEndian.Uint16(b))
	case bytecode.AccessI8S:
		v32 = uint32(int32(int8(b[0])))
	case bytecode.AccessI8U:
		v32 = uint32(b[0])
	}
	return I32(v32), nil
}

// Store writes the low Width bytes of v at byte address addr of buf.
func Store(buf []byte, addr uint64, a bytecode.Access, v uint64) error {
	w := uint64(a.Width())
	if addr+w > uint64(len(buf)) || addr+w < addr {
		return errors.Memory("store %s at %d out of bounds (size %d)", a, addr, len(buf))
	}
	if addr%w != 0 {
		return errors.Memory("misaligned %s store at %d", a, addr)
	}
	b := buf[addr : addr+w]
	switch w {
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		b[0] = byte(v)
	}
	return nil
}

// I32 returns the operand slot holding the i32 v.
func I32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

// F32 returns the operand slot holding the f32 v.
func F32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// F64 returns the operand slot holding the f64 v.
func F64(v float64) uint64 {
	return math.Float64bits(v)
}

// checkWindow verifies that [off, off+width) lies within a window of size n.
func checkWindow(what string, off, width, n uint64) error {
	if off+width > n || off+width < off {
		return errors.Memory("%s access at offset %d width %d out of bounds (size %d)", what, off, width, n)
	}
	return nil
}
