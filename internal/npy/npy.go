// Package npy reads and writes NumPy .npy version 1.0 array files.
//
// Captured images are persisted in this format so that the reward scorer
// (and any external analysis tooling) can reload them with dtype, shape,
// and values intact.
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

// Array is an n-dimensional numeric array tagged with a numpy dtype name.
// Values are held as float64; uint16 and int64 payloads fit losslessly.
type Array struct {
	Shape []int
	Dtype string // "uint16", "int64", or "float64"
	Data  []float64
}

// Size returns the total element count.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	if len(a.Shape) == 0 {
		return 0
	}
	return n
}

// ShapeString renders the shape the way numpy prints a shape tuple,
// e.g. "(512, 512)" or "(5,)".
func (a *Array) ShapeString() string {
	if len(a.Shape) == 1 {
		return fmt.Sprintf("(%d,)", a.Shape[0])
	}
	parts := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// descrFor maps a dtype name to its numpy descr string and element size.
func descrFor(dtype string) (string, int, error) {
	switch dtype {
	case "uint16":
		return "<u2", 2, nil
	case "int64":
		return "<i8", 8, nil
	case "float64":
		return "<f8", 8, nil
	default:
		return "", 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// dtypeFor maps a numpy descr string back to a dtype name and element size.
func dtypeFor(descr string) (string, int, error) {
	switch descr {
	case "<u2":
		return "uint16", 2, nil
	case "<i8":
		return "int64", 8, nil
	case "<f8":
		return "float64", 8, nil
	default:
		return "", 0, fmt.Errorf("unsupported descr %q", descr)
	}
}

// Save writes the array to path in npy 1.0 format.
func Save(path string, a *Array) error {
	descr, elemSize, err := descrFor(a.Dtype)
	if err != nil {
		return err
	}
	if len(a.Shape) == 0 {
		return fmt.Errorf("array has no shape")
	}
	if a.Size() != len(a.Data) {
		return fmt.Errorf("shape %v wants %d elements, have %d", a.Shape, a.Size(), len(a.Data))
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, a.ShapeString())
	// The data section must start at a 64-byte boundary; pad with spaces
	// before the terminating newline. The preamble is 10 bytes.
	total := 10 + len(header) + 1
	if pad := (64 - total%64) % 64; pad > 0 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Grow(10 + len(header) + len(a.Data)*elemSize)
	buf.Write(magic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	buf.Write(hlen[:])
	buf.WriteString(header)

	elem := make([]byte, 8)
	for _, v := range a.Data {
		switch a.Dtype {
		case "uint16":
			binary.LittleEndian.PutUint16(elem[:2], uint16(v))
			buf.Write(elem[:2])
		case "int64":
			binary.LittleEndian.PutUint64(elem, uint64(int64(v)))
			buf.Write(elem)
		case "float64":
			binary.LittleEndian.PutUint64(elem, math.Float64bits(v))
			buf.Write(elem)
		}
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Load reads an npy 1.0 file from path.
func Load(path string) (*Array, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read npy file: %w", err)
	}
	if len(raw) < 10 || !bytes.Equal(raw[:6], magic) {
		return nil, fmt.Errorf("not an npy file: bad magic")
	}
	if raw[6] != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", raw[6], raw[7])
	}
	hlen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if len(raw) < 10+hlen {
		return nil, fmt.Errorf("truncated npy header")
	}

	descr, fortran, shape, err := parseHeader(string(raw[10 : 10+hlen]))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}
	dtype, elemSize, err := dtypeFor(descr)
	if err != nil {
		return nil, err
	}

	a := &Array{Shape: shape, Dtype: dtype}
	size := a.Size()
	body := raw[10+hlen:]
	if len(body) < size*elemSize {
		return nil, fmt.Errorf("truncated npy data: want %d bytes, have %d", size*elemSize, len(body))
	}

	a.Data = make([]float64, size)
	for i := 0; i < size; i++ {
		off := i * elemSize
		switch dtype {
		case "uint16":
			a.Data[i] = float64(binary.LittleEndian.Uint16(body[off : off+2]))
		case "int64":
			a.Data[i] = float64(int64(binary.LittleEndian.Uint64(body[off : off+8])))
		case "float64":
			a.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
		}
	}
	return a, nil
}

// parseHeader extracts descr, fortran_order, and shape from the header's
// python dict literal.
func parseHeader(h string) (string, bool, []int, error) {
	descr, err := quotedValue(h, "'descr':")
	if err != nil {
		return "", false, nil, err
	}

	fortran := false
	if i := strings.Index(h, "'fortran_order':"); i >= 0 {
		rest := h[i+len("'fortran_order':"):]
		fortran = strings.HasPrefix(strings.TrimLeft(rest, " "), "True")
	}

	i := strings.Index(h, "'shape':")
	if i < 0 {
		return "", false, nil, fmt.Errorf("npy header missing shape")
	}
	open := strings.Index(h[i:], "(")
	closing := strings.Index(h[i:], ")")
	if open < 0 || closing < 0 || closing < open {
		return "", false, nil, fmt.Errorf("npy header has malformed shape")
	}
	var shape []int
	for _, part := range strings.Split(h[i+open+1:i+closing], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return "", false, nil, fmt.Errorf("npy header has bad dimension %q", part)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		return "", false, nil, fmt.Errorf("scalar npy arrays are not supported")
	}
	return descr, fortran, shape, nil
}

// quotedValue returns the single-quoted string following key in h.
func quotedValue(h, key string) (string, error) {
	i := strings.Index(h, key)
	if i < 0 {
		return "", fmt.Errorf("npy header missing %s", strings.Trim(key, "':"))
	}
	rest := h[i+len(key):]
	start := strings.Index(rest, "'")
	if start < 0 {
		return "", fmt.Errorf("npy header has malformed %s", strings.Trim(key, "':"))
	}
	end := strings.Index(rest[start+1:], "'")
	if end < 0 {
		return "", fmt.Errorf("npy header has malformed %s", strings.Trim(key, "':"))
	}
	return rest[start+1 : start+1+end], nil
}
