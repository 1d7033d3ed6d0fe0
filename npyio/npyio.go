// Package npyio writes float64 arrays in the NumPy .npy/.npz formats so that
// equilibria can be loaded and plotted from Python.
package npyio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var order = binary.LittleEndian

// Array is a dense row-major array with the given shape.
type Array struct {
	Shape []int
	Data  []float64
}

func Vector(v []float64) Array {
	return Array{Shape: []int{len(v)}, Data: v}
}

func Matrix(m mat.Matrix) Array {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Array{Shape: []int{r, c}, Data: data}
}

func Write(w io.Writer, a Array) error {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	if n != len(a.Data) {
		return errors.Errorf("array of shape %v cannot hold %d elements", a.Shape, len(a.Data))
	}

	if err := writeHeader(w, a.Shape); err != nil {
		return err
	}

	var buf [8]byte
	for _, x := range a.Data {
		order.PutUint64(buf[:], math.Float64bits(x))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}

	return nil
}

// The following is adapted from: github.com/sbinet/npyio
var magic = [6]byte{'\x93', 'N', 'U', 'M', 'P', 'Y'}

const (
	majorVersion = byte(2)
	minorVersion = byte(0)
	// Header length field of a version 2 file.
	headerLenSize = 4
	headerAlign   = 64
)

func writeHeader(w io.Writer, shape []int) error {
	if err := binary.Write(w, order, magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, order, majorVersion); err != nil {
		return err
	}
	if err := binary.Write(w, order, minorVersion); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf,
		"{'descr': '<f8', 'fortran_order': False, 'shape': %s, }",
		shapeString(shape))

	// The header, including the trailing newline, is padded so that the
	// data starts on an aligned offset.
	prefix := len(magic) + 2 + headerLenSize
	padding := (headerAlign - (prefix+buf.Len()+1)%headerAlign) % headerAlign
	buf.Write(bytes.Repeat([]byte{'\x20'}, padding))
	buf.WriteByte('\n')

	buflen := int64(buf.Len())
	if err := binary.Write(w, order, uint32(buflen)); err != nil {
		return err
	}

	if n, err := io.Copy(w, buf); err != nil {
		return err
	} else if n < buflen {
		return io.ErrShortWrite
	}

	return nil
}

func shapeString(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	if len(dims) == 1 {
		return "(" + dims[0] + ",)"
	}
	return "(" + strings.Join(dims, ", ") + ")"
}
