package npyio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func parse(t *testing.T, buf []byte) (string, []float64) {
	require.True(t, bytes.HasPrefix(buf, magic[:]), "missing magic")
	require.Equal(t, majorVersion, buf[6])
	headerLen := int(binary.LittleEndian.Uint32(buf[8:12]))
	dataStart := 12 + headerLen
	assert.Equal(t, 0, dataStart%headerAlign, "data is not aligned")

	header := string(buf[12:dataStart])
	require.True(t, strings.HasSuffix(header, "\n"))

	data := buf[dataStart:]
	require.Equal(t, 0, len(data)%8)
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return header, values
}

func TestWrite_Vector(t *testing.T) {
	var buf bytes.Buffer
	v := []float64{1.5, -2, math.Inf(1)}
	require.NoError(t, Write(&buf, Vector(v)))

	header, values := parse(t, buf.Bytes())
	assert.Contains(t, header, "'descr': '<f8'")
	assert.Contains(t, header, "'shape': (3,)")
	assert.Equal(t, v, values)
}

func TestWrite_Matrix(t *testing.T) {
	var buf bytes.Buffer
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, Write(&buf, Matrix(m)))

	header, values := parse(t, buf.Bytes())
	assert.Contains(t, header, "'shape': (2, 3)")
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)
}

func TestWrite_ShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Array{Shape: []int{2, 2}, Data: []float64{1, 2, 3}})
	assert.Error(t, err)
}

func TestMakeNPZ(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "eq.npz")
	arrays := map[string]Array{
		"prices":     Vector([]float64{1, 2}),
		"quantities": Vector([]float64{3, 4}),
	}
	require.NoError(t, MakeNPZ(filename, arrays))

	z, err := zip.OpenReader(filename)
	require.NoError(t, err)
	defer z.Close()

	require.Len(t, z.File, 2)
	assert.Equal(t, "prices.npy", z.File[0].Name)
	assert.Equal(t, "quantities.npy", z.File[1].Name)

	r, err := z.File[1].Open()
	require.NoError(t, err)
	defer r.Close()
	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	_, values := parse(t, buf)
	assert.Equal(t, []float64{3, 4}, values)
}
