package geometry

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tetrahedron() *Mesh {
	return &Mesh{
		Vertices: []r3.Vector{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
		},
		Triangles: [][3]int{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}
}

func TestMeshRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatBinaryLE, FormatBinaryBE, FormatASCII} {
		t.Run(string(format), func(t *testing.T) {
			m := tetrahedron()
			m.ComputeVertexNormals()

			var buf bytes.Buffer
			require.NoError(t, WriteMesh(&buf, m, format))

			got, err := ReadMesh(&buf)
			require.NoError(t, err)
			assert.Len(t, got.Vertices, len(m.Vertices))
			assert.Len(t, got.Triangles, len(m.Triangles))
			assert.Equal(t, m.Triangles, got.Triangles)
			assert.Len(t, got.Normals, len(m.Vertices))
			for i := range m.Vertices {
				assert.InDelta(t, 0, m.Vertices[i].Sub(got.Vertices[i]).Norm(), 1e-12)
			}
		})
	}
}

func TestMeshFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.ply")
	require.NoError(t, WriteMeshFile(path, tetrahedron(), FormatBinaryLE))

	got, err := ReadMeshFile(path)
	require.NoError(t, err)
	assert.Len(t, got.Vertices, 4)
	assert.Len(t, got.Triangles, 4)
}

func TestPointCloudRoundTripKeepsColors(t *testing.T) {
	pc := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0.5, Z: 1e-3}},
		Colors: []Color{{255, 0, 10}, {1, 2, 3}},
	}
	for _, format := range []Format{FormatBinaryLE, FormatASCII} {
		var buf bytes.Buffer
		require.NoError(t, WritePointCloud(&buf, pc, format))

		got, err := ReadPointCloud(&buf)
		require.NoError(t, err)
		assert.Equal(t, pc.Points, got.Points)
		assert.Equal(t, pc.Colors, got.Colors)
		assert.False(t, got.HasNormals())
	}
}

// The stereo fusion output uses float positions and normals with uchar
// colors.
func TestReadFusedStyleBinary(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 2\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"property float nx\nproperty float ny\nproperty float nz\n" +
		"property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n")
	for _, row := range [][6]float32{{1, 2, 3, 0, 0, 1}, {4, 5, 6, 1, 0, 0}} {
		for _, v := range row {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, math.Float32bits(v)))
		}
		buf.Write([]byte{10, 20, 30})
	}

	pc, err := ReadPointCloud(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, pc.Len())
	assert.Equal(t, r3.Vector{X: 4, Y: 5, Z: 6}, pc.Points[1])
	assert.Equal(t, r3.Vector{X: 1, Y: 0, Z: 0}, pc.Normals[1])
	assert.Equal(t, Color{10, 20, 30}, pc.Colors[0])
}

func TestReadASCIIQuadsAreTriangulated(t *testing.T) {
	src := `ply
format ascii 1.0
comment unit square
element vertex 4
property float32 x
property float32 y
property float32 z
element face 1
property list uint8 int32 vertex_index
end_header
0 0 0
1 0 0
1 1 0
0 1 0
4 0 1 2 3

`
	m, err := ReadMesh(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, m.Triangles)
}

func TestReadRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"no magic":        "plx\nformat ascii 1.0\nend_header\n",
		"truncated":       "ply\nformat binary_little_endian 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n\x00\x00",
		"bad ascii value": "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 two 3\n",
		"no xyz":          "ply\nformat ascii 1.0\nelement vertex 1\nproperty float a\nend_header\n1\n",
		"bad index":       "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nelement face 1\nproperty list uchar int vertex_indices\nend_header\n0 0 0\n3 0 1 2\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadMesh(strings.NewReader(src))
			assert.ErrorIs(t, err, ErrMalformedPLY)
		})
	}
}

func TestReadHugeDeclaredCountFailsWithoutPreallocating(t *testing.T) {
	src := "ply\nformat binary_little_endian 1.0\nelement vertex 400000000\n" +
		"property float x\nproperty float y\nproperty float z\nend_header\n" +
		"\x00\x00\x80\x3f\x00\x00\x00\x40"

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := ReadPointCloud(strings.NewReader(src))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrMalformedPLY)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestNewElementDataCapsCapacity(t *testing.T) {
	el := plyElement{name: "vertex", count: 1 << 30, props: []plyProperty{
		{name: "x", typ: "float"},
		{name: "vertex_indices", typ: "int", list: true, countType: "uchar"},
	}}
	d := newElementData(el, el.count)
	assert.Equal(t, maxPreallocRows, cap(d.scalars["x"]))
	assert.Equal(t, maxPreallocRows, cap(d.lists["vertex_indices"]))
	assert.Empty(t, d.scalars["x"])
}
