package geometry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/arrajeevchandar/aerominds/internal/fsx"
	"github.com/golang/geo/r3"
)

// WritePointCloud encodes pc as PLY.
func WritePointCloud(w io.Writer, pc *PointCloud, format Format) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	return encode(w, format, pc.Points, normalsOrNil(pc.HasNormals(), pc.Normals), colorsOrNil(pc), nil)
}

// WriteMesh encodes m as PLY. Densities are not persisted.
func WriteMesh(w io.Writer, m *Mesh, format Format) error {
	if err := m.Validate(); err != nil {
		return err
	}
	hasNormals := len(m.Normals) == len(m.Vertices) && len(m.Vertices) > 0
	tris := m.Triangles
	if tris == nil {
		tris = [][3]int{}
	}
	return encode(w, format, m.Vertices, normalsOrNil(hasNormals, m.Normals), nil, tris)
}

// WriteMeshFile atomically writes m to path.
func WriteMeshFile(path string, m *Mesh, format Format) error {
	return fsx.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return WriteMesh(w, m, format)
	})
}

// WritePointCloudFile atomically writes pc to path.
func WritePointCloudFile(path string, pc *PointCloud, format Format) error {
	return fsx.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return WritePointCloud(w, pc, format)
	})
}

func normalsOrNil(ok bool, n []r3.Vector) []r3.Vector {
	if ok {
		return n
	}
	return nil
}

func colorsOrNil(pc *PointCloud) []Color {
	if pc.HasColors() {
		return pc.Colors
	}
	return nil
}

// encode writes the header and body. faces == nil omits the face element.
func encode(w io.Writer, format Format, verts, normals []r3.Vector, colors []Color, faces [][3]int) error {
	var order binary.ByteOrder
	switch format {
	case FormatASCII:
	case FormatBinaryLE:
		order = binary.LittleEndian
	case FormatBinaryBE:
		order = binary.BigEndian
	default:
		return fmt.Errorf("unsupported ply format %q", format)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat %s 1.0\ncomment aerominds\n", format)
	fmt.Fprintf(bw, "element vertex %d\n", len(verts))
	bw.WriteString("property double x\nproperty double y\nproperty double z\n")
	if normals != nil {
		bw.WriteString("property double nx\nproperty double ny\nproperty double nz\n")
	}
	if colors != nil {
		bw.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	if faces != nil {
		fmt.Fprintf(bw, "element face %d\n", len(faces))
		bw.WriteString("property list uchar int vertex_indices\n")
	}
	bw.WriteString("end_header\n")

	if order == nil {
		writeASCIIBody(bw, verts, normals, colors, faces)
	} else {
		writeBinaryBody(bw, order, verts, normals, colors, faces)
	}
	return bw.Flush()
}

func writeASCIIBody(bw *bufio.Writer, verts, normals []r3.Vector, colors []Color, faces [][3]int) {
	var line []byte
	f := func(v float64) {
		line = strconv.AppendFloat(line, v, 'g', -1, 64)
		line = append(line, ' ')
	}
	for i, v := range verts {
		line = line[:0]
		f(v.X)
		f(v.Y)
		f(v.Z)
		if normals != nil {
			f(normals[i].X)
			f(normals[i].Y)
			f(normals[i].Z)
		}
		if colors != nil {
			for _, c := range colors[i] {
				line = strconv.AppendUint(line, uint64(c), 10)
				line = append(line, ' ')
			}
		}
		line[len(line)-1] = '\n'
		bw.Write(line)
	}
	for _, t := range faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", t[0], t[1], t[2])
	}
}

func writeBinaryBody(bw *bufio.Writer, order binary.ByteOrder, verts, normals []r3.Vector, colors []Color, faces [][3]int) {
	var buf [8]byte
	f := func(v float64) {
		order.PutUint64(buf[:], math.Float64bits(v))
		bw.Write(buf[:8])
	}
	for i, v := range verts {
		f(v.X)
		f(v.Y)
		f(v.Z)
		if normals != nil {
			f(normals[i].X)
			f(normals[i].Y)
			f(normals[i].Z)
		}
		if colors != nil {
			bw.Write(colors[i][:])
		}
	}
	for _, t := range faces {
		bw.WriteByte(3)
		for _, idx := range t {
			order.PutUint32(buf[:4], uint32(int32(idx)))
			bw.Write(buf[:4])
		}
	}
}
