package geometry

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
)

// Format is a PLY body encoding.
type Format string

const (
	FormatASCII        Format = "ascii"
	FormatBinaryLE     Format = "binary_little_endian"
	FormatBinaryBE     Format = "binary_big_endian"
	maxHeaderLines            = 4096
	maxPolygonVertices        = 1 << 16
	// maxPreallocRows bounds what a header count alone can make us allocate;
	// longer elements grow as rows are actually read.
	maxPreallocRows = 1 << 16
)

var ErrMalformedPLY = errors.New("malformed ply")

type plyProperty struct {
	name      string
	typ       string
	list      bool
	countType string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyHeader struct {
	format   Format
	elements []plyElement
	// lines keeps the header text for the ascii path.
	lines []string
}

// elementData holds one decoded element: scalars by property name and
// integer lists by property name.
type elementData struct {
	count   int
	scalars map[string][]float64
	lists   map[string][][]int
}

// ReadPointCloud decodes the vertex element of a PLY stream.
func ReadPointCloud(r io.Reader) (*PointCloud, error) {
	data, err := decode(r)
	if err != nil {
		return nil, err
	}
	return pointCloudFrom(data["vertex"])
}

func ReadPointCloudFile(path string) (*PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPointCloud(f)
}

// ReadMesh decodes the vertex and face elements of a PLY stream. Polygons
// with more than three corners are fan triangulated.
func ReadMesh(r io.Reader) (*Mesh, error) {
	data, err := decode(r)
	if err != nil {
		return nil, err
	}
	pc, err := pointCloudFrom(data["vertex"])
	if err != nil {
		return nil, err
	}
	m := &Mesh{Vertices: pc.Points, Normals: pc.Normals}
	if faces, ok := data["face"]; ok {
		polys := faces.lists["vertex_indices"]
		if polys == nil {
			polys = faces.lists["vertex_index"]
		}
		for _, poly := range polys {
			for i := 1; i+1 < len(poly); i++ {
				m.Triangles = append(m.Triangles, [3]int{poly[0], poly[i], poly[i+1]})
			}
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPLY, err)
	}
	return m, nil
}

func ReadMeshFile(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMesh(f)
}

func pointCloudFrom(v *elementData) (*PointCloud, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: no vertex element", ErrMalformedPLY)
	}
	xs, ys, zs := v.scalars["x"], v.scalars["y"], v.scalars["z"]
	if xs == nil || ys == nil || zs == nil {
		return nil, fmt.Errorf("%w: vertex element lacks x/y/z", ErrMalformedPLY)
	}
	pc := &PointCloud{Points: make([]r3.Vector, v.count)}
	for i := range pc.Points {
		pc.Points[i] = r3.Vector{X: xs[i], Y: ys[i], Z: zs[i]}
	}
	if nx, ny, nz := v.scalars["nx"], v.scalars["ny"], v.scalars["nz"]; nx != nil && ny != nil && nz != nil {
		pc.Normals = make([]r3.Vector, v.count)
		for i := range pc.Normals {
			pc.Normals[i] = r3.Vector{X: nx[i], Y: ny[i], Z: nz[i]}
		}
	}
	if cr, cg, cb := v.scalars["red"], v.scalars["green"], v.scalars["blue"]; cr != nil && cg != nil && cb != nil {
		pc.Colors = make([]Color, v.count)
		for i := range pc.Colors {
			pc.Colors[i] = Color{clampByte(cr[i]), clampByte(cg[i]), clampByte(cb[i])}
		}
	}
	return pc, nil
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

func decode(r io.Reader) (map[string]*elementData, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	switch h.format {
	case FormatASCII:
		return decodeASCII(h, br)
	case FormatBinaryLE:
		return decodeBinary(h, br, binary.LittleEndian)
	case FormatBinaryBE:
		return decodeBinary(h, br, binary.BigEndian)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrMalformedPLY, h.format)
	}
}

// typeAliases maps the sized PLY type names onto the classic ones.
var typeAliases = map[string]string{
	"int8": "char", "uint8": "uchar", "int16": "short", "uint16": "ushort",
	"int32": "int", "uint32": "uint", "float32": "float", "float64": "double",
}

var typeSizes = map[string]int{
	"char": 1, "uchar": 1, "short": 2, "ushort": 2, "int": 4, "uint": 4, "float": 4, "double": 8,
}

func canonicalType(t string) (string, error) {
	if a, ok := typeAliases[t]; ok {
		t = a
	}
	if _, ok := typeSizes[t]; !ok {
		return "", fmt.Errorf("%w: unknown property type %q", ErrMalformedPLY, t)
	}
	return t, nil
}

func readHeader(br *bufio.Reader) (*plyHeader, error) {
	h := &plyHeader{}
	for n := 0; ; n++ {
		if n > maxHeaderLines {
			return nil, fmt.Errorf("%w: header too long", ErrMalformedPLY)
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedPLY, err)
		}
		line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(line)
		if n == 0 {
			if len(fields) != 1 || fields[0] != "ply" {
				return nil, fmt.Errorf("%w: missing magic", ErrMalformedPLY)
			}
			h.lines = append(h.lines, "ply")
			continue
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: bad format line", ErrMalformedPLY)
			}
			h.format = Format(fields[1])
		case "comment", "obj_info":
			continue
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad element line %q", ErrMalformedPLY, line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: bad element count %q", ErrMalformedPLY, fields[2])
			}
			h.elements = append(h.elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, fmt.Errorf("%w: property before element", ErrMalformedPLY)
			}
			prop, err := parseProperty(fields)
			if err != nil {
				return nil, err
			}
			el := &h.elements[len(h.elements)-1]
			el.props = append(el.props, prop)
			if prop.list {
				line = strings.Join([]string{"property", "list", prop.countType, prop.typ, prop.name}, " ")
			} else {
				line = strings.Join([]string{"property", prop.typ, prop.name}, " ")
			}
		case "end_header":
			h.lines = append(h.lines, "end_header")
			if h.format == "" {
				return nil, fmt.Errorf("%w: no format line", ErrMalformedPLY)
			}
			return h, nil
		default:
			return nil, fmt.Errorf("%w: unexpected header token %q", ErrMalformedPLY, fields[0])
		}
		h.lines = append(h.lines, line)
	}
}

func parseProperty(fields []string) (plyProperty, error) {
	if len(fields) >= 5 && fields[1] == "list" {
		ct, err := canonicalType(fields[2])
		if err != nil {
			return plyProperty{}, err
		}
		it, err := canonicalType(fields[3])
		if err != nil {
			return plyProperty{}, err
		}
		return plyProperty{name: fields[4], typ: it, list: true, countType: ct}, nil
	}
	if len(fields) != 3 {
		return plyProperty{}, fmt.Errorf("%w: bad property line %q", ErrMalformedPLY, strings.Join(fields, " "))
	}
	t, err := canonicalType(fields[1])
	if err != nil {
		return plyProperty{}, err
	}
	return plyProperty{name: fields[2], typ: t}, nil
}

func newElementData(el plyElement, capacity int) *elementData {
	capacity = min(capacity, maxPreallocRows)
	d := &elementData{count: el.count, scalars: map[string][]float64{}, lists: map[string][][]int{}}
	for _, p := range el.props {
		if p.list {
			d.lists[p.name] = make([][]int, 0, capacity)
		} else {
			d.scalars[p.name] = make([]float64, 0, capacity)
		}
	}
	return d
}

// decodeASCII hands the normalised header and the body to goply, which
// panics on malformed input.
func decodeASCII(h *plyHeader, body io.Reader) (out map[string]*elementData, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrMalformedPLY, r)
		}
	}()

	var header bytes.Buffer
	for _, l := range h.lines {
		header.WriteString(l)
		header.WriteByte('\n')
	}
	rest, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	// goply rejects blank lines after the last element.
	rest = bytes.TrimRight(rest, " \t\r\n")
	if len(rest) > 0 {
		rest = append(rest, '\n')
	}
	parsed := goply.New(io.MultiReader(&header, bytes.NewReader(rest)))

	out = make(map[string]*elementData, len(h.elements))
	for _, el := range h.elements {
		rows := parsed.Elements(el.name)
		if len(rows) != el.count {
			return nil, fmt.Errorf("%w: element %s has %d rows, header says %d", ErrMalformedPLY, el.name, len(rows), el.count)
		}
		d := newElementData(el, len(rows))
		for i := range rows {
			for _, p := range el.props {
				v := rows[i].Property(p.name)
				if p.list {
					items, _ := v.([]interface{})
					list := make([]int, len(items))
					for j, it := range items {
						list[j] = int(toFloat(it))
					}
					d.lists[p.name] = append(d.lists[p.name], list)
				} else {
					d.scalars[p.name] = append(d.scalars[p.name], toFloat(v))
				}
			}
		}
		out[el.name] = d
	}
	return out, nil
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int8:
		return float64(x)
	case uint8:
		return float64(x)
	case int16:
		return float64(x)
	case uint16:
		return float64(x)
	case int32:
		return float64(x)
	case uint32:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		return math.NaN()
	}
}

func decodeBinary(h *plyHeader, r io.Reader, order binary.ByteOrder) (map[string]*elementData, error) {
	out := make(map[string]*elementData, len(h.elements))
	var buf [8]byte
	read := func(typ string) (float64, error) {
		n := typeSizes[typ]
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return 0, err
		}
		b := buf[:n]
		switch typ {
		case "char":
			return float64(int8(b[0])), nil
		case "uchar":
			return float64(b[0]), nil
		case "short":
			return float64(int16(order.Uint16(b))), nil
		case "ushort":
			return float64(order.Uint16(b)), nil
		case "int":
			return float64(int32(order.Uint32(b))), nil
		case "uint":
			return float64(order.Uint32(b)), nil
		case "float":
			return float64(math.Float32frombits(order.Uint32(b))), nil
		default:
			return math.Float64frombits(order.Uint64(b)), nil
		}
	}

	for _, el := range h.elements {
		d := newElementData(el, el.count)
		for i := 0; i < el.count; i++ {
			for _, p := range el.props {
				if !p.list {
					v, err := read(p.typ)
					if err != nil {
						return nil, fmt.Errorf("%w: element %s row %d: %v", ErrMalformedPLY, el.name, i, err)
					}
					d.scalars[p.name] = append(d.scalars[p.name], v)
					continue
				}
				n, err := read(p.countType)
				if err != nil {
					return nil, fmt.Errorf("%w: element %s row %d: %v", ErrMalformedPLY, el.name, i, err)
				}
				if n < 0 || n > maxPolygonVertices {
					return nil, fmt.Errorf("%w: list of %v items", ErrMalformedPLY, n)
				}
				list := make([]int, int(n))
				for j := range list {
					v, err := read(p.typ)
					if err != nil {
						return nil, fmt.Errorf("%w: element %s row %d: %v", ErrMalformedPLY, el.name, i, err)
					}
					list[j] = int(v)
				}
				d.lists[p.name] = append(d.lists[p.name], list)
			}
		}
		out[el.name] = d
	}
	return out, nil
}
