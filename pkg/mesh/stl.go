package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"ctmesh/internal/models"
)

// Triangle is one facet of a binary STL file, in (x, y, z) order
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Triangles expands an indexed mesh into STL facets. Mesh vertices are in
// (slice, row, column) order; facets are written in (x, y, z) order with each
// axis multiplied by the matching scale entry.
func Triangles(m *models.Mesh, scale [3]float32) []Triangle {
	out := make([]Triangle, 0, len(m.Faces))
	s := r3.Vec{X: float64(scale[0]), Y: float64(scale[1]), Z: float64(scale[2])}
	point := func(i int) r3.Vec {
		v := xyz(m.Vertices[i])
		return r3.Vec{X: v.X * s.X, Y: v.Y * s.Y, Z: v.Z * s.Z}
	}
	for _, f := range m.Faces {
		a, b, c := point(f[0]), point(f[1]), point(f[2])
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if r3.Norm(n) > 0 {
			n = r3.Unit(n)
		}
		out = append(out, Triangle{
			Normal:  float32s(n),
			Vertex1: float32s(a),
			Vertex2: float32s(b),
			Vertex3: float32s(c),
		})
	}
	return out
}

func float32s(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// WriteSTL writes triangles in binary STL format: an 80 byte header, a
// little-endian triangle count and 50 bytes per triangle
func WriteSTL(w io.Writer, triangles []Triangle) error {
	bw := bufio.NewWriter(w)

	var header [80]byte
	copy(header[:], "ctmesh binary STL")
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}

	var rec [50]byte
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count stays zero
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}
	return bw.Flush()
}

// SaveToSTL writes triangles to a binary STL file at path
func SaveToSTL(path string, triangles []Triangle) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	if err := WriteSTL(file, triangles); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveMeshSTL writes an indexed mesh scaled by the voxel spacing, so the STL
// is in millimetres
func SaveMeshSTL(path string, m *models.Mesh, spacing models.Spacing) error {
	scale := [3]float32{float32(spacing.X), float32(spacing.Y), float32(spacing.Z)}
	return SaveToSTL(path, Triangles(m, scale))
}
