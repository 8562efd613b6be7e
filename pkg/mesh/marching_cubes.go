// Package mesh extracts iso-surfaces from voxel grids with the marching cubes
// algorithm and writes them as indexed meshes or STL files.
package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"ctmesh/internal/models"
)

// grid is a scalar field sampled every step voxels. at takes sample
// coordinates, not voxel coordinates.
type grid struct {
	nz, ny, nx int
	step       int
	at         func(z, y, x int) float64
}

// samples returns how many samples a stride visits on an axis of n voxels
func samples(n, step int) int {
	if n <= 0 {
		return 0
	}
	return (n-1)/step + 1
}

// extract runs marching cubes over g at the given level. Vertices lying on
// the same grid edge are shared between the cells touching it, and are
// numbered in scan order so the output is deterministic. Faces are wound
// counter-clockwise when seen from the low-value side, in the right-handed
// (column, row, slice) frame.
func extract(g grid, iso float64) *models.Mesh {
	m := &models.Mesh{Vertices: [][3]float64{}, Faces: [][3]int{}}
	if g.nz < 2 || g.ny < 2 || g.nx < 2 {
		return m
	}

	index := make(map[int64]int)
	var vals [8]float64
	step := float64(g.step)

	vertexOn := func(z, y, x, edge int) int {
		a, b := cubeCorners[cubeEdges[edge][0]], cubeCorners[cubeEdges[edge][1]]
		lo, axis := a, 0
		for i := 0; i < 3; i++ {
			if a[i] != b[i] {
				axis = i
				if b[i] < a[i] {
					lo = b
				}
			}
		}
		lz, ly, lx := z+lo[0], y+lo[1], x+lo[2]
		key := (int64(lz)*int64(g.ny)+int64(ly))*int64(g.nx) + int64(lx)
		key = key*3 + int64(axis)
		if id, ok := index[key]; ok {
			return id
		}

		va, vb := vals[cubeEdges[edge][0]], vals[cubeEdges[edge][1]]
		t := 0.5
		if vb != va {
			t = (iso - va) / (vb - va)
		}
		var p [3]float64
		for i := 0; i < 3; i++ {
			ca, cb := float64(a[i]), float64(b[i])
			p[i] = (float64([3]int{z, y, x}[i]) + ca + t*(cb-ca)) * step
		}
		id := len(m.Vertices)
		m.Vertices = append(m.Vertices, p)
		index[key] = id
		return id
	}

	for z := 0; z < g.nz-1; z++ {
		for y := 0; y < g.ny-1; y++ {
			for x := 0; x < g.nx-1; x++ {
				cube := 0
				for k, c := range cubeCorners {
					vals[k] = g.at(z+c[0], y+c[1], x+c[2])
					if vals[k] < iso {
						cube |= 1 << k
					}
				}
				if cube == 0 || cube == 255 {
					continue
				}

				row := &triTable[cube]
				for t := 0; row[t] != -1; t += 3 {
					face := [3]int{
						vertexOn(z, y, x, row[t]),
						vertexOn(z, y, x, row[t+1]),
						vertexOn(z, y, x, row[t+2]),
					}
					if faceTowardsHigh(m, face, &vals, [3]int{z, y, x}, step) {
						face[1], face[2] = face[2], face[1]
					}
					m.Faces = append(m.Faces, face)
				}
			}
		}
	}
	return m
}

// xyz converts a (slice, row, column) point to a vector in (x, y, z) order
func xyz(p [3]float64) r3.Vec {
	return r3.Vec{X: p[2], Y: p[1], Z: p[0]}
}

// faceTowardsHigh reports whether the face normal points towards increasing
// field values, judged by the trilinear gradient of the cell at the face
// centroid
func faceTowardsHigh(m *models.Mesh, face [3]int, vals *[8]float64, cell [3]int, step float64) bool {
	a, b, c := xyz(m.Vertices[face[0]]), xyz(m.Vertices[face[1]]), xyz(m.Vertices[face[2]])
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))

	centroid := r3.Scale(1.0/3, r3.Add(r3.Add(a, b), c))
	// local cell coordinates in [0, 1], (slice, row, column) order
	local := [3]float64{
		centroid.Z/step - float64(cell[0]),
		centroid.Y/step - float64(cell[1]),
		centroid.X/step - float64(cell[2]),
	}

	var grad [3]float64
	for k, o := range cubeCorners {
		var w, dw [3]float64
		for i := 0; i < 3; i++ {
			if o[i] == 1 {
				w[i], dw[i] = local[i], 1
			} else {
				w[i], dw[i] = 1-local[i], -1
			}
		}
		grad[0] += vals[k] * dw[0] * w[1] * w[2]
		grad[1] += vals[k] * w[0] * dw[1] * w[2]
		grad[2] += vals[k] * w[0] * w[1] * dw[2]
	}
	return r3.Dot(n, xyz(grad)) > 0
}

// FromMask extracts the boundary of a tissue mask as an indexed mesh. The mask
// is read as a field of 1.0 (set) and 0.0 (unset) and contoured at 0.5,
// sampling every stride voxels along each axis. Vertex coordinates are in
// voxel-index space of the full-resolution mask.
//
// A mask with no set voxel, or no unset voxel, produces an empty mesh.
func FromMask(mask *models.TissueMask, stride int) (*models.Mesh, error) {
	if stride < 1 {
		return nil, fmt.Errorf("extraction stride must be at least 1, got %d", stride)
	}
	if len(mask.Data) != mask.Shape().Len() {
		return nil, fmt.Errorf("mask data length %d does not match shape %s", len(mask.Data), mask.Shape())
	}
	g := grid{
		nz:   samples(mask.Depth, stride),
		ny:   samples(mask.Rows, stride),
		nx:   samples(mask.Cols, stride),
		step: stride,
		at: func(z, y, x int) float64 {
			if mask.Data[mask.Index(z*stride, y*stride, x*stride)] {
				return 1
			}
			return 0
		},
	}
	return extract(g, 0.5), nil
}

// Validate checks that every face references an existing vertex
func Validate(m *models.Mesh) error {
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("face %d references vertex %d of %d", i, idx, n)
			}
		}
	}
	return nil
}

// MarchingCubes contours a dense float field given in x-fastest order
// (index z*width*height + y*width + x) into STL triangles
type MarchingCubes struct {
	data                 []float64
	width, height, depth int
	isoLevel             float64
	scale                [3]float32
	step                 int
}

// NewMarchingCubes creates a marching cubes instance for a width x height x
// depth field
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		scale:    [3]float32{1, 1, 1},
		step:     1,
	}
}

// SetScale sets the physical size of a voxel along x, y and z
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.scale = [3]float32{x, y, z}
}

// SetStep sets the sampling stride; values below 1 are ignored
func (mc *MarchingCubes) SetStep(step int) {
	if step >= 1 {
		mc.step = step
	}
}

// Mesh returns the indexed surface in voxel coordinates
func (mc *MarchingCubes) Mesh() *models.Mesh {
	if len(mc.data) < mc.width*mc.height*mc.depth {
		return &models.Mesh{Vertices: [][3]float64{}, Faces: [][3]int{}}
	}
	step := mc.step
	g := grid{
		nz:   samples(mc.depth, step),
		ny:   samples(mc.height, step),
		nx:   samples(mc.width, step),
		step: step,
		at: func(z, y, x int) float64 {
			return mc.data[(z*step)*mc.width*mc.height+(y*step)*mc.width+x*step]
		},
	}
	return extract(g, mc.isoLevel)
}

// GenerateTriangles runs the algorithm and returns scaled triangles with
// unit normals
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	return Triangles(mc.Mesh(), mc.scale)
}
