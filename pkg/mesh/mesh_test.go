package mesh

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"ctmesh/internal/models"
)

func sphereField(size int, radius float64) []float64 {
	data := make([]float64, size*size*size)
	center := float64(size) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[z*size*size+y*size+x] = 1
				}
			}
		}
	}
	return data
}

func boxMask(n, lo, hi int) *models.TissueMask {
	m := models.NewTissueMask(models.Shape{n, n, n})
	for z := lo; z <= hi; z++ {
		for y := lo; y <= hi; y++ {
			for x := lo; x <= hi; x++ {
				m.Data[m.Index(z, y, x)] = true
			}
		}
	}
	return m
}

// assertClosedSurface checks that every directed edge is matched by exactly
// one opposite edge, and that the Euler characteristic is that of a sphere
func assertClosedSurface(t *testing.T, m *models.Mesh) {
	t.Helper()
	directed := make(map[[2]int]int)
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			directed[[2]int{f[i], f[(i+1)%3]}]++
		}
	}
	for e, n := range directed {
		assert.Equal(t, 1, n, "directed edge %v used %d times", e, n)
		assert.Equal(t, 1, directed[[2]int{e[1], e[0]}], "edge %v has no opposite", e)
	}
	edges := len(directed) / 2
	assert.Equal(t, 2, len(m.Vertices)-edges+len(m.Faces), "euler characteristic")
}

// TestMarchingCubes verifies a sphere produces enough outward-facing triangles
func TestMarchingCubes(t *testing.T) {
	size := 20
	center := float32(size) / 2
	mc := NewMarchingCubes(sphereField(size, float64(size)/4), size, size, size, 0.5)

	triangles := mc.GenerateTriangles()
	require.GreaterOrEqual(t, len(triangles), 100)

	outward := 0
	for i, tri := range triangles {
		c := r3.Unit(r3.Vec{
			X: float64((tri.Vertex1[0]+tri.Vertex2[0]+tri.Vertex3[0])/3 - center),
			Y: float64((tri.Vertex1[1]+tri.Vertex2[1]+tri.Vertex3[1])/3 - center),
			Z: float64((tri.Vertex1[2]+tri.Vertex2[2]+tri.Vertex3[2])/3 - center),
		})
		dot := r3.Dot(c, r3.Vec{X: float64(tri.Normal[0]), Y: float64(tri.Normal[1]), Z: float64(tri.Normal[2])})
		assert.Greater(t, dot, -0.5, "triangle %d appears to face inward", i)
		if dot > 0 {
			outward++
		}
	}
	assert.Greater(t, float64(outward), 0.9*float64(len(triangles)))
}

// TestSetScale verifies the single-corner case lands on the scaled edge
// midpoints with a normal pointing away from the set corner
func TestSetScale(t *testing.T) {
	data := []float64{
		1, 0,
		0, 0,

		0, 0,
		0, 0,
	}
	mc := NewMarchingCubes(data, 2, 2, 2, 0.5)
	mc.SetScale(2.5, 1.5, 3.0)

	triangles := mc.GenerateTriangles()
	require.Len(t, triangles, 1)
	tri := triangles[0]

	assert.ElementsMatch(t,
		[][3]float32{{1.25, 0, 0}, {0, 0.75, 0}, {0, 0, 1.5}},
		[][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3})
	for _, c := range tri.Normal {
		assert.Greater(t, c, float32(0))
	}

	unscaled := NewMarchingCubes(data, 2, 2, 2, 0.5).GenerateTriangles()
	require.Len(t, unscaled, 1)
	assert.NotEqual(t, tri, unscaled[0])
}

// TestTriangleInterpolation verifies vertices sit between grid points
// TestSetStep verifies a coarser step only samples every other voxel
func TestSetStep(t *testing.T) {
	size := 20
	data := sphereField(size, 5)
	fine := NewMarchingCubes(data, size, size, size, 0.5).Mesh()

	mc := NewMarchingCubes(data, size, size, size, 0.5)
	mc.SetStep(2)
	mc.SetStep(0) // ignored
	coarse := mc.Mesh()
	require.NotEmpty(t, coarse.Faces)
	require.NoError(t, Validate(coarse))
	assert.Less(t, len(coarse.Faces), len(fine.Faces))

	for _, v := range coarse.Vertices {
		onGrid := 0
		for _, c := range v {
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 18.0)
			if c == math.Trunc(c) && int(c)%2 == 0 {
				onGrid++
			}
		}
		assert.GreaterOrEqual(t, onGrid, 2, "vertex %v is off the step 2 grid", v)
	}
}

func TestTriangleInterpolation(t *testing.T) {
	data := []float64{
		1, 0,
		0, 0,

		0, 0,
		0, 0,
	}
	m := NewMarchingCubes(data, 2, 2, 2, 0.75).Mesh()
	require.Len(t, m.Vertices, 3)
	for _, v := range m.Vertices {
		// (0.75 - 1) / (0 - 1) along the one non-zero axis
		assert.InDelta(t, 0.25, v[0]+v[1]+v[2], 1e-12)
	}
}

func TestMarchingCubesShortData(t *testing.T) {
	m := NewMarchingCubes(make([]float64, 7), 2, 2, 2, 0.5).Mesh()
	assert.True(t, m.Empty())
}

// TestFromMaskSingleVoxel verifies one set voxel becomes a closed octahedron
func TestFromMaskSingleVoxel(t *testing.T) {
	mask := models.NewTissueMask(models.Shape{3, 3, 3})
	mask.Data[mask.Index(1, 1, 1)] = true

	m, err := FromMask(mask, 1)
	require.NoError(t, err)
	require.NoError(t, Validate(m))
	assert.Len(t, m.Vertices, 6)
	assert.Len(t, m.Faces, 8)

	center := r3.Vec{X: 1, Y: 1, Z: 1}
	for _, v := range m.Vertices {
		assert.InDelta(t, 0.5, r3.Norm(r3.Sub(xyz(v), center)), 1e-12)
	}
	for _, f := range m.Faces {
		a, b, c := xyz(m.Vertices[f[0]]), xyz(m.Vertices[f[1]]), xyz(m.Vertices[f[2]])
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		out := r3.Sub(r3.Scale(1.0/3, r3.Add(r3.Add(a, b), c)), center)
		assert.Greater(t, r3.Dot(n, out), 0.0)
	}
	assertClosedSurface(t, m)
}

func TestFromMaskBox(t *testing.T) {
	m, err := FromMask(boxMask(8, 2, 5), 1)
	require.NoError(t, err)
	require.NoError(t, Validate(m))
	assert.NotEmpty(t, m.Faces)
	assertClosedSurface(t, m)

	for _, v := range m.Vertices {
		for _, c := range v {
			assert.GreaterOrEqual(t, c, 1.5)
			assert.LessOrEqual(t, c, 5.5)
		}
	}
}

// TestFromMaskStride verifies sampling every other voxel keeps vertices in
// full-resolution coordinates
func TestFromMaskStride(t *testing.T) {
	m, err := FromMask(boxMask(6, 1, 4), 2)
	require.NoError(t, err)
	require.NoError(t, Validate(m))
	require.NotEmpty(t, m.Faces)

	// samples at 0, 2, 4; crossings only between sample 0 and sample 2
	for _, v := range m.Vertices {
		ones := 0
		for _, c := range v {
			switch c {
			case 1:
				ones++
			case 2, 4:
			default:
				t.Errorf("unexpected coordinate %v in vertex %v", c, v)
			}
		}
		assert.Equal(t, 1, ones, "vertex %v", v)
	}
}

// TestFromMaskEmpty verifies uniform masks and degenerate shapes produce
// empty, non-nil meshes
func TestFromMaskEmpty(t *testing.T) {
	cases := map[string]*models.TissueMask{
		"allFalse": models.NewTissueMask(models.Shape{4, 4, 4}),
		"allTrue":  boxMask(4, 0, 3),
		"flat":     boxMask(1, 0, 0),
	}
	for name, mask := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := FromMask(mask, 1)
			require.NoError(t, err)
			assert.True(t, m.Empty())
			assert.NotNil(t, m.Vertices)
			assert.NotNil(t, m.Faces)
		})
	}
}

func TestFromMaskDeterministic(t *testing.T) {
	mask := models.NewTissueMask(models.Shape{12, 12, 12})
	field := sphereField(12, 4)
	for i, v := range field {
		mask.Data[i] = v > 0
	}

	first, err := FromMask(mask, 1)
	require.NoError(t, err)
	second, err := FromMask(mask, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.NoError(t, Validate(first))
}

func TestFromMaskErrors(t *testing.T) {
	_, err := FromMask(boxMask(4, 1, 2), 0)
	assert.Error(t, err)

	bad := boxMask(4, 1, 2)
	bad.Data = bad.Data[:10]
	_, err = FromMask(bad, 1)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	m := &models.Mesh{Vertices: [][3]float64{{0, 0, 0}, {1, 0, 0}}, Faces: [][3]int{{0, 1, 2}}}
	assert.Error(t, Validate(m))
	m.Faces[0][2] = 1
	assert.NoError(t, Validate(m))
}

// TestSaveToSTL verifies the binary layout of a one-triangle file
func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{{
		Normal:  [3]float32{0, 0, 1},
		Vertex1: [3]float32{0, 0, 0},
		Vertex2: [3]float32{1, 0, 0},
		Vertex3: [3]float32{0, 1, 0},
	}}
	path := filepath.Join(t.TempDir(), "one.stl")
	require.NoError(t, SaveToSTL(path, triangles))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 80+4+50)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[80:84]))

	var floats [12]float32
	require.NoError(t, binary.Read(bytes.NewReader(raw[84:132]), binary.LittleEndian, &floats))
	assert.Equal(t, [12]float32{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0}, floats)
}

func TestSaveMeshSTL(t *testing.T) {
	m, err := FromMask(boxMask(5, 1, 3), 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "box.stl")
	require.NoError(t, SaveMeshSTL(path, m, models.Spacing{Z: 2, Y: 1, X: 0.5}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(84+50*len(m.Faces)), info.Size())

	tris := Triangles(m, [3]float32{0.5, 1, 2})
	for _, tri := range tris {
		for _, v := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
			assert.LessOrEqual(t, v[0], float32(1.75))
			assert.LessOrEqual(t, v[2], float32(7))
		}
	}
}

func BenchmarkMarchingCubes(b *testing.B) {
	size := 16
	data := sphereField(size, float64(size)/4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewMarchingCubes(data, size, size, size, 0.5).GenerateTriangles()
	}
}

func BenchmarkFromMask(b *testing.B) {
	mask := boxMask(48, 8, 40)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := FromMask(mask, 2); err != nil {
			b.Fatal(err)
		}
	}
}
