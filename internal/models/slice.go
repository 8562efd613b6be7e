package models

import "fmt"

// Slice represents a single CT cross-section with its acquisition metadata
type Slice struct {
	// Pixels holds the raw stored sample values in row-major order
	Pixels []int32

	// Rows and Cols are the dimensions of the sample grid
	Rows int
	Cols int

	// Position is the location of the slice along the scan axis
	// (the third component of the patient image position)
	Position float64

	// HasPosition is false when the source carried no explicit position
	HasPosition bool

	// SliceLocation is the scalar scan-axis location attribute, used when
	// positions are missing
	SliceLocation float64

	// HasSliceLocation is false when the source carried no slice location
	HasSliceLocation bool

	// PixelSpacing is the in-plane spacing as (row, column) in mm
	PixelSpacing [2]float64

	// Thickness is the through-plane spacing in mm
	Thickness float64

	// RescaleSlope and RescaleIntercept map stored values to density units
	RescaleSlope     float64
	RescaleIntercept float64

	// Source is the file the slice was read from, if any
	Source string
}

// At returns the raw sample at (row, col)
func (s *Slice) At(row, col int) int32 {
	return s.Pixels[row*s.Cols+col]
}

// Spacing holds the physical voxel size along each volume axis in mm.
// Z runs across slices, Y across rows and X across columns.
type Spacing struct {
	Z, Y, X float64
}

// Valid reports whether every component is strictly positive
func (s Spacing) Valid() bool {
	return s.Z > 0 && s.Y > 0 && s.X > 0
}

// Array returns the spacing in volume axis order
func (s Spacing) Array() [3]float64 {
	return [3]float64{s.Z, s.Y, s.X}
}

// Isotropic returns a spacing of v along every axis
func Isotropic(v float64) Spacing {
	return Spacing{Z: v, Y: v, X: v}
}

// Shape is the number of voxels along (slices, rows, cols)
type Shape [3]int

// Len returns the total voxel count
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2])
}

// Volume represents a calibrated 3D density volume
type Volume struct {
	// Data holds density values indexed as [z][y][x] flattened in row-major order
	Data []int16

	// Depth, Rows and Cols are the dimensions of the volume in voxels
	Depth int
	Rows  int
	Cols  int

	// Spacing is the physical size of each voxel in mm
	Spacing Spacing
}

// NewVolume allocates a zeroed volume of the given shape
func NewVolume(shape Shape, spacing Spacing) *Volume {
	return &Volume{
		Data:    make([]int16, shape.Len()),
		Depth:   shape[0],
		Rows:    shape[1],
		Cols:    shape[2],
		Spacing: spacing,
	}
}

// Shape returns the volume dimensions
func (v *Volume) Shape() Shape {
	return Shape{v.Depth, v.Rows, v.Cols}
}

// Index returns the flat offset of voxel (z, y, x)
func (v *Volume) Index(z, y, x int) int {
	return (z*v.Rows+y)*v.Cols + x
}

// At returns the density at voxel (z, y, x)
func (v *Volume) At(z, y, x int) int16 {
	return v.Data[v.Index(z, y, x)]
}

// TissueMask is a dense boolean volume marking the voxels of one tissue class
type TissueMask struct {
	// Data is indexed like Volume.Data
	Data []bool

	// Depth, Rows and Cols match the source volume
	Depth int
	Rows  int
	Cols  int
}

// NewTissueMask allocates an all-false mask of the given shape
func NewTissueMask(shape Shape) *TissueMask {
	return &TissueMask{
		Data:  make([]bool, shape.Len()),
		Depth: shape[0],
		Rows:  shape[1],
		Cols:  shape[2],
	}
}

// Shape returns the mask dimensions
func (m *TissueMask) Shape() Shape {
	return Shape{m.Depth, m.Rows, m.Cols}
}

// Index returns the flat offset of voxel (z, y, x)
func (m *TissueMask) Index(z, y, x int) int {
	return (z*m.Rows+y)*m.Cols + x
}

// At reports whether voxel (z, y, x) is set
func (m *TissueMask) At(z, y, x int) bool {
	return m.Data[m.Index(z, y, x)]
}

// Count returns the number of set voxels
func (m *TissueMask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Mesh is an indexed triangle mesh in voxel-index coordinates.
// Vertex components follow volume axis order (slice, row, column).
type Mesh struct {
	Vertices [][3]float64 `json:"vertices"`
	Faces    [][3]int     `json:"faces"`
}

// Empty reports whether the mesh has no geometry
func (m *Mesh) Empty() bool {
	return len(m.Vertices) == 0 && len(m.Faces) == 0
}
