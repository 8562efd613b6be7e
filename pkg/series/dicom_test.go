package series

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctmesh/pkg/logger"
)

func mustNewElement(t *testing.T, tg tag.Tag, value interface{}) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	require.NoError(t, err, "element %v", tg)
	return elem
}

// writeCTSlice writes a minimal single-frame CT image with 16-bit unsigned
// samples filled by pixel(x, y)
func writeCTSlice(t *testing.T, path string, rows, cols int, z float64, withPosition bool, pixel func(x, y int) uint16) {
	t.Helper()

	nativeFrame := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			nativeFrame.RawData[y*cols+x] = pixel(x, y)
		}
	}

	elements := []*dicom.Element{
		mustNewElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(t, tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustNewElement(t, tag.SOPInstanceUID, []string{fmt.Sprintf("1.2.826.0.1.3680043.8.498.%d", int(z*10)+5000)}),
		mustNewElement(t, tag.Modality, []string{"CT"}),
		mustNewElement(t, tag.PixelSpacing, []string{"0.500000", "0.750000"}),
		mustNewElement(t, tag.SliceThickness, []string{"5.000000"}),
		mustNewElement(t, tag.SliceLocation, []string{fmt.Sprintf("%.6f", z)}),
		mustNewElement(t, tag.RescaleSlope, []string{"1"}),
		mustNewElement(t, tag.RescaleIntercept, []string{"-1024"}),
		mustNewElement(t, tag.Rows, []int{rows}),
		mustNewElement(t, tag.Columns, []int{cols}),
		mustNewElement(t, tag.BitsAllocated, []int{16}),
		mustNewElement(t, tag.BitsStored, []int{16}),
		mustNewElement(t, tag.HighBit, []int{15}),
		mustNewElement(t, tag.PixelRepresentation, []int{0}),
		mustNewElement(t, tag.SamplesPerPixel, []int{1}),
		mustNewElement(t, tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}
	if withPosition {
		elements = append(elements, mustNewElement(t, tag.ImagePositionPatient, []string{
			"-100.000000", "-100.000000", fmt.Sprintf("%.6f", z),
		}))
	}
	elements = append(elements, mustNewElement(t, tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, dicom.Write(f, dicom.Dataset{Elements: elements}))
}

// TestReadDirRoundTrip writes a small series out of order and reads it back
func TestReadDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	positions := []float64{-95, -100, -90}
	for i, z := range positions {
		z := z
		writeCTSlice(t, filepath.Join(dir, fmt.Sprintf("slice%d.dcm", i)), 3, 4, z, true, func(x, y int) uint16 {
			return uint16(1024 + int(z) + x + 10*y)
		})
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a slice"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NOTDICOM"), []byte("garbage"), 0644))

	slices, err := ReadDir(context.Background(), dir, ReadOptions{Workers: 2, Log: logger.Nop()})
	require.NoError(t, err)
	require.Len(t, slices, 3)

	ordered, err := Assemble(slices)
	require.NoError(t, err)

	var got []float64
	for _, s := range ordered {
		got = append(got, s.Position)
		assert.Equal(t, 3, s.Rows)
		assert.Equal(t, 4, s.Cols)
		assert.Equal(t, [2]float64{0.5, 0.75}, s.PixelSpacing)
		assert.Equal(t, 1.0, s.RescaleSlope)
		assert.Equal(t, -1024.0, s.RescaleIntercept)
		assert.InDelta(t, 5.0, s.Thickness, 1e-9)
	}
	assert.Equal(t, []float64{-100, -95, -90}, got)

	// pixel (x=2, y=1) of the slice at z=-100
	assert.Equal(t, int32(1024-100+2+10), ordered[0].At(1, 2))
}

// TestReadDirSliceLocationOnly verifies files without an image position are
// still usable through the slice location
func TestReadDirSliceLocationOnly(t *testing.T) {
	dir := t.TempDir()
	for i, z := range []float64{4, 0, 2} {
		writeCTSlice(t, filepath.Join(dir, fmt.Sprintf("s%d.DCM", i)), 2, 2, z, false, func(x, y int) uint16 { return 0 })
	}

	slices, err := ReadDir(context.Background(), dir, ReadOptions{})
	require.NoError(t, err)
	for _, s := range slices {
		assert.False(t, s.HasPosition)
		assert.True(t, s.HasSliceLocation)
	}

	ordered, err := Assemble(slices)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ordered[0].SliceLocation)
	assert.Equal(t, 4.0, ordered[2].SliceLocation)
	assert.InDelta(t, 2.0, ordered[0].Thickness, 1e-9)
}

func TestReadDirErrors(t *testing.T) {
	_, err := ReadDir(context.Background(), filepath.Join(t.TempDir(), "missing"), ReadOptions{})
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = ReadDir(context.Background(), empty, ReadOptions{})
	assert.ErrorIs(t, err, ErrEmptySeries)

	broken := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(broken, "bad.dcm"), []byte("nope"), 0644))
	_, err = ReadDir(context.Background(), broken, ReadOptions{})
	assert.Error(t, err)
}
