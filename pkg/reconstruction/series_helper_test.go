package reconstruction

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctmesh/internal/models"
)

// writeSeries stores each slice as an unsigned 16-bit CT image with a -1024
// intercept, one file per slice
func writeSeries(t *testing.T, dir string, slices []models.Slice) {
	t.Helper()
	for i, s := range slices {
		nativeFrame := frame.NewNativeFrame[uint16](16, s.Rows, s.Cols, s.Rows*s.Cols, 1)
		for j, v := range s.Pixels {
			nativeFrame.RawData[j] = uint16(v)
		}

		values := []struct {
			tag   tag.Tag
			value interface{}
		}{
			{tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}},
			{tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}},
			{tag.SOPInstanceUID, []string{fmt.Sprintf("1.2.826.0.1.3680043.8.498.%d", i+1)}},
			{tag.Modality, []string{"CT"}},
			{tag.PixelSpacing, []string{fmt.Sprintf("%f", s.PixelSpacing[0]), fmt.Sprintf("%f", s.PixelSpacing[1])}},
			{tag.SliceThickness, []string{fmt.Sprintf("%f", s.Thickness)}},
			{tag.ImagePositionPatient, []string{"0", "0", fmt.Sprintf("%f", s.Position)}},
			{tag.RescaleSlope, []string{"1"}},
			{tag.RescaleIntercept, []string{"-1024"}},
			{tag.Rows, []int{s.Rows}},
			{tag.Columns, []int{s.Cols}},
			{tag.BitsAllocated, []int{16}},
			{tag.BitsStored, []int{16}},
			{tag.HighBit, []int{15}},
			{tag.PixelRepresentation, []int{0}},
			{tag.SamplesPerPixel, []int{1}},
			{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
			{tag.PixelData, dicom.PixelDataInfo{Frames: []*frame.Frame{{NativeData: nativeFrame}}}},
		}
		elements := make([]*dicom.Element, 0, len(values))
		for _, v := range values {
			elem, err := dicom.NewElement(v.tag, v.value)
			require.NoError(t, err, "element %v", v.tag)
			elements = append(elements, elem)
		}

		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("slice%03d.dcm", i)))
		require.NoError(t, err)
		require.NoError(t, dicom.Write(f, dicom.Dataset{Elements: elements}))
		require.NoError(t, f.Close())
	}
}
