// Package calibration converts raw CT samples into Hounsfield units.
package calibration

import (
	"fmt"
	"math"

	"ctmesh/internal/models"
)

// OutsideScan is the raw value scanners store for pixels outside the
// reconstruction circle. It is mapped to 0 before rescaling.
const OutsideScan = -2000

// outsideScanUnsigned is the same 16-bit word read as an unsigned sample
const outsideScanUnsigned = OutsideScan + 1<<16

var (
	ErrEmptySeries    = models.ErrEmptySeries
	ErrInvalidSpacing = models.ErrInvalidSpacing
)

// Rescale converts a single raw sample to density units. The sentinel is
// matched on the 16-bit word, so an unsigned 63536 also counts as outside.
// The product is computed in float64 and truncated toward zero when
// slope != 1; the integer part of the intercept is then added and the result
// saturated to int16.
func Rescale(raw int32, slope, intercept float64) int16 {
	if raw == OutsideScan || raw == outsideScanUnsigned {
		raw = 0
	}
	v := float64(raw)
	if slope != 1 {
		v = math.Trunc(v * slope)
	}
	v += math.Trunc(intercept)
	return saturate(v)
}

func saturate(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// ToHounsfield stacks ordered slices into one calibrated volume. Each slice
// is rescaled with its own slope and intercept. The volume spacing is
// (thickness, row spacing, column spacing) of the first slice.
func ToHounsfield(slices []models.Slice) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrEmptySeries
	}
	first := slices[0]
	spacing := models.Spacing{
		Z: first.Thickness,
		Y: first.PixelSpacing[0],
		X: first.PixelSpacing[1],
	}
	if !spacing.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidSpacing, spacing)
	}

	vol := models.NewVolume(models.Shape{len(slices), first.Rows, first.Cols}, spacing)
	plane := first.Rows * first.Cols
	for z, s := range slices {
		if s.Rows != first.Rows || s.Cols != first.Cols || len(s.Pixels) != plane {
			return nil, fmt.Errorf("%w: slice %d has %dx%d samples (%d values), expected %dx%d", models.ErrInconsistentGeometry,
				z, s.Rows, s.Cols, len(s.Pixels), first.Rows, first.Cols)
		}
		slope := s.RescaleSlope
		if slope == 0 {
			slope = 1
		}
		dst := vol.Data[z*plane : (z+1)*plane]
		for i, raw := range s.Pixels {
			dst[i] = Rescale(raw, slope, s.RescaleIntercept)
		}
	}
	return vol, nil
}
