package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctmesh/internal/models"
)

func slice(pixels []int32, slope, intercept float64) models.Slice {
	return models.Slice{
		Pixels:           pixels,
		Rows:             1,
		Cols:             len(pixels),
		PixelSpacing:     [2]float64{0.5, 0.5},
		Thickness:        2.5,
		RescaleSlope:     slope,
		RescaleIntercept: intercept,
	}
}

// TestIdentityCalibration verifies slope 1 / intercept 0 leaves values as is
// apart from the outside-scan sentinel
func TestIdentityCalibration(t *testing.T) {
	raw := []int32{-2000, -1999, -1024, 0, 1, 350, 3000}
	vol, err := ToHounsfield([]models.Slice{slice(raw, 1, 0)})
	require.NoError(t, err)

	assert.Equal(t, []int16{0, -1999, -1024, 0, 1, 350, 3000}, vol.Data)
	assert.Equal(t, models.Spacing{Z: 2.5, Y: 0.5, X: 0.5}, vol.Spacing)
	assert.Equal(t, models.Shape{1, 1, 7}, vol.Shape())
}

func TestRescale(t *testing.T) {
	cases := []struct {
		raw              int32
		slope, intercept float64
		want             int16
	}{
		{1024, 1, -1024, 0},
		{0, 1, -1024, -1024},
		{-2000, 1, -1024, -1024},
		{63536, 1, -1024, -1024},
		{63535, 1, 0, math.MaxInt16},
		{100, 2, -1000, -800},
		{3, 0.5, 0, 1},
		{-3, 0.5, 0, -1},
		{40000, 1, 0, math.MaxInt16},
		{-40000, 1, 0, math.MinInt16},
		{10, 1, -0.7, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Rescale(c.raw, c.slope, c.intercept), "%+v", c)
	}
}

// TestPerSliceRescale verifies each slice uses its own slope and intercept
func TestPerSliceRescale(t *testing.T) {
	slices := []models.Slice{
		slice([]int32{1024, 2048}, 1, -1024),
		slice([]int32{1024, 2048}, 2, -1024),
		slice([]int32{1024, 2048}, 0, 0),
	}
	vol, err := ToHounsfield(slices)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 1024, 1024, 3072, 1024, 2048}, vol.Data)
}

func TestToHounsfieldErrors(t *testing.T) {
	_, err := ToHounsfield(nil)
	assert.ErrorIs(t, err, ErrEmptySeries)

	bad := slice([]int32{1}, 1, 0)
	bad.Thickness = 0
	_, err = ToHounsfield([]models.Slice{bad})
	assert.ErrorIs(t, err, ErrInvalidSpacing)

	_, err = ToHounsfield([]models.Slice{slice([]int32{1, 2}, 1, 0), slice([]int32{1}, 1, 0)})
	assert.ErrorIs(t, err, models.ErrInconsistentGeometry)
}
