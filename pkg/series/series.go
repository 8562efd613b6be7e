// Package series turns an unordered set of CT slices into a coherent,
// position-ordered series.
package series

import (
	"fmt"
	"math"
	"sort"

	"ctmesh/internal/models"
)

var (
	ErrEmptySeries          = models.ErrEmptySeries
	ErrInconsistentGeometry = models.ErrInconsistentGeometry
	ErrMissingLocation      = models.ErrMissingLocation
)

// Assemble orders slices by ascending scan-axis position and assigns one
// uniform thickness to all of them.
//
// The sort key is the explicit image position when every slice carries one,
// and the slice location attribute otherwise, in which case every slice must
// carry one. The thickness is the absolute
// key difference of the two leading sorted slices; this assumes uniform
// spacing across the series. A lone slice keeps its own thickness, or 1 mm
// when it has none.
//
// The input is not modified.
func Assemble(slices []models.Slice) ([]models.Slice, error) {
	if len(slices) == 0 {
		return nil, ErrEmptySeries
	}

	rows, cols := slices[0].Rows, slices[0].Cols
	for _, s := range slices {
		if s.Rows != rows || s.Cols != cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrInconsistentGeometry, describe(s), s.Rows, s.Cols, rows, cols)
		}
		if len(s.Pixels) != rows*cols {
			return nil, fmt.Errorf("%w: %s holds %d samples for a %dx%d grid",
				ErrInconsistentGeometry, describe(s), len(s.Pixels), rows, cols)
		}
	}

	usePosition := true
	for _, s := range slices {
		if !s.HasPosition {
			usePosition = false
			break
		}
	}
	if !usePosition && len(slices) > 1 {
		for _, s := range slices {
			if !s.HasSliceLocation {
				return nil, fmt.Errorf("%w: %s has neither an image position nor a slice location",
					ErrMissingLocation, describe(s))
			}
		}
	}
	key := func(s *models.Slice) float64 {
		if usePosition {
			return s.Position
		}
		return s.SliceLocation
	}

	ordered := make([]models.Slice, len(slices))
	copy(ordered, slices)
	sort.SliceStable(ordered, func(i, j int) bool {
		ki, kj := key(&ordered[i]), key(&ordered[j])
		if ki != kj {
			return ki < kj
		}
		return ordered[i].Source < ordered[j].Source
	})

	var thickness float64
	if len(ordered) > 1 {
		thickness = math.Abs(key(&ordered[0]) - key(&ordered[1]))
	} else {
		thickness = ordered[0].Thickness
		if thickness <= 0 {
			thickness = 1
		}
	}
	for i := range ordered {
		ordered[i].Thickness = thickness
	}
	return ordered, nil
}

func describe(s models.Slice) string {
	if s.Source != "" {
		return s.Source
	}
	if s.HasPosition {
		return fmt.Sprintf("slice at %g", s.Position)
	}
	if s.HasSliceLocation {
		return fmt.Sprintf("slice at location %g", s.SliceLocation)
	}
	return "unnamed slice"
}
