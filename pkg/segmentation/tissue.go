// Package segmentation classifies calibrated CT voxels into tissue classes by
// density range and cleans the resulting masks morphologically.
package segmentation

import "fmt"

// TissueClass identifies one of the segmented tissues
type TissueClass int

const (
	Skull TissueClass = iota
	Brain
	Vessel
)

// Classes lists every tissue class in output order
func Classes() []TissueClass {
	return []TissueClass{Skull, Brain, Vessel}
}

func (c TissueClass) String() string {
	switch c {
	case Skull:
		return "skull"
	case Brain:
		return "brain"
	case Vessel:
		return "vessel"
	default:
		return fmt.Sprintf("TissueClass(%d)", int(c))
	}
}

// OutputKey is the name used for the class in the mesh document
func (c TissueClass) OutputKey() string {
	if c == Vessel {
		return "vessels"
	}
	return c.String()
}

// Morphology selects the cleanup operation applied to a raw mask
type Morphology int

const (
	// Closing fills small gaps (dilation then erosion)
	Closing Morphology = iota
	// Opening removes thin spurious bridges (erosion then dilation)
	Opening
)

func (m Morphology) String() string {
	if m == Opening {
		return "opening"
	}
	return "closing"
}

// Range is a density predicate. Min is inclusive unless MinExclusive is set;
// Max is inclusive and ignored when Unbounded is set.
type Range struct {
	Min          int
	Max          int
	MinExclusive bool
	Unbounded    bool
}

// Contains reports whether the density v satisfies the predicate
func (r Range) Contains(v int16) bool {
	x := int(v)
	if r.MinExclusive {
		if x <= r.Min {
			return false
		}
	} else if x < r.Min {
		return false
	}
	return r.Unbounded || x <= r.Max
}

func (r Range) String() string {
	lo := fmt.Sprintf("%d <=", r.Min)
	if r.MinExclusive {
		lo = fmt.Sprintf("%d <", r.Min)
	}
	if r.Unbounded {
		return lo + " HU"
	}
	return fmt.Sprintf("%s HU <= %d", lo, r.Max)
}

// Params binds a tissue class to its threshold and cleanup settings
type Params struct {
	Range      Range
	Morphology Morphology
	// Radius of the ball structuring element in voxels; 0 skips morphology
	Radius int
	// MinSize is the smallest 6-connected component kept
	MinSize int
	// Stride is the marching cubes sampling step used for this class
	Stride int
}

// Table maps each tissue class to its parameters
type Table map[TissueClass]Params

// DefaultTable returns the standard head CT thresholds
func DefaultTable() Table {
	return Table{
		Skull: {
			Range:      Range{Min: 350, MinExclusive: true, Unbounded: true},
			Morphology: Closing,
			Radius:     2,
			MinSize:    1000,
			Stride:     3,
		},
		Brain: {
			Range:      Range{Min: 20, Max: 80},
			Morphology: Closing,
			Radius:     1,
			MinSize:    500,
			Stride:     2,
		},
		Vessel: {
			Range:      Range{Min: 100, Max: 200},
			Morphology: Opening,
			Radius:     1,
			MinSize:    50,
			Stride:     1,
		},
	}
}

// Classify returns every class of the table whose range contains v
func (t Table) Classify(v int16) []TissueClass {
	var out []TissueClass
	for _, c := range Classes() {
		if p, ok := t[c]; ok && p.Range.Contains(v) {
			out = append(out, c)
		}
	}
	return out
}
