// Package resample converts anisotropic CT volumes into isotropic grids.
package resample

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"ctmesh/internal/models"
	"ctmesh/pkg/logger"
)

var ErrInvalidSpacing = models.ErrInvalidSpacing

// Options controls how the interpolation work is split
type Options struct {
	// Workers is the number of slabs interpolated concurrently
	Workers int

	// ChunkDepth is the number of output slices per slab
	ChunkDepth int

	Log *logger.Logger
}

// Plan describes the shape and spacing change of one resampling
type Plan struct {
	InShape    models.Shape
	OutShape   models.Shape
	InSpacing  models.Spacing
	OutSpacing models.Spacing
}

// NewPlan computes the output grid for resampling a volume of the given
// shape and spacing towards target. Each axis is scaled by
// native/target and rounded half to even; the achieved spacing is then
// recomputed from the rounded shape so that spacing*shape is preserved.
func NewPlan(shape models.Shape, native, target models.Spacing) (Plan, error) {
	if !native.Valid() {
		return Plan{}, fmt.Errorf("%w: native spacing %+v", ErrInvalidSpacing, native)
	}
	if !target.Valid() {
		return Plan{}, fmt.Errorf("%w: target spacing %+v", ErrInvalidSpacing, target)
	}
	for axis, n := range shape {
		if n < 1 {
			return Plan{}, fmt.Errorf("axis %d has %d voxels", axis, n)
		}
	}

	in := native.Array()
	want := target.Array()
	var out models.Shape
	var spacing [3]float64
	for axis := 0; axis < 3; axis++ {
		scaled := float64(shape[axis]) * in[axis] / want[axis]
		n := int(math.RoundToEven(scaled))
		if n < 1 {
			n = 1
		}
		out[axis] = n
		factor := float64(n) / float64(shape[axis])
		spacing[axis] = in[axis] / factor
		if spacing[axis] <= 0 || math.IsInf(spacing[axis], 0) || math.IsNaN(spacing[axis]) {
			return Plan{}, fmt.Errorf("%w: corrected spacing %g on axis %d", ErrInvalidSpacing, spacing[axis], axis)
		}
	}

	return Plan{
		InShape:    shape,
		OutShape:   out,
		InSpacing:  native,
		OutSpacing: models.Spacing{Z: spacing[0], Y: spacing[1], X: spacing[2]},
	}, nil
}

// axisSamples holds, for every output index, the two bracketing input
// indices and the weight of the upper one
type axisSamples struct {
	lo, hi []int
	w      []float64
}

// sampleAxis maps output index i to input coordinate i*(in-1)/(out-1),
// the corner-aligned convention, clamping the upper neighbour to the edge
func sampleAxis(in, out int) axisSamples {
	s := axisSamples{lo: make([]int, out), hi: make([]int, out), w: make([]float64, out)}
	for i := 0; i < out; i++ {
		var coord float64
		if out > 1 {
			coord = float64(i) * float64(in-1) / float64(out-1)
		}
		lo := int(math.Floor(coord))
		if lo < 0 {
			lo = 0
		}
		if lo > in-1 {
			lo = in - 1
		}
		hi := lo + 1
		if hi > in-1 {
			hi = in - 1
		}
		s.lo[i], s.hi[i], s.w[i] = lo, hi, coord-float64(lo)
	}
	return s
}

// Resample interpolates vol onto the isotropic grid for target spacing using
// trilinear interpolation. The output is produced in independent slabs of
// ChunkDepth slices; every voxel depends only on its own coordinates, so the
// result does not depend on the chunking or worker count.
func Resample(ctx context.Context, vol *models.Volume, target models.Spacing, opts Options) (*models.Volume, error) {
	log := logger.OrNop(opts.Log)
	if len(vol.Data) != vol.Shape().Len() {
		return nil, fmt.Errorf("volume data length %d does not match shape %s", len(vol.Data), vol.Shape())
	}
	plan, err := NewPlan(vol.Shape(), vol.Spacing, target)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	chunk := opts.ChunkDepth
	if chunk < 1 {
		chunk = 8
	}

	start := time.Now()
	out := models.NewVolume(plan.OutShape, plan.OutSpacing)
	zs := sampleAxis(vol.Depth, out.Depth)
	ys := sampleAxis(vol.Rows, out.Rows)
	xs := sampleAxis(vol.Cols, out.Cols)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for z0 := 0; z0 < out.Depth; z0 += chunk {
		z0 := z0
		z1 := z0 + chunk
		if z1 > out.Depth {
			z1 = out.Depth
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			interpolateSlab(vol, out, zs, ys, xs, z0, z1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("volume resampled",
		"from", plan.InShape.String(),
		"to", plan.OutShape.String(),
		"spacing", plan.OutSpacing,
		"elapsed", time.Since(start))
	return out, nil
}

func interpolateSlab(in, out *models.Volume, zs, ys, xs axisSamples, z0, z1 int) {
	plane := in.Rows * in.Cols
	for z := z0; z < z1; z++ {
		za, zb, wz := zs.lo[z]*plane, zs.hi[z]*plane, zs.w[z]
		for y := 0; y < out.Rows; y++ {
			ya, yb, wy := ys.lo[y]*in.Cols, ys.hi[y]*in.Cols, ys.w[y]
			dst := out.Data[out.Index(z, y, 0):]
			for x := 0; x < out.Cols; x++ {
				xa, xb, wx := xs.lo[x], xs.hi[x], xs.w[x]

				c00 := lerp(float64(in.Data[za+ya+xa]), float64(in.Data[za+ya+xb]), wx)
				c01 := lerp(float64(in.Data[za+yb+xa]), float64(in.Data[za+yb+xb]), wx)
				c10 := lerp(float64(in.Data[zb+ya+xa]), float64(in.Data[zb+ya+xb]), wx)
				c11 := lerp(float64(in.Data[zb+yb+xa]), float64(in.Data[zb+yb+xb]), wx)

				v := lerp(lerp(c00, c01, wy), lerp(c10, c11, wy), wz)
				dst[x] = toInt16(v)
			}
		}
	}
}

func lerp(a, b, w float64) float64 {
	if w == 0 {
		return a
	}
	return a + (b-a)*w
}

func toInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
