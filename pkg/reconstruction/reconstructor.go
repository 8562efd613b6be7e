// Package reconstruction runs the CT to surface mesh pipeline: slice ordering,
// calibration, isotropic resampling, tissue segmentation and marching cubes.
package reconstruction

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ctmesh/internal/models"
	"ctmesh/pkg/calibration"
	"ctmesh/pkg/logger"
	"ctmesh/pkg/mesh"
	"ctmesh/pkg/resample"
	"ctmesh/pkg/segmentation"
	"ctmesh/pkg/series"
)

// Sentinel errors of the pipeline stages. A failed run wraps one of them in
// a *StageError when the cause is known.
var (
	ErrEmptySeries          = series.ErrEmptySeries
	ErrInconsistentGeometry = series.ErrInconsistentGeometry
	ErrMissingLocation      = series.ErrMissingLocation
	ErrInvalidSpacing       = resample.ErrInvalidSpacing
	ErrEmptyMask            = segmentation.ErrEmptyMask
)

// Stage names a pipeline step
type Stage string

const (
	StageLoad      Stage = "load"
	StageCalibrate Stage = "calibrate"
	StageResample  Stage = "resample"
	StageSegment   Stage = "segment"
	StageMesh      Stage = "mesh"
	StageWrite     Stage = "write"
)

// StageError reports which step of the pipeline failed
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Params holds the reconstruction configuration
type Params struct {
	// InputDir is the directory of DICOM slices read by Process
	InputDir string

	// OutputFile is where Process writes the JSON mesh document; empty skips it
	OutputFile string

	// STLDir receives one binary STL per tissue, scaled to millimetres
	STLDir string

	// PreviewDir receives PNG previews of the resampled volume and masks
	PreviewDir string

	// PreviewSize is the length the shorter preview side is scaled up to;
	// zero keeps the viewer default
	PreviewSize int

	// IsoFile receives a binary STL of the resampled volume contoured at
	// IsoHU, independent of segmentation; empty skips it
	IsoFile string
	IsoHU   float64

	// IsoStep is the sampling step of the density surface; zero means 2
	IsoStep int

	// NumCores bounds the goroutines used by each parallel stage
	NumCores int

	// TargetSpacing is the isotropic voxel size in mm; zero means 1 mm
	TargetSpacing float64

	// ChunkDepth is the number of output slices per resampling task
	ChunkDepth int

	// Tissues is the per-class segmentation table; nil means the default table
	Tissues segmentation.Table
}

// Result is the structured output of one run
type Result struct {
	// Meshes holds one mesh per tissue class, possibly empty
	Meshes map[segmentation.TissueClass]*models.Mesh

	// VolumeShape is the (slices, rows, cols) shape of the resampled volume
	VolumeShape models.Shape

	// Spacing is the achieved voxel spacing after resampling
	Spacing models.Spacing

	Stats Stats

	// Volume and Masks are only kept while outputs that draw on them are
	// pending and are never serialized. Process releases them once written.
	Volume *models.Volume
	Masks  map[segmentation.TissueClass]*models.TissueMask
}

// Reconstructor runs the pipeline with fixed parameters
type Reconstructor struct {
	params *Params
	log    *logger.Logger
}

// NewReconstructor creates a reconstructor. A nil logger discards output.
func NewReconstructor(params *Params, log *logger.Logger) *Reconstructor {
	return &Reconstructor{params: params, log: logger.OrNop(log)}
}

func (r *Reconstructor) workers() int {
	if r.params.NumCores > 0 {
		return r.params.NumCores
	}
	return runtime.NumCPU()
}

func (r *Reconstructor) table() segmentation.Table {
	if r.params.Tissues != nil {
		return r.params.Tissues
	}
	return segmentation.DefaultTable()
}

// Run processes an unordered set of slices into one mesh per tissue class.
// Nothing is written to disk. On failure the error is a *StageError and no
// partial result is returned.
func (r *Reconstructor) Run(ctx context.Context, slices []models.Slice) (*Result, error) {
	start := time.Now()
	table := r.table()

	r.log.Info("step 1/5: ordering slices", "slices", len(slices))
	ordered, err := series.Assemble(slices)
	if err != nil {
		return nil, fail(StageLoad, err)
	}

	r.log.Info("step 2/5: calibrating to Hounsfield units")
	vol, err := calibration.ToHounsfield(ordered)
	if err != nil {
		return nil, fail(StageCalibrate, err)
	}
	r.log.Debug("volume calibrated", "shape", vol.Shape().String(), "spacing", vol.Spacing)

	target := r.params.TargetSpacing
	if target == 0 {
		target = 1
	}
	r.log.Info("step 3/5: resampling", "from", vol.Shape().String(), "target", target)
	vol, err = resample.Resample(ctx, vol, models.Isotropic(target), resample.Options{
		Workers:    r.workers(),
		ChunkDepth: r.params.ChunkDepth,
		Log:        r.log,
	})
	if err != nil {
		return nil, fail(StageResample, err)
	}

	r.log.Info("step 4/5: segmenting tissues", "shape", vol.Shape().String())
	masks, err := segmentation.Segment(ctx, vol, table, r.log)
	if err != nil {
		return nil, fail(StageSegment, err)
	}

	r.log.Info("step 5/5: extracting surfaces")
	meshes, err := r.extractMeshes(ctx, masks, table)
	if err != nil {
		return nil, fail(StageMesh, err)
	}

	res := &Result{
		Meshes:      meshes,
		VolumeShape: vol.Shape(),
		Spacing:     vol.Spacing,
	}
	res.Stats = ComputeStats(vol, masks, meshes)
	if r.params.PreviewDir != "" || r.params.IsoFile != "" {
		res.Volume = vol
	}
	if r.params.PreviewDir != "" {
		res.Masks = masks
	}
	r.log.Info("reconstruction finished",
		"shape", res.VolumeShape.String(),
		"minHU", res.Stats.MinHU,
		"maxHU", res.Stats.MaxHU,
		"meanHU", res.Stats.MeanHU,
		"elapsed", time.Since(start))
	return res, nil
}

// extractMeshes runs marching cubes on every mask concurrently
func (r *Reconstructor) extractMeshes(ctx context.Context, masks map[segmentation.TissueClass]*models.TissueMask, table segmentation.Table) (map[segmentation.TissueClass]*models.Mesh, error) {
	var (
		mu     sync.Mutex
		meshes = make(map[segmentation.TissueClass]*models.Mesh, len(masks))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for class, mask := range masks {
		class, mask := class, mask
		stride := table[class].Stride
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started := time.Now()
			m, err := mesh.FromMask(mask, stride)
			if err != nil {
				return fmt.Errorf("%s: %w", class, err)
			}
			if err := mesh.Validate(m); err != nil {
				return fmt.Errorf("%s: %w", class, err)
			}
			r.log.Debug("surface extracted",
				"tissue", class.String(),
				"vertices", len(m.Vertices),
				"faces", len(m.Faces),
				"stride", stride,
				"elapsed", time.Since(started))
			mu.Lock()
			meshes[class] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return meshes, nil
}

// Process reads the slices of InputDir, runs the pipeline and writes the
// configured outputs
func (r *Reconstructor) Process(ctx context.Context) (*Result, error) {
	r.log.Info("reading series", "dir", r.params.InputDir)
	slices, err := series.ReadDir(ctx, r.params.InputDir, series.ReadOptions{
		Workers: r.workers(),
		Log:     r.log,
	})
	if err != nil {
		return nil, fail(StageLoad, err)
	}

	res, err := r.Run(ctx, slices)
	if err != nil {
		return nil, err
	}

	err = r.writeOutputs(res)
	res.Volume, res.Masks = nil, nil
	if err != nil {
		return nil, fail(StageWrite, err)
	}
	return res, nil
}
