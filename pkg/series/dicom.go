package series

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"ctmesh/internal/models"
	"ctmesh/pkg/logger"
)

// ReadOptions controls how a slice directory is read
type ReadOptions struct {
	// Workers bounds the number of files parsed concurrently
	Workers int

	// Log receives per-file diagnostics
	Log *logger.Logger
}

// ReadDir parses every DICOM file of dir into a slice. Files ending in .dcm
// must parse; extensionless files are tried and skipped when they are not
// DICOM. The result is in directory order, not scan order: pass it to
// Assemble.
func ReadDir(ctx context.Context, dir string, opts ReadOptions) ([]models.Slice, error) {
	log := logger.OrNop(opts.Log)
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read series directory: %w", err)
	}

	type candidate struct {
		path     string
		required bool
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".dcm":
			files = append(files, candidate{filepath.Join(dir, e.Name()), true})
		case "":
			files = append(files, candidate{filepath.Join(dir, e.Name()), false})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	var (
		mu     sync.Mutex
		slices = make([]models.Slice, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := ReadFile(f.path)
			if err != nil {
				if !f.required {
					log.Debug("skipping non-DICOM file", "file", f.path, "err", err)
					return nil
				}
				return err
			}
			mu.Lock()
			slices = append(slices, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(slices, func(i, j int) bool { return slices[i].Source < slices[j].Source })
	log.Info("read slice files", "dir", dir, "slices", len(slices))
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: no DICOM files in %s", ErrEmptySeries, dir)
	}
	return slices, nil
}

// ReadFile parses one single-frame DICOM image
func ReadFile(path string) (models.Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return models.Slice{}, fmt.Errorf("parse %s: %w", path, err)
	}
	s, err := sliceFromDataset(&ds)
	if err != nil {
		return models.Slice{}, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = filepath.Base(path)
	return s, nil
}

func sliceFromDataset(ds *dicom.Dataset) (models.Slice, error) {
	var s models.Slice

	rows, err := intValue(ds, tag.Rows)
	if err != nil {
		return s, err
	}
	cols, err := intValue(ds, tag.Columns)
	if err != nil {
		return s, err
	}
	s.Rows, s.Cols = rows, cols

	spacing, err := floatValues(ds, tag.PixelSpacing)
	if err != nil {
		return s, err
	}
	if len(spacing) < 2 {
		return s, fmt.Errorf("PixelSpacing has %d values, expected 2", len(spacing))
	}
	s.PixelSpacing = [2]float64{spacing[0], spacing[1]}

	if pos, err := floatValues(ds, tag.ImagePositionPatient); err == nil && len(pos) >= 3 {
		s.Position = pos[2]
		s.HasPosition = true
	}
	if loc, err := floatValues(ds, tag.SliceLocation); err == nil && len(loc) > 0 {
		s.SliceLocation = loc[0]
		s.HasSliceLocation = true
	} else if !s.HasPosition {
		return s, errors.New("neither ImagePositionPatient nor SliceLocation is present")
	}
	if th, err := floatValues(ds, tag.SliceThickness); err == nil && len(th) > 0 {
		s.Thickness = th[0]
	}

	s.RescaleSlope = 1
	if v, err := floatValues(ds, tag.RescaleSlope); err == nil && len(v) > 0 {
		s.RescaleSlope = v[0]
	}
	if v, err := floatValues(ds, tag.RescaleIntercept); err == nil && len(v) > 0 {
		s.RescaleIntercept = v[0]
	}

	signed := false
	if v, err := intValue(ds, tag.PixelRepresentation); err == nil {
		signed = v == 1
	}

	s.Pixels, err = pixelValues(ds, rows*cols, signed)
	if err != nil {
		return s, err
	}
	return s, nil
}

func pixelValues(ds *dicom.Dataset, n int, signed bool) ([]int32, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("PixelData: %w", err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, errors.New("PixelData is not pixel data")
	}
	if len(info.Frames) == 0 {
		return nil, errors.New("PixelData holds no frames")
	}
	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return nil, errors.New("encapsulated (compressed) pixel data is not supported")
	}

	out := make([]int32, n)
	switch raw := fr.NativeData.RawDataSlice().(type) {
	case []uint8:
		if len(raw) < n {
			return nil, shortFrame(len(raw), n)
		}
		for i := range out {
			if signed {
				out[i] = int32(int8(raw[i]))
			} else {
				out[i] = int32(raw[i])
			}
		}
	case []uint16:
		if len(raw) < n {
			return nil, shortFrame(len(raw), n)
		}
		for i := range out {
			if signed {
				out[i] = int32(int16(raw[i]))
			} else {
				out[i] = int32(raw[i])
			}
		}
	case []int16:
		if len(raw) < n {
			return nil, shortFrame(len(raw), n)
		}
		for i := range out {
			out[i] = int32(raw[i])
		}
	case []uint32:
		if len(raw) < n {
			return nil, shortFrame(len(raw), n)
		}
		for i := range out {
			out[i] = int32(raw[i])
		}
	case []int32:
		if len(raw) < n {
			return nil, shortFrame(len(raw), n)
		}
		copy(out, raw)
	default:
		return nil, fmt.Errorf("unsupported pixel sample type %T", raw)
	}
	return out, nil
}

func shortFrame(got, want int) error {
	return fmt.Errorf("%w: frame holds %d samples, expected %d", ErrInconsistentGeometry, got, want)
}

func intValue(ds *dicom.Dataset, t tag.Tag) (int, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", tagName(t), err)
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], nil
		}
	case []string:
		if len(v) > 0 {
			return strconv.Atoi(strings.TrimSpace(v[0]))
		}
	}
	return 0, fmt.Errorf("%s has no integer value", tagName(t))
}

func floatValues(ds *dicom.Dataset, t tag.Tag) ([]float64, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tagName(t), err)
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tagName(t), err)
			}
			out = append(out, f)
		}
		return out, nil
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s has no numeric value", tagName(t))
}

func tagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Name
	}
	return t.String()
}
