package segmentation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ctmesh/internal/models"
	"ctmesh/pkg/logger"
)

// ErrEmptyMask reports a tissue mask without any set voxel. Segment never
// returns it; it is logged and the mask is handed on as is.
var ErrEmptyMask = models.ErrEmptyMask

// Threshold builds the raw mask of voxels whose density satisfies r
func Threshold(vol *models.Volume, r Range) *models.TissueMask {
	mask := models.NewTissueMask(vol.Shape())
	for i, v := range vol.Data {
		mask.Data[i] = r.Contains(v)
	}
	return mask
}

// Mask runs the full per-class sequence: threshold, morphology, then
// small component removal
func Mask(vol *models.Volume, p Params) (*models.TissueMask, error) {
	if p.Radius < 0 {
		return nil, fmt.Errorf("negative structuring element radius %d", p.Radius)
	}
	mask := Threshold(vol, p.Range)
	switch p.Morphology {
	case Closing:
		mask = Close(mask, p.Radius)
	case Opening:
		mask = Open(mask, p.Radius)
	default:
		return nil, fmt.Errorf("unknown morphology %d", int(p.Morphology))
	}
	RemoveSmallObjects(mask, p.MinSize)
	return mask, nil
}

// Segment builds one mask per class of the table. Classes are processed
// concurrently against the shared, read-only volume.
func Segment(ctx context.Context, vol *models.Volume, table Table, log *logger.Logger) (map[TissueClass]*models.TissueMask, error) {
	log = logger.OrNop(log)
	if len(vol.Data) != vol.Shape().Len() {
		return nil, fmt.Errorf("volume data length %d does not match shape %s", len(vol.Data), vol.Shape())
	}

	var (
		mu    sync.Mutex
		masks = make(map[TissueClass]*models.TissueMask, len(table))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, class := range Classes() {
		p, ok := table[class]
		if !ok {
			continue
		}
		class := class
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			mask, err := Mask(vol, p)
			if err != nil {
				return fmt.Errorf("segment %s: %w", class, err)
			}
			count := mask.Count()
			if count == 0 {
				log.Warn("tissue mask is empty", "tissue", class.String(), "range", p.Range.String(), "err", ErrEmptyMask)
			} else {
				log.Debug("tissue segmented",
					"tissue", class.String(),
					"voxels", count,
					"morphology", p.Morphology.String(),
					"radius", p.Radius,
					"elapsed", time.Since(start))
			}
			mu.Lock()
			masks[class] = mask
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return masks, nil
}
