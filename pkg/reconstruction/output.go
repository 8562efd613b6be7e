package reconstruction

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"ctmesh/internal/models"
	"ctmesh/pkg/mesh"
	"ctmesh/pkg/segmentation"
	"ctmesh/pkg/visualization"
)

// Stats summarizes the resampled volume and the per-tissue outputs
type Stats struct {
	MinHU    float64 `json:"min_hu"`
	MaxHU    float64 `json:"max_hu"`
	MeanHU   float64 `json:"mean_hu"`
	StdHU    float64 `json:"std_hu"`
	MedianHU float64 `json:"median_hu"`

	// Voxels and Faces are keyed by the tissue output key
	Voxels map[string]int `json:"voxels"`
	Faces  map[string]int `json:"faces"`
}

// ComputeStats builds the density summary from a histogram of the volume, so
// the weighted statistics run over at most 65536 distinct values
func ComputeStats(vol *models.Volume, masks map[segmentation.TissueClass]*models.TissueMask, meshes map[segmentation.TissueClass]*models.Mesh) Stats {
	s := Stats{Voxels: map[string]int{}, Faces: map[string]int{}}
	for class, m := range masks {
		s.Voxels[class.OutputKey()] = m.Count()
	}
	for class, m := range meshes {
		s.Faces[class.OutputKey()] = len(m.Faces)
	}
	if len(vol.Data) == 0 {
		return s
	}

	var counts [1 << 16]float64
	for _, v := range vol.Data {
		counts[int(v)+math.MaxInt16+1]++
	}
	var values, weights []float64
	for i, c := range counts {
		if c > 0 {
			values = append(values, float64(i-math.MaxInt16-1))
			weights = append(weights, c)
		}
	}

	s.MinHU = values[0]
	s.MaxHU = values[len(values)-1]
	s.MeanHU = stat.Mean(values, weights)
	if len(vol.Data) > 1 {
		s.StdHU = stat.StdDev(values, weights)
	}
	s.MedianHU = stat.Quantile(0.5, stat.Empirical, values, weights)
	return s
}

// Document is the JSON form of a result
type Document struct {
	Skull       *models.Mesh `json:"skull"`
	Brain       *models.Mesh `json:"brain"`
	Vessels     *models.Mesh `json:"vessels"`
	VolumeShape models.Shape `json:"volume_shape"`
	Spacing     [3]float64   `json:"spacing"`
	Stats       *Stats       `json:"stats,omitempty"`
}

// Document converts the result to its serialized form. Missing meshes are
// written as empty meshes.
func (r *Result) Document() Document {
	get := func(c segmentation.TissueClass) *models.Mesh {
		if m, ok := r.Meshes[c]; ok && m != nil {
			return m
		}
		return &models.Mesh{Vertices: [][3]float64{}, Faces: [][3]int{}}
	}
	stats := r.Stats
	return Document{
		Skull:       get(segmentation.Skull),
		Brain:       get(segmentation.Brain),
		Vessels:     get(segmentation.Vessel),
		VolumeShape: r.VolumeShape,
		Spacing:     r.Spacing.Array(),
		Stats:       &stats,
	}
}

// WriteJSON encodes doc to w
func WriteJSON(w io.Writer, doc Document) error {
	return json.NewEncoder(w).Encode(doc)
}

// DefaultIsoStep is the sampling step of the density surface when none is set
const DefaultIsoStep = 2

// IsoSurface contours the volume at a density threshold. Facets are in
// (x, y, z) order and scaled to millimetres by the volume spacing.
func IsoSurface(vol *models.Volume, hu float64, step int) []mesh.Triangle {
	data := make([]float64, len(vol.Data))
	for i, v := range vol.Data {
		data[i] = float64(v)
	}
	mc := mesh.NewMarchingCubes(data, vol.Cols, vol.Rows, vol.Depth, hu)
	mc.SetScale(float32(vol.Spacing.X), float32(vol.Spacing.Y), float32(vol.Spacing.Z))
	mc.SetStep(step)
	return mc.GenerateTriangles()
}

// previewColors are the overlay colors of each tissue class
var previewColors = map[segmentation.TissueClass]color.RGBA{
	segmentation.Skull:  {R: 255, G: 230, B: 120, A: 255},
	segmentation.Brain:  {R: 255, G: 120, B: 160, A: 255},
	segmentation.Vessel: {R: 220, G: 30, B: 30, A: 255},
}

func (r *Reconstructor) writeOutputs(res *Result) error {
	if path := r.params.OutputFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create mesh file: %w", err)
		}
		if err := WriteJSON(file, res.Document()); err != nil {
			file.Close()
			return fmt.Errorf("failed to write mesh file: %w", err)
		}
		if err := file.Close(); err != nil {
			return err
		}
		r.log.Info("mesh document written", "file", path)
	}

	if dir := r.params.STLDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create STL directory: %w", err)
		}
		for _, class := range segmentation.Classes() {
			m, ok := res.Meshes[class]
			if !ok {
				continue
			}
			path := filepath.Join(dir, class.OutputKey()+".stl")
			if err := mesh.SaveMeshSTL(path, m, res.Spacing); err != nil {
				return fmt.Errorf("%s: %w", class, err)
			}
			r.log.Debug("STL written", "tissue", class.String(), "file", path, "faces", len(m.Faces))
		}
	}

	if path := r.params.IsoFile; path != "" && res.Volume != nil {
		step := r.params.IsoStep
		if step == 0 {
			step = DefaultIsoStep
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create iso-surface directory: %w", err)
		}
		tris := IsoSurface(res.Volume, r.params.IsoHU, step)
		if err := mesh.SaveToSTL(path, tris); err != nil {
			return fmt.Errorf("iso-surface: %w", err)
		}
		r.log.Info("iso-surface written", "file", path, "hu", r.params.IsoHU, "step", step, "triangles", len(tris))
	}

	if dir := r.params.PreviewDir; dir != "" && res.Volume != nil {
		var layers []visualization.Layer
		for _, class := range segmentation.Classes() {
			m, ok := res.Masks[class]
			if !ok {
				continue
			}
			layer := visualization.Layer{Name: class.OutputKey(), Mask: m, Color: previewColors[class]}
			if class == segmentation.Brain {
				w := visualization.BrainWindow
				layer.Window = &w
			}
			layers = append(layers, layer)
		}
		viewer := visualization.NewViewer(res.Volume)
		if r.params.PreviewSize > 0 {
			viewer.SetMinSide(r.params.PreviewSize)
		}
		files, err := viewer.SavePreviews(dir, layers...)
		if err != nil {
			return fmt.Errorf("failed to save previews: %w", err)
		}
		r.log.Debug("previews written", "dir", dir, "files", len(files))
	}
	return nil
}
