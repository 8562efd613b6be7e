// Package visualization renders preview images of calibrated volumes and
// tissue masks.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"ctmesh/internal/models"
)

// Window maps a Hounsfield range onto the gray scale. Densities below
// Center-Width/2 are black, above Center+Width/2 white.
type Window struct {
	Center float64
	Width  float64
}

var (
	// BrainWindow suits soft tissue inside the skull
	BrainWindow = Window{Center: 40, Width: 80}

	// BoneWindow shows the skull and contrast-filled vessels
	BoneWindow = Window{Center: 300, Width: 1500}
)

func (w Window) gray(hu int16) uint8 {
	if w.Width <= 0 {
		if float64(hu) >= w.Center {
			return 255
		}
		return 0
	}
	lo := w.Center - w.Width/2
	v := (float64(hu) - lo) / w.Width * 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// Layer is a tissue mask drawn over a slice in a solid color
type Layer struct {
	Name  string
	Mask  *models.TissueMask
	Color color.RGBA

	// Window replaces the viewer's gray mapping in this layer's previews
	Window *Window
}

// Viewer extracts axis-aligned slices from a volume
type Viewer struct {
	vol    *models.Volume
	window Window

	// minSide is the length the shorter image side is scaled up to
	minSide int
}

// NewViewer creates a viewer over vol with the bone window
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{vol: vol, window: BoneWindow, minSide: 256}
}

// SetWindow changes the gray-level mapping
func (v *Viewer) SetWindow(w Window) {
	v.window = w
}

// SetMinSide sets the length the shorter side of saved previews is scaled
// to; zero disables scaling
func (v *Viewer) SetMinSide(n int) {
	if n >= 0 {
		v.minSide = n
	}
}

// plane returns the image size for a slice along axis and a function
// mapping image pixels to voxel coordinates
func plane(shape models.Shape, axis string, position int) (int, int, func(px, py int) (int, int, int), error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	depth, rows, cols := shape[0], shape[1], shape[2]
	switch axis {
	case "x", "X":
		if position >= cols {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, cols)
		}
		return depth, rows, func(px, py int) (int, int, int) { return px, py, position }, nil
	case "y", "Y":
		if position >= rows {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, rows)
		}
		return cols, depth, func(px, py int) (int, int, int) { return py, position, px }, nil
	case "z", "Z":
		if position >= depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		return cols, rows, func(px, py int) (int, int, int) { return position, py, px }, nil
	}
	return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a windowed 2D slice along the given axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	w, h, voxel, err := plane(v.vol.Shape(), axis, position)
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			z, y, x := voxel(px, py)
			img.SetGray(px, py, color.Gray{Y: v.window.gray(v.vol.At(z, y, x))})
		}
	}
	return img, nil
}

// Overlay draws each layer's mask over the slice at half opacity
func (v *Viewer) Overlay(axis string, position int, layers ...Layer) (*image.RGBA, error) {
	base, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, image.Point{}, draw.Src)

	_, _, voxel, _ := plane(v.vol.Shape(), axis, position)
	for _, l := range layers {
		if l.Mask.Shape() != v.vol.Shape() {
			return nil, fmt.Errorf("mask %s has shape %s, volume %s", l.Name, l.Mask.Shape(), v.vol.Shape())
		}
		for py := 0; py < out.Rect.Dy(); py++ {
			for px := 0; px < out.Rect.Dx(); px++ {
				if !l.Mask.At(voxel(px, py)) {
					continue
				}
				c := out.RGBAAt(px, py)
				out.SetRGBA(px, py, color.RGBA{
					R: uint8((uint16(c.R) + uint16(l.Color.R)) / 2),
					G: uint8((uint16(c.G) + uint16(l.Color.G)) / 2),
					B: uint8((uint16(c.B) + uint16(l.Color.B)) / 2),
					A: 255,
				})
			}
		}
	}
	return out, nil
}

// Scale resizes img with bilinear filtering so its shorter side is at least
// minSide pixels. Images already large enough are copied unchanged.
func Scale(img image.Image, minSide int) *image.RGBA {
	b := img.Bounds()
	factor := 1
	if short := min(b.Dx(), b.Dy()); short > 0 && minSide > short {
		factor = (minSide + short - 1) / short
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	if factor == 1 {
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		return out
	}
	draw.BiLinear.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

// Label writes text in the top-left corner with a black outline
func Label(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	x, y := 4, 4+face.Metrics().Ascent.Ceil()
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				drawer.Dot = fixed.P(x+dx, y+dy)
				drawer.DrawString(text)
			}
		}
	}
	drawer.Src = image.NewUniform(color.White)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}

// SaveSlice saves an image as PNG
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SavePreviews writes the middle slice along each axis, once plain and once
// per layer with that layer's mask drawn over it in the layer's window. It
// returns the written file paths.
func (v *Viewer) SavePreviews(outputDir string, layers ...Layer) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	shape := v.vol.Shape()
	middle := map[string]int{"z": shape[0] / 2, "y": shape[1] / 2, "x": shape[2] / 2}

	var written []string
	save := func(img *image.RGBA, name, label string) error {
		scaled := Scale(img, v.minSide)
		Label(scaled, label)
		path := filepath.Join(outputDir, name)
		if err := SaveSlice(scaled, path); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	for _, axis := range []string{"z", "y", "x"} {
		pos := middle[axis]
		img, err := v.Overlay(axis, pos)
		if err != nil {
			return written, err
		}
		if err := save(img, fmt.Sprintf("volume_%s_%03d.png", axis, pos), fmt.Sprintf("%s=%d", axis, pos)); err != nil {
			return written, err
		}
		for _, l := range layers {
			lv := v
			if l.Window != nil {
				copied := *v
				copied.SetWindow(*l.Window)
				lv = &copied
			}
			img, err := lv.Overlay(axis, pos, l)
			if err != nil {
				return written, err
			}
			name := fmt.Sprintf("%s_%s_%03d.png", l.Name, axis, pos)
			if err := save(img, name, fmt.Sprintf("%s %s=%d", l.Name, axis, pos)); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}
