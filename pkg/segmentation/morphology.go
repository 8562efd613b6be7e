package segmentation

import "ctmesh/internal/models"

// Offset is a structuring element displacement in (z, y, x)
type Offset struct {
	dz, dy, dx int
}

// Ball returns the offsets of a solid ball of the given radius,
// i.e. every integer displacement with dz²+dy²+dx² <= radius²
func Ball(radius int) []Offset {
	if radius < 0 {
		return nil
	}
	r2 := radius * radius
	var out []Offset
	for dz := -radius; dz <= radius; dz++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if dz*dz+dy*dy+dx*dx <= r2 {
					out = append(out, Offset{dz, dy, dx})
				}
			}
		}
	}
	return out
}

// Dilate sets a voxel when any voxel under the structuring element is set.
// Voxels outside the grid count as unset.
func Dilate(m *models.TissueMask, se []Offset) *models.TissueMask {
	out := models.NewTissueMask(m.Shape())
	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Rows; y++ {
			for x := 0; x < m.Cols; x++ {
				for _, o := range se {
					zz, yy, xx := z+o.dz, y+o.dy, x+o.dx
					if zz < 0 || yy < 0 || xx < 0 || zz >= m.Depth || yy >= m.Rows || xx >= m.Cols {
						continue
					}
					if m.Data[m.Index(zz, yy, xx)] {
						out.Data[out.Index(z, y, x)] = true
						break
					}
				}
			}
		}
	}
	return out
}

// Erode keeps a voxel only when every voxel under the structuring element is
// set. Voxels outside the grid count as set, so objects touching the border
// are not eaten away from outside.
func Erode(m *models.TissueMask, se []Offset) *models.TissueMask {
	out := models.NewTissueMask(m.Shape())
	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Rows; y++ {
			for x := 0; x < m.Cols; x++ {
				if !m.Data[m.Index(z, y, x)] {
					continue
				}
				keep := true
				for _, o := range se {
					zz, yy, xx := z+o.dz, y+o.dy, x+o.dx
					if zz < 0 || yy < 0 || xx < 0 || zz >= m.Depth || yy >= m.Rows || xx >= m.Cols {
						continue
					}
					if !m.Data[m.Index(zz, yy, xx)] {
						keep = false
						break
					}
				}
				out.Data[out.Index(z, y, x)] = keep
			}
		}
	}
	return out
}

// Close applies dilation followed by erosion with a ball of the given radius
func Close(m *models.TissueMask, radius int) *models.TissueMask {
	if radius <= 0 {
		return m
	}
	se := Ball(radius)
	return Erode(Dilate(m, se), se)
}

// Open applies erosion followed by dilation with a ball of the given radius
func Open(m *models.TissueMask, radius int) *models.TissueMask {
	if radius <= 0 {
		return m
	}
	se := Ball(radius)
	return Dilate(Erode(m, se), se)
}

// RemoveSmallObjects clears every 6-connected component with fewer than
// minSize voxels, in place. It returns the number of components removed.
func RemoveSmallObjects(m *models.TissueMask, minSize int) int {
	if minSize <= 1 {
		return 0
	}
	n := len(m.Data)
	visited := make([]bool, n)
	plane := m.Rows * m.Cols
	var queue, members []int
	removed := 0

	for start := 0; start < n; start++ {
		if !m.Data[start] || visited[start] {
			continue
		}
		visited[start] = true
		queue = append(queue[:0], start)
		members = members[:0]

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			members = append(members, idx)

			z := idx / plane
			y := (idx % plane) / m.Cols
			x := idx % m.Cols

			push := func(j int) {
				if m.Data[j] && !visited[j] {
					visited[j] = true
					queue = append(queue, j)
				}
			}
			if x > 0 {
				push(idx - 1)
			}
			if x < m.Cols-1 {
				push(idx + 1)
			}
			if y > 0 {
				push(idx - m.Cols)
			}
			if y < m.Rows-1 {
				push(idx + m.Cols)
			}
			if z > 0 {
				push(idx - plane)
			}
			if z < m.Depth-1 {
				push(idx + plane)
			}
		}

		if len(members) < minSize {
			for _, idx := range members {
				m.Data[idx] = false
			}
			removed++
		}
	}
	return removed
}
