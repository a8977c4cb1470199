package export

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/dd0wney/cluso-archmap/pkg/algorithms"
)

// Layout names.
const (
	LayoutNone         = ""
	LayoutCircular     = "circular"
	LayoutHierarchical = "hierarchical"
	LayoutForce        = "force"
)

// Position represents a 2D coordinate
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LayoutConfig configures layout parameters
type LayoutConfig struct {
	Width      float64 // Canvas width
	Height     float64 // Canvas height
	Iterations int     // Number of iterations for iterative algorithms
	Padding    float64 // Padding from edges
	Seed       int64   // Seed for the force layout's initial placement
}

func (c LayoutConfig) withDefaults() LayoutConfig {
	if c.Width == 0 {
		c.Width = 1000
	}
	if c.Height == 0 {
		c.Height = 1000
	}
	if c.Iterations == 0 {
		c.Iterations = 50
	}
	if c.Padding == 0 {
		c.Padding = 50
	}
	return c
}

// ComputeLayout positions every node of d; result[i] belongs to d.IDs[i].
// Every layout is deterministic for a given graph and config.
func ComputeLayout(name string, d *algorithms.Digraph, cfg LayoutConfig) ([]Position, error) {
	cfg = cfg.withDefaults()
	switch name {
	case LayoutNone:
		return nil, nil
	case LayoutCircular:
		return circular(d, cfg), nil
	case LayoutHierarchical:
		return hierarchical(d, cfg), nil
	case LayoutForce:
		return force(d, cfg), nil
	default:
		return nil, fmt.Errorf("unknown layout %q", name)
	}
}

func circular(d *algorithms.Digraph, cfg LayoutConfig) []Position {
	positions := make([]Position, d.Len())
	if d.Len() == 0 {
		return positions
	}

	centerX := cfg.Width / 2
	centerY := cfg.Height / 2
	radius := math.Min(centerX, centerY) - cfg.Padding
	angleStep := 2 * math.Pi / float64(d.Len())

	for i := range positions {
		angle := float64(i) * angleStep
		positions[i] = Position{
			X: centerX + radius*math.Cos(angle),
			Y: centerY + radius*math.Sin(angle),
		}
	}
	return positions
}

// hierarchical places nodes on levels by breadth-first distance from the
// nodes nothing depends on.
func hierarchical(d *algorithms.Digraph, cfg LayoutConfig) []Position {
	positions := make([]Position, d.Len())
	if d.Len() == 0 {
		return positions
	}

	var roots []int
	for v := 0; v < d.Len(); v++ {
		if len(d.In[v]) == 0 {
			roots = append(roots, v)
		}
	}
	if len(roots) == 0 {
		roots = []int{0}
	}

	var levels [][]int
	visited := make([]bool, d.Len())
	for _, r := range roots {
		visited[r] = true
	}
	current := roots
	for len(current) > 0 {
		levels = append(levels, current)
		var next []int
		for _, v := range current {
			for _, w := range d.Out[v] {
				if !visited[w] {
					visited[w] = true
					next = append(next, w)
				}
			}
		}
		current = next
	}

	// Nodes only reachable through a cycle join the last level.
	for v := 0; v < d.Len(); v++ {
		if !visited[v] {
			levels[len(levels)-1] = append(levels[len(levels)-1], v)
		}
	}

	levelHeight := (cfg.Height - 2*cfg.Padding) / float64(len(levels))
	levelWidth := cfg.Width - 2*cfg.Padding
	for li, level := range levels {
		y := cfg.Padding + float64(li)*levelHeight + levelHeight/2
		spacing := levelWidth / float64(len(level)+1)
		for ni, v := range level {
			positions[v] = Position{X: cfg.Padding + spacing*float64(ni+1), Y: y}
		}
	}
	return positions
}

// force is a Fruchterman-Reingold layout over the undirected view.
func force(d *algorithms.Digraph, cfg LayoutConfig) []Position {
	n := d.Len()
	positions := make([]Position, n)
	if n == 0 {
		return positions
	}
	if n == 1 {
		positions[0] = Position{X: cfg.Width / 2, Y: cfg.Height / 2}
		return positions
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := range positions {
		positions[i] = Position{
			X: rng.Float64()*(cfg.Width-2*cfg.Padding) + cfg.Padding,
			Y: rng.Float64()*(cfg.Height-2*cfg.Padding) + cfg.Padding,
		}
	}

	u := d.Undirected()
	k := math.Sqrt((cfg.Width * cfg.Height) / float64(n))
	temperature := cfg.Width / 10.0
	forces := make([]Position, n)

	for iter := 0; iter < cfg.Iterations; iter++ {
		for i := range forces {
			forces[i] = Position{}
		}

		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx := positions[i].X - positions[j].X
				dy := positions[i].Y - positions[j].Y
				dist := math.Max(math.Sqrt(dx*dx+dy*dy), 0.01)
				f := (k * k) / dist
				fx, fy := (dx/dist)*f, (dy/dist)*f
				forces[i].X += fx
				forces[i].Y += fy
				forces[j].X -= fx
				forces[j].Y -= fy
			}
		}

		for i := 0; i < n; i++ {
			for _, j := range u.Out[i] {
				if j == i {
					continue
				}
				dx := positions[i].X - positions[j].X
				dy := positions[i].Y - positions[j].Y
				dist := math.Sqrt(dx*dx + dy*dy)
				if dist < 0.01 {
					continue
				}
				f := (dist * dist) / k
				forces[i].X -= (dx / dist) * f
				forces[i].Y -= (dy / dist) * f
			}
		}

		cool := 1.0 - float64(iter)/float64(cfg.Iterations)
		for i := range positions {
			fx, fy := forces[i].X, forces[i].Y
			mag := math.Sqrt(fx*fx + fy*fy)
			if mag > 0 {
				step := math.Min(mag, temperature) * cool
				positions[i].X += (fx / mag) * step
				positions[i].Y += (fy / mag) * step
			}
		}
		temperature *= 0.95
	}

	return normalize(positions, cfg)
}

// normalize scales positions to fit within the canvas.
func normalize(positions []Position, cfg LayoutConfig) []Position {
	minX, maxX := math.MaxFloat64, -math.MaxFloat64
	minY, maxY := math.MaxFloat64, -math.MaxFloat64
	for _, p := range positions {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}

	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX < 0.01 {
		rangeX = 1
	}
	if rangeY < 0.01 {
		rangeY = 1
	}

	targetWidth := cfg.Width - 2*cfg.Padding
	targetHeight := cfg.Height - 2*cfg.Padding
	out := make([]Position, len(positions))
	for i, p := range positions {
		out[i] = Position{
			X: cfg.Padding + ((p.X-minX)/rangeX)*targetWidth,
			Y: cfg.Padding + ((p.Y-minY)/rangeY)*targetHeight,
		}
	}
	return out
}
