// Package world provides the toroidal population grid.
// The grid is bookkeeping only: contacts are sampled among on-grid agents
// regardless of where they were placed.
package world

import (
	"fmt"
	"math"
)

// Coord is a cell position on the grid. X runs over the width, Y over the height.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid is a fixed-size torus sized so that Width*Height equals the population.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Factorize splits n into a near-square (height, width) pair with
// height*width == n. The larger factor not above sqrt(n) becomes the height;
// primes yield (n, 1). n == 1 yields (1, 1) and n <= 0 yields (0, 0).
func Factorize(n int) (height, width int) {
	if n <= 0 {
		return 0, 0
	}
	for i := int(math.Sqrt(float64(n))); i > 1; i-- {
		if n%i == 0 {
			return i, n / i
		}
	}
	return n, 1
}

// NewGrid sizes a grid for the given population.
func NewGrid(population int) (Grid, error) {
	h, w := Factorize(population)
	if h*w != population || population <= 0 {
		return Grid{}, fmt.Errorf("cannot size grid for population %d", population)
	}
	return Grid{Width: w, Height: h}, nil
}

// Cells returns the number of cells on the grid.
func (g Grid) Cells() int {
	return g.Width * g.Height
}

// Wrap maps any coordinate onto the torus.
func (g Grid) Wrap(c Coord) Coord {
	if g.Width <= 0 || g.Height <= 0 {
		return Coord{}
	}
	return Coord{X: mod(c.X, g.Width), Y: mod(c.Y, g.Height)}
}

// Place returns the home cell for the idx-th agent. Agents fill the grid
// column by column: idx / Height selects X, idx % Height selects Y.
func (g Grid) Place(idx int) Coord {
	if g.Height <= 0 {
		return Coord{}
	}
	return g.Wrap(Coord{X: idx / g.Height, Y: idx % g.Height})
}

// String returns a summary of the grid.
func (g Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d)", g.Height, g.Width)
}

func mod(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
