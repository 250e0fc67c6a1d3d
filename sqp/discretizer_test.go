package sqp

import (
	"testing"

	"go.viam.com/test"
)

func TestDiscretizeUniformGrid(t *testing.T) {
	grid := Discretize(0, 1.0, 0.1, nil)
	test.That(t, len(grid), test.ShouldEqual, 11)
	test.That(t, grid[0].Time, test.ShouldEqual, 0.0)
	test.That(t, grid[len(grid)-1].Time, test.ShouldEqual, 1.0)
	for _, node := range grid {
		test.That(t, node.Event, test.ShouldEqual, Interior)
	}
}

func TestDiscretizeSplicesEvent(t *testing.T) {
	grid := Discretize(0, 1.0, 0.1, []float64{0.45})

	found := -1
	for i, node := range grid {
		if node.Event == PreEvent {
			found = i
			break
		}
	}
	test.That(t, found, test.ShouldBeGreaterThan, -1)
	test.That(t, grid[found].Time, test.ShouldAlmostEqual, 0.45, 1e-9)
	test.That(t, grid[found+1].Time, test.ShouldAlmostEqual, 0.45, 1e-9)
	test.That(t, grid[found+1].Event, test.ShouldEqual, Interior)
}

func TestDiscretizeIgnoresOutOfRangeEvents(t *testing.T) {
	grid := Discretize(0, 1.0, 0.1, []float64{-1, 0, 1.0, 5})
	for _, node := range grid {
		test.That(t, node.Event, test.ShouldEqual, Interior)
	}
}

func TestDiscretizeSpacingNeverExceedsDt(t *testing.T) {
	grid := Discretize(0, 1.0, 0.3, nil)
	test.That(t, len(grid), test.ShouldEqual, 5)
	for i := 1; i < len(grid); i++ {
		spacing := grid[i].Time - grid[i-1].Time
		test.That(t, spacing, test.ShouldBeLessThanOrEqualTo, 0.3+1e-9)
	}
	test.That(t, grid[len(grid)-1].Time, test.ShouldEqual, 1.0)
}

func TestDiscretizeMergesNearbyPostEventTick(t *testing.T) {
	grid := Discretize(0, 1.0, 0.1, []float64{0.2 - splitTolerance/2})
	interiorCount := 0
	for _, node := range grid {
		if node.Event == Interior {
			interiorCount++
		}
	}
	// The uniform tick at 0.2 must have merged with the post-event node
	// rather than appearing as a separate, near-duplicate Interior entry.
	test.That(t, interiorCount, test.ShouldEqual, 11)
}
