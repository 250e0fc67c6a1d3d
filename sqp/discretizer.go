package sqp

import (
	"math"
	"sort"
)

// splitTolerance is the merge tolerance epsilon of spec §4.A: a post-event
// node within this distance of the next uniform tick is merged into it.
const splitTolerance = 1e-6

// Discretize builds a time grid over [t0,tf] with nominal spacing dt,
// splicing a PreEvent/Interior node pair at every event time strictly
// inside the horizon. Event times at or outside the horizon are ignored.
// The first and last nodes are always Interior.
func Discretize(t0, tf, dt float64, eventTimes []float64) []AnnotatedTime {
	if dt <= 0 {
		dt = tf - t0
	}
	// Ceil, not round: spacing must never exceed dt, so a horizon that
	// isn't an exact multiple of dt gets one extra, shorter step rather
	// than being rounded down to a step wider than dt.
	n := int(math.Ceil((tf-t0)/dt - splitTolerance))
	if n < 1 {
		n = 1
	}
	step := (tf - t0) / float64(n)

	grid := make([]AnnotatedTime, 0, n+1)
	for i := 0; i <= n; i++ {
		grid = append(grid, AnnotatedTime{Time: t0 + float64(i)*step, Event: Interior})
	}
	grid[0].Time = t0
	grid[len(grid)-1].Time = tf

	events := make([]float64, 0, len(eventTimes))
	for _, te := range eventTimes {
		if te > t0+splitTolerance && te < tf-splitTolerance {
			events = append(events, te)
		}
	}
	sort.Float64s(events)

	for _, te := range events {
		grid = spliceEvent(grid, te)
	}
	return grid
}

// spliceEvent inserts a PreEvent node at te followed by an Interior node
// at te into grid, merging the post-event node with the next uniform tick
// when they fall within splitTolerance of each other.
func spliceEvent(grid []AnnotatedTime, te float64) []AnnotatedTime {
	idx := sort.Search(len(grid), func(i int) bool { return grid[i].Time >= te })

	out := make([]AnnotatedTime, 0, len(grid)+2)
	out = append(out, grid[:idx]...)
	out = append(out, AnnotatedTime{Time: te, Event: PreEvent})

	if idx < len(grid) && grid[idx].Time-te <= splitTolerance {
		// The following uniform tick coincides with the post-event node;
		// keep it as the single Interior node right after the event.
		out = append(out, AnnotatedTime{Time: te, Event: Interior})
		out = append(out, grid[idx+1:]...)
		return out
	}

	out = append(out, AnnotatedTime{Time: te, Event: Interior})
	out = append(out, grid[idx:]...)
	return out
}
