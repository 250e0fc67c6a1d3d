package sqp

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/utils"
)

// Providers bundles one worker's private clone of every polymorphic
// provider the transcriber needs. The solver owns nThreads independent
// sets so concurrent stage evaluation never contends on provider state.
type Providers struct {
	Dynamics           Dynamics
	EventDynamics      EventDynamics
	Cost               Cost
	EventCost          EventCost
	TerminalCost       TerminalCost
	Constraint         Constraint         // nil if unconfigured
	EventConstraint    EventConstraint    // nil if unconfigured
	TerminalConstraint TerminalConstraint // nil if unconfigured
}

func (p Providers) clone() Providers {
	out := Providers{
		Dynamics:     p.Dynamics.Clone(),
		Cost:         p.Cost.Clone(),
		TerminalCost: p.TerminalCost.Clone(),
	}
	if p.EventDynamics != nil {
		out.EventDynamics = p.EventDynamics.Clone()
	}
	if p.EventCost != nil {
		out.EventCost = p.EventCost.Clone()
	}
	if p.Constraint != nil {
		out.Constraint = p.Constraint.Clone()
	}
	if p.EventConstraint != nil {
		out.EventConstraint = p.EventConstraint.Clone()
	}
	if p.TerminalConstraint != nil {
		out.TerminalConstraint = p.TerminalConstraint.Clone()
	}
	return out
}

// assembleStages distributes transcription of stages 0..N across a fixed
// pool of workers via a shared atomic stage counter (spec §4.C): any
// worker may run any interior or event stage, the terminal stage N is
// claimed by whichever worker fetches it, and each stage writes only to
// its own slot so no synchronization is needed on the payload slice.
// Per-worker PerformanceIndex accumulators are reduced with a
// deterministic left fold once every worker has finished (spec §5).
func assembleStages(
	workers []Providers,
	sd sensitivityDiscretizer,
	settings Settings,
	penalty relaxedBarrier,
	grid []AnnotatedTime,
	states []*mat.VecDense,
	inputs []*mat.VecDense,
) ([]StagePayload, PerformanceIndex, error) {
	n := len(grid) - 1
	payloads := make([]StagePayload, n+1)
	perfParts := make([]PerformanceIndex, len(workers))
	errParts := make([]error, len(workers))

	transcribeOne := func(workerIdx, i int) {
		p := workers[workerIdx]
		var (
			payload StagePayload
			perf    PerformanceIndex
			err     error
		)
		switch {
		case i == n:
			payload, perf, err = setupTerminalNode(p.TerminalCost, p.TerminalConstraint, grid[i].Time, states[i])
		case grid[i].Event == PreEvent:
			payload, perf, err = setupEventNode(p.EventDynamics, p.EventCost, p.EventConstraint, grid[i].Time, states[i], states[i+1])
		default:
			dt := grid[i+1].Time - grid[i].Time
			payload, perf, err = setupIntermediateNode(p.Dynamics, sd, p.Cost, p.Constraint, penalty, settings, grid[i].Time, dt, states[i], states[i+1], inputs[i])
		}
		if err != nil {
			errParts[workerIdx] = newProviderError(i, err)
			return
		}
		payloads[i] = payload
		perfParts[workerIdx] = perfParts[workerIdx].Add(perf)
	}

	dispatchStages(len(workers), n, transcribeOne)

	if err := combineProviderErrors(errParts...); err != nil {
		return nil, PerformanceIndex{}, err
	}
	return payloads, sumPerformance(perfParts), nil
}

// dispatchStages runs fn(workerIdx, stage) for stage in [0,n] across
// nWorkers goroutines (the caller is the last worker), consuming stages
// from a shared atomic counter so any worker may claim any stage.
func dispatchStages(nWorkers, n int, fn func(workerIdx, stage int)) {
	var counter atomic.Int64
	runWorker := func(workerIdx int) {
		for {
			i := int(counter.Add(1)) - 1
			if i > n {
				return
			}
			fn(workerIdx, i)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < nWorkers-1; w++ {
		wg.Add(1)
		idx := w
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			runWorker(idx)
		})
	}
	// The calling goroutine is the last worker.
	runWorker(nWorkers - 1)
	wg.Wait()
}

// computePerformance re-evaluates total performance without linearizing —
// the evaluation-only pass the filter line search uses to score a
// candidate step (spec §4.E-2), scheduled with the same worker pool.
func computePerformance(
	workers []Providers,
	vd valueDiscretizer,
	settings Settings,
	penalty relaxedBarrier,
	grid []AnnotatedTime,
	states []*mat.VecDense,
	inputs []*mat.VecDense,
) (PerformanceIndex, error) {
	n := len(grid) - 1
	perfParts := make([]PerformanceIndex, len(workers))
	errParts := make([]error, len(workers))

	evalOne := func(workerIdx, i int) {
		p := workers[workerIdx]
		var (
			perf PerformanceIndex
			err  error
		)
		switch {
		case i == n:
			perf, err = evaluateTerminalPerformance(p.TerminalCost, p.TerminalConstraint, penalty, grid[i].Time, states[i])
		case grid[i].Event == PreEvent:
			perf, err = evaluateEventPerformance(p.EventDynamics, p.EventCost, p.EventConstraint, penalty, grid[i].Time, states[i], states[i+1])
		default:
			dt := grid[i+1].Time - grid[i].Time
			perf, err = evaluateIntermediatePerformance(p.Dynamics, vd, p.Cost, p.Constraint, penalty, grid[i].Time, dt, states[i], states[i+1], inputs[i])
		}
		if err != nil {
			errParts[workerIdx] = newProviderError(i, err)
			return
		}
		perfParts[workerIdx] = perfParts[workerIdx].Add(perf)
	}

	dispatchStages(len(workers), n, evalOne)

	if err := combineProviderErrors(errParts...); err != nil {
		return PerformanceIndex{}, err
	}
	return sumPerformance(perfParts), nil
}
