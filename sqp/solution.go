package sqp

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Controller is the time-indexed feedforward+gain trajectory synthesized
// from a converged solve (spec §4.E). When Feedback is false, K is empty
// and Evaluate returns the zero-order-hold feedforward sample only.
type Controller struct {
	Feedback bool
	Times    []float64
	Uff      []*mat.VecDense
	K        []*mat.Dense
}

// Evaluate returns u(t) = uff(t) + K(t)*x, sampling the piecewise-constant
// trajectory by zero-order hold at the last node time <= t (clamped to the
// stored horizon). Mirrors the feedforward+feedback split of a live
// controller's Next, but replayed against a stored trajectory.
func (c Controller) Evaluate(t float64, x *mat.VecDense) (*mat.VecDense, error) {
	if len(c.Times) == 0 {
		return nil, newUsageError("controller has no stored trajectory")
	}
	idx := sort.Search(len(c.Times), func(i int) bool { return c.Times[i] > t })
	if idx > 0 {
		idx--
	}

	uff := c.Uff[idx]
	if !c.Feedback {
		return vecCopy(uff), nil
	}
	K := c.K[idx]
	if K == nil {
		return vecCopy(uff), nil
	}
	r, _ := K.Dims()
	if r == 0 {
		return vecCopy(uff), nil
	}

	out := mat.NewVecDense(uff.Len(), nil)
	out.MulVec(K, x)
	out.AddVec(out, uff)
	return out, nil
}

// PrimalSolution is the outer loop's owned result: a time-indexed
// state/input trajectory plus the synthesized controller, per the data
// model of spec §3.
type PrimalSolution struct {
	TimeTrajectory  []float64
	StateTrajectory []*mat.VecDense
	InputTrajectory []*mat.VecDense
	Controller      Controller
	ModeSchedule    interface{}
}

// assemblePrimalSolution builds the final PrimalSolution from the last
// accepted trajectory and its QP solve, applying the controller synthesis
// and event input-trajectory fixup of spec §4.E.
func assemblePrimalSolution(
	grid []AnnotatedTime,
	states, inputs []*mat.VecDense,
	payloads []StagePayload,
	qp QPSolution,
	settings Settings,
	modeSchedule interface{},
) PrimalSolution {
	n := len(grid) - 1
	times := make([]float64, n+1)
	for i := range grid {
		times[i] = grid[i].Time
	}

	inputTrajectory := padInputTrajectory(grid, inputs)

	var controller Controller
	if settings.UseFeedbackPolicy && len(qp.K) == n {
		controller = buildFeedbackController(grid, states, inputTrajectory, payloads, qp)
	} else {
		controller = Controller{Feedback: false, Times: times, Uff: inputTrajectory}
	}

	return PrimalSolution{
		TimeTrajectory:  times,
		StateTrajectory: states,
		InputTrajectory: inputTrajectory,
		Controller:      controller,
		ModeSchedule:    modeSchedule,
	}
}

// padInputTrajectory extends the N-length decision-input trajectory to
// N+1 by duplicating the last entry, then overwrites every PreEvent
// stage's stored input with its predecessor's, per spec §4.E's "input
// trajectory at events" fixup.
func padInputTrajectory(grid []AnnotatedTime, inputs []*mat.VecDense) []*mat.VecDense {
	n := len(grid) - 1
	out := make([]*mat.VecDense, n+1)
	for i := 0; i < n; i++ {
		out[i] = inputs[i]
	}
	if n > 0 {
		out[n] = inputs[n-1]
	} else {
		out[n] = mat.NewVecDense(0, nil)
	}
	for i := 1; i <= n; i++ {
		if grid[i].Event == PreEvent {
			out[i] = out[i-1]
		}
	}
	return out
}

// buildFeedbackController synthesizes the linear controller of spec
// §4.E: uff_i = u_i - K_i^full*x_i, with the projection folded into the
// full-space gain, PreEvent stages repeating their predecessor's
// (uff, K), and a terminal entry (last gain repeated, feedforward taken at
// the terminal state) so |uff|=|K|=|time|.
func buildFeedbackController(
	grid []AnnotatedTime,
	states, inputTrajectory []*mat.VecDense,
	payloads []StagePayload,
	qp QPSolution,
) Controller {
	n := len(grid) - 1
	times := make([]float64, n+1)
	for i := range grid {
		times[i] = grid[i].Time
	}

	uffs := make([]*mat.VecDense, n+1)
	gains := make([]*mat.Dense, n+1)

	var lastUff *mat.VecDense
	var lastK *mat.Dense
	for i := 0; i < n; i++ {
		if grid[i].Event == PreEvent {
			uffs[i], gains[i] = lastUff, lastK
			continue
		}

		Ki := qp.K[i]
		if payloads[i].hasProjection() {
			Ki = fullSpaceGain(payloads[i].Projection, Ki)
		}

		var Kx mat.VecDense
		Kx.MulVec(Ki, states[i])
		uff := vecCopy(inputTrajectory[i])
		uff.SubVec(uff, &Kx)

		uffs[i], gains[i] = uff, Ki
		lastUff, lastK = uff, Ki
	}
	// The terminal node repeats the last gain; its feedforward is taken at
	// the terminal state so the controller reproduces inputTrajectory[n].
	uffs[n], gains[n] = lastUff, lastK
	if lastK != nil {
		var KxN mat.VecDense
		KxN.MulVec(lastK, states[n])
		uffN := vecCopy(inputTrajectory[n])
		uffN.SubVec(uffN, &KxN)
		uffs[n] = uffN
	}

	return Controller{Feedback: true, Times: times, Uff: uffs, K: gains}
}

// fullSpaceGain computes K_full = proj.dfdx + proj.dfdu*K for a stage
// where projection eliminated part of the input.
func fullSpaceGain(proj LinearApproximation, K *mat.Dense) *mat.Dense {
	var duK mat.Dense
	duK.Mul(proj.Dfdu, K)
	out := mat.DenseCopyOf(proj.Dfdx)
	out.Add(out, &duK)
	return out
}
