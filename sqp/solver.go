package sqp

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// IterationRecord is one row of the solver's iteration log: the merit and
// violation of the assembled baseline, the accepted step size, and whether
// the outer loop declared convergence after this iteration.
type IterationRecord struct {
	Iteration int
	Merit     float64
	Violation float64
	Alpha     float64
	Accepted  bool
	Converged bool
}

// MultipleShootingSolver is the SQP outer loop of spec §4.E: it owns a
// worker pool of provider clones, a QP back-end, and the previous
// converged trajectory for warm-starting subsequent calls, mirroring the
// orchestration style of motionplan's top-level planner and the
// construct-once/run-repeatedly lifecycle of control.Loop.
type MultipleShootingSolver struct {
	operatingTrajectories OperatingTrajectories
	modeScheduleSource    ModeScheduleSource
	qp                    QPBackend
	settings              Settings
	logger                golog.Logger

	workers []Providers
	vd      valueDiscretizer
	sd      sensitivityDiscretizer
	penalty relaxedBarrier

	// nu is the decision-input dimension shared by every interior stage;
	// unlike nx it cannot be recovered from a state vector alone, so the
	// constructor takes it explicitly.
	nu int

	previous     *PrimalSolution
	iterationLog []IterationRecord
	hasRun       bool
}

// NewSolver builds a solver from a base set of providers (worker 0; every
// other worker is an independent clone), the shared QP back-end, and
// settings. nu is the decision-input dimension of interior stages.
func NewSolver(
	base Providers,
	operatingTrajectories OperatingTrajectories,
	modeScheduleSource ModeScheduleSource,
	qp QPBackend,
	settings Settings,
	nu int,
	logger golog.Logger,
) *MultipleShootingSolver {
	settings = settings.normalize()
	if base.Constraint == nil {
		settings.ProjectStateInputEqualityConstraints = false
	}

	var penalty relaxedBarrier
	if base.Constraint != nil && settings.InequalityConstraintMu > 0 {
		penalty = relaxedBarrier{Mu: settings.InequalityConstraintMu, Delta: settings.InequalityConstraintDelta}
	}

	vd, sd := integratorSelector(settings.IntegratorType)

	workers := make([]Providers, settings.NThreads)
	workers[0] = base
	for i := 1; i < settings.NThreads; i++ {
		workers[i] = base.clone()
	}

	return &MultipleShootingSolver{
		operatingTrajectories: operatingTrajectories,
		modeScheduleSource:    modeScheduleSource,
		qp:                    qp,
		settings:              settings,
		logger:                logger,
		workers:               workers,
		vd:                    vd,
		sd:                    sd,
		penalty:               penalty,
		nu:                    nu,
	}
}

// IterationLog returns the record of the most recent Run call. Querying it
// before any solve has run is a caller mistake.
func (s *MultipleShootingSolver) IterationLog() ([]IterationRecord, error) {
	if !s.hasRun {
		return nil, newUsageError("iteration log queried before any solve has run")
	}
	return s.iterationLog, nil
}

// Run executes the SQP outer loop over [t0, tf] from initState, inserting
// a PreEvent/Interior node pair at every time in partitionTimes and every
// event time reported by the configured mode-schedule source.
func (s *MultipleShootingSolver) Run(t0 float64, initState *mat.VecDense, tf float64, partitionTimes []float64) (PrimalSolution, error) {
	eventTimes := append([]float64{}, partitionTimes...)
	var modeSchedule interface{}
	if s.modeScheduleSource != nil {
		eventTimes = append(eventTimes, s.modeScheduleSource.EventTimes()...)
		modeSchedule = s.modeScheduleSource.ModeSchedule()
	}

	grid := Discretize(t0, tf, s.settings.Dt, eventTimes)
	n := len(grid) - 1

	states := s.initializeStates(grid, initState)
	inputs := s.initializeInputs(grid, states)

	s.iterationLog = s.iterationLog[:0]
	s.hasRun = true

	var lastPayloads []StagePayload
	var lastQP QPSolution
	sizesResized := false

	for iter := 0; iter < s.settings.SqpIteration; iter++ {
		payloads, baseline, err := assembleStages(s.workers, s.sd, s.settings, s.penalty, grid, states, inputs)
		if err != nil {
			return PrimalSolution{}, err
		}

		if !sizesResized {
			if err := s.qp.Resize(deriveStageSizes(grid, states, inputs, payloads)); err != nil {
				return PrimalSolution{}, errors.Wrap(err, "solver: qp backend resize failed")
			}
			sizesResized = true
		}

		dx0 := vecZeros(initState.Len())
		qpSolution, err := s.qp.Solve(buildQPProblem(dx0, payloads))
		if err != nil {
			return PrimalSolution{}, newQPFailure(iter, "solve_error", err)
		}
		if qpSolution.Status != QPSuccess {
			return PrimalSolution{}, newQPFailure(iter, "qp_failed", nil)
		}

		dxNorm := trajectoryNorm(qpSolution.Dx)
		duNorm := trajectoryNorm(qpSolution.Du)

		evaluate := func(alpha float64) (PerformanceIndex, error) {
			candStates, candInputs := applyStep(grid, states, inputs, payloads, qpSolution, alpha)
			return computePerformance(s.workers, s.vd, s.settings, s.penalty, grid, candStates, candInputs)
		}

		result, err := filterLineSearch(s.settings, baseline, dxNorm, duNorm, evaluate)
		if err != nil {
			return PrimalSolution{}, err
		}

		if s.settings.PrintLinesearch {
			s.logger.Debugw("line search", "iteration", iter, "alpha", result.Alpha, "accepted", result.Accepted)
		}

		s.iterationLog = append(s.iterationLog, IterationRecord{
			Iteration: iter,
			Merit:     baseline.Merit(),
			Violation: baseline.Violation(),
			Alpha:     result.Alpha,
			Accepted:  result.Accepted,
			Converged: result.Converged,
		})

		if result.Accepted {
			states, inputs = applyStep(grid, states, inputs, payloads, qpSolution, result.Alpha)
			lastPayloads = payloads
			lastQP = qpSolution
		} else if lastPayloads == nil {
			// Never accepted a step: fall back to the first assembled
			// payload/QP pair so the controller synthesis below still
			// has Riccati gains to work with.
			lastPayloads = payloads
			lastQP = qpSolution
		}

		if s.settings.PrintSolverStatus {
			s.logger.Debugw("sqp iteration", "iteration", iter, "merit", baseline.Merit(), "violation", baseline.Violation())
		}

		if result.Converged {
			break
		}
	}

	primal := assemblePrimalSolution(grid, states, inputs, lastPayloads, lastQP, s.settings, modeSchedule)

	if s.settings.PrintSolverStatistics {
		s.logger.Infow("sqp run complete", "iterations", len(s.iterationLog), "stages", n)
	}

	s.previous = &primal
	return primal, nil
}

// initializeStates seeds the state trajectory: initState everywhere on
// the very first call, or initState at i=0 with the remaining nodes
// interpolated from the previous converged trajectory on subsequent calls.
func (s *MultipleShootingSolver) initializeStates(grid []AnnotatedTime, initState *mat.VecDense) []*mat.VecDense {
	n := len(grid) - 1
	states := make([]*mat.VecDense, n+1)
	states[0] = vecCopy(initState)
	for i := 1; i <= n; i++ {
		if s.previous == nil {
			states[i] = vecCopy(initState)
			continue
		}
		states[i] = interpolateTrajectory(s.previous.TimeTrajectory, s.previous.StateTrajectory, grid[i].Time)
	}
	return states
}

// initializeInputs seeds the input trajectory: evaluate the previous
// controller where the new grid overlaps the previous horizon, otherwise
// sample the operating-trajectories provider, otherwise fall back to zero.
func (s *MultipleShootingSolver) initializeInputs(grid []AnnotatedTime, states []*mat.VecDense) []*mat.VecDense {
	n := len(grid) - 1
	inputs := make([]*mat.VecDense, n)
	var prevHorizonEnd float64
	if s.previous != nil && len(s.previous.TimeTrajectory) > 0 {
		prevHorizonEnd = s.previous.TimeTrajectory[len(s.previous.TimeTrajectory)-1]
	}

	for i := 0; i < n; i++ {
		if grid[i].Event == PreEvent {
			inputs[i] = mat.NewVecDense(0, nil)
			continue
		}
		t := grid[i].Time

		if s.previous != nil && t <= prevHorizonEnd {
			if u, err := s.previous.Controller.Evaluate(t, states[i]); err == nil {
				inputs[i] = u
				continue
			}
		}
		if s.operatingTrajectories != nil {
			_, _, us, err := s.operatingTrajectories.Get(states[i], grid[i].Time, grid[i+1].Time)
			if err == nil && len(us) > 0 {
				inputs[i] = us[0]
				continue
			}
		}
		inputs[i] = vecZeros(s.nu)
	}
	return inputs
}

// interpolateTrajectory linearly interpolates a stored state trajectory at
// time t, clamping to the trajectory's endpoints.
func interpolateTrajectory(times []float64, values []*mat.VecDense, t float64) *mat.VecDense {
	if len(times) == 0 {
		return nil
	}
	if t <= times[0] {
		return vecCopy(values[0])
	}
	last := len(times) - 1
	if t >= times[last] {
		return vecCopy(values[last])
	}
	for i := 0; i < last; i++ {
		if t >= times[i] && t <= times[i+1] {
			span := times[i+1] - times[i]
			if span <= 0 {
				return vecCopy(values[i])
			}
			w := (t - times[i]) / span
			out := vecScale(1-w, values[i])
			out.AddVec(out, vecScale(w, values[i+1]))
			return out
		}
	}
	return vecCopy(values[last])
}

// applyStep advances (states, inputs) by alpha along the QP step,
// remapping any projected input back to the full space per spec §4.E's
// post-QP re-mapping formula.
func applyStep(
	grid []AnnotatedTime,
	states, inputs []*mat.VecDense,
	payloads []StagePayload,
	qp QPSolution,
	alpha float64,
) ([]*mat.VecDense, []*mat.VecDense) {
	n := len(grid) - 1
	newStates := make([]*mat.VecDense, n+1)
	for i := 0; i <= n; i++ {
		newStates[i] = vecAdd(states[i], vecScale(alpha, qp.Dx[i]))
	}

	newInputs := make([]*mat.VecDense, n)
	for i := 0; i < n; i++ {
		if grid[i].Event == PreEvent {
			newInputs[i] = inputs[i]
			continue
		}
		duFull := qp.Du[i]
		if payloads[i].hasProjection() {
			proj := payloads[i].Projection
			var duTerm, dxTerm mat.VecDense
			duTerm.MulVec(proj.Dfdu, qp.Du[i])
			dxTerm.MulVec(proj.Dfdx, qp.Dx[i])
			full := vecCopy(proj.F)
			full.AddVec(full, &duTerm)
			full.AddVec(full, &dxTerm)
			duFull = full
		}
		newInputs[i] = vecAdd(inputs[i], vecScale(alpha, duFull))
	}
	return newStates, newInputs
}

// deriveStageSizes reads off the {nx,nu,ng} triple the QP back-end needs
// to resize itself, from the assembled stage payloads and grid.
func deriveStageSizes(grid []AnnotatedTime, states, inputs []*mat.VecDense, payloads []StagePayload) []StageSizes {
	n := len(grid) - 1
	out := make([]StageSizes, n+1)
	for i := 0; i <= n; i++ {
		nu := 0
		if i < n && grid[i].Event != PreEvent {
			nu = inputs[i].Len()
		}
		out[i] = StageSizes{
			Nx: states[i].Len(),
			Nu: nu,
			Ng: payloads[i].Constraints.Equality.F.Len() + payloads[i].Constraints.Inequality.F.Len(),
		}
	}
	return out
}

// buildQPProblem packs assembled stage payloads into the QP back-end's
// contract of spec §4.D.
func buildQPProblem(dx0 *mat.VecDense, payloads []StagePayload) QPProblem {
	n := len(payloads) - 1
	dynamics := make([]LinearApproximation, n)
	cost := make([]QuadraticApproximation, n+1)
	constraints := make([]StagePayloadConstraints, n+1)
	for i := 0; i <= n; i++ {
		cost[i] = payloads[i].Cost
		constraints[i] = payloads[i].Constraints
		if i < n {
			dynamics[i] = payloads[i].Dynamics
		}
	}
	return QPProblem{Dx0: dx0, Dynamics: dynamics, Cost: cost, Constraints: constraints}
}

func trajectoryNorm(vs []*mat.VecDense) float64 {
	sum := 0.0
	for _, v := range vs {
		n := vecNorm2(v)
		sum += n * n
	}
	return math.Sqrt(sum)
}
