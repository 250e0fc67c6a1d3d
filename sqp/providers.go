package sqp

import "gonum.org/v1/gonum/mat"

// Dynamics evaluates a continuous-time dynamics model f(t,x,u) and its
// Jacobians. Implementations are cloned once per worker by the solver so
// that concurrent evaluation never contends on provider-internal caches.
type Dynamics interface {
	// Evaluate returns f(t,x,u).
	Evaluate(t float64, x, u *mat.VecDense) (*mat.VecDense, error)
	// Linearize returns the affine model f + A*dx + B*du around (t,x,u).
	Linearize(t float64, x, u *mat.VecDense) (LinearApproximation, error)
	// Clone returns an independent deep copy for use by another worker.
	Clone() Dynamics
}

// EventDynamics evaluates a state jump map g(t,x) at an event boundary,
// where no decision input exists.
type EventDynamics interface {
	Evaluate(t float64, x *mat.VecDense) (*mat.VecDense, error)
	Linearize(t float64, x *mat.VecDense) (LinearApproximation, error)
	Clone() EventDynamics
}

// Cost evaluates a stage cost and its quadratic expansion around (t,x,u).
// Terminal costs are evaluated through TerminalCost instead.
type Cost interface {
	Evaluate(t float64, x, u *mat.VecDense) (float64, error)
	QuadraticApprox(t float64, x, u *mat.VecDense) (QuadraticApproximation, error)
	Clone() Cost
}

// TerminalCost evaluates a terminal cost and its quadratic expansion
// around (t,x) only.
type TerminalCost interface {
	Evaluate(t float64, x *mat.VecDense) (float64, error)
	QuadraticApprox(t float64, x *mat.VecDense) (QuadraticApproximation, error)
	Clone() TerminalCost
}

// EventCost evaluates a cost incurred at an event boundary, at (t,x) only.
type EventCost interface {
	Evaluate(t float64, x *mat.VecDense) (float64, error)
	QuadraticApprox(t float64, x *mat.VecDense) (QuadraticApproximation, error)
	Clone() EventCost
}

// Constraint evaluates stacked state-input equality and inequality
// constraints and their Jacobians at (t,x,u).
type Constraint interface {
	// Equality returns the linearized equality residual C*dx + D*du + e.
	Equality(t float64, x, u *mat.VecDense) (LinearApproximation, error)
	// Inequality returns the linearized inequality residual; violation
	// means the residual is positive.
	Inequality(t float64, x, u *mat.VecDense) (LinearApproximation, error)
	Clone() Constraint
}

// EventConstraint evaluates constraints at an event boundary, at (t,x) only.
type EventConstraint interface {
	Equality(t float64, x *mat.VecDense) (LinearApproximation, error)
	Inequality(t float64, x *mat.VecDense) (LinearApproximation, error)
	Clone() EventConstraint
}

// TerminalConstraint evaluates constraints at the terminal node.
type TerminalConstraint interface {
	Equality(t float64, x *mat.VecDense) (LinearApproximation, error)
	Inequality(t float64, x *mat.VecDense) (LinearApproximation, error)
	Clone() TerminalConstraint
}

// OperatingTrajectories seeds an initial guess for times beyond the
// previous horizon: given a state and a time window it returns candidate
// (times, states, inputs) samples on that window.
type OperatingTrajectories interface {
	Get(x *mat.VecDense, tLo, tHi float64) (times []float64, states, inputs []*mat.VecDense, err error)
}

// ModeScheduleSource exposes the event times and a mode-schedule snapshot
// pulled once per Run call.
type ModeScheduleSource interface {
	EventTimes() []float64
	ModeSchedule() interface{}
}

// StageSizes describes the decision-variable and constraint dimensions of
// a single QP stage, as required by the QP backend's resize contract.
type StageSizes struct {
	Nx int
	Nu int
	Ng int
}

// QPStatus reports the outcome of a QP solve.
type QPStatus int

const (
	// QPSuccess indicates the backend found a solution.
	QPSuccess QPStatus = iota
	// QPFailed indicates the backend could not solve the problem.
	QPFailed
)

// QPProblem is the assembled multiple-shooting QP: per-stage dynamics,
// cost, and (possibly empty) constraints, plus the fixed initial condition.
type QPProblem struct {
	Dx0         *mat.VecDense
	Dynamics    []LinearApproximation
	Cost        []QuadraticApproximation
	Constraints []StagePayloadConstraints // nil entry, or all-empty, means unconstrained at that stage
}

// QPSolution is the primal step and per-stage Riccati feedback returned by
// a successful QP solve.
type QPSolution struct {
	Status QPStatus
	Dx     []*mat.VecDense // length N+1
	Du     []*mat.VecDense // length N
	K      []*mat.Dense    // length N, per-stage feedback K_i s.t. du_i = K_i*dx_i + (feedforward) in the linearized closed loop
}

// QPBackend is the structured QP back-end referenced in spec §4.D and §6.
// A production backend factorizes the banded/Riccati structure implied by
// StageSizes; this package supplies riccatiQP as a reference
// implementation for equality-constrained problems.
type QPBackend interface {
	Resize(stageSizes []StageSizes) error
	Solve(problem QPProblem) (QPSolution, error)
}
