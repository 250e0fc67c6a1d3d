package sqp_test

import (
	"testing"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/test"

	"go.viam.com/motionsqp/sqp"
	"go.viam.com/motionsqp/sqp/examples/doubleintegrator"
)

func newDoubleIntegratorSolver(t *testing.T, settings sqp.Settings) *sqp.MultipleShootingSolver {
	t.Helper()
	base := sqp.Providers{
		Dynamics:     doubleintegrator.NewDynamics(),
		Cost:         doubleintegrator.NewCost(1, 0.1),
		TerminalCost: doubleintegrator.NewTerminalCost(),
	}
	ops := doubleintegrator.NewZeroOperatingTrajectories(1)
	return sqp.NewSolver(base, ops, nil, sqp.NewRiccatiQP(), settings, 1, golog.NewTestLogger(t))
}

func TestDoubleIntegratorConverges(t *testing.T) {
	settings := sqp.DefaultSettings()
	settings.Dt = 0.1
	settings.SqpIteration = 5
	settings.UseFeedbackPolicy = false

	solver := newDoubleIntegratorSolver(t, settings)
	x0 := mat.NewVecDense(2, []float64{1, 0})

	sol, err := solver.Run(0, x0, 1.0, nil)
	test.That(t, err, test.ShouldBeNil)

	xN := sol.StateTrajectory[len(sol.StateTrajectory)-1]
	norm := mat.Norm(xN, 2)
	test.That(t, norm, test.ShouldBeLessThan, 0.1)
	test.That(t, sol.InputTrajectory[0].AtVec(0), test.ShouldNotEqual, 0.0)
}

func TestDoubleIntegratorFeedbackRecoversNominal(t *testing.T) {
	settings := sqp.DefaultSettings()
	settings.Dt = 0.1
	settings.SqpIteration = 5
	settings.UseFeedbackPolicy = true

	solver := newDoubleIntegratorSolver(t, settings)
	x0 := mat.NewVecDense(2, []float64{1, 0})

	sol, err := solver.Run(0, x0, 1.0, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Controller.Feedback, test.ShouldBeTrue)

	for i, ti := range sol.TimeTrajectory {
		u, err := sol.Controller.Evaluate(ti, sol.StateTrajectory[i])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, u.AtVec(0), test.ShouldAlmostEqual, sol.InputTrajectory[i].AtVec(0), 1e-9)
	}
}

func TestDoubleIntegratorEventHandling(t *testing.T) {
	settings := sqp.DefaultSettings()
	settings.Dt = 0.1
	settings.SqpIteration = 3

	base := sqp.Providers{
		Dynamics:      doubleintegrator.NewDynamics(),
		EventDynamics: doubleintegrator.NewIdentityEventDynamics(),
		Cost:          doubleintegrator.NewCost(1, 0.1),
		EventCost:     doubleintegrator.NewZeroEventCost(),
		TerminalCost:  doubleintegrator.NewTerminalCost(),
	}
	ops := doubleintegrator.NewZeroOperatingTrajectories(1)
	solver := sqp.NewSolver(base, ops, nil, sqp.NewRiccatiQP(), settings, 1, golog.NewTestLogger(t))

	x0 := mat.NewVecDense(2, []float64{1, 0})
	sol, err := solver.Run(0, x0, 1.0, []float64{0.45})
	test.That(t, err, test.ShouldBeNil)

	// The PreEvent node is the earlier of the two identical-time nodes at
	// the event boundary; its stored input must repeat its predecessor's.
	preEventIdx := -1
	for i, ti := range sol.TimeTrajectory {
		if i+1 < len(sol.TimeTrajectory) && sol.TimeTrajectory[i+1] == ti {
			preEventIdx = i
			break
		}
	}
	test.That(t, preEventIdx, test.ShouldBeGreaterThan, 0)
	test.That(t, sol.InputTrajectory[preEventIdx].AtVec(0), test.ShouldEqual, sol.InputTrajectory[preEventIdx-1].AtVec(0))
}

func TestDoubleIntegratorEqualityProjection(t *testing.T) {
	settings := sqp.DefaultSettings()
	settings.Dt = 0.2
	settings.SqpIteration = 5
	settings.ProjectStateInputEqualityConstraints = true

	base := sqp.Providers{
		Dynamics:     doubleintegrator.NewSumInputDynamics(),
		Cost:         doubleintegrator.NewCost(2, 0.1),
		TerminalCost: doubleintegrator.NewTerminalCost(),
		Constraint:   doubleintegrator.NewSumZeroConstraint(),
	}
	ops := doubleintegrator.NewZeroOperatingTrajectories(2)
	solver := sqp.NewSolver(base, ops, nil, sqp.NewRiccatiQP(), settings, 2, golog.NewTestLogger(t))

	x0 := mat.NewVecDense(2, []float64{1, 0})
	sol, err := solver.Run(0, x0, 1.0, nil)
	test.That(t, err, test.ShouldBeNil)

	for _, u := range sol.InputTrajectory {
		sum := u.AtVec(0) + u.AtVec(1)
		test.That(t, sum, test.ShouldAlmostEqual, 0, 1e-6)
	}
}
