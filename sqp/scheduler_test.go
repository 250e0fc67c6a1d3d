package sqp

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/test"
)

// linearTestDynamics implements xdot = x + u, used only to exercise the
// scheduler's parallel dispatch against a deterministic single-worker
// baseline.
type linearTestDynamics struct{}

func (linearTestDynamics) Evaluate(t float64, x, u *mat.VecDense) (*mat.VecDense, error) {
	out := mat.NewVecDense(1, []float64{x.AtVec(0) + u.AtVec(0)})
	return out, nil
}

func (linearTestDynamics) Linearize(t float64, x, u *mat.VecDense) (LinearApproximation, error) {
	f, err := linearTestDynamics{}.Evaluate(t, x, u)
	if err != nil {
		return LinearApproximation{}, err
	}
	return LinearApproximation{
		F:    f,
		Dfdx: mat.NewDense(1, 1, []float64{1}),
		Dfdu: mat.NewDense(1, 1, []float64{1}),
	}, nil
}

func (linearTestDynamics) Clone() Dynamics { return linearTestDynamics{} }

type quadTestCost struct{}

func (quadTestCost) Evaluate(t float64, x, u *mat.VecDense) (float64, error) {
	return 0.5 * (x.AtVec(0)*x.AtVec(0) + u.AtVec(0)*u.AtVec(0)), nil
}

func (c quadTestCost) QuadraticApprox(t float64, x, u *mat.VecDense) (QuadraticApproximation, error) {
	val, err := c.Evaluate(t, x, u)
	if err != nil {
		return QuadraticApproximation{}, err
	}
	return QuadraticApproximation{
		F:     val,
		Dfdx:  mat.NewVecDense(1, []float64{x.AtVec(0)}),
		Dfdu:  mat.NewVecDense(1, []float64{u.AtVec(0)}),
		Dfdxx: mat.NewDense(1, 1, []float64{1}),
		Dfduu: mat.NewDense(1, 1, []float64{1}),
		Dfdux: mat.NewDense(1, 1, []float64{0}),
	}, nil
}

func (quadTestCost) Clone() Cost { return quadTestCost{} }

type quadTestTerminalCost struct{}

func (quadTestTerminalCost) Evaluate(t float64, x *mat.VecDense) (float64, error) {
	return 0.5 * x.AtVec(0) * x.AtVec(0), nil
}

func (c quadTestTerminalCost) QuadraticApprox(t float64, x *mat.VecDense) (QuadraticApproximation, error) {
	val, err := c.Evaluate(t, x)
	if err != nil {
		return QuadraticApproximation{}, err
	}
	return QuadraticApproximation{
		F:     val,
		Dfdx:  mat.NewVecDense(1, []float64{x.AtVec(0)}),
		Dfdxx: mat.NewDense(1, 1, []float64{1}),
	}, nil
}

func (quadTestTerminalCost) Clone() TerminalCost { return quadTestTerminalCost{} }

func testWorkers(n int) []Providers {
	base := Providers{
		Dynamics:     linearTestDynamics{},
		Cost:         quadTestCost{},
		TerminalCost: quadTestTerminalCost{},
	}
	workers := make([]Providers, n)
	workers[0] = base
	for i := 1; i < n; i++ {
		workers[i] = base.clone()
	}
	return workers
}

// TestAssembleStagesParallelEquivalence exercises spec §8's parallel
// equivalence scenario: the same problem assembled with a single worker
// and with four workers must produce the same per-stage payloads (to
// 1e-12) and the same total PerformanceIndex up to floating-point
// summation order (to 1e-9), since dispatchStages only changes which
// goroutine claims which stage, never the per-stage computation.
func TestAssembleStagesParallelEquivalence(t *testing.T) {
	grid := Discretize(0, 1.0, 0.1, nil)
	n := len(grid) - 1

	states := make([]*mat.VecDense, n+1)
	inputs := make([]*mat.VecDense, n)
	for i := 0; i <= n; i++ {
		states[i] = mat.NewVecDense(1, []float64{1.0 - 0.05*float64(i)})
	}
	for i := 0; i < n; i++ {
		inputs[i] = mat.NewVecDense(1, []float64{-0.1 * float64(i)})
	}

	settings := DefaultSettings()
	_, sd := integratorSelector(settings.IntegratorType)

	payloads1, perf1, err := assembleStages(testWorkers(1), sd, settings, relaxedBarrier{}, grid, states, inputs)
	test.That(t, err, test.ShouldBeNil)

	payloads4, perf4, err := assembleStages(testWorkers(4), sd, settings, relaxedBarrier{}, grid, states, inputs)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, len(payloads4), test.ShouldEqual, len(payloads1))
	for i := range payloads1 {
		a, b := payloads1[i], payloads4[i]
		test.That(t, (a.Dynamics.F == nil && b.Dynamics.F == nil) || mat.EqualApprox(a.Dynamics.F, b.Dynamics.F, 1e-12), test.ShouldBeTrue)
		test.That(t, a.Cost.F, test.ShouldAlmostEqual, b.Cost.F, 1e-12)
		test.That(t, mat.EqualApprox(a.Cost.Dfdx, b.Cost.Dfdx, 1e-12), test.ShouldBeTrue)
		test.That(t, a.Constraints.Equality.F.Len(), test.ShouldEqual, b.Constraints.Equality.F.Len())
		test.That(t, a.Constraints.Inequality.F.Len(), test.ShouldEqual, b.Constraints.Inequality.F.Len())
	}

	test.That(t, perf4.TotalCost, test.ShouldAlmostEqual, perf1.TotalCost, 1e-9)
	test.That(t, perf4.StateEqConstraintISE, test.ShouldAlmostEqual, perf1.StateEqConstraintISE, 1e-9)
	test.That(t, perf4.StateInputEqConstraintISE, test.ShouldAlmostEqual, perf1.StateInputEqConstraintISE, 1e-9)
	test.That(t, perf4.InequalityConstraintISE, test.ShouldAlmostEqual, perf1.InequalityConstraintISE, 1e-9)
	test.That(t, perf4.InequalityConstraintPenalty, test.ShouldAlmostEqual, perf1.InequalityConstraintPenalty, 1e-9)
}
