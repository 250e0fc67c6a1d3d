package sqp

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/test"
)

func TestRiccatiQPSolvesSingleStageRegulator(t *testing.T) {
	// One shot: dx1 = dx0 + du0, cost ½(dx0²+du0²+dx1²), dx0 fixed at 1.
	// The unconstrained optimum is du0 = -0.5, dx1 = 0.5.
	problem := QPProblem{
		Dx0: mat.NewVecDense(1, []float64{1}),
		Dynamics: []LinearApproximation{
			{
				F:    mat.NewVecDense(1, []float64{0}),
				Dfdx: mat.NewDense(1, 1, []float64{1}),
				Dfdu: mat.NewDense(1, 1, []float64{1}),
			},
		},
		Cost: []QuadraticApproximation{
			{
				F:     0,
				Dfdx:  mat.NewVecDense(1, []float64{0}),
				Dfdu:  mat.NewVecDense(1, []float64{0}),
				Dfdxx: mat.NewDense(1, 1, []float64{1}),
				Dfduu: mat.NewDense(1, 1, []float64{1}),
				Dfdux: mat.NewDense(1, 1, []float64{0}),
			},
			{
				F:     0,
				Dfdx:  mat.NewVecDense(1, []float64{0}),
				Dfdxx: mat.NewDense(1, 1, []float64{1}),
			},
		},
	}

	backend := newRiccatiQP()
	test.That(t, backend.Resize([]StageSizes{{Nx: 1, Nu: 1}, {Nx: 1}}), test.ShouldBeNil)

	sol, err := backend.Solve(problem)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Status, test.ShouldEqual, QPSuccess)
	test.That(t, sol.Du[0].AtVec(0), test.ShouldAlmostEqual, -0.5, 1e-9)
	test.That(t, sol.Dx[1].AtVec(0), test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestRiccatiQPHandlesEventStage(t *testing.T) {
	// A single event stage has nu=0: the QP step must leave du empty and
	// propagate dx1 = dx0 through the identity jump map.
	problem := QPProblem{
		Dx0: mat.NewVecDense(1, []float64{2}),
		Dynamics: []LinearApproximation{
			{
				F:    mat.NewVecDense(1, []float64{0}),
				Dfdx: mat.NewDense(1, 1, []float64{1}),
				Dfdu: mat.NewDense(1, 0, nil),
			},
		},
		Cost: []QuadraticApproximation{
			{Dfdx: mat.NewVecDense(1, []float64{0}), Dfdxx: mat.NewDense(1, 1, []float64{0})},
			{Dfdx: mat.NewVecDense(1, []float64{0}), Dfdxx: mat.NewDense(1, 1, []float64{1})},
		},
	}

	backend := newRiccatiQP()
	test.That(t, backend.Resize([]StageSizes{{Nx: 1, Nu: 0}, {Nx: 1}}), test.ShouldBeNil)

	sol, err := backend.Solve(problem)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Du[0].Len(), test.ShouldEqual, 0)
	test.That(t, sol.Dx[1].AtVec(0), test.ShouldAlmostEqual, 2.0, 1e-12)
}

func TestRiccatiQPRejectsUnprojectedEquality(t *testing.T) {
	problem := QPProblem{
		Dx0:      mat.NewVecDense(1, []float64{0}),
		Dynamics: []LinearApproximation{{F: mat.NewVecDense(1, nil), Dfdx: mat.NewDense(1, 1, []float64{1}), Dfdu: mat.NewDense(1, 1, []float64{1})}},
		Cost: []QuadraticApproximation{
			{Dfdx: mat.NewVecDense(1, nil), Dfdu: mat.NewVecDense(1, nil), Dfdxx: mat.NewDense(1, 1, []float64{1}), Dfduu: mat.NewDense(1, 1, []float64{1}), Dfdux: mat.NewDense(1, 1, []float64{0})},
			{Dfdx: mat.NewVecDense(1, nil), Dfdxx: mat.NewDense(1, 1, []float64{1})},
		},
		Constraints: []StagePayloadConstraints{
			{Equality: LinearApproximation{F: mat.NewVecDense(1, []float64{1})}},
			{},
		},
	}
	backend := newRiccatiQP()
	_, err := backend.Solve(problem)
	test.That(t, err, test.ShouldNotBeNil)
}
