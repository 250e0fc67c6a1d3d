package sqp

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestPerformanceIndexMeritAndViolation(t *testing.T) {
	p := PerformanceIndex{
		TotalCost:                   2.0,
		StateEqConstraintISE:        1.0,
		StateInputEqConstraintISE:   0,
		InequalityConstraintISE:     3.0,
		InequalityConstraintPenalty: 0.5,
	}
	test.That(t, p.Merit(), test.ShouldAlmostEqual, 2.5, 1e-12)
	test.That(t, p.Violation(), test.ShouldAlmostEqual, math.Sqrt(4.0), 1e-12)
}

func TestPerformanceIndexAddIsElementwise(t *testing.T) {
	a := PerformanceIndex{TotalCost: 1, StateEqConstraintISE: 2}
	b := PerformanceIndex{TotalCost: 3, InequalityConstraintPenalty: 4}
	sum := a.Add(b)
	test.That(t, sum.TotalCost, test.ShouldEqual, 4.0)
	test.That(t, sum.StateEqConstraintISE, test.ShouldEqual, 2.0)
	test.That(t, sum.InequalityConstraintPenalty, test.ShouldEqual, 4.0)
}

func TestPerformanceIndexIsFiniteCatchesNaN(t *testing.T) {
	ok := PerformanceIndex{TotalCost: 1}
	test.That(t, ok.IsFinite(), test.ShouldBeTrue)

	bad := PerformanceIndex{TotalCost: math.NaN()}
	test.That(t, bad.IsFinite(), test.ShouldBeFalse)

	inf := PerformanceIndex{InequalityConstraintPenalty: math.Inf(1)}
	test.That(t, inf.IsFinite(), test.ShouldBeFalse)
}

func TestSumPerformanceReducesParts(t *testing.T) {
	parts := []PerformanceIndex{
		{TotalCost: 1},
		{TotalCost: 2},
		{TotalCost: 3},
	}
	total := sumPerformance(parts)
	test.That(t, total.TotalCost, test.ShouldEqual, 6.0)
}
