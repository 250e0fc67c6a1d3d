package sqp

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFilterLineSearchAcceptsImmediateImprovement(t *testing.T) {
	settings := DefaultSettings().normalize()
	baseline := PerformanceIndex{TotalCost: 10}

	calls := 0
	evaluate := func(alpha float64) (PerformanceIndex, error) {
		calls++
		return PerformanceIndex{TotalCost: 1}, nil
	}

	result, err := filterLineSearch(settings, baseline, 0, 0, evaluate)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Accepted, test.ShouldBeTrue)
	test.That(t, result.Alpha, test.ShouldEqual, 1.0)
	test.That(t, calls, test.ShouldEqual, 1)
	// Zero step norms trigger the delta-tolerance convergence check.
	test.That(t, result.Converged, test.ShouldBeTrue)
}

func TestFilterLineSearchDecaysUntilAcceptance(t *testing.T) {
	settings := DefaultSettings().normalize()
	baseline := PerformanceIndex{TotalCost: 10}

	// Only accept once alpha has decayed below 0.3.
	evaluate := func(alpha float64) (PerformanceIndex, error) {
		if alpha < 0.3 {
			return PerformanceIndex{TotalCost: 1}, nil
		}
		return PerformanceIndex{TotalCost: 100}, nil
	}

	result, err := filterLineSearch(settings, baseline, 1.0, 1.0, evaluate)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Accepted, test.ShouldBeTrue)
	test.That(t, result.Alpha, test.ShouldBeLessThan, 0.3)
}

func TestFilterLineSearchGivesUpBelowAlphaMin(t *testing.T) {
	settings := DefaultSettings().normalize()
	baseline := PerformanceIndex{TotalCost: 1, StateEqConstraintISE: 0}

	evaluate := func(alpha float64) (PerformanceIndex, error) {
		// Every candidate is strictly worse in both merit and violation.
		return PerformanceIndex{TotalCost: 100, StateEqConstraintISE: 1}, nil
	}

	result, err := filterLineSearch(settings, baseline, 1.0, 1.0, evaluate)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Accepted, test.ShouldBeFalse)
	test.That(t, result.Converged, test.ShouldBeTrue)
}

func TestFilterLineSearchTreatsNonFiniteAsRejection(t *testing.T) {
	settings := DefaultSettings().normalize()
	baseline := PerformanceIndex{TotalCost: 1}

	evaluate := func(alpha float64) (PerformanceIndex, error) {
		return PerformanceIndex{TotalCost: math.NaN()}, nil
	}

	result, err := filterLineSearch(settings, baseline, 0, 0, evaluate)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Accepted, test.ShouldBeFalse)
	test.That(t, result.Converged, test.ShouldBeTrue)
}

func TestFilterLineSearchPropagatesEvaluateError(t *testing.T) {
	settings := DefaultSettings().normalize()
	baseline := PerformanceIndex{TotalCost: 1}

	calls := 0
	evaluateErr := newNumericalDegeneracy("test")
	evaluate := func(alpha float64) (PerformanceIndex, error) {
		calls++
		return PerformanceIndex{}, evaluateErr
	}

	result, err := filterLineSearch(settings, baseline, 0, 0, evaluate)
	test.That(t, err, test.ShouldEqual, evaluateErr)
	test.That(t, result.Accepted, test.ShouldBeFalse)
	test.That(t, calls, test.ShouldEqual, 1)
}
