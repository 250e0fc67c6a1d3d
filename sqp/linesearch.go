package sqp

import "math"

// lineSearchResult reports the outcome of one filter-line-search pass.
type lineSearchResult struct {
	Alpha       float64
	Accepted    bool
	Converged   bool
	Performance PerformanceIndex
}

// filterLineSearch implements the Wächter-Biegler style filter of spec
// §4.E-1..6: starting at alpha=1, it repeatedly evaluates a candidate step
// scaled by alpha, accepts the first alpha that improves either the merit
// or the constraint violation with the mixing constant gammaC, and
// declares convergence on acceptance with small step/cost change, on a
// rejected candidate whose scaled step is below DeltaTol, or on exhausting
// alpha without ever accepting.
//
// evaluate recomputes PerformanceIndex for the trajectory taken alpha of
// the way from baseline to the full QP step; dxNorm/duNorm are the L2
// norms of the full (alpha=1) primal step, used for the step-size
// convergence check.
func filterLineSearch(settings Settings, baseline PerformanceIndex, dxNorm, duNorm float64, evaluate func(alpha float64) (PerformanceIndex, error)) (lineSearchResult, error) {
	thetaBase := baseline.Violation()
	meritBase := baseline.Merit()

	alpha := 1.0
	for {
		perf, err := evaluate(alpha)
		if err != nil {
			return lineSearchResult{}, err
		}

		if perf.IsFinite() {
			theta := perf.Violation()
			merit := perf.Merit()

			accepted := false
			switch {
			case theta <= settings.GMin:
				accepted = merit < meritBase
			case theta <= settings.GMax:
				accepted = merit < meritBase-settings.GammaC*thetaBase || theta < (1-settings.GammaC)*thetaBase
			}

			if accepted {
				converged := alpha*dxNorm < settings.DeltaTol && alpha*duNorm < settings.DeltaTol
				converged = converged || (math.Abs(merit-meritBase) < settings.CostTol && theta < settings.GMin)
				return lineSearchResult{Alpha: alpha, Accepted: true, Converged: converged, Performance: perf}, nil
			}
		}

		if alpha*dxNorm < settings.DeltaTol && alpha*duNorm < settings.DeltaTol {
			return lineSearchResult{Accepted: false, Converged: true}, nil
		}
		alpha *= settings.AlphaDecay
		if alpha <= settings.AlphaMin {
			// No descent found at the smallest permitted step; per spec
			// §4.E-6 this still declares convergence.
			return lineSearchResult{Accepted: false, Converged: true}, nil
		}
	}
}
