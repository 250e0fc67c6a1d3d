package sqp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// relaxedBarrier evaluates the relaxed-barrier penalty of spec §9 (a
// log-barrier inside the feasible set, quadratically extrapolated beyond
// it) and its first and second derivative with respect to the constraint
// value g, where g <= 0 is feasible.
type relaxedBarrier struct {
	Mu    float64
	Delta float64
}

func (b relaxedBarrier) value(g float64) float64 {
	if g < -b.Delta {
		return -b.Mu * math.Log(-g)
	}
	return b.Mu/2*(math.Pow((g+2*b.Delta)/b.Delta, 2)-1) - b.Mu*math.Log(b.Delta)
}

func (b relaxedBarrier) gradient(g float64) float64 {
	if g < -b.Delta {
		return -b.Mu / g
	}
	return b.Mu * (g + 2*b.Delta) / (b.Delta * b.Delta)
}

func (b relaxedBarrier) hessian(g float64) float64 {
	if g < -b.Delta {
		return b.Mu / (g * g)
	}
	return b.Mu / (b.Delta * b.Delta)
}

func (b relaxedBarrier) enabled() bool { return b.Mu > 0 }

// setupIntermediateNode transcribes one interior shooting node: it
// integrates dynamics and sensitivities over [t, t+dt], quadratizes the
// stage cost, evaluates constraints, applies the relaxed-barrier penalty
// for inequalities, and optionally projects state-input equalities out of
// the input per spec §4.B.
func setupIntermediateNode(
	dyn Dynamics,
	sd sensitivityDiscretizer,
	cost Cost,
	constraint Constraint, // nil if no constraint provider is configured
	penalty relaxedBarrier,
	settings Settings,
	t, dt float64,
	xi, xip1, ui *mat.VecDense,
) (StagePayload, PerformanceIndex, error) {
	phi, dphidx, dphidu, err := sd(dyn, t, dt, xi, ui)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}

	defect := mat.NewVecDense(xip1.Len(), nil)
	defect.SubVec(xip1, phi)

	dynamics := LinearApproximation{
		F:    vecScale(-1, defect),
		Dfdx: dphidx,
		Dfdu: dphidu,
	}

	quad, err := cost.QuadraticApprox(t, xi, ui)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}
	costVal, err := cost.Evaluate(t, xi, ui)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal
	perf.StateEqConstraintISE = vecNorm2(defect) * vecNorm2(defect)

	var equality, inequality LinearApproximation
	if constraint != nil {
		equality, err = constraint.Equality(t, xi, ui)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
		inequality, err = constraint.Inequality(t, xi, ui)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
	} else {
		equality = emptyLinearApproximation(xi.Len())
		inequality = emptyLinearApproximation(xi.Len())
	}

	perf.StateInputEqConstraintISE = vecNorm2(equality.F) * vecNorm2(equality.F)
	quad, perf.InequalityConstraintISE, perf.InequalityConstraintPenalty = applyInequalityPenalty(quad, inequality, penalty)

	projection := emptyLinearApproximation(xi.Len())
	if settings.ProjectStateInputEqualityConstraints && equality.F.Len() > 0 {
		projection = computeProjection(equality)
		dynamics = substituteDynamics(dynamics, projection)
		quad = substituteQuadraticCost(quad, projection)
		equality = emptyLinearApproximation(xi.Len()) // eliminated
	}

	payload := StagePayload{
		Dynamics:   dynamics,
		Cost:       quad,
		Projection: projection,
		Constraints: StagePayloadConstraints{
			Equality:   equality,
			Inequality: inequality,
		},
	}
	return payload, perf, nil
}

// setupEventNode transcribes an event node: the decision input is absent,
// dynamics is a pure state jump map, and constraints/cost are evaluated
// at t_i only.
func setupEventNode(
	dyn EventDynamics,
	cost EventCost,
	constraint EventConstraint,
	t float64,
	xi, xip1 *mat.VecDense,
) (StagePayload, PerformanceIndex, error) {
	g, err := dyn.Evaluate(t, xi)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}
	lin, err := dyn.Linearize(t, xi)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}

	defect := mat.NewVecDense(xip1.Len(), nil)
	defect.SubVec(xip1, g)

	dynamics := LinearApproximation{
		F:    vecScale(-1, defect),
		Dfdx: lin.Dfdx,
		Dfdu: mat.NewDense(xip1.Len(), 0, nil),
	}

	quad, err := cost.QuadraticApprox(t, xi)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}
	costVal, err := cost.Evaluate(t, xi)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal
	perf.StateEqConstraintISE = vecNorm2(defect) * vecNorm2(defect)

	equality := emptyLinearApproximation(xi.Len())
	inequality := emptyLinearApproximation(xi.Len())
	if constraint != nil {
		equality, err = constraint.Equality(t, xi)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
		inequality, err = constraint.Inequality(t, xi)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
	}
	perf.StateInputEqConstraintISE = 0

	payload := StagePayload{
		Dynamics:   dynamics,
		Cost:       quad,
		Projection: emptyLinearApproximation(xi.Len()),
		Constraints: StagePayloadConstraints{
			Equality:   equality,
			Inequality: inequality,
		},
	}
	return payload, perf, nil
}

// setupTerminalNode transcribes the terminal node: only cost[N] and
// constraints[N] are produced.
func setupTerminalNode(
	terminalCost TerminalCost,
	constraint TerminalConstraint,
	t float64,
	xN *mat.VecDense,
) (StagePayload, PerformanceIndex, error) {
	quad, err := terminalCost.QuadraticApprox(t, xN)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}
	costVal, err := terminalCost.Evaluate(t, xN)
	if err != nil {
		return StagePayload{}, PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal

	equality := emptyLinearApproximation(xN.Len())
	inequality := emptyLinearApproximation(xN.Len())
	if constraint != nil {
		equality, err = constraint.Equality(t, xN)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
		inequality, err = constraint.Inequality(t, xN)
		if err != nil {
			return StagePayload{}, PerformanceIndex{}, err
		}
	}

	payload := StagePayload{
		Cost: quad,
		Constraints: StagePayloadConstraints{
			Equality:   equality,
			Inequality: inequality,
		},
	}
	return payload, perf, nil
}

// evaluateIntermediatePerformance is the evaluation-only counterpart of
// setupIntermediateNode used by the line search: it recomputes the
// PerformanceIndex contribution of a candidate stage without linearizing
// dynamics or quadratizing cost.
func evaluateIntermediatePerformance(
	dyn Dynamics,
	vd valueDiscretizer,
	cost Cost,
	constraint Constraint,
	penalty relaxedBarrier,
	t, dt float64,
	xi, xip1, ui *mat.VecDense,
) (PerformanceIndex, error) {
	phi, err := vd(dyn, t, dt, xi, ui)
	if err != nil {
		return PerformanceIndex{}, err
	}
	defect := mat.NewVecDense(xip1.Len(), nil)
	defect.SubVec(xip1, phi)

	costVal, err := cost.Evaluate(t, xi, ui)
	if err != nil {
		return PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal
	perf.StateEqConstraintISE = vecNorm2(defect) * vecNorm2(defect)

	if constraint != nil {
		equality, err := constraint.Equality(t, xi, ui)
		if err != nil {
			return PerformanceIndex{}, err
		}
		perf.StateInputEqConstraintISE = vecNorm2(equality.F) * vecNorm2(equality.F)

		inequality, err := constraint.Inequality(t, xi, ui)
		if err != nil {
			return PerformanceIndex{}, err
		}
		perf.InequalityConstraintISE, perf.InequalityConstraintPenalty = evaluatePenalty(inequality, penalty)
	}
	return perf, nil
}

// evaluateEventPerformance is the evaluation-only counterpart of
// setupEventNode.
func evaluateEventPerformance(
	dyn EventDynamics,
	cost EventCost,
	constraint EventConstraint,
	penalty relaxedBarrier,
	t float64,
	xi, xip1 *mat.VecDense,
) (PerformanceIndex, error) {
	g, err := dyn.Evaluate(t, xi)
	if err != nil {
		return PerformanceIndex{}, err
	}
	defect := mat.NewVecDense(xip1.Len(), nil)
	defect.SubVec(xip1, g)

	costVal, err := cost.Evaluate(t, xi)
	if err != nil {
		return PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal
	perf.StateEqConstraintISE = vecNorm2(defect) * vecNorm2(defect)

	if constraint != nil {
		inequality, err := constraint.Inequality(t, xi)
		if err != nil {
			return PerformanceIndex{}, err
		}
		perf.InequalityConstraintISE, perf.InequalityConstraintPenalty = evaluatePenalty(inequality, penalty)
	}
	return perf, nil
}

// evaluateTerminalPerformance is the evaluation-only counterpart of
// setupTerminalNode.
func evaluateTerminalPerformance(
	terminalCost TerminalCost,
	constraint TerminalConstraint,
	penalty relaxedBarrier,
	t float64,
	xN *mat.VecDense,
) (PerformanceIndex, error) {
	costVal, err := terminalCost.Evaluate(t, xN)
	if err != nil {
		return PerformanceIndex{}, err
	}

	var perf PerformanceIndex
	perf.TotalCost = costVal

	if constraint != nil {
		inequality, err := constraint.Inequality(t, xN)
		if err != nil {
			return PerformanceIndex{}, err
		}
		perf.InequalityConstraintISE, perf.InequalityConstraintPenalty = evaluatePenalty(inequality, penalty)
	}
	return perf, nil
}

// evaluatePenalty computes raw-violation ISE and relaxed-barrier penalty
// for a stacked inequality residual, without building a quadratic model.
func evaluatePenalty(ineq LinearApproximation, penalty relaxedBarrier) (ise, total float64) {
	for i := 0; i < ineq.F.Len(); i++ {
		v := ineq.F.AtVec(i)
		if v > 0 {
			ise += v * v
		}
		if penalty.enabled() {
			total += penalty.value(v)
		}
	}
	return ise, total
}

// applyInequalityPenalty folds the relaxed-barrier penalty of every
// inequality row into a Gauss-Newton quadratic contribution added to
// quad, and returns the raw-violation ISE and the penalty value.
func applyInequalityPenalty(quad QuadraticApproximation, ineq LinearApproximation, penalty relaxedBarrier) (QuadraticApproximation, float64, float64) {
	nRows := ineq.F.Len()
	if nRows == 0 {
		return quad, 0, 0
	}

	ise := 0.0
	for i := 0; i < nRows; i++ {
		v := ineq.F.AtVec(i)
		if v > 0 {
			ise += v * v
		}
	}
	if !penalty.enabled() {
		return quad, ise, 0
	}

	nx, nu := 0, 0
	if quad.Dfdx != nil {
		nx = quad.Dfdx.Len()
	}
	if quad.Dfdu != nil {
		nu = quad.Dfdu.Len()
	}

	out := quadCopy(quad)
	penaltyTotal := 0.0
	for i := 0; i < nRows; i++ {
		g := ineq.F.AtVec(i)
		penaltyTotal += penalty.value(g)
		bp := penalty.gradient(g)
		bpp := penalty.hessian(g)

		var jx *mat.VecDense
		if nx > 0 {
			jx = mat.NewVecDense(nx, nil)
			for c := 0; c < nx; c++ {
				jx.SetVec(c, ineq.Dfdx.At(i, c))
			}
			out.Dfdx.AddScaledVec(out.Dfdx, bp, jx)
			out.Dfdxx.Add(out.Dfdxx, outerScaled(bpp, jx, jx))
		}
		var ju *mat.VecDense
		if nu > 0 && ineq.Dfdu != nil {
			ju = mat.NewVecDense(nu, nil)
			for c := 0; c < nu; c++ {
				ju.SetVec(c, ineq.Dfdu.At(i, c))
			}
			out.Dfdu.AddScaledVec(out.Dfdu, bp, ju)
			out.Dfduu.Add(out.Dfduu, outerScaled(bpp, ju, ju))
		}
		if jx != nil && ju != nil {
			out.Dfdux.Add(out.Dfdux, outerScaled(bpp, ju, jx))
		}
	}
	return out, ise, penaltyTotal
}

// quadCopy returns a deep copy of q so in-place penalty accumulation never
// mutates a provider's own (possibly cached) return value.
func quadCopy(q QuadraticApproximation) QuadraticApproximation {
	out := QuadraticApproximation{F: q.F}
	if q.Dfdx != nil {
		out.Dfdx = vecCopy(q.Dfdx)
	}
	if q.Dfdu != nil {
		out.Dfdu = vecCopy(q.Dfdu)
	}
	if q.Dfdxx != nil {
		out.Dfdxx = mat.DenseCopyOf(q.Dfdxx)
	}
	if q.Dfduu != nil {
		out.Dfduu = mat.DenseCopyOf(q.Dfduu)
	}
	if q.Dfdux != nil {
		out.Dfdux = mat.DenseCopyOf(q.Dfdux)
	}
	return out
}

func outerScaled(alpha float64, a, b *mat.VecDense) *mat.Dense {
	out := mat.NewDense(a.Len(), b.Len(), nil)
	out.Outer(alpha, a, b)
	return out
}

// computeProjection computes the orthogonal projection of the state-input
// equality C*dx + D*du + e = 0 into du = Pf + Pdx*dx + Pdu*dutilde, where
// Pdu spans the null space of D (assumed full row rank).
func computeProjection(equality LinearApproximation) LinearApproximation {
	D := equality.Dfdu
	C := equality.Dfdx
	e := equality.F

	ne, nu := D.Dims()

	var svd mat.SVD
	svd.Factorize(D, mat.SVDFull)
	var v mat.Dense
	svd.VTo(&v)
	sv := svd.Values(nil)

	rank := 0
	for _, s := range sv {
		if s > 1e-9 {
			rank++
		}
	}

	nr := nu - rank
	Pdu := mat.NewDense(nu, nr, nil)
	Pdu.Copy(v.Slice(0, nu, rank, nu))

	// Pseudo-inverse of D via SVD: Dpinv = V * S^-1 * U^T restricted to rank.
	var u mat.Dense
	svd.UTo(&u)
	sInv := mat.NewDense(nu, ne, nil)
	for i := 0; i < rank; i++ {
		sInv.Set(i, i, 1/sv[i])
	}
	var vBlock mat.Dense
	vBlock.CloneFrom(v.Slice(0, nu, 0, rank))

	var vs mat.Dense
	vs.Mul(&vBlock, sInv.Slice(0, rank, 0, ne))
	var uT mat.Dense
	uT.CloneFrom(u.T())
	var dPinv mat.Dense
	dPinv.Mul(&vs, &uT)

	Pf := mat.NewVecDense(nu, nil)
	Pf.MulVec(&dPinv, e)
	Pf.ScaleVec(-1, Pf)

	Pdx := mat.NewDense(nu, C.RawMatrix().Cols, nil)
	Pdx.Mul(&dPinv, C)
	Pdx.Scale(-1, Pdx)

	return LinearApproximation{F: Pf, Dfdx: Pdx, Dfdu: Pdu}
}

// substituteDynamics folds a projection into a stage's shooting-gap
// dynamics: x_{i+1} = f + A*dx + B*du becomes a function of dutilde.
func substituteDynamics(dyn LinearApproximation, proj LinearApproximation) LinearApproximation {
	if dyn.Dfdu == nil || proj.F.Len() == 0 {
		return dyn
	}
	B := dyn.Dfdu
	newF := vecCopy(dyn.F)
	bf := mat.NewVecDense(newF.Len(), nil)
	bf.MulVec(B, proj.F)
	newF.AddVec(newF, bf)

	newDfdx := mat.DenseCopyOf(dyn.Dfdx)
	var bpdx mat.Dense
	bpdx.Mul(B, proj.Dfdx)
	newDfdx.Add(newDfdx, &bpdx)

	nr := 0
	if proj.Dfdu != nil {
		_, nr = proj.Dfdu.Dims()
	}
	newDfdu := mat.NewDense(newF.Len(), nr, nil)
	newDfdu.Mul(B, proj.Dfdu)

	return LinearApproximation{F: newF, Dfdx: newDfdx, Dfdu: newDfdu}
}

// substituteQuadraticCost folds a projection into a stage's quadratic
// cost model by substituting du = a + Bx*dx + Bu*dutilde into its blocks.
func substituteQuadraticCost(cost QuadraticApproximation, proj LinearApproximation) QuadraticApproximation {
	if cost.Dfdu == nil || proj.F.Len() == 0 {
		return cost
	}
	a := proj.F
	Bx := proj.Dfdx
	Bu := proj.Dfdu

	Huu := cost.Dfduu
	Hux := cost.Dfdux // nu x nx

	huuA := mat.NewVecDense(a.Len(), nil)
	huuA.MulVec(Huu, a)

	newF := cost.F + mat.Dot(cost.Dfdu, a) + 0.5*mat.Dot(a, huuA)

	newDfdx := vecCopy(cost.Dfdx)
	bxTdfdu := mat.NewVecDense(Bx.RawMatrix().Cols, nil)
	bxTdfdu.MulVec(Bx.T(), cost.Dfdu)
	newDfdx.AddVec(newDfdx, bxTdfdu)

	bxThuuA := mat.NewVecDense(Bx.RawMatrix().Cols, nil)
	bxThuuA.MulVec(Bx.T(), huuA)
	newDfdx.AddVec(newDfdx, bxThuuA)

	huxTa := mat.NewVecDense(Hux.RawMatrix().Cols, nil)
	huxTa.MulVec(Hux.T(), a)
	newDfdx.AddVec(newDfdx, huxTa)

	_, nrCols := Bu.Dims()
	newDfdu := mat.NewVecDense(nrCols, nil)
	buTdfdu := mat.NewVecDense(nrCols, nil)
	buTdfdu.MulVec(Bu.T(), cost.Dfdu)
	newDfdu.AddVec(newDfdu, buTdfdu)
	buThuuA := mat.NewVecDense(nrCols, nil)
	buThuuA.MulVec(Bu.T(), huuA)
	newDfdu.AddVec(newDfdu, buThuuA)

	var huuBx, huuBu mat.Dense
	huuBx.Mul(Huu, Bx)
	huuBu.Mul(Huu, Bu)

	var bxThuuBx mat.Dense
	bxThuuBx.Mul(Bx.T(), &huuBx)

	var huxTBx mat.Dense
	huxTBx.Mul(Hux.T(), Bx)
	var bxTHux mat.Dense
	bxTHux.CloneFrom(huxTBx.T())

	newHxx := mat.DenseCopyOf(cost.Dfdxx)
	newHxx.Add(newHxx, &bxThuuBx)
	newHxx.Add(newHxx, &huxTBx)
	newHxx.Add(newHxx, &bxTHux)

	var newHuu mat.Dense
	newHuu.Mul(Bu.T(), &huuBu)

	var buTHuuBx mat.Dense
	buTHuuBx.Mul(Bu.T(), &huuBx)
	var buTHux mat.Dense
	buTHux.Mul(Bu.T(), Hux)
	newHux := mat.NewDense(nrCols, Bx.RawMatrix().Cols, nil)
	newHux.Add(&buTHuuBx, &buTHux)

	return QuadraticApproximation{
		F:     newF,
		Dfdx:  newDfdx,
		Dfdu:  newDfdu,
		Dfdxx: newHxx,
		Dfduu: &newHuu,
		Dfdux: newHux,
	}
}
