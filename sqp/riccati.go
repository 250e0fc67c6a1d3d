package sqp

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// riccatiQP is a reference QPBackend for the equality-constrained
// multiple-shooting QP of spec §4.D: it solves the fixed-dx0, per-stage
// shooting-gap dynamics equalities via a dense backward/forward Riccati
// recursion, applying the static feedback-law shape of
// other_examples/san-kum-dynsim__lqr.go as a per-stage computed gain.
//
// It does not enforce additional (non-dynamics) rows in
// QPProblem.Constraints: Solve returns an error for any stage that still
// carries equality rows (the transcriber removes them only when
// ProjectStateInputEqualityConstraints is set), and inequality rows are
// ignored. Inequalities influence the solution only through the
// relaxed-barrier penalty the transcriber adds to the cost when
// InequalityConstraintMu > 0.
type riccatiQP struct {
	stageSizes []StageSizes
}

func newRiccatiQP() *riccatiQP {
	return &riccatiQP{}
}

// NewRiccatiQP returns the reference QPBackend implementation.
func NewRiccatiQP() QPBackend {
	return newRiccatiQP()
}

func (q *riccatiQP) Resize(stageSizes []StageSizes) error {
	q.stageSizes = stageSizes
	return nil
}

func (q *riccatiQP) Solve(problem QPProblem) (QPSolution, error) {
	n := len(problem.Dynamics)
	if len(problem.Cost) != n+1 {
		return QPSolution{}, errors.Errorf("riccatiQP: expected %d cost stages, got %d", n+1, len(problem.Cost))
	}
	for i, c := range problem.Constraints {
		if c.Equality.F != nil && c.Equality.F.Len() > 0 {
			return QPSolution{}, errors.Errorf("riccatiQP: stage %d carries an unprojected equality constraint, which this reference backend cannot solve", i)
		}
	}

	terminal := problem.Cost[n]
	S := mat.DenseCopyOf(terminal.Dfdxx)
	s := vecCopy(terminal.Dfdx)

	type backStep struct {
		K *mat.Dense
		k *mat.VecDense
	}
	steps := make([]backStep, n)

	for i := n - 1; i >= 0; i-- {
		dyn := problem.Dynamics[i]
		cost := problem.Cost[i]
		A, B, f := dyn.Dfdx, dyn.Dfdu, dyn.F
		nu := 0
		if B != nil {
			_, nu = B.Dims()
		}

		var AtS, BtS mat.Dense
		AtS.Mul(A.T(), S)
		Qxx := mat.NewDense(A.RawMatrix().Cols, A.RawMatrix().Cols, nil)
		Qxx.Mul(&AtS, A)
		Qxx.Add(Qxx, cost.Dfdxx)

		Sf := vecMulAdd(S, f, s) // S*f + s

		qx := vecCopy(cost.Dfdx)
		var AtSf mat.VecDense
		AtSf.MulVec(A.T(), Sf)
		qx.AddVec(qx, &AtSf)

		if nu == 0 {
			// Event stage: no decision input, gain is a zero-row matrix.
			nx, _ := A.Dims()
			steps[i] = backStep{K: mat.NewDense(0, nx, nil), k: mat.NewVecDense(0, nil)}
			S = Qxx
			s = qx
			continue
		}

		BtS.Mul(B.T(), S)
		Quu := mat.NewDense(nu, nu, nil)
		Quu.Mul(&BtS, B)
		Quu.Add(Quu, cost.Dfduu)

		Qux := mat.NewDense(nu, A.RawMatrix().Cols, nil)
		Qux.Mul(&BtS, A)
		Qux.Add(Qux, cost.Dfdux)

		qu := vecCopy(cost.Dfdu)
		var BtSf mat.VecDense
		BtSf.MulVec(B.T(), Sf)
		qu.AddVec(qu, &BtSf)

		var quuInv mat.Dense
		if err := quuInv.Inverse(Quu); err != nil {
			return QPSolution{Status: QPFailed}, errors.Wrap(err, "riccatiQP: singular stage Hessian")
		}

		Kricc := mat.NewDense(nu, A.RawMatrix().Cols, nil)
		Kricc.Mul(&quuInv, Qux)
		kricc := mat.NewVecDense(nu, nil)
		kricc.MulVec(&quuInv, qu)

		steps[i] = backStep{K: negatedCopy(Kricc), k: kricc}

		// S_i = Qxx - Qux^T*Kricc, s_i = qx - Qux^T*kricc
		var QuxTK mat.Dense
		QuxTK.Mul(Qux.T(), Kricc)
		Snew := mat.DenseCopyOf(Qxx)
		Snew.Sub(Snew, &QuxTK)

		var QuxTk mat.VecDense
		QuxTk.MulVec(Qux.T(), kricc)
		snew := vecCopy(qx)
		snew.SubVec(snew, &QuxTk)

		S, s = Snew, snew
	}

	dx := make([]*mat.VecDense, n+1)
	du := make([]*mat.VecDense, n)
	K := make([]*mat.Dense, n)

	dx[0] = vecCopy(problem.Dx0)
	for i := 0; i < n; i++ {
		K[i] = steps[i].K
		nu, _ := steps[i].K.Dims()
		if nu == 0 {
			du[i] = mat.NewVecDense(0, nil)
		} else {
			// du_i = -Kricc*dx_i - kricc = K[i]*dx_i - kricc  (K[i] = -Kricc)
			step := mat.NewVecDense(nu, nil)
			step.MulVec(K[i], dx[i])
			step.SubVec(step, steps[i].k)
			du[i] = step
		}

		dyn := problem.Dynamics[i]
		next := vecCopy(dyn.F)
		var ax mat.VecDense
		ax.MulVec(dyn.Dfdx, dx[i])
		next.AddVec(next, &ax)
		if dyn.Dfdu != nil {
			_, cols := dyn.Dfdu.Dims()
			if cols > 0 {
				var bu mat.VecDense
				bu.MulVec(dyn.Dfdu, du[i])
				next.AddVec(next, &bu)
			}
		}
		dx[i+1] = next
	}

	if !finiteTrajectory(dx) || !finiteTrajectory(du) {
		return QPSolution{Status: QPFailed}, newNumericalDegeneracy("qp solution")
	}

	return QPSolution{Status: QPSuccess, Dx: dx, Du: du, K: K}, nil
}

func vecMulAdd(S *mat.Dense, f, s *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(f.Len(), nil)
	out.MulVec(S, f)
	out.AddVec(out, s)
	return out
}

func negatedCopy(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(-1, m)
	return out
}

func finiteTrajectory(vs []*mat.VecDense) bool {
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			x := v.AtVec(i)
			if x != x || x > 1e18 || x < -1e18 { // NaN or blow-up
				return false
			}
		}
	}
	return true
}
