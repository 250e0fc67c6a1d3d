package sqp

import "gonum.org/v1/gonum/mat"

// EventKind tags a grid node as either an ordinary interior node or the
// pre-event node immediately preceding a mode switch / jump map.
type EventKind int

const (
	// Interior is an ordinary shooting node with a decision input.
	Interior EventKind = iota
	// PreEvent is the node immediately before an event time; it has no
	// decision input, only a jump map to the following interior node.
	PreEvent
)

func (k EventKind) String() string {
	if k == PreEvent {
		return "PreEvent"
	}
	return "Interior"
}

// AnnotatedTime is a single node of the discretized time grid.
type AnnotatedTime struct {
	Time  float64
	Event EventKind
}

// LinearApproximation is an affine model f + dfdx*dx + dfdu*du.
type LinearApproximation struct {
	F    *mat.VecDense
	Dfdx *mat.Dense
	Dfdu *mat.Dense
}

// emptyLinearApproximation returns the zero-row projection convention used
// to mark "no projection applied" / "no constraints" at a stage, per the
// data-model invariant that constraintsProjection[i].F.Len() == 0 iff no
// projection was applied at stage i.
func emptyLinearApproximation(nx int) LinearApproximation {
	return LinearApproximation{
		F:    mat.NewVecDense(0, nil),
		Dfdx: mat.NewDense(0, nx, nil),
		Dfdu: mat.NewDense(0, 0, nil),
	}
}

// QuadraticApproximation is a second-order Taylor model of a scalar cost
// around a nominal state/input.
type QuadraticApproximation struct {
	F     float64
	Dfdx  *mat.VecDense
	Dfdu  *mat.VecDense
	Dfdxx *mat.Dense
	Dfduu *mat.Dense
	Dfdux *mat.Dense
}

// StagePayload bundles everything the transcriber produces at stage i and
// the QP interface consumes: the linearized shooting-gap dynamics, the
// quadratic stage cost, the linearized constraints actually enforced by
// the QP, and the equality-constraint projection remapping a reduced
// input step back into the full input.
type StagePayload struct {
	Dynamics    LinearApproximation
	Cost        QuadraticApproximation
	Constraints StagePayloadConstraints
	Projection  LinearApproximation
}

// StagePayloadConstraints holds the stacked equality and inequality rows
// actually passed to the QP backend at a stage (after any projection has
// removed equalities it eliminated).
type StagePayloadConstraints struct {
	Equality   LinearApproximation
	Inequality LinearApproximation
}

// hasProjection reports whether a nonzero projection was computed for a
// stage, per the constructor's invariant on Projection.F.
func (p StagePayload) hasProjection() bool {
	return p.Projection.F != nil && p.Projection.F.Len() > 0
}

// vecCopy returns an independent copy of v, or nil if v is nil.
func vecCopy(v *mat.VecDense) *mat.VecDense {
	if v == nil {
		return nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	return out
}

func vecZeros(n int) *mat.VecDense {
	return mat.NewVecDense(n, nil)
}

func vecAdd(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}

func vecScale(alpha float64, a *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.ScaleVec(alpha, a)
	return out
}

func vecNorm2(v *mat.VecDense) float64 {
	if v == nil || v.Len() == 0 {
		return 0
	}
	return mat.Norm(v, 2)
}
