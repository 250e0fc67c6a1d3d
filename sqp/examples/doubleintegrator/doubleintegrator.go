// Package doubleintegrator provides reference Dynamics, Cost, and
// Constraint providers for the double-integrator acceptance scenarios: a
// two-state, single-input plant tracked to the origin, an event-triggered
// identity jump variant, and a two-input variant with a sum-to-zero
// equality constraint used to exercise projection.
package doubleintegrator

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/motionsqp/sqp"
)

func copyVec(v *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	return out
}

// Dynamics implements ẋ = [x2, u] for a unit-mass point mass.
type Dynamics struct{}

func NewDynamics() *Dynamics { return &Dynamics{} }

func (d *Dynamics) Evaluate(t float64, x, u *mat.VecDense) (*mat.VecDense, error) {
	f := mat.NewVecDense(2, nil)
	f.SetVec(0, x.AtVec(1))
	f.SetVec(1, u.AtVec(0))
	return f, nil
}

func (d *Dynamics) Linearize(t float64, x, u *mat.VecDense) (sqp.LinearApproximation, error) {
	f, err := d.Evaluate(t, x, u)
	if err != nil {
		return sqp.LinearApproximation{}, err
	}
	A := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	B := mat.NewDense(2, 1, []float64{0, 1})
	return sqp.LinearApproximation{F: f, Dfdx: A, Dfdu: B}, nil
}

func (d *Dynamics) Clone() sqp.Dynamics { return &Dynamics{} }

// SumInputDynamics implements ẋ = [x2, u1+u2], a two-input point mass
// whose acceleration only depends on the sum of its inputs; pairing it
// with SumZeroConstraint exercises equality projection since only one
// input direction actually affects the trajectory.
type SumInputDynamics struct{}

func NewSumInputDynamics() *SumInputDynamics { return &SumInputDynamics{} }

func (d *SumInputDynamics) Evaluate(t float64, x, u *mat.VecDense) (*mat.VecDense, error) {
	f := mat.NewVecDense(2, nil)
	f.SetVec(0, x.AtVec(1))
	f.SetVec(1, u.AtVec(0)+u.AtVec(1))
	return f, nil
}

func (d *SumInputDynamics) Linearize(t float64, x, u *mat.VecDense) (sqp.LinearApproximation, error) {
	f, err := d.Evaluate(t, x, u)
	if err != nil {
		return sqp.LinearApproximation{}, err
	}
	A := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	B := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	return sqp.LinearApproximation{F: f, Dfdx: A, Dfdu: B}, nil
}

func (d *SumInputDynamics) Clone() sqp.Dynamics { return &SumInputDynamics{} }

// Cost is a quadratic tracking cost ½(‖x‖² + r‖u‖²) around the origin,
// generalized over Nu so it serves both the single- and dual-input
// scenarios, in the style of the estimated-model quadratic cost terms of
// a velocity-tracking MPC controller.
type Cost struct {
	Nu int
	R  float64
}

func NewCost(nu int, r float64) *Cost { return &Cost{Nu: nu, R: r} }

func (c *Cost) Evaluate(t float64, x, u *mat.VecDense) (float64, error) {
	val := 0.0
	for i := 0; i < x.Len(); i++ {
		val += x.AtVec(i) * x.AtVec(i)
	}
	for i := 0; i < u.Len(); i++ {
		val += c.R * u.AtVec(i) * u.AtVec(i)
	}
	return 0.5 * val, nil
}

func (c *Cost) QuadraticApprox(t float64, x, u *mat.VecDense) (sqp.QuadraticApproximation, error) {
	val, err := c.Evaluate(t, x, u)
	if err != nil {
		return sqp.QuadraticApproximation{}, err
	}
	nx, nu := x.Len(), u.Len()

	dfdx := copyVec(x)
	dfdu := mat.NewVecDense(nu, nil)
	dfdu.ScaleVec(c.R, u)

	Hxx := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		Hxx.Set(i, i, 1)
	}
	Huu := mat.NewDense(nu, nu, nil)
	for i := 0; i < nu; i++ {
		Huu.Set(i, i, c.R)
	}
	Hux := mat.NewDense(nu, nx, nil)

	return sqp.QuadraticApproximation{F: val, Dfdx: dfdx, Dfdu: dfdu, Dfdxx: Hxx, Dfduu: Huu, Dfdux: Hux}, nil
}

func (c *Cost) Clone() sqp.Cost { return &Cost{Nu: c.Nu, R: c.R} }

// TerminalCost is a quadratic terminal penalty ½‖x‖² driving the state to
// the origin by the end of the horizon.
type TerminalCost struct{}

func NewTerminalCost() *TerminalCost { return &TerminalCost{} }

func (c *TerminalCost) Evaluate(t float64, x *mat.VecDense) (float64, error) {
	val := 0.0
	for i := 0; i < x.Len(); i++ {
		val += x.AtVec(i) * x.AtVec(i)
	}
	return 0.5 * val, nil
}

func (c *TerminalCost) QuadraticApprox(t float64, x *mat.VecDense) (sqp.QuadraticApproximation, error) {
	val, err := c.Evaluate(t, x)
	if err != nil {
		return sqp.QuadraticApproximation{}, err
	}
	nx := x.Len()
	Hxx := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		Hxx.Set(i, i, 1)
	}
	return sqp.QuadraticApproximation{F: val, Dfdx: copyVec(x), Dfdxx: Hxx}, nil
}

func (c *TerminalCost) Clone() sqp.TerminalCost { return &TerminalCost{} }

// IdentityEventDynamics is a trivial event jump map g(t,x) = x, used by
// the event-handling acceptance scenario where the mode switch itself has
// no effect on the state.
type IdentityEventDynamics struct{}

func NewIdentityEventDynamics() *IdentityEventDynamics { return &IdentityEventDynamics{} }

func (d *IdentityEventDynamics) Evaluate(t float64, x *mat.VecDense) (*mat.VecDense, error) {
	return copyVec(x), nil
}

func (d *IdentityEventDynamics) Linearize(t float64, x *mat.VecDense) (sqp.LinearApproximation, error) {
	nx := x.Len()
	A := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		A.Set(i, i, 1)
	}
	return sqp.LinearApproximation{F: copyVec(x), Dfdx: A}, nil
}

func (d *IdentityEventDynamics) Clone() sqp.EventDynamics { return &IdentityEventDynamics{} }

// ZeroEventCost incurs no cost at an event boundary.
type ZeroEventCost struct{}

func NewZeroEventCost() *ZeroEventCost { return &ZeroEventCost{} }

func (c *ZeroEventCost) Evaluate(t float64, x *mat.VecDense) (float64, error) { return 0, nil }

func (c *ZeroEventCost) QuadraticApprox(t float64, x *mat.VecDense) (sqp.QuadraticApproximation, error) {
	nx := x.Len()
	return sqp.QuadraticApproximation{
		F:     0,
		Dfdx:  mat.NewVecDense(nx, nil),
		Dfdxx: mat.NewDense(nx, nx, nil),
	}, nil
}

func (c *ZeroEventCost) Clone() sqp.EventCost { return &ZeroEventCost{} }

// SumZeroConstraint enforces u1 + u2 = 0 with no inequalities, pairing
// with SumInputDynamics to exercise the equality-projection path: the
// reduced QP effectively controls only the single direction u1 - u2.
type SumZeroConstraint struct{}

func NewSumZeroConstraint() *SumZeroConstraint { return &SumZeroConstraint{} }

func (c *SumZeroConstraint) Equality(t float64, x, u *mat.VecDense) (sqp.LinearApproximation, error) {
	f := mat.NewVecDense(1, nil)
	f.SetVec(0, u.AtVec(0)+u.AtVec(1))
	D := mat.NewDense(1, 2, []float64{1, 1})
	C := mat.NewDense(1, x.Len(), nil)
	return sqp.LinearApproximation{F: f, Dfdx: C, Dfdu: D}, nil
}

func (c *SumZeroConstraint) Inequality(t float64, x, u *mat.VecDense) (sqp.LinearApproximation, error) {
	return sqp.LinearApproximation{F: mat.NewVecDense(0, nil), Dfdx: mat.NewDense(0, x.Len(), nil), Dfdu: mat.NewDense(0, u.Len(), nil)}, nil
}

func (c *SumZeroConstraint) Clone() sqp.Constraint { return &SumZeroConstraint{} }

// ZeroOperatingTrajectories seeds any horizon extension with a zero input
// held at the queried state, used when no richer nominal trajectory is
// available.
type ZeroOperatingTrajectories struct {
	Nu int
}

func NewZeroOperatingTrajectories(nu int) ZeroOperatingTrajectories {
	return ZeroOperatingTrajectories{Nu: nu}
}

func (o ZeroOperatingTrajectories) Get(x *mat.VecDense, tLo, tHi float64) ([]float64, []*mat.VecDense, []*mat.VecDense, error) {
	return []float64{tLo}, []*mat.VecDense{copyVec(x)}, []*mat.VecDense{mat.NewVecDense(o.Nu, nil)}, nil
}
