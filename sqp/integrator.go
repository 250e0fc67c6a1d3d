package sqp

import "gonum.org/v1/gonum/mat"

// sensitivityDiscretizer advances a dynamics model over [t, t+dt] from
// (x,u) and returns the propagated state phi and the sensitivities of phi
// with respect to x and u, i.e. the discrete-time linearization used to
// build the shooting-gap dynamics of spec §4.B.
type sensitivityDiscretizer func(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (phi *mat.VecDense, dphidx, dphidu *mat.Dense, err error)

// valueDiscretizer advances a dynamics model over [t, t+dt] without
// sensitivities, used by the evaluation-only performance recomputation in
// the line search.
type valueDiscretizer func(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (*mat.VecDense, error)

// integratorSelector maps an IntegratorType to its value and sensitivity
// discretizers, mirroring the two-factory-function integrator selector of
// spec §6.
func integratorSelector(kind IntegratorType) (valueDiscretizer, sensitivityDiscretizer) {
	switch kind {
	case EulerForward:
		return eulerValue, eulerSensitivity
	default:
		return rk4Value, rk4Sensitivity
	}
}

func eulerValue(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (*mat.VecDense, error) {
	f, err := dyn.Evaluate(t, x, u)
	if err != nil {
		return nil, err
	}
	return vecAdd(x, vecScale(dt, f)), nil
}

func eulerSensitivity(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (*mat.VecDense, *mat.Dense, *mat.Dense, error) {
	lin, err := dyn.Linearize(t, x, u)
	if err != nil {
		return nil, nil, nil, err
	}
	phi := vecAdd(x, vecScale(dt, lin.F))

	nx, _ := lin.Dfdx.Dims()
	dphidx := mat.NewDense(nx, nx, nil)
	dphidx.Scale(dt, lin.Dfdx)
	for i := 0; i < nx; i++ {
		dphidx.Set(i, i, dphidx.At(i, i)+1)
	}

	var dphidu *mat.Dense
	if lin.Dfdu != nil {
		ur, uc := lin.Dfdu.Dims()
		dphidu = mat.NewDense(ur, uc, nil)
		dphidu.Scale(dt, lin.Dfdu)
	}
	return phi, dphidx, dphidu, nil
}

// rk4Value integrates the value-only trajectory with a fixed-step
// classical 4th-order Runge-Kutta scheme.
func rk4Value(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (*mat.VecDense, error) {
	k1, err := dyn.Evaluate(t, x, u)
	if err != nil {
		return nil, err
	}
	x2 := vecAdd(x, vecScale(dt/2, k1))
	k2, err := dyn.Evaluate(t+dt/2, x2, u)
	if err != nil {
		return nil, err
	}
	x3 := vecAdd(x, vecScale(dt/2, k2))
	k3, err := dyn.Evaluate(t+dt/2, x3, u)
	if err != nil {
		return nil, err
	}
	x4 := vecAdd(x, vecScale(dt, k3))
	k4, err := dyn.Evaluate(t+dt, x4, u)
	if err != nil {
		return nil, err
	}

	sum := vecZeros(x.Len())
	sum.AddVec(sum, k1)
	sum.AddScaledVec(sum, 2, k2)
	sum.AddScaledVec(sum, 2, k3)
	sum.AddVec(sum, k4)
	return vecAdd(x, vecScale(dt/6, sum)), nil
}

// rk4Sensitivity propagates both the state and its variational equation
// (the sensitivity of the RK4 step with respect to x and u) via the chain
// rule through each of the four stage evaluations, grounded on the
// explicit fixed-step propagation style of other_examples/san-kum-dynsim__euler.go.
func rk4Sensitivity(dyn Dynamics, t, dt float64, x, u *mat.VecDense) (*mat.VecDense, *mat.Dense, *mat.Dense, error) {
	nx := x.Len()

	lin1, err := dyn.Linearize(t, x, u)
	if err != nil {
		return nil, nil, nil, err
	}
	k1 := lin1.F
	dk1dx, dk1du := lin1.Dfdx, lin1.Dfdu

	x2 := vecAdd(x, vecScale(dt/2, k1))
	lin2, err := dyn.Linearize(t+dt/2, x2, u)
	if err != nil {
		return nil, nil, nil, err
	}
	dx2dx := identityPlusScaled(nx, dt/2, dk1dx)
	dx2du := scaledMatMulOrNil(dt/2, dk1du)
	dk2dx := chainDx(lin2.Dfdx, dx2dx)
	dk2du := chainDu(lin2.Dfdx, dx2du, lin2.Dfdu)

	x3 := vecAdd(x, vecScale(dt/2, lin2.F))
	lin3, err := dyn.Linearize(t+dt/2, x3, u)
	if err != nil {
		return nil, nil, nil, err
	}
	dx3dx := identityPlusScaled(nx, dt/2, dk2dx)
	dx3du := scaledMatMulOrNil(dt/2, dk2du)
	dk3dx := chainDx(lin3.Dfdx, dx3dx)
	dk3du := chainDu(lin3.Dfdx, dx3du, lin3.Dfdu)

	x4 := vecAdd(x, vecScale(dt, lin3.F))
	lin4, err := dyn.Linearize(t+dt, x4, u)
	if err != nil {
		return nil, nil, nil, err
	}
	dx4dx := identityPlusScaled(nx, dt, dk3dx)
	dx4du := scaledMatMulOrNil(dt, dk3du)
	dk4dx := chainDx(lin4.Dfdx, dx4dx)
	dk4du := chainDu(lin4.Dfdx, dx4du, lin4.Dfdu)

	sum := vecZeros(nx)
	sum.AddVec(sum, k1)
	sum.AddScaledVec(sum, 2, lin2.F)
	sum.AddScaledVec(sum, 2, lin3.F)
	sum.AddVec(sum, lin4.F)
	phi := vecAdd(x, vecScale(dt/6, sum))

	dphidx := mat.NewDense(nx, nx, nil)
	dphidx.Add(dk1dx, scaledCopy(2, dk2dx))
	dphidx.Add(dphidx, scaledCopy(2, dk3dx))
	dphidx.Add(dphidx, dk4dx)
	dphidx.Scale(dt/6, dphidx)
	for i := 0; i < nx; i++ {
		dphidx.Set(i, i, dphidx.At(i, i)+1)
	}

	var dphidu *mat.Dense
	if dk1du != nil {
		ur, uc := dk1du.Dims()
		dphidu = mat.NewDense(ur, uc, nil)
		dphidu.Add(dk1du, scaledCopy(2, dk2du))
		dphidu.Add(dphidu, scaledCopy(2, dk3du))
		dphidu.Add(dphidu, dk4du)
		dphidu.Scale(dt/6, dphidu)
	}

	return phi, dphidx, dphidu, nil
}

func identityPlusScaled(n int, alpha float64, m *mat.Dense) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	out.Scale(alpha, m)
	for i := 0; i < n; i++ {
		out.Set(i, i, out.At(i, i)+1)
	}
	return out
}

func scaledMatMulOrNil(alpha float64, m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(alpha, m)
	return out
}

func scaledCopy(alpha float64, m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(alpha, m)
	return out
}

// chainDx computes d(f(x'))/dx = dfdx' * dx'dx.
func chainDx(dfdxPrime, dxPrimeDx *mat.Dense) *mat.Dense {
	r, _ := dfdxPrime.Dims()
	_, c := dxPrimeDx.Dims()
	out := mat.NewDense(r, c, nil)
	out.Mul(dfdxPrime, dxPrimeDx)
	return out
}

// chainDu computes d(f(x',u))/du = dfdx'*dx'du + dfdu.
func chainDu(dfdxPrime, dxPrimeDu, dfduDirect *mat.Dense) *mat.Dense {
	if dfduDirect == nil {
		return nil
	}
	r, c := dfduDirect.Dims()
	out := mat.NewDense(r, c, nil)
	if dxPrimeDu != nil {
		out.Mul(dfdxPrime, dxPrimeDu)
	}
	out.Add(out, dfduDirect)
	return out
}
