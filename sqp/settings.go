package sqp

// IntegratorType selects the value-only and sensitivity-propagating
// discretizers used to advance dynamics over a shooting interval.
type IntegratorType int

const (
	// RK4 is a fixed-step explicit 4th-order Runge-Kutta integrator.
	RK4 IntegratorType = iota
	// EulerForward is a fixed-step explicit Euler integrator.
	EulerForward
)

// Settings collects the recognized MS-SQP options of spec.md §6. Loading
// these from an on-disk config format is out of scope for this package;
// the struct's JSON tags follow the teacher's config-object convention
// (see control.ControlBlockConfig) so a caller's own loader can unmarshal
// directly into it.
type Settings struct {
	NThreads       int            `json:"n_threads"`
	ThreadPriority int            `json:"thread_priority"`
	Dt             float64        `json:"dt"`
	SqpIteration   int            `json:"sqp_iteration"`
	IntegratorType IntegratorType `json:"integrator_type"`

	ProjectStateInputEqualityConstraints bool `json:"project_state_input_equality_constraints"`

	InequalityConstraintMu    float64 `json:"inequality_constraint_mu"`
	InequalityConstraintDelta float64 `json:"inequality_constraint_delta"`

	UseFeedbackPolicy bool `json:"use_feedback_policy"`

	AlphaDecay float64 `json:"alpha_decay"`
	AlphaMin   float64 `json:"alpha_min"`
	GammaC     float64 `json:"gamma_c"`
	GMax       float64 `json:"g_max"`
	GMin       float64 `json:"g_min"`
	CostTol    float64 `json:"cost_tol"`
	DeltaTol   float64 `json:"delta_tol"`

	PrintSolverStatus     bool `json:"print_solver_status"`
	PrintLinesearch       bool `json:"print_linesearch"`
	PrintSolverStatistics bool `json:"print_solver_statistics"`
}

// DefaultSettings returns settings with the reference constants used by
// the acceptance scenarios of spec.md §8.
func DefaultSettings() Settings {
	return Settings{
		NThreads:                             1,
		Dt:                                   0.1,
		SqpIteration:                         10,
		IntegratorType:                       RK4,
		ProjectStateInputEqualityConstraints: false,
		InequalityConstraintMu:               0,
		InequalityConstraintDelta:            1e-6,
		UseFeedbackPolicy:                    true,
		AlphaDecay:                           0.5,
		AlphaMin:                             1e-4,
		GammaC:                               1e-5,
		GMax:                                 1e-1,
		GMin:                                 1e-6,
		CostTol:                              1e-4,
		DeltaTol:                             1e-6,
	}
}

// normalize clamps and fills in settings that must satisfy an invariant
// regardless of what the caller supplied. nThreads < 1 is permitted only
// implicitly by the source this package generalizes; here it is clamped
// to 1 and documented (spec §9 Open Question).
func (s Settings) normalize() Settings {
	if s.NThreads < 1 {
		s.NThreads = 1
	}
	if s.SqpIteration < 1 {
		s.SqpIteration = 1
	}
	if s.AlphaDecay <= 0 || s.AlphaDecay >= 1 {
		s.AlphaDecay = 0.5
	}
	if s.AlphaMin <= 0 {
		s.AlphaMin = 1e-4
	}
	if s.GMin <= 0 {
		s.GMin = 1e-6
	}
	if s.GMax <= s.GMin {
		s.GMax = s.GMin * 10
	}
	return s
}
