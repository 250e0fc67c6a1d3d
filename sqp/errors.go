package sqp

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// QPFailure reports that the QP backend returned a non-success status.
// It is fatal for the current run: the iteration log may be inspected but
// no PrimalSolution is updated.
type QPFailure struct {
	Iteration int
	Status    string
	cause     error
}

func (e *QPFailure) Error() string {
	if e.cause != nil {
		return errors.Wrapf(e.cause, "qp backend failed at iteration %d (status %s)", e.Iteration, e.Status).Error()
	}
	return errors.Errorf("qp backend failed at iteration %d (status %s)", e.Iteration, e.Status).Error()
}

func (e *QPFailure) Unwrap() error { return e.cause }

func newQPFailure(iteration int, status string, cause error) *QPFailure {
	return &QPFailure{Iteration: iteration, Status: status, cause: cause}
}

// UsageError reports a caller mistake, such as querying the iteration log
// before any solve has run. It is fatal and advisory.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func newUsageError(format string, args ...interface{}) *UsageError {
	return &UsageError{msg: errors.Errorf(format, args...).Error()}
}

// ProviderError wraps an error raised by a cloned dynamics/cost/constraint
// provider during parallel evaluation. It propagates out of the parallel
// section only after every worker has finished its current stage; no
// partial QP is ever solved once a ProviderError has been observed.
type ProviderError struct {
	Stage int
	cause error
}

func (e *ProviderError) Error() string {
	return errors.Wrapf(e.cause, "provider failed at stage %d", e.Stage).Error()
}

func (e *ProviderError) Unwrap() error { return e.cause }

func newProviderError(stage int, cause error) *ProviderError {
	return &ProviderError{Stage: stage, cause: cause}
}

// NumericalDegeneracy reports that a defect, cost, or merit value became
// non-finite. Surfaced as a QPFailure after the current transcription; the
// line search treats any non-finite candidate performance as a rejection.
type NumericalDegeneracy struct {
	where string
}

func (e *NumericalDegeneracy) Error() string {
	return errors.Errorf("numerical degeneracy detected in %s", e.where).Error()
}

func newNumericalDegeneracy(where string) *NumericalDegeneracy {
	return &NumericalDegeneracy{where: where}
}

// combineProviderErrors folds per-worker provider errors raised while
// assembling a stage batch into a single error, or nil if none occurred.
func combineProviderErrors(errs ...error) error {
	var combined error
	for _, e := range errs {
		combined = multierr.Append(combined, e)
	}
	return combined
}
