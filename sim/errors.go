package sim

import "fmt"

// DomainError reports an observation that escaped a decision structure's
// covered domain. Lookups never clamp: during training this is a fatal
// modeling bug, and consumers of serialized policies must widen the root
// domain before training rather than patch at lookup time.
type DomainError struct {
	Obs Observation
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("observation %s outside the policy's covered domain", e.Obs)
}

// FormatError reports a malformed serialized policy artifact. Decoding
// aborts on the first failure; no partial tree is ever returned.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed policy artifact: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed policy artifact: %s", e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// SimulationError reports invalid scenario parameters. It is raised during
// validation, before any event is scheduled.
type SimulationError struct {
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("invalid scenario: %s", e.Reason)
}

// ConvergenceWarning reports a search run that exhausted its generation
// budget while fitness was still improving faster than the configured
// threshold. It is a diagnostic carried on the training result, never a
// failure.
type ConvergenceWarning struct {
	Window      int
	Improvement float64
	Threshold   float64
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("generation budget exhausted before convergence: improvement %.6g over last %d generations exceeds threshold %.6g",
		e.Improvement, e.Window, e.Threshold)
}
