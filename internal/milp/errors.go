package milp

import (
	"fmt"
	"time"
)

// DefaultEpsilon is the numeric tolerance used for reconciliation and
// integrality checks when none is configured.
const DefaultEpsilon = 1e-6

// Constraint classes reported by InfeasibleError.
const (
	ConstraintDemandCoverage   = "demand coverage"
	ConstraintAssignmentBounds = "assignment bounds"
)

// ValidationError reports a malformed or inconsistent Dataset. It is raised
// before any solve attempt and never reaches a solver backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid dataset: %s: %s", e.Field, e.Reason)
}

// InfeasibleError reports that no feasible assignment exists. Constraint names
// the offending constraint class when it is derivable.
type InfeasibleError struct {
	Constraint string
	Detail     string
}

func (e *InfeasibleError) Error() string {
	msg := "no feasible allocation"
	if e.Constraint != "" {
		msg += ": " + e.Constraint
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// TimeoutError reports that the solver hit its time limit before finding any
// feasible incumbent. When an incumbent exists the solver returns it with
// StatusSuboptimalTimeout instead of this error.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver time limit %s reached with no incumbent", e.Limit)
}

// ReconciliationError reports an extraction-time consistency failure: the
// solver's raw assignment does not survive independent recomputation within
// tolerance. It indicates an adapter or tolerance bug, not a modeling issue.
type ReconciliationError struct {
	Check       string
	Transporter int // -1 when not applicable
	Site        int // -1 when not applicable
	Got         float64
	Want        float64
}

func (e *ReconciliationError) Error() string {
	loc := ""
	if e.Transporter >= 0 && e.Site >= 0 {
		loc = fmt.Sprintf(" at transporter %d site %d", e.Transporter, e.Site)
	} else if e.Transporter >= 0 {
		loc = fmt.Sprintf(" at transporter %d", e.Transporter)
	} else if e.Site >= 0 {
		loc = fmt.Sprintf(" at site %d", e.Site)
	}
	return fmt.Sprintf("reconciliation failed: %s%s: got %g, want %g", e.Check, loc, e.Got, e.Want)
}
