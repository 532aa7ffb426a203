// Package rotation implements staged credential rotation. A rotation run
// advances a credential through four steps:
//
//  1. CREATE_PENDING stages a candidate value under the PENDING label.
//  2. SET_PENDING installs the candidate in the backing system.
//  3. TEST_PENDING verifies the candidate actually works.
//  4. PROMOTE atomically relabels PENDING to CURRENT.
//
// Every step is idempotent under the run's rotation token, so a run that
// dies can be re-entered with the same token and will pick up where it
// stopped. The consumer-visible CURRENT label only ever moves in PROMOTE;
// a failure in any earlier step leaves consumers on the old value.
package rotation

import "fmt"

// Step identifies one stage of a rotation run.
type Step string

const (
	StepCreatePending Step = "CREATE_PENDING"
	StepSetPending    Step = "SET_PENDING"
	StepTestPending   Step = "TEST_PENDING"
	StepPromote       Step = "PROMOTE"
	StepDone          Step = "DONE"
	StepFailed        Step = "FAILED"
)

// ConflictError reports a PENDING version staged by a different run. The
// holder's rotation must finish or be abandoned before a new one starts.
type ConflictError struct {
	CredentialID string
	Token        string
	HolderToken  string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("credential %q already has a staged version owned by another rotation (token %s, holder %s)",
		e.CredentialID, e.Token, e.HolderToken)
}

// FailedError reports a rotation run entering the FAILED state. Step names
// the stage that could not complete.
type FailedError struct {
	CredentialID string
	Step         Step
	Err          error
}

func (e FailedError) Error() string {
	return fmt.Sprintf("rotation of %q failed at %s: %v", e.CredentialID, e.Step, e.Err)
}

func (e FailedError) Unwrap() error { return e.Err }
