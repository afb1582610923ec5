package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable marks transient infrastructure failures,
	// timeouts included. Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateRecord is returned by a RecordStore when the
	// (student, course, day) uniqueness constraint rejects an insert.
	ErrDuplicateRecord = errors.New("attendance already recorded")
)

// Reason identifies why a scan was rejected. Each reason is a distinct,
// user-visible outcome.
type Reason string

const (
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonUnknownCourse       Reason = "unknown_course"
	ReasonWindowClosed        Reason = "window_closed"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonTokenExpired        Reason = "token_expired"
	ReasonUnknownStudent      Reason = "unknown_student"
	ReasonNotEligible         Reason = "not_eligible"
	ReasonDuplicateSubmission Reason = "duplicate_submission"
)

var reasonMessages = map[Reason]string{
	ReasonInvalidToken:        "The QR code could not be read as an attendance token.",
	ReasonUnknownCourse:       "This course does not exist.",
	ReasonWindowClosed:        "Attendance for this course is not open right now.",
	ReasonInvalidSignature:    "The QR code is not a genuine attendance token.",
	ReasonTokenExpired:        "The QR code has expired. Refresh it and scan again.",
	ReasonUnknownStudent:      "No student is registered for this QR code.",
	ReasonNotEligible:         "This student is not enrolled in the course's target groups.",
	ReasonDuplicateSubmission: "Attendance has already been recorded today.",
}

// Message is the text shown to the person scanning.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// State is a step of the scan state machine.
type State int

const (
	StateReceived State = iota
	StateWindowChecked
	StateIdentityVerified
	StateEligibilityChecked
	StateDuplicateChecked
	StateClassified
	StateRecorded
)

var stateNames = [...]string{
	StateReceived:           "received",
	StateWindowChecked:      "window_checked",
	StateIdentityVerified:   "identity_verified",
	StateEligibilityChecked: "eligibility_checked",
	StateDuplicateChecked:   "duplicate_checked",
	StateClassified:         "classified",
	StateRecorded:           "recorded",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Rejection is the terminal failure of a scan. State is the last state the
// scan had reached when it was rejected.
type Rejection struct {
	Reason Reason
	State  State
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("scan rejected after %s: %s", r.State, r.Reason)
}

func reject(reason Reason, state State) error {
	return &Rejection{Reason: reason, State: state}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
