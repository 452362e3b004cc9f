package rolesync

import (
	"slices"
	"time"

	"role-sync-service/internal/auth"

	"github.com/google/uuid"
)

// Protocol names the pipeline an attempt ran.
type Protocol string

const (
	// ProtocolAdopt classifies a subject that just logged in.
	ProtocolAdopt Protocol = "adopt"
	// ProtocolChange is an administrator changing another subject's role.
	ProtocolChange Protocol = "change"
	// ProtocolRetryMirror repeats only the mirror write of an earlier attempt.
	ProtocolRetryMirror Protocol = "retry_mirror"
	// ProtocolProvision creates a subject and assigns its first role.
	ProtocolProvision Protocol = "provision"
)

type State string

const (
	StatePending            State = "PENDING"
	StateCredentialAcquired State = "CREDENTIAL_ACQUIRED"
	StateRolesResolved      State = "ROLES_RESOLVED"
	StateRolesMutated       State = "ROLES_MUTATED"
	StateMirrorWritten      State = "MIRROR_WRITTEN"
	StateFailed             State = "FAILED"
)

// Attempt is the record of one synchronization run. It is returned on
// success and on failure so callers can tell how far the run got.
type Attempt struct {
	ID       string
	Protocol Protocol

	SubjectID string
	Email     string
	Name      string
	Role      auth.Role
	IsAdmin   bool

	// States lists every state reached, in order, starting with StatePending.
	States []State
	Err    error

	StartedAt  time.Time
	FinishedAt time.Time
}

func newAttempt(p Protocol, now time.Time) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		Protocol:  p,
		States:    []State{StatePending},
		StartedAt: now,
	}
}

// State is the latest state reached.
func (a *Attempt) State() State {
	return a.States[len(a.States)-1]
}

func (a *Attempt) Reached(s State) bool {
	return slices.Contains(a.States, s)
}

// LastGood is the latest state reached before a failure.
func (a *Attempt) LastGood() State {
	for i := len(a.States) - 1; i >= 0; i-- {
		if a.States[i] != StateFailed {
			return a.States[i]
		}
	}
	return StatePending
}

// Kind is the error kind of a failed attempt, empty on success.
func (a *Attempt) Kind() string {
	return auth.Kind(a.Err)
}

func (a *Attempt) Succeeded() bool {
	return a.Err == nil && a.State() == StateMirrorWritten
}

func (a *Attempt) reach(s State) {
	a.States = append(a.States, s)
}
