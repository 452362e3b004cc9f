package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrCredential means token issuance failed (IdP outage, bad client secret, wrong audience).
	ErrCredential = errors.New("credential exchange failed")
	// ErrInvalidCredentials means the IdP rejected an end user's password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAmbiguousLookup means the directory returned more than one subject for one email.
	ErrAmbiguousLookup = errors.New("ambiguous directory lookup")
	// ErrUserNotFound means no subject exists for the requested email.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoRoleAssigned means the subject holds no recognized role and cannot be classified.
	ErrNoRoleAssigned = errors.New("no role assigned")
	// ErrMultipleRoles means the subject holds both recognized roles at once.
	ErrMultipleRoles = errors.New("multiple recognized roles assigned")
	// ErrUnknownRole means a requested role is not one of the recognized roles.
	ErrUnknownRole = errors.New("unknown role")
	// ErrRoleMutation means a directory role write failed. See RoleMutationError.
	ErrRoleMutation = errors.New("role mutation failed")
	// ErrMirrorWrite means the backend rejected the mirrored flag. See MirrorWriteError.
	ErrMirrorWrite = errors.New("mirror write failed")
	// ErrConflict means another attempt is already changing the same subject.
	ErrConflict = errors.New("concurrent change in progress")
	// ErrDirectory means a directory read failed before any write happened.
	ErrDirectory = errors.New("directory request failed")
)

// MutationPhase identifies which half of a role replacement failed.
type MutationPhase string

const (
	PhaseAdd    MutationPhase = "add"
	PhaseRemove MutationPhase = "remove"
)

// RoleMutationError reports a failed role replacement. After a PhaseAdd
// failure nothing changed and the whole replacement may be retried. After a
// PhaseRemove failure the subject holds a superset of the desired roles and
// only the removal needs to be retried.
type RoleMutationError struct {
	SubjectID string
	Phase     MutationPhase
	RoleIDs   []string
	Err       error
}

func (e *RoleMutationError) Error() string {
	return fmt.Sprintf("role mutation failed in %s phase for %s: %v", e.Phase, e.SubjectID, e.Err)
}

func (e *RoleMutationError) Unwrap() []error {
	return []error{ErrRoleMutation, e.Err}
}

// MirrorWriteError reports a failed backend write. The IdP change that
// preceded it is already committed; callers retry the mirror write alone.
type MirrorWriteError struct {
	SubjectID  string
	IsAdmin    bool
	StatusCode int
	Err        error
}

func (e *MirrorWriteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mirror write for %s (isAdmin=%t) failed with status %d: %v",
			e.SubjectID, e.IsAdmin, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mirror write for %s (isAdmin=%t) failed: %v", e.SubjectID, e.IsAdmin, e.Err)
}

func (e *MirrorWriteError) Unwrap() []error {
	return []error{ErrMirrorWrite, e.Err}
}

// APIError is a non-success response from the IdP or the backend.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Kind returns a stable name for the taxonomy member err belongs to.
// It is used in logs, the audit trail and HTTP error bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrAmbiguousLookup):
		return "ambiguous_lookup"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNoRoleAssigned):
		return "no_role_assigned"
	case errors.Is(err, ErrMultipleRoles):
		return "multiple_roles"
	case errors.Is(err, ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, ErrRoleMutation):
		var rme *RoleMutationError
		if errors.As(err, &rme) {
			return "role_mutation_" + string(rme.Phase)
		}
		return "role_mutation"
	case errors.Is(err, ErrMirrorWrite):
		return "mirror_write"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDirectory):
		return "directory"
	default:
		return "internal"
	}
}
