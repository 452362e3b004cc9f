// Package rolesync keeps the backend's isAdmin flag in line with the role a
// subject holds on the IdP. The IdP is always the source of truth.
package rolesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/directory"
	"role-sync-service/internal/lock"
	"role-sync-service/internal/logger"
)

type ServiceTokens interface {
	ServiceCredential(ctx context.Context) (*auth.Credential, error)
}

// SelfLookup resolves a subject from its own credential.
type SelfLookup interface {
	UserInfo(ctx context.Context, subjectCred *auth.Credential) (*auth.Subject, error)
}

type Directory interface {
	FindByEmail(ctx context.Context, cred *auth.Credential, email string) (*auth.Subject, error)
	ListRoles(ctx context.Context, cred *auth.Credential, subjectID string) ([]auth.Role, error)
	ReplaceRoles(ctx context.Context, cred *auth.Credential, subjectID string, roleIDs []string) (*directory.ReplaceResult, error)
	CreateUser(ctx context.Context, cred *auth.Credential, u auth.NewUser) (*auth.Subject, error)
}

type Mirror interface {
	SetIsAdmin(ctx context.Context, actingCred *auth.Credential, subjectID string, isAdmin bool) error
}

// Recorder receives every finished attempt. Failures to record are logged
// and never change the outcome of the attempt.
type Recorder interface {
	Record(ctx context.Context, a *Attempt) error
}

type Config struct {
	Tokens    ServiceTokens
	Self      SelfLookup
	Directory Directory
	Mirror    Mirror
	Locker    lock.Locker
	Recorder  Recorder
	Roles     auth.RoleSet

	// Connection is the IdP database connection new subjects are created in.
	Connection string
}

// Synchronizer runs the synchronization protocols. It makes no
// authorization decision about the acting subject; the backend's mirror
// endpoint and the HTTP layer enforce that.
type Synchronizer struct {
	tokens     ServiceTokens
	self       SelfLookup
	directory  Directory
	mirror     Mirror
	locker     lock.Locker
	recorder   Recorder
	roles      auth.RoleSet
	connection string
	now        func() time.Time
}

func New(cfg Config) (*Synchronizer, error) {
	switch {
	case cfg.Tokens == nil:
		return nil, errors.New("rolesync: token broker is required")
	case cfg.Self == nil:
		return nil, errors.New("rolesync: self lookup is required")
	case cfg.Directory == nil:
		return nil, errors.New("rolesync: directory is required")
	case cfg.Mirror == nil:
		return nil, errors.New("rolesync: mirror is required")
	case cfg.Roles.Admin.ID == "" || cfg.Roles.User.ID == "":
		return nil, errors.New("rolesync: both recognized roles are required")
	}

	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Synchronizer{
		tokens:     cfg.Tokens,
		self:       cfg.Self,
		directory:  cfg.Directory,
		mirror:     cfg.Mirror,
		locker:     locker,
		recorder:   recorder,
		roles:      cfg.Roles,
		connection: cfg.Connection,
		now:        time.Now,
	}, nil
}

// Roles returns the two recognized roles.
func (s *Synchronizer) Roles() auth.RoleSet {
	return s.roles
}

// AdoptRole classifies the subject owning subjectCred from the roles it
// holds on the IdP and writes the result to the mirror.
//
// A subject with no recognized role fails with auth.ErrNoRoleAssigned and
// one holding both fails with auth.ErrMultipleRoles. Neither case writes
// the mirror.
func (s *Synchronizer) AdoptRole(ctx context.Context, subjectCred *auth.Credential) (*Attempt, error) {
	a := newAttempt(ProtocolAdopt, s.now())

	if err := auth.RequireKind(subjectCred, auth.KindSubject, s.now()); err != nil {
		return s.finish(ctx, a, err)
	}
	svc, err := s.tokens.ServiceCredential(ctx)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateCredentialAcquired)

	subject, err := s.self.UserInfo(ctx, subjectCred)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.SubjectID, a.Email, a.Name = subject.ID, subject.Email, subject.Name

	unlock, err := s.lock(ctx, subject.ID)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	defer s.release(ctx, subject.ID, unlock)

	roles, err := s.directory.ListRoles(ctx, svc, subject.ID)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	role, err := s.classify(subject.ID, roles)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.Role, a.IsAdmin = role, s.roles.IsAdmin(role)
	a.reach(StateRolesResolved)

	if err := s.mirror.SetIsAdmin(ctx, subjectCred, subject.ID, a.IsAdmin); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateMirrorWritten)

	return s.finish(ctx, a, nil)
}

// ChangeRole makes roleID (an id or name of a recognized role) the only
// recognized role of the subject registered with email, then writes the
// mirror with actingCred.
//
// After a *auth.MirrorWriteError the IdP change is committed; recover with
// RetryMirror, not by calling ChangeRole again. After a
// *auth.RoleMutationError calling ChangeRole again is safe.
func (s *Synchronizer) ChangeRole(
	ctx context.Context,
	actingCred *auth.Credential,
	email, roleID string,
) (*Attempt, error) {
	a := newAttempt(ProtocolChange, s.now())
	a.Email = strings.TrimSpace(email)

	desired, ok := s.roles.Resolve(roleID)
	if !ok {
		return s.finish(ctx, a, fmt.Errorf("%w: %q", auth.ErrUnknownRole, roleID))
	}
	a.Role, a.IsAdmin = desired, s.roles.IsAdmin(desired)

	if err := auth.RequireKind(actingCred, auth.KindSubject, s.now()); err != nil {
		return s.finish(ctx, a, err)
	}
	svc, err := s.tokens.ServiceCredential(ctx)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateCredentialAcquired)

	target, err := s.directory.FindByEmail(ctx, svc, a.Email)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	if target == nil {
		return s.finish(ctx, a, fmt.Errorf("%w: %s", auth.ErrUserNotFound, a.Email))
	}
	a.SubjectID, a.Name = target.ID, target.Name

	unlock, err := s.lock(ctx, target.ID)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	defer s.release(ctx, target.ID, unlock)
	a.reach(StateRolesResolved)

	if _, err := s.directory.ReplaceRoles(ctx, svc, target.ID, []string{desired.ID}); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateRolesMutated)

	if err := s.mirror.SetIsAdmin(ctx, actingCred, target.ID, a.IsAdmin); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateMirrorWritten)

	return s.finish(ctx, a, nil)
}

// RetryMirror repeats only the mirror write for subjectID after an attempt
// failed with *auth.MirrorWriteError. The IdP is not touched.
func (s *Synchronizer) RetryMirror(
	ctx context.Context,
	actingCred *auth.Credential,
	subjectID, roleID string,
) (*Attempt, error) {
	a := newAttempt(ProtocolRetryMirror, s.now())
	a.SubjectID = subjectID

	desired, ok := s.roles.Resolve(roleID)
	if !ok {
		return s.finish(ctx, a, fmt.Errorf("%w: %q", auth.ErrUnknownRole, roleID))
	}
	a.Role, a.IsAdmin = desired, s.roles.IsAdmin(desired)

	if subjectID == "" {
		return s.finish(ctx, a, fmt.Errorf("%w: empty subject id", auth.ErrUserNotFound))
	}
	if err := auth.RequireKind(actingCred, auth.KindSubject, s.now()); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateCredentialAcquired)

	unlock, err := s.lock(ctx, subjectID)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	defer s.release(ctx, subjectID, unlock)
	a.reach(StateRolesResolved)

	if err := s.mirror.SetIsAdmin(ctx, actingCred, subjectID, a.IsAdmin); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateMirrorWritten)

	return s.finish(ctx, a, nil)
}

// ProvisionUser creates a subject on the IdP, assigns roleID and writes the
// mirror with actingCred.
func (s *Synchronizer) ProvisionUser(
	ctx context.Context,
	actingCred *auth.Credential,
	u auth.NewUser,
	roleID string,
) (*Attempt, error) {
	a := newAttempt(ProtocolProvision, s.now())
	a.Email, a.Name = strings.TrimSpace(u.Email), u.Name

	desired, ok := s.roles.Resolve(roleID)
	if !ok {
		return s.finish(ctx, a, fmt.Errorf("%w: %q", auth.ErrUnknownRole, roleID))
	}
	a.Role, a.IsAdmin = desired, s.roles.IsAdmin(desired)

	if err := auth.RequireKind(actingCred, auth.KindSubject, s.now()); err != nil {
		return s.finish(ctx, a, err)
	}
	svc, err := s.tokens.ServiceCredential(ctx)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateCredentialAcquired)

	if u.Connection == "" {
		u.Connection = s.connection
	}
	u.Email = a.Email
	created, err := s.directory.CreateUser(ctx, svc, u)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	a.SubjectID = created.ID

	unlock, err := s.lock(ctx, created.ID)
	if err != nil {
		return s.finish(ctx, a, err)
	}
	defer s.release(ctx, created.ID, unlock)
	a.reach(StateRolesResolved)

	if _, err := s.directory.ReplaceRoles(ctx, svc, created.ID, []string{desired.ID}); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateRolesMutated)

	if err := s.mirror.SetIsAdmin(ctx, actingCred, created.ID, a.IsAdmin); err != nil {
		return s.finish(ctx, a, err)
	}
	a.reach(StateMirrorWritten)

	return s.finish(ctx, a, nil)
}

// classify picks the single recognized role out of roles.
func (s *Synchronizer) classify(subjectID string, roles []auth.Role) (auth.Role, error) {
	recognized := s.roles.Filter(roles)

	switch len(recognized) {
	case 0:
		return auth.Role{}, fmt.Errorf("%w: subject %s holds %d roles, none recognized",
			auth.ErrNoRoleAssigned, subjectID, len(roles))
	case 1:
		return recognized[0], nil
	default:
		names := make([]string, 0, len(recognized))
		for _, r := range recognized {
			names = append(names, r.Name)
		}
		logger.Warn("directory inconsistency: several recognized roles", map[string]any{
			"subject": subjectID,
			"roles":   names,
		})
		return auth.Role{}, fmt.Errorf("%w: subject %s holds %s",
			auth.ErrMultipleRoles, subjectID, strings.Join(names, ", "))
	}
}

func (s *Synchronizer) lock(ctx context.Context, subjectID string) (lock.Unlock, error) {
	return s.locker.TryLock(ctx, lock.SubjectKey(subjectID))
}

func (s *Synchronizer) release(ctx context.Context, subjectID string, unlock lock.Unlock) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to release subject lock", map[string]any{
			"subject": subjectID,
			"error":   err.Error(),
		})
	}
}

func (s *Synchronizer) finish(ctx context.Context, a *Attempt, err error) (*Attempt, error) {
	a.FinishedAt = s.now()

	fields := map[string]any{
		"attempt":  a.ID,
		"protocol": string(a.Protocol),
		"subject":  a.SubjectID,
		"email":    a.Email,
		"role":     a.Role.Name,
		"is_admin": a.IsAdmin,
	}

	if err != nil {
		a.Err = err
		last := a.State()
		a.reach(StateFailed)

		fields["state"] = string(last)
		fields["kind"] = auth.Kind(err)
		fields["error"] = err.Error()

		if errors.Is(err, auth.ErrMirrorWrite) && a.Reached(StateRolesMutated) {
			logger.Error("role changed on idp but mirror is stale", fields)
		} else {
			logger.Warn("synchronization failed", fields)
		}
	} else {
		logger.Info("synchronization complete", fields)
	}

	if rerr := s.recorder.Record(context.WithoutCancel(ctx), a); rerr != nil {
		logger.Error("failed to record attempt", map[string]any{
			"attempt": a.ID,
			"error":   rerr.Error(),
		})
	}

	return a, err
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *Attempt) error { return nil }
