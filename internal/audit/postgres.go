// Package audit keeps a write-only trail of synchronization attempts.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/db"

	"github.com/lib/pq"
)

const insertAttempt = `
	INSERT INTO sync_attempts (
		id, protocol, subject_id, email, role_id, role_name, is_admin,
		states, final_state, error_kind, error_message, started_at, finished_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING
`

// PostgresRecorder stores one row per finished attempt. Credentials are
// never part of an attempt and never reach the table.
type PostgresRecorder struct {
	db      *db.DB
	timeout time.Duration
}

func NewPostgresRecorder(database *db.DB) *PostgresRecorder {
	return &PostgresRecorder{db: database, timeout: 3 * time.Second}
}

type row struct {
	ID           string
	Protocol     string
	SubjectID    string
	Email        string
	RoleID       string
	RoleName     string
	IsAdmin      bool
	States       []string
	FinalState   string
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func rowFor(a *rolesync.Attempt) row {
	r := row{
		ID:         a.ID,
		Protocol:   string(a.Protocol),
		SubjectID:  a.SubjectID,
		Email:      a.Email,
		RoleID:     a.Role.ID,
		RoleName:   a.Role.Name,
		IsAdmin:    a.IsAdmin,
		FinalState: string(a.State()),
		ErrorKind:  a.Kind(),
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
	}
	for _, s := range a.States {
		r.States = append(r.States, string(s))
	}
	if a.Err != nil {
		r.ErrorMessage = a.Err.Error()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = r.StartedAt
	}
	return r
}

func (p *PostgresRecorder) Record(ctx context.Context, a *rolesync.Attempt) error {
	if a == nil {
		return errors.New("audit: nil attempt")
	}
	r := rowFor(a)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, insertAttempt,
		r.ID,
		r.Protocol,
		r.SubjectID,
		r.Email,
		r.RoleID,
		r.RoleName,
		r.IsAdmin,
		pq.Array(r.States),
		r.FinalState,
		r.ErrorKind,
		r.ErrorMessage,
		r.StartedAt,
		r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert attempt %s: %w", r.ID, err)
	}
	return nil
}
