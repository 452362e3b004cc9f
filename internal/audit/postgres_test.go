package audit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func failedAttempt() *rolesync.Attempt {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &rolesync.Attempt{
		ID:        uuid.NewString(),
		Protocol:  rolesync.ProtocolChange,
		SubjectID: "auth0|bob",
		Email:     "bob@example.com",
		Role:      auth.Role{ID: "rol_admin", Name: "Admin"},
		IsAdmin:   true,
		States: []rolesync.State{
			rolesync.StatePending,
			rolesync.StateCredentialAcquired,
			rolesync.StateRolesResolved,
			rolesync.StateRolesMutated,
			rolesync.StateFailed,
		},
		Err:        &auth.MirrorWriteError{SubjectID: "auth0|bob", IsAdmin: true, StatusCode: 502, Err: fmt.Errorf("bad gateway")},
		StartedAt:  started,
		FinishedAt: started.Add(300 * time.Millisecond),
	}
}

func TestRowForFailedAttempt(t *testing.T) {
	a := failedAttempt()
	r := rowFor(a)

	require.Equal(t, a.ID, r.ID)
	require.Equal(t, "change", r.Protocol)
	require.Equal(t, "rol_admin", r.RoleID)
	require.Equal(t, "FAILED", r.FinalState)
	require.Equal(t, "mirror_write", r.ErrorKind)
	require.Contains(t, r.ErrorMessage, "status 502")
	require.Equal(t, []string{"PENDING", "CREDENTIAL_ACQUIRED", "ROLES_RESOLVED", "ROLES_MUTATED", "FAILED"}, r.States)
}

func TestRowForUnfinishedAttemptUsesStartTime(t *testing.T) {
	a := failedAttempt()
	a.Err = nil
	a.FinishedAt = time.Time{}

	r := rowFor(a)
	require.Empty(t, r.ErrorKind)
	require.Empty(t, r.ErrorMessage)
	require.Equal(t, a.StartedAt, r.FinishedAt)
}

// TestPostgresRecorder runs against a real database when AUDIT_TEST_DSN is set.
func TestPostgresRecorder(t *testing.T) {
	dsn := os.Getenv("AUDIT_TEST_DSN")
	if dsn == "" {
		t.Skip("AUDIT_TEST_DSN not set")
	}
	ctx := context.Background()

	database, err := db.Open(ctx, dsn)
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunSyncAttemptsMigration(ctx, database))

	a := failedAttempt()
	rec := NewPostgresRecorder(database)
	require.NoError(t, rec.Record(ctx, a))
	// replays of the same attempt are ignored
	require.NoError(t, rec.Record(ctx, a))

	var (
		kind   string
		states []string
	)
	err = database.QueryRowContext(ctx,
		`SELECT error_kind, states FROM sync_attempts WHERE id = $1`, a.ID,
	).Scan(&kind, pq.Array(&states))
	require.NoError(t, err)
	require.Equal(t, "mirror_write", kind)
	require.Len(t, states, 5)

	_, err = database.ExecContext(ctx, `DELETE FROM sync_attempts WHERE id = $1`, a.ID)
	require.NoError(t, err)
}
