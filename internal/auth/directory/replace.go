package directory

import (
	"context"
	"slices"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/logger"
)

// ReplaceResult describes what a ReplaceRoles call changed.
type ReplaceResult struct {
	Added   []string
	Removed []string
}

// Changed reports whether either phase wrote anything.
func (r *ReplaceResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// ReplaceRoles makes roleIDs the subject's recognized roles. Unrecognized
// roles the subject holds are left alone.
//
// Missing roles are added before stale recognized roles are removed, so the
// subject never passes through a state with no recognized role. An empty
// phase is skipped, which makes a repeated call a no-op.
//
// A PhaseAdd failure leaves the subject unchanged. A PhaseRemove failure
// leaves it holding a superset of roleIDs; calling ReplaceRoles again
// finishes the removal.
func (c *Client) ReplaceRoles(
	ctx context.Context,
	cred *auth.Credential,
	subjectID string,
	roleIDs []string,
) (*ReplaceResult, error) {
	current, err := c.ListRoles(ctx, cred, subjectID)
	if err != nil {
		return nil, err
	}

	held := make([]string, 0, len(current))
	for _, r := range current {
		held = append(held, r.ID)
	}

	res := &ReplaceResult{}
	for _, id := range roleIDs {
		if !slices.Contains(held, id) && !slices.Contains(res.Added, id) {
			res.Added = append(res.Added, id)
		}
	}
	for _, r := range c.roles.Filter(current) {
		if !slices.Contains(roleIDs, r.ID) {
			res.Removed = append(res.Removed, r.ID)
		}
	}

	if !res.Changed() {
		logger.Debug("roles already in desired state", map[string]any{
			"subject": subjectID,
			"roles":   roleIDs,
		})
		return res, nil
	}

	if err := c.AddRoles(ctx, cred, subjectID, res.Added); err != nil {
		return nil, err
	}
	if err := c.RemoveRoles(ctx, cred, subjectID, res.Removed); err != nil {
		return &ReplaceResult{Added: res.Added}, err
	}

	logger.Info("roles replaced", map[string]any{
		"subject": subjectID,
		"added":   res.Added,
		"removed": res.Removed,
	})
	return res, nil
}
