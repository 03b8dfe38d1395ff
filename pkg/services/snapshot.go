package services

import (
	"context"
	"errors"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// ViewBuilder assembles read-only aggregates. It never writes.
type ViewBuilder struct {
	*core
}

// Snapshot is everything a member sees of one organization.
type Snapshot struct {
	Organization *models.Organization       `json:"org_data"`
	Tasklists    map[string]models.Tasklist `json:"tasklist"`
	Tasks        map[string][]models.Task   `json:"tasks"` // keyed by tasklist id, ordered by creation time
	Members      map[string]models.User     `json:"members"`
}

// GetOrgSnapshot loads the organization, its tasklists, their tasks and every member's user record.
// Loads are sequential: one query per tasklist and one per member. A member id with no user
// record is left out of Members rather than failing the whole view.
func (v *ViewBuilder) GetOrgSnapshot(ctx context.Context, orgID, actorID string) (*Snapshot, error) {
	s := v.direct()
	org, err := call(ctx, s, "get organization", func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.GetOrganization(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actorID) {
		return nil, models.Forbidden("organization", "only members of the organization can view it")
	}

	snap := &Snapshot{
		Organization: org,
		Tasklists:    make(map[string]models.Tasklist),
		Tasks:        make(map[string][]models.Task),
		Members:      make(map[string]models.User, len(org.Members)),
	}

	tasklists, err := call(ctx, s, "list tasklists", func(db database.DatabaseInterface) ([]models.Tasklist, error) {
		return db.ListTasklistsByOrganization(ctx, org.ID)
	})
	if err != nil {
		return nil, err
	}
	for _, tl := range tasklists {
		tl := tl
		snap.Tasklists[tl.ID] = tl
		tasks, err := call(ctx, s, "list tasks", func(db database.DatabaseInterface) ([]models.Task, error) {
			return db.ListTasksByTasklist(ctx, tl.ID)
		})
		if err != nil {
			return nil, err
		}
		snap.Tasks[tl.ID] = tasks
	}

	for _, memberID := range org.Members {
		memberID := memberID
		user, err := call(ctx, s, "get user", func(db database.DatabaseInterface) (*models.User, error) {
			return db.GetUserByID(ctx, memberID)
		})
		if errors.Is(err, models.ErrNotFound) {
			v.log.Warn("snapshot skipped member without user record",
				zap.String("org_id", org.ID), zap.String("user_id", memberID))
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Members[user.ID] = *user
	}

	return snap, nil
}
