package services

import (
	"context"
	"strings"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// MembershipManager is the only writer of Organization.Members and User.OrgID. Both sides of
// the membership fact change together through its operations.
type MembershipManager struct {
	*core
}

// MemberRef names the user to add. Exactly one field must be set.
type MemberRef struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// RemovalResult summarizes a completed member removal.
type RemovalResult struct {
	UserID       string `json:"user_id"`
	MemberCount  int    `json:"member_count"`
	TasksUpdated int    `json:"tasks_updated"`
}

// Cascade step names reported in PARTIAL_CASCADE errors.
const (
	stepAssignUserOrg      = "assign user org"
	stepAddOrgMember       = "add organization member"
	stepRemoveOrgMember    = "remove organization member"
	stepReleaseUserOrg     = "release user org"
	stepListOrgTasklists   = "list organization tasklists"
	stepRemoveTaskAssignee = "remove task assignees"
)

// AddMember adds the referenced user to orgID on behalf of actorID, who must already be a member.
// It returns the updated member list. Adding a current member is a no-op.
func (m *MembershipManager) AddMember(ctx context.Context, orgID, actorID string, ref MemberRef) ([]string, error) {
	ref.UserID = strings.TrimSpace(ref.UserID)
	ref.Email = normalizeEmail(ref.Email)
	switch {
	case ref.UserID == "" && ref.Email == "":
		return nil, models.Validation("user_id", "either user_id or email is required")
	case ref.UserID != "" && ref.Email != "":
		return nil, models.Validation("user_id", "provide user_id or email, not both")
	}

	s := m.direct()
	org, err := call(ctx, s, "get organization", func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.GetOrganization(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actorID) {
		return nil, models.Forbidden("organization", "only members of the organization can add members")
	}

	user, err := m.resolveUser(ctx, s, ref)
	if err != nil {
		return nil, err
	}
	return m.register(ctx, org.ID, user.ID)
}

func (m *MembershipManager) resolveUser(ctx context.Context, s session, ref MemberRef) (*models.User, error) {
	if ref.UserID != "" {
		return call(ctx, s, "get user", func(db database.DatabaseInterface) (*models.User, error) {
			return db.GetUserByID(ctx, ref.UserID)
		})
	}
	return call(ctx, s, "get user by email", func(db database.DatabaseInterface) (*models.User, error) {
		return db.GetUserByEmail(ctx, ref.Email)
	})
}

// register writes both sides of the membership without an authorization check.
func (m *MembershipManager) register(ctx context.Context, orgID, userID string) ([]string, error) {
	var members []string
	err := m.run(ctx, func(s session) error {
		var err error
		members, err = m.registerIn(ctx, s, "add member", nil, orgID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Debug("member added", zap.String("org_id", orgID), zap.String("user_id", userID))
	return members, nil
}

// registerIn runs the membership writes inside an existing session. The user side is a
// compare-and-set, so a user claimed by another organization fails before the roster changes.
// done lists steps the caller already applied in the same operation.
func (m *MembershipManager) registerIn(ctx context.Context, s session, op string, done []string, orgID, userID string) ([]string, error) {
	completed := append([]string{}, done...)

	if _, err := call(ctx, s, stepAssignUserOrg, func(db database.DatabaseInterface) (*models.User, error) {
		return db.AssignUserOrg(ctx, userID, orgID)
	}); err != nil {
		return nil, s.partial(op, stepAssignUserOrg, completed, err)
	}
	completed = append(completed, stepAssignUserOrg)

	org, err := call(ctx, s, stepAddOrgMember, func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.AddOrganizationMember(ctx, orgID, userID)
	})
	if err != nil {
		return nil, s.partial(op, stepAddOrgMember, completed, err)
	}
	return org.Members, nil
}

// RemoveMember removes targetUserID from orgID. Only the creator may remove members, and the
// creator cannot be removed. The user is also pulled from the assignees of every task in the
// organization's tasklists.
func (m *MembershipManager) RemoveMember(ctx context.Context, orgID, actorID, targetUserID string) (*RemovalResult, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, models.Validation("user_id", "user_id is required")
	}

	org, err := call(ctx, m.direct(), "get organization", func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.GetOrganization(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}
	if org.Creator != actorID {
		return nil, models.Forbidden("organization", "only the owner can remove members")
	}
	if !org.HasMember(targetUserID) {
		return nil, &models.Error{
			Kind:    models.KindNotFound,
			Entity:  "member",
			IDs:     []string{targetUserID},
			Message: "user is not a member of this organization",
		}
	}
	if targetUserID == org.Creator {
		return nil, models.Conflict("organization", "user_id", []string{targetUserID}, "the organization creator cannot be removed")
	}

	result := &RemovalResult{UserID: targetUserID}
	err = m.run(ctx, func(s session) error {
		var completed []string

		updated, err := call(ctx, s, stepRemoveOrgMember, func(db database.DatabaseInterface) (*models.Organization, error) {
			return db.RemoveOrganizationMember(ctx, orgID, targetUserID)
		})
		if err != nil {
			return err
		}
		completed = append(completed, stepRemoveOrgMember)
		result.MemberCount = len(updated.Members)

		if _, err := call(ctx, s, stepReleaseUserOrg, func(db database.DatabaseInterface) (*models.User, error) {
			return db.ReleaseUserOrg(ctx, targetUserID, orgID)
		}); err != nil {
			return s.partial("remove member", stepReleaseUserOrg, completed, err)
		}
		completed = append(completed, stepReleaseUserOrg)

		tasklists, err := call(ctx, s, stepListOrgTasklists, func(db database.DatabaseInterface) ([]models.Tasklist, error) {
			return db.ListTasklistsByOrganization(ctx, orgID)
		})
		if err != nil {
			return s.partial("remove member", stepListOrgTasklists, completed, err)
		}
		ids := models.CloneIDs(updated.Tasklists)
		for _, tl := range tasklists {
			ids = models.UnionIDs(ids, []string{tl.ID})
		}

		n, err := call(ctx, s, stepRemoveTaskAssignee, func(db database.DatabaseInterface) (int, error) {
			return db.RemoveAssigneeFromTasklists(ctx, ids, targetUserID)
		})
		if err != nil {
			return s.partial("remove member", stepRemoveTaskAssignee, completed, err)
		}
		result.TasksUpdated = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Debug("member removed",
		zap.String("org_id", orgID), zap.String("user_id", targetUserID), zap.Int("tasks_updated", result.TasksUpdated))
	return result, nil
}

// IsMember reports whether userID is on orgID's roster.
func (m *MembershipManager) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	org, err := call(ctx, m.direct(), "get organization", func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.GetOrganization(ctx, orgID)
	})
	if err != nil {
		return false, err
	}
	return org.HasMember(userID), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
