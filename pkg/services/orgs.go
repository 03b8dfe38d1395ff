package services

import (
	"context"
	"strings"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// OrgService creates organizations and tasklists.
type OrgService struct {
	*core
	members *MembershipManager
}

// CreatedOrganization is returned by CreateOrganization.
type CreatedOrganization struct {
	Organization *models.Organization  `json:"org_data"`
	Members      map[string]models.User `json:"members"`
}

// CreateOrganization creates an organization owned by creatorID and registers the creator as its
// first member.
func (o *OrgService) CreateOrganization(ctx context.Context, creatorID, name, desc string) (*CreatedOrganization, error) {
	name = strings.TrimSpace(name)
	desc = strings.TrimSpace(desc)
	if name == "" {
		return nil, models.Validation("name", "name is required")
	}
	if desc == "" {
		return nil, models.Validation("desc", "description is required")
	}

	s := o.direct()
	creator, err := call(ctx, s, "get user", func(db database.DatabaseInterface) (*models.User, error) {
		return db.GetUserByID(ctx, creatorID)
	})
	if err != nil {
		return nil, err
	}
	if creator.OrgID != nil {
		return nil, models.Conflict("user", "org_id", []string{creator.ID}, "user already belongs to organization %s", *creator.OrgID)
	}

	org := &models.Organization{
		Creator:   creator.ID,
		Name:      name,
		Desc:      desc,
		Members:   []string{},
		Tasklists: []string{},
	}
	err = o.run(ctx, func(ts session) error {
		if err := insert(ctx, ts, "create organization", func(db database.DatabaseInterface) error {
			return db.CreateOrganization(ctx, org)
		}, func(db database.DatabaseInterface) error {
			_, err := db.GetOrganization(ctx, org.ID)
			return err
		}); err != nil {
			return err
		}
		members, err := o.members.registerIn(ctx, ts, "create organization", []string{"create organization"}, org.ID, creator.ID)
		if err != nil {
			return err
		}
		org.Members = members
		return nil
	})
	if err != nil {
		return nil, err
	}

	user, err := call(ctx, s, "get user", func(db database.DatabaseInterface) (*models.User, error) {
		return db.GetUserByID(ctx, creator.ID)
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("organization created", zap.String("org_id", org.ID), zap.String("creator", creator.ID))
	return &CreatedOrganization{
		Organization: org,
		Members:      map[string]models.User{user.ID: *user},
	}, nil
}

// CreateTasklist adds a tasklist to orgID on behalf of a member.
func (o *OrgService) CreateTasklist(ctx context.Context, orgID, actorID, title string) (*models.Tasklist, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.Validation("title", "title is required")
	}

	ok, err := o.members.IsMember(ctx, orgID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.Forbidden("organization", "only members of the organization can create tasklists")
	}

	tl := &models.Tasklist{Title: title, OrgID: orgID, Tasks: []string{}}
	err = o.run(ctx, func(s session) error {
		if err := insert(ctx, s, "create tasklist", func(db database.DatabaseInterface) error {
			return db.CreateTasklist(ctx, tl)
		}, func(db database.DatabaseInterface) error {
			_, err := db.GetTasklist(ctx, tl.ID)
			return err
		}); err != nil {
			return err
		}
		if _, err := call(ctx, s, "add organization tasklist", func(db database.DatabaseInterface) (*models.Organization, error) {
			return db.AddOrganizationTasklist(ctx, orgID, tl.ID)
		}); err != nil {
			return s.partial("create tasklist", "add organization tasklist", []string{"create tasklist"}, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tl, nil
}
