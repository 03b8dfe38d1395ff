package handlers

import (
	"context"
	"net/http"

	"orgtask-backend/pkg/middleware"
	"orgtask-backend/pkg/models"
	"orgtask-backend/pkg/services"
	"orgtask-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

type OrgCreator interface {
	CreateOrganization(ctx context.Context, creatorID, name, desc string) (*services.CreatedOrganization, error)
	CreateTasklist(ctx context.Context, orgID, actorID, title string) (*models.Tasklist, error)
}

type MembershipAPI interface {
	AddMember(ctx context.Context, orgID, actorID string, ref services.MemberRef) ([]string, error)
	RemoveMember(ctx context.Context, orgID, actorID, targetUserID string) (*services.RemovalResult, error)
}

type SnapshotAPI interface {
	GetOrgSnapshot(ctx context.Context, orgID, actorID string) (*services.Snapshot, error)
}

type OrgsHandler struct {
	orgs    OrgCreator
	members MembershipAPI
	views   SnapshotAPI
}

func NewOrgsHandler(orgs OrgCreator, members MembershipAPI, views SnapshotAPI) *OrgsHandler {
	return &OrgsHandler{orgs: orgs, members: members, views: views}
}

// POST /api/orgs
func (h *OrgsHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Desc string `json:"desc"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	created, err := h.orgs.CreateOrganization(r.Context(), middleware.ActorID(r.Context()), req.Name, req.Desc)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, created)
}

// GET /api/orgs/{orgID}
func (h *OrgsHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	snap, err := h.views.GetOrgSnapshot(r.Context(), chiRoute.URLParam(r, "orgID"), middleware.ActorID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, snap)
}

// POST /api/orgs/{orgID}/members
func (h *OrgsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var ref services.MemberRef
	if err := utils.ParseJSONBody(r, &ref); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	orgID := chiRoute.URLParam(r, "orgID")
	members, err := h.members.AddMember(r.Context(), orgID, middleware.ActorID(r.Context()), ref)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"org_id":  orgID,
		"members": members,
	})
}

// DELETE /api/orgs/{orgID}/members/{userID}
func (h *OrgsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	result, err := h.members.RemoveMember(r.Context(),
		chiRoute.URLParam(r, "orgID"), middleware.ActorID(r.Context()), chiRoute.URLParam(r, "userID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, result)
}

// POST /api/orgs/{orgID}/tasklists
func (h *OrgsHandler) CreateTasklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	tl, err := h.orgs.CreateTasklist(r.Context(), chiRoute.URLParam(r, "orgID"), middleware.ActorID(r.Context()), req.Title)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, tl)
}
