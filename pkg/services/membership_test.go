package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMembership_FullLifecycle(t *testing.T) {
	for _, mode := range cascadeModes {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mode)

			assert.Equal(t, []string{f.creator.ID, f.bob.ID}, f.reloadOrg(t).Members)
			assert.True(t, f.reloadUser(t, f.bob.ID).InOrganization(f.org.ID))

			task, err := f.svc.Tasks.ChangeStatus(ctx, f.task.ID, f.bob.ID, "done")
			require.NoError(t, err)
			assert.Equal(t, models.StatusDone, task.Status)

			_, err = f.svc.Tasks.ChangeStatus(ctx, f.task.ID, f.creator.ID, "open")
			assert.True(t, errors.Is(err, models.ErrForbidden))

			result, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.bob.ID)
			require.NoError(t, err)
			assert.Equal(t, &RemovalResult{UserID: f.bob.ID, MemberCount: 1, TasksUpdated: 1}, result)

			assert.Equal(t, []string{f.creator.ID}, f.reloadOrg(t).Members)
			assert.Nil(t, f.reloadUser(t, f.bob.ID).OrgID)
			assert.Empty(t, f.reloadTask(t).Assignees)
		})
	}
}

func TestAddMember_ByEmailIsNormalized(t *testing.T) {
	ctx := context.Background()
	svc, db := newServices(t, "")
	creator := createUser(t, db, "carol@example.com", "Carol")
	dave := createUser(t, db, "dave@example.com", "Dave")

	created, err := svc.Orgs.CreateOrganization(ctx, creator.ID, "Acme", "Widgets")
	require.NoError(t, err)

	members, err := svc.Members.AddMember(ctx, created.Organization.ID, creator.ID, MemberRef{Email: "  Dave@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, []string{creator.ID, dave.ID}, members)
}

func TestAddMember_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	members, err := f.svc.Members.AddMember(ctx, f.org.ID, f.bob.ID, MemberRef{UserID: f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{f.creator.ID, f.bob.ID}, members)
}

func TestAddMember_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	outsider := createUser(t, f.db, "eve@example.com", "Eve")

	_, err := f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{UserID: outsider.ID, Email: outsider.Email})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.svc.Members.AddMember(ctx, f.org.ID, outsider.ID, MemberRef{UserID: outsider.ID})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = f.svc.Members.AddMember(ctx, "missing-org", f.creator.ID, MemberRef{UserID: outsider.ID})
	assert.True(t, errors.Is(err, &models.Error{Kind: models.KindNotFound, Entity: "organization"}))

	_, err = f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{Email: "nobody@example.com"})
	assert.True(t, errors.Is(err, &models.Error{Kind: models.KindNotFound, Entity: "user"}))

	assert.Equal(t, []string{f.creator.ID, f.bob.ID}, f.reloadOrg(t).Members)
}

func TestAddMember_UserInAnotherOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	frank := createUser(t, f.db, "frank@example.com", "Frank")

	other, err := f.svc.Orgs.CreateOrganization(ctx, frank.ID, "Globex", "Rival")
	require.NoError(t, err)

	_, err = f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{UserID: frank.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))

	assert.Equal(t, []string{f.creator.ID, f.bob.ID}, f.reloadOrg(t).Members)
	assert.True(t, f.reloadUser(t, frank.ID).InOrganization(other.Organization.ID))
}

func TestRemoveMember_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.bob.ID, f.creator.ID)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.creator.ID)
	assert.True(t, errors.Is(err, models.ErrConflict))

	_, err = f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, "stranger")
	assert.True(t, errors.Is(err, &models.Error{Kind: models.KindNotFound, Entity: "member"}))

	_, err = f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, " ")
	assert.True(t, errors.Is(err, models.ErrValidation))

	assert.Equal(t, []string{f.creator.ID, f.bob.ID}, f.reloadOrg(t).Members)
}

func TestRemoveMember_OnlyTouchesOwnOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	// a task elsewhere still naming bob, left over from before bob joined Acme
	outside := &models.Task{Title: "Elsewhere", TasklistID: "foreign-list", Assignees: []string{f.bob.ID}}
	require.NoError(t, f.db.CreateTask(ctx, outside))

	result, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TasksUpdated)

	got, err := f.db.GetTask(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob.ID}, got.Assignees)
}

func TestRemoveMember_BestEffortReportsPartialCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "best-effort")
	f.db.failNext("ReleaseUserOrg", errPermanent)

	_, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.bob.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPartialCascade))

	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, []string{stepRemoveOrgMember}, e.Completed)
	assert.Equal(t, stepReleaseUserOrg, e.Field)
	assert.True(t, errors.Is(err, errPermanent))

	// the applied step stays applied
	assert.Equal(t, []string{f.creator.ID}, f.reloadOrg(t).Members)
	assert.True(t, f.reloadUser(t, f.bob.ID).InOrganization(f.org.ID))
}

func TestRemoveMember_TransactionalRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "transactional")
	f.db.failNext("RemoveAssigneeFromTasklists", errPermanent)

	_, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.bob.ID)
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrPartialCascade))
	assert.True(t, errors.Is(err, models.ErrStore))

	assert.Equal(t, []string{f.creator.ID, f.bob.ID}, f.reloadOrg(t).Members)
	assert.True(t, f.reloadUser(t, f.bob.ID).InOrganization(f.org.ID))
	assert.Equal(t, []string{f.bob.ID}, f.reloadTask(t).Assignees)
}

func TestRemoveMember_TransactionalRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "transactional")
	f.db.failNext("RemoveAssigneeFromTasklists", errTransient)
	before := f.db.calls["WithTx"]

	result, err := f.svc.Members.RemoveMember(ctx, f.org.ID, f.creator.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TasksUpdated)
	assert.Equal(t, 2, f.db.calls["WithTx"]-before)
	assert.Empty(t, f.reloadTask(t).Assignees)
}

func TestStoreCalls_RetryTransientFailureOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "best-effort")

	f.db.failNext("GetOrganization", errTransient)
	ok, err := f.svc.Members.IsMember(ctx, f.org.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	f.db.failNext("GetOrganization", errTransient, errTransient)
	_, err = f.svc.Members.IsMember(ctx, f.org.ID, f.bob.ID)
	assert.True(t, models.IsTransient(err))

	f.db.failNext("GetOrganization", errPermanent)
	calls := f.db.calls["GetOrganization"]
	_, err = f.svc.Members.IsMember(ctx, f.org.ID, f.bob.ID)
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, f.db.calls["GetOrganization"]-calls)
}

func TestAddMember_PartialWhenRosterWriteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "best-effort")
	gina := createUser(t, f.db, "gina@example.com", "Gina")
	f.db.failNext("AddOrganizationMember", errPermanent)

	_, err := f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{UserID: gina.ID})
	require.Error(t, err)
	e, ok := models.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindPartialCascade, e.Kind)
	assert.Equal(t, []string{stepAssignUserOrg}, e.Completed)

	// retrying completes the half-applied membership
	members, err := f.svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{UserID: gina.ID})
	require.NoError(t, err)
	assert.Contains(t, members, gina.ID)
}

func TestAddMember_FailedDiskWriteChangesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := database.NewLocalDatabase(dir)
	require.NoError(t, err)
	svc := New(db, Options{Logger: zap.NewNop()})

	carol := createUser(t, db, "carol@example.com", "Carol")
	bob := createUser(t, db, "bob@example.com", "Bob")
	created, err := svc.Orgs.CreateOrganization(ctx, carol.ID, "Acme", "Widgets")
	require.NoError(t, err)
	orgID := created.Organization.ID

	require.NoError(t, os.RemoveAll(dir))

	_, err = svc.Members.AddMember(ctx, orgID, carol.ID, MemberRef{UserID: bob.ID})
	require.Error(t, err)
	assert.Equal(t, models.KindStore, models.KindOf(err))

	got, err := db.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got.OrgID)

	org, err := db.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, []string{carol.ID}, org.Members)
}
