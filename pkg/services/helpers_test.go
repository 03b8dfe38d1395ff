package services

import (
	"context"
	"errors"
	"testing"

	"orgtask-backend/pkg/config"
	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// faultyDB fails selected store calls with queued errors before delegating. Creates can also
// be made to succeed and then report a transient error, as when a reply is lost after commit.
type faultyDB struct {
	database.DatabaseInterface
	faults map[string][]error
	lost   map[string]int
	calls  map[string]int
}

func newFaultyDB(inner database.DatabaseInterface) *faultyDB {
	return &faultyDB{DatabaseInterface: inner, faults: map[string][]error{}, lost: map[string]int{}, calls: map[string]int{}}
}

func (f *faultyDB) loseNextReply(method string) {
	f.lost[method]++
}

func (f *faultyDB) afterCommit(method string, err error) error {
	if err != nil || f.lost[method] == 0 {
		return err
	}
	f.lost[method]--
	return errTransient
}

func (f *faultyDB) failNext(method string, errs ...error) {
	f.faults[method] = append(f.faults[method], errs...)
}

func (f *faultyDB) take(method string) error {
	f.calls[method]++
	queue := f.faults[method]
	if len(queue) == 0 {
		return nil
	}
	f.faults[method] = queue[1:]
	return queue[0]
}

func (f *faultyDB) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	if err := f.take("GetOrganization"); err != nil {
		return nil, err
	}
	return f.DatabaseInterface.GetOrganization(ctx, orgID)
}

func (f *faultyDB) AddOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	if err := f.take("AddOrganizationMember"); err != nil {
		return nil, err
	}
	return f.DatabaseInterface.AddOrganizationMember(ctx, orgID, userID)
}

func (f *faultyDB) ReleaseUserOrg(ctx context.Context, userID, orgID string) (*models.User, error) {
	if err := f.take("ReleaseUserOrg"); err != nil {
		return nil, err
	}
	return f.DatabaseInterface.ReleaseUserOrg(ctx, userID, orgID)
}

func (f *faultyDB) RemoveAssigneeFromTasklists(ctx context.Context, tasklistIDs []string, userID string) (int, error) {
	if err := f.take("RemoveAssigneeFromTasklists"); err != nil {
		return 0, err
	}
	return f.DatabaseInterface.RemoveAssigneeFromTasklists(ctx, tasklistIDs, userID)
}

func (f *faultyDB) AddTasklistTask(ctx context.Context, tasklistID, taskID string) (*models.Tasklist, error) {
	if err := f.take("AddTasklistTask"); err != nil {
		return nil, err
	}
	return f.DatabaseInterface.AddTasklistTask(ctx, tasklistID, taskID)
}

func (f *faultyDB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if err := f.take("CreateOrganization"); err != nil {
		return err
	}
	return f.afterCommit("CreateOrganization", f.DatabaseInterface.CreateOrganization(ctx, org))
}

func (f *faultyDB) CreateTask(ctx context.Context, task *models.Task) error {
	if err := f.take("CreateTask"); err != nil {
		return err
	}
	return f.afterCommit("CreateTask", f.DatabaseInterface.CreateTask(ctx, task))
}

func (f *faultyDB) WithTx(ctx context.Context, fn func(tx database.DatabaseInterface) error) error {
	f.calls["WithTx"]++
	return f.DatabaseInterface.WithTx(ctx, func(tx database.DatabaseInterface) error {
		return fn(&faultyDB{DatabaseInterface: tx, faults: f.faults, lost: f.lost, calls: f.calls})
	})
}

var (
	errTransient = models.StoreFailure("connection reset", true, errors.New("read: connection reset by peer"))
	errPermanent = models.StoreFailure("disk full", false, errors.New("no space left on device"))
)

// fixture is one organization owned by creator, with bob as a second member and one task
// in one tasklist assigned to bob.
type fixture struct {
	db       *faultyDB
	svc      *Services
	creator  *models.User
	bob      *models.User
	org      *models.Organization
	tasklist *models.Tasklist
	task     *models.Task
}

func newServices(t *testing.T, mode string) (*Services, *faultyDB) {
	t.Helper()
	db := newFaultyDB(database.NewMemoryDatabase())
	return New(db, Options{CascadeMode: mode, Logger: zap.NewNop()}), db
}

func createUser(t *testing.T, db database.DatabaseInterface, email, name string) *models.User {
	t.Helper()
	u := &models.User{Email: email, FullName: name, PasswordHash: "x"}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	ctx := context.Background()
	svc, db := newServices(t, mode)

	f := &fixture{db: db, svc: svc}
	f.creator = createUser(t, db, "carol@example.com", "Carol")
	f.bob = createUser(t, db, "bob@example.com", "Bob")

	created, err := svc.Orgs.CreateOrganization(ctx, f.creator.ID, "Acme", "Widgets")
	require.NoError(t, err)
	f.org = created.Organization

	_, err = svc.Members.AddMember(ctx, f.org.ID, f.creator.ID, MemberRef{UserID: f.bob.ID})
	require.NoError(t, err)

	f.tasklist, err = svc.Orgs.CreateTasklist(ctx, f.org.ID, f.creator.ID, "Sprint 1")
	require.NoError(t, err)

	f.task, err = svc.Tasks.CreateTask(ctx, f.tasklist.ID, f.creator.ID, NewTask{Title: "Fix bug"})
	require.NoError(t, err)

	_, err = svc.Tasks.AddAssignees(ctx, f.task.ID, f.creator.ID, []string{f.bob.ID})
	require.NoError(t, err)
	return f
}

func (f *fixture) reloadOrg(t *testing.T) *models.Organization {
	t.Helper()
	org, err := f.db.DatabaseInterface.GetOrganization(context.Background(), f.org.ID)
	require.NoError(t, err)
	return org
}

func (f *fixture) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.db.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) reloadTask(t *testing.T) *models.Task {
	t.Helper()
	task, err := f.db.GetTask(context.Background(), f.task.ID)
	require.NoError(t, err)
	return task
}

var cascadeModes = []string{config.CascadeBestEffort, config.CascadeTransactional}
