package services

import (
	"context"
	"errors"
	"time"

	"orgtask-backend/pkg/config"
	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// Options tunes how services talk to the store.
type Options struct {
	// CascadeMode is config.CascadeBestEffort or config.CascadeTransactional.
	CascadeMode string
	// RetryDelay is the pause before the single retry of a transient store failure.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// OptionsFromConfig maps application config onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CascadeMode: cfg.CascadeMode,
		RetryDelay:  cfg.StoreRetryDelay,
		Logger:      zap.L(),
	}
}

// Services bundles the domain services over one store.
type Services struct {
	Members *MembershipManager
	Tasks   *TaskEngine
	Views   *ViewBuilder
	Orgs    *OrgService
}

// New wires every domain service to db.
func New(db database.DatabaseInterface, opts Options) *Services {
	c := newCore(db, opts)
	members := &MembershipManager{core: c}
	return &Services{
		Members: members,
		Tasks:   &TaskEngine{core: c, members: members},
		Views:   &ViewBuilder{core: c},
		Orgs:    &OrgService{core: c, members: members},
	}
}

type core struct {
	db    database.DatabaseInterface
	mode  string
	delay time.Duration
	log   *zap.Logger
}

func newCore(db database.DatabaseInterface, opts Options) *core {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mode := opts.CascadeMode
	if mode == "" {
		mode = config.CascadeBestEffort
	}
	return &core{db: db, mode: mode, delay: opts.RetryDelay, log: log.Named("services")}
}

// session is the store view one operation works against.
type session struct {
	db    database.DatabaseInterface
	tx    bool
	delay time.Duration
	log   *zap.Logger
}

// direct is a session on the store itself; each call retries once on a transient failure.
func (c *core) direct() session {
	return session{db: c.db, delay: c.delay, log: c.log}
}

// run executes a multi-record operation. In transactional mode fn runs inside one store
// transaction and the whole transaction is retried once on a transient failure.
func (c *core) run(ctx context.Context, fn func(s session) error) error {
	if c.mode != config.CascadeTransactional {
		return fn(c.direct())
	}

	attempt := func() error {
		return c.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
			return fn(session{db: tx, tx: true, log: c.log})
		})
	}
	err := attempt()
	if err == nil || !models.IsTransient(err) {
		return err
	}
	c.log.Warn("transient failure in transaction, retrying", zap.Error(err))
	if werr := wait(ctx, c.delay); werr != nil {
		return err
	}
	return attempt()
}

// partial reports a failure after completed steps. Inside a transaction nothing was applied.
func (s session) partial(op, step string, completed []string, err error) error {
	if s.tx || len(completed) == 0 {
		return err
	}
	s.log.Error("cascade stopped",
		zap.String("op", op), zap.String("failed_step", step), zap.Strings("completed", completed), zap.Error(err))
	return models.PartialCascade(op, step, completed, err)
}

// call runs one store operation, retrying once on a transient failure outside of transactions.
func call[T any](ctx context.Context, s session, op string, fn func(db database.DatabaseInterface) (T, error)) (T, error) {
	v, err := fn(s.db)
	if err == nil || s.tx || !models.IsTransient(err) {
		return v, err
	}
	s.log.Warn("transient store error, retrying", zap.String("op", op), zap.Error(err))
	if werr := wait(ctx, s.delay); werr != nil {
		return v, err
	}
	return fn(s.db)
}

// insert runs a create whose id is fixed before the first attempt. The first attempt may have
// committed before its reply was lost, so a conflict on the retry counts as success when found
// sees the record.
func insert(ctx context.Context, s session, op string, create, found func(db database.DatabaseInterface) error) error {
	err := create(s.db)
	if err == nil || s.tx || !models.IsTransient(err) {
		return err
	}
	s.log.Warn("transient store error, retrying", zap.String("op", op), zap.Error(err))
	if werr := wait(ctx, s.delay); werr != nil {
		return err
	}
	err = create(s.db)
	if errors.Is(err, models.ErrConflict) && found(s.db) == nil {
		s.log.Info("insert committed before the retry", zap.String("op", op))
		return nil
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
