package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gigescrow/internal/bank"
	"gigescrow/internal/config"
	"gigescrow/internal/domain"
	"gigescrow/internal/escrow"
	"gigescrow/internal/events"
	"gigescrow/internal/logging"
	"gigescrow/internal/metrics"
	"gigescrow/internal/proposals"
	"gigescrow/internal/repo"
	"gigescrow/internal/reputation"
)

// Engine is the job registry. It is the only component that drives
// multi-step workflows; every mutating call commits as one transaction.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Bank       bank.Ledger
	Vault      *escrow.Vault
	Proposals  proposals.Manager
	Reputation reputation.Ledger
	Log        *zap.Logger
	Now        func() time.Time

	locks *jobLocks
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	if log == nil {
		log = logging.Nop()
	}
	r := repo.Repo{DB: db}
	ledger := bank.Ledger{Repo: r}
	vault, err := escrow.New(cfg.Deployment, r, ledger)
	if err != nil {
		return Engine{}, err
	}
	e := Engine{
		DB:         db,
		Repo:       r,
		Config:     cfg,
		Bank:       ledger,
		Vault:      vault,
		Proposals:  proposals.Manager{Repo: r},
		Reputation: reputation.Ledger{Repo: r},
		Log:        log,
		locks:      newJobLocks(),
	}
	e.SetNow(time.Now)
	return e, nil
}

// SetNow replaces the clock of the engine and every component it owns.
func (e *Engine) SetNow(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
	e.Bank.Now = now
	e.Proposals.Now = now
	e.Reputation.Now = now
	if e.Vault != nil {
		e.Vault.Now = now
		e.Vault.Payer = e.Bank
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return logging.Nop()
	}
	return e.Log
}

func (e Engine) marketplace() string {
	return e.Config.Deployment.Marketplace
}

// lockJob serializes writers on one job. Engines copied from the same value
// share the lock table.
func (e Engine) lockJob(jobID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(jobID)
}

// observe records metrics for an operation and logs its failure.
func (e Engine) observe(op string, start time.Time, errp *error) {
	err := *errp
	metrics.Observe(op, start, err)
	if err == nil {
		return
	}
	fields := []zap.Field{zap.String("op", op), zap.String("code", domain.Code(err)), zap.Error(err)}
	if domain.KindOf(err) == domain.KindInternal {
		e.log().Error("operation failed", fields...)
		return
	}
	e.log().Info("operation rejected", fields...)
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.DB.BeginTx(ctx, nil)
}

func (e Engine) loadJob(ctx context.Context, q repo.Queryer, jobID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, q, jobID)
	if err != nil {
		return j, fmt.Errorf("job %s: %w", jobID, err)
	}
	return j, nil
}

func (e Engine) loadMilestone(ctx context.Context, q repo.Queryer, jobID, milestoneID string) (domain.Milestone, error) {
	m, err := e.Repo.GetMilestone(ctx, q, milestoneID)
	if err != nil {
		return m, fmt.Errorf("milestone %s: %w", milestoneID, err)
	}
	if m.JobID != jobID {
		return domain.Milestone{}, fmt.Errorf("milestone %s on job %s: %w", milestoneID, jobID, domain.ErrNotFound)
	}
	return m, nil
}

// normalizeDeadline returns an RFC3339 UTC timestamp, or "" when unset.
func normalizeDeadline(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", fmt.Errorf("%q: %w", v, domain.ErrInvalidDeadline)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// normalizeSet trims, drops blanks and duplicates, and sorts.
func normalizeSet(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: map[string]*jobLock{}}
}

func (l *jobLocks) lock(key string) func() {
	l.mu.Lock()
	jl, ok := l.locks[key]
	if !ok {
		jl = &jobLock{}
		l.locks[key] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
