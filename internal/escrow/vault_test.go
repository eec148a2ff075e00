package escrow

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"gigescrow/internal/bank"
	"gigescrow/internal/config"
	"gigescrow/internal/db"
	"gigescrow/internal/domain"
	"gigescrow/internal/migrate"
	"gigescrow/internal/repo"
)

type vaultEnv struct {
	ctx   context.Context
	conn  *sql.DB
	bank  bank.Ledger
	vault *Vault
	dep   config.Deployment
}

func newVaultEnv(t *testing.T) *vaultEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	ledger := bank.Ledger{Repo: r}
	dep := config.Default().Deployment
	v, err := New(dep, r, ledger)
	require.NoError(t, err)

	env := &vaultEnv{ctx: context.Background(), conn: conn, bank: ledger, vault: v, dep: dep}
	_, err = ledger.Mint(env.ctx, nil, "client", 1000)
	require.NoError(t, err)
	seedJob(t, conn)
	return env
}

// seedJob satisfies the payment foreign keys.
func seedJob(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO jobs(id,client_id,freelancer_id,title,budget,status,created_at,updated_at) VALUES ('job-1','client','dev','t',1000,'in_progress','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	for _, id := range []string{"m-1", "m-2"} {
		_, err = conn.Exec(`INSERT INTO milestones(id,job_id,amount,status,created_at,updated_at) VALUES (?,'job-1',40,'funded','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`, id)
		require.NoError(t, err)
	}
}

func (e *vaultEnv) deposit(t *testing.T, milestoneID string, amount uint64) domain.EscrowPayment {
	t.Helper()
	p, err := e.vault.Deposit(e.ctx, nil, e.dep.Marketplace, DepositRequest{
		JobID: "job-1", MilestoneID: milestoneID, Client: "client", Freelancer: "dev", Expected: amount, Funds: amount,
	})
	require.NoError(t, err)
	return p
}

func (e *vaultEnv) balance(t *testing.T, party string) uint64 {
	t.Helper()
	b, err := e.bank.Balance(e.ctx, nil, party)
	require.NoError(t, err)
	return b
}

func TestDepositAndRelease(t *testing.T) {
	env := newVaultEnv(t)
	p := env.deposit(t, "m-1", 40)
	require.Equal(t, domain.PaymentPending, p.Status)
	require.Equal(t, uint64(960), env.balance(t, "client"))

	held, err := env.vault.JobBalance(env.ctx, nil, "job-1")
	require.NoError(t, err)
	require.Equal(t, uint64(40), held)

	payout, fee, err := env.vault.Release(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(39), payout)
	require.Equal(t, uint64(1), fee)
	require.Equal(t, uint64(39), env.balance(t, "dev"))
	require.Equal(t, uint64(1), env.balance(t, env.dep.Treasury))
	require.Equal(t, uint64(0), env.balance(t, env.dep.VaultAccount))

	got, err := env.vault.Repo.GetPayment(env.ctx, nil, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentReleased, got.Status)
	require.Equal(t, uint64(39), got.Payout)
	require.NotNil(t, got.SettledAt)

	_, _, err = env.vault.Release(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyReleased)
	_, err = env.vault.Refund(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyReleased)
}

func TestRefundReturnsFullAmount(t *testing.T) {
	env := newVaultEnv(t)
	p := env.deposit(t, "m-1", 40)

	amount, err := env.vault.Refund(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(40), amount)
	require.Equal(t, uint64(1000), env.balance(t, "client"))

	_, err = env.vault.Refund(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyRefunded)
	_, _, err = env.vault.Release(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyRefunded)
}

func TestOnlyMarketplaceMayCallVault(t *testing.T) {
	env := newVaultEnv(t)
	_, err := env.vault.Deposit(env.ctx, nil, "client", DepositRequest{JobID: "job-1", MilestoneID: "m-1", Client: "client", Freelancer: "dev", Expected: 40, Funds: 40})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	p := env.deposit(t, "m-1", 40)
	_, _, err = env.vault.Release(env.ctx, nil, "dev", p.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = env.vault.Refund(env.ctx, nil, "client", p.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDepositValidation(t *testing.T) {
	env := newVaultEnv(t)
	_, err := env.vault.Deposit(env.ctx, nil, env.dep.Marketplace, DepositRequest{JobID: "job-1", MilestoneID: "m-1", Client: "client", Freelancer: "dev", Expected: 40, Funds: 39})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	_, err = env.vault.Deposit(env.ctx, nil, env.dep.Marketplace, DepositRequest{JobID: "job-1", MilestoneID: "m-1", Client: "client", Freelancer: "dev", Expected: 2000, Funds: 2000})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	held, err := env.vault.Held(env.ctx, nil)
	require.NoError(t, err)
	require.Zero(t, held)
}

// reentrantPayer calls back into the vault from inside the first transfer.
type reentrantPayer struct {
	inner     Payer
	vault     *Vault
	paymentID string
	release   bool
	fired     bool
	err       error
}

func (p *reentrantPayer) Transfer(ctx context.Context, q repo.Queryer, t bank.Transfer) (string, error) {
	if !p.fired && t.From == p.vault.Custody {
		p.fired = true
		if p.release {
			_, _, p.err = p.vault.Release(ctx, q, p.vault.Marketplace, p.paymentID)
		} else {
			_, p.err = p.vault.Refund(ctx, q, p.vault.Marketplace, p.paymentID)
		}
	}
	return p.inner.Transfer(ctx, q, t)
}

func TestReentrantReleaseObservesSettledPayment(t *testing.T) {
	env := newVaultEnv(t)
	p := env.deposit(t, "m-1", 40)

	hook := &reentrantPayer{inner: env.bank, vault: env.vault, paymentID: p.ID, release: true}
	env.vault.Payer = hook

	tx, err := env.conn.BeginTx(env.ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	payout, fee, err := env.vault.Release(env.ctx, tx, env.dep.Marketplace, p.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.True(t, hook.fired)
	require.ErrorIs(t, hook.err, domain.ErrAlreadyReleased)
	require.Equal(t, uint64(39), payout)
	require.Equal(t, uint64(1), fee)
	require.Equal(t, uint64(39), env.balance(t, "dev"))
	require.Zero(t, env.balance(t, env.dep.VaultAccount))
}

func TestReentrantRefundObservesSettledPayment(t *testing.T) {
	env := newVaultEnv(t)
	p := env.deposit(t, "m-1", 40)

	hook := &reentrantPayer{inner: env.bank, vault: env.vault, paymentID: p.ID}
	env.vault.Payer = hook

	_, err := env.vault.Refund(env.ctx, nil, env.dep.Marketplace, p.ID)
	require.NoError(t, err)
	require.ErrorIs(t, hook.err, domain.ErrAlreadyRefunded)
	require.Equal(t, uint64(1000), env.balance(t, "client"))
}

func TestHeldMatchesCustodyBalance(t *testing.T) {
	env := newVaultEnv(t)
	a := env.deposit(t, "m-1", 30)
	env.deposit(t, "m-2", 70)

	held, err := env.vault.Held(env.ctx, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), held)
	require.Equal(t, held, env.balance(t, env.dep.VaultAccount))

	_, _, err = env.vault.Release(env.ctx, nil, env.dep.Marketplace, a.ID)
	require.NoError(t, err)
	held, err = env.vault.Held(env.ctx, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(70), held)
	require.Equal(t, held, env.balance(t, env.dep.VaultAccount))
}

func TestNewRejectsBadRate(t *testing.T) {
	dep := config.Default().Deployment
	dep.ProtocolFeeBps = 10001
	_, err := New(dep, repo.Repo{}, bank.Ledger{})
	require.ErrorIs(t, err, domain.ErrInvalidRate)
}
