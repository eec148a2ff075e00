package proposals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gigescrow/internal/db"
	"gigescrow/internal/domain"
	"gigescrow/internal/migrate"
	"gigescrow/internal/repo"
)

func newManager(t *testing.T) Manager {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO jobs(id,client_id,title,budget,status,created_at,updated_at) VALUES ('job-1','client','t',100,'open','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	return Manager{Repo: repo.Repo{DB: conn}}
}

func TestSubmitRejectsDuplicateActiveProposal(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	p, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "dev", Price: 90})
	require.NoError(t, err)
	require.Equal(t, domain.ProposalPending, p.Status)
	require.NotEmpty(t, p.ID)

	_, err = m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "dev", Price: 80})
	require.ErrorIs(t, err, domain.ErrDuplicateProposal)

	_, err = m.Withdraw(ctx, nil, p, "dev")
	require.NoError(t, err)
	_, err = m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "dev", Price: 80})
	require.NoError(t, err)
}

func TestListActiveKeepsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	var ids []string
	for _, who := range []string{"c", "a", "b"} {
		p, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: who, Price: 10})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	active, err := m.ListActive(ctx, nil, "job-1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	for i, p := range active {
		require.Equal(t, ids[i], p.ID)
	}
}

func TestRejectSiblings(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	a, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "a", Price: 10})
	require.NoError(t, err)
	b, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "b", Price: 20})
	require.NoError(t, err)

	_, err = m.Accept(ctx, nil, a)
	require.NoError(t, err)
	rejected, err := m.RejectSiblings(ctx, nil, "job-1", a.ID)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, b.ID, rejected[0].ID)

	got, err := m.Get(ctx, nil, "job-1", b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProposalRejected, got.Status)

	_, err = m.Accept(ctx, nil, got)
	require.ErrorIs(t, err, domain.ErrProposalNotPending)
}

func TestGetChecksJob(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	p, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "a", Price: 10})
	require.NoError(t, err)
	_, err = m.Get(ctx, nil, "other-job", p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawRequiresAuthor(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	p, err := m.Submit(ctx, nil, domain.Proposal{JobID: "job-1", FreelancerID: "a", Price: 10})
	require.NoError(t, err)
	_, err = m.Withdraw(ctx, nil, p, "b")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
