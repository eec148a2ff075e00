package repo

import (
	"context"
)

func (r Repo) queryIDs(ctx context.Context, q Queryer, query string, args ...any) ([]string, error) {
	rows, err := r.on(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnbalancedTransfers lists transfer ids whose debits and credits differ.
// Mint rows have no debit side and are skipped.
func (r Repo) UnbalancedTransfers(ctx context.Context, q Queryer, mintMemo string) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT transfer_id FROM ledger_entries WHERE COALESCE(memo,'')<>?
GROUP BY transfer_id HAVING SUM(CASE entry_type WHEN 'debit' THEN amount ELSE -amount END)<>0`, mintMemo)
}

// OvercommittedJobs lists jobs whose live milestones exceed the budget.
func (r Repo) OvercommittedJobs(ctx context.Context, q Queryer) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT j.id FROM jobs j JOIN milestones m ON m.job_id=j.id
WHERE m.status<>'cancelled' GROUP BY j.id, j.budget HAVING SUM(m.amount)>j.budget`)
}

// UnbackedMilestones lists funded milestones without a pending payment.
func (r Repo) UnbackedMilestones(ctx context.Context, q Queryer) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT m.id FROM milestones m LEFT JOIN escrow_payments p ON p.id=m.payment_id
WHERE m.status='funded' AND (p.status IS NULL OR p.status<>'pending' OR p.amount<>m.amount)`)
}

// UnboundJobs lists active or completed jobs that do not have exactly one
// accepted proposal from the bound freelancer.
func (r Repo) UnboundJobs(ctx context.Context, q Queryer) ([]string, error) {
	return r.queryIDs(ctx, q, `SELECT j.id FROM jobs j WHERE j.status IN ('in_progress','completed')
AND (SELECT COUNT(*) FROM proposals p WHERE p.job_id=j.id AND p.status='accepted' AND p.freelancer_id=j.freelancer_id)<>1`)
}
