package gigescrowsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigescrow/internal/config"
	"gigescrow/internal/db"
	"gigescrow/internal/engine"
	"gigescrow/internal/migrate"
	"gigescrow/internal/server"
	gigescrowsdk "gigescrow/sdk/go"
)

func newClient(t *testing.T) *gigescrowsdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	e, err := engine.New(conn, config.Default(), nil)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return gigescrowsdk.New(srv.URL)
}

func TestClientDrivesJobToCompletion(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	operator := c.As("operator")
	buyer := c.As("client-1")
	seller := c.As("freelancer-1")

	_, err := operator.FundAccount(ctx, "client-1", 1000)
	require.NoError(t, err)

	job, err := buyer.CreateJob(ctx, gigescrowsdk.CreateJobInput{Title: "API port", Budget: 1000})
	require.NoError(t, err)
	assert.Equal(t, "open", job.Status)

	prop, err := seller.SubmitProposal(ctx, job.ID, 900, "1 week", "")
	require.NoError(t, err)
	job, err = buyer.AcceptProposal(ctx, job.ID, prop.ID)
	require.NoError(t, err)
	require.NotNil(t, job.FreelancerID)
	assert.Equal(t, "freelancer-1", *job.FreelancerID)

	m, err := buyer.CreateMilestone(ctx, job.ID, 1000, "all of it")
	require.NoError(t, err)
	payment, err := buyer.FundMilestone(ctx, job.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", payment.Status)

	res, err := buyer.ReleaseMilestone(ctx, job.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(975), res.Payout)
	assert.Equal(t, uint64(25), res.Fee)
	assert.Equal(t, "completed", res.JobStatus)

	_, err = buyer.SubmitReview(ctx, job.ID, 5, "great")
	require.NoError(t, err)
	rep, err := c.As("anyone").Reputation(ctx, "freelancer-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rep.ReviewCount)

	acct, err := seller.Balance(ctx, "freelancer-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(975), acct.Balance)

	page, err := operator.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientSurfacesErrorCodes(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	buyer := c.As("client-1")
	_, err := buyer.CreateJob(ctx, gigescrowsdk.CreateJobInput{Title: "x"})
	var apiErr *gigescrowsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_budget", apiErr.Code)

	job, err := buyer.CreateJob(ctx, gigescrowsdk.CreateJobInput{Title: "x", Budget: 10})
	require.NoError(t, err)
	_, err = buyer.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = c.As("freelancer-1").SubmitProposal(ctx, job.ID, 10, "", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "job_not_open", apiErr.Code)

	_, err = c.GetJob(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
