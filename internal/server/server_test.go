package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigescrow/internal/config"
	"gigescrow/internal/db"
	"gigescrow/internal/domain"
	"gigescrow/internal/engine"
	"gigescrow/internal/migrate"
)

const (
	owner      = "operator"
	client     = "client-1"
	freelancer = "freelancer-1"
	testSecret = "test-secret"
)

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	cfg := config.Default()
	for _, fn := range mutate {
		fn(cfg)
	}
	e, err := engine.New(conn, cfg, nil)
	require.NoError(t, err)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: e}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) (int, []byte) {
	t.Helper()
	headers := map[string]string{}
	if actor != "" {
		headers["X-Actor-Id"] = actor
	}
	return s.doWithHeaders(t, method, path, body, headers)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) openJob(t *testing.T, budget uint64) domain.Job {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/v1/accounts/"+client+"/fund", owner, map[string]any{"amount": budget})
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = s.do(t, http.MethodPost, "/v1/jobs", client, map[string]any{
		"title":           "Landing page",
		"budget":          budget,
		"required_skills": []string{"go", "css"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[domain.Job](t, body)
}

func (s *testServer) activeJob(t *testing.T, budget uint64) domain.Job {
	t.Helper()
	job := s.openJob(t, budget)
	status, body := s.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/proposals", freelancer, map[string]any{"price": budget})
	require.Equal(t, http.StatusCreated, status, string(body))
	p := decode[domain.Proposal](t, body)
	status, body = s.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/proposals/"+p.ID+"/accept", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	return decode[domain.Job](t, body)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	job := srv.activeJob(t, 400)
	assert.Equal(t, domain.JobInProgress, job.Status)
	assert.Equal(t, freelancer, job.Freelancer())

	status, body := srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones", client, map[string]any{"amount": 400, "description": "everything"})
	require.Equal(t, http.StatusCreated, status, string(body))
	m := decode[domain.Milestone](t, body)

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones/"+m.ID+"/fund", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	payment := decode[domain.EscrowPayment](t, body)
	assert.Equal(t, domain.PaymentPending, payment.Status)

	status, body = srv.do(t, http.MethodGet, "/v1/jobs/"+job.ID+"/escrow", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.EqualValues(t, 400, decode[EscrowBalanceResponse](t, body).Held)

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones/"+m.ID+"/release", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	settlement := decode[domain.Settlement](t, body)
	assert.EqualValues(t, 390, settlement.Payout)
	assert.EqualValues(t, 10, settlement.Fee)
	assert.Equal(t, domain.JobCompleted, settlement.JobStatus)

	status, body = srv.do(t, http.MethodGet, "/v1/accounts/"+freelancer, freelancer, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.EqualValues(t, 390, decode[domain.Account](t, body).Balance)

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/reviews", client, map[string]any{"rating": 5, "comment": "great"})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = srv.do(t, http.MethodGet, "/v1/reputation/"+freelancer, client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	rep := decode[domain.Reputation](t, body)
	assert.EqualValues(t, 1, rep.ReviewCount)
	assert.InDelta(t, 5.0, rep.Average, 0.001)

	status, body = srv.do(t, http.MethodGet, "/v1/audit", owner, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	audit := decode[AuditResponse](t, body)
	assert.True(t, audit.OK, "%+v", audit.Violations)
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	job := srv.activeJob(t, 100)

	cases := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		code   string
	}{
		{"missing credentials", http.MethodGet, "/v1/jobs", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"unknown job", http.MethodGet, "/v1/jobs/nope", client, nil, http.StatusNotFound, "not_found"},
		{"over budget", http.MethodPost, "/v1/jobs/" + job.ID + "/milestones", client, map[string]any{"amount": 101}, http.StatusConflict, "budget_exceeded"},
		{"freelancer creates milestone", http.MethodPost, "/v1/jobs/" + job.ID + "/milestones", freelancer, map[string]any{"amount": 10}, http.StatusForbidden, "forbidden"},
		{"zero amount", http.MethodPost, "/v1/jobs/" + job.ID + "/milestones", client, map[string]any{"amount": 0}, http.StatusBadRequest, "invalid_amount"},
		{"review before completion", http.MethodPost, "/v1/jobs/" + job.ID + "/reviews", client, map[string]any{"rating": 4}, http.StatusConflict, "job_not_completed"},
		{"bid on active job", http.MethodPost, "/v1/jobs/" + job.ID + "/proposals", "freelancer-2", map[string]any{"price": 10}, http.StatusConflict, "job_not_open"},
		{"audit by non-owner", http.MethodGet, "/v1/audit", client, nil, http.StatusForbidden, "forbidden"},
		{"fund by non-owner", http.MethodPost, "/v1/accounts/" + client + "/fund", client, map[string]any{"amount": 5}, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := srv.do(t, tc.method, tc.path, tc.actor, tc.body)
			require.Equal(t, tc.status, status, string(body))
			env := decode[errorEnvelope](t, body)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestReleaseTwiceConflicts(t *testing.T) {
	srv := newTestServer(t)
	job := srv.activeJob(t, 100)
	status, body := srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones", client, map[string]any{"amount": 60})
	require.Equal(t, http.StatusCreated, status, string(body))
	m := decode[domain.Milestone](t, body)
	release := "/v1/jobs/" + job.ID + "/milestones/" + m.ID + "/release"

	status, body = srv.do(t, http.MethodPost, release, client, nil)
	require.Equal(t, http.StatusConflict, status, string(body))
	assert.Equal(t, "not_funded", decode[errorEnvelope](t, body).Error.Code)

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones/"+m.ID+"/fund", client, map[string]any{"funds": 50})
	require.Equal(t, http.StatusBadRequest, status, string(body))
	assert.Equal(t, "amount_mismatch", decode[errorEnvelope](t, body).Error.Code)

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones/"+m.ID+"/fund", client, map[string]any{"funds": 60})
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = srv.do(t, http.MethodPost, release, client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = srv.do(t, http.MethodPost, release, client, nil)
	require.Equal(t, http.StatusConflict, status, string(body))
	assert.Equal(t, "already_released", decode[errorEnvelope](t, body).Error.Code)
}

func TestCancelJobRefundsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	job := srv.activeJob(t, 100)
	status, body := srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones", client, map[string]any{"amount": 70})
	require.Equal(t, http.StatusCreated, status, string(body))
	m := decode[domain.Milestone](t, body)
	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/milestones/"+m.ID+"/fund", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = srv.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", freelancer, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	cancelled := decode[domain.Job](t, body)
	assert.Equal(t, domain.JobCancelled, cancelled.Status)
	assert.Nil(t, cancelled.FreelancerID)

	status, body = srv.do(t, http.MethodGet, "/v1/accounts/"+client, client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.EqualValues(t, 100, decode[domain.Account](t, body).Balance)

	status, body = srv.do(t, http.MethodGet, "/v1/jobs/"+job.ID+"/payments", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	payments := decode[[]domain.EscrowPayment](t, body)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentRefunded, payments[0].Status)
}

func TestAuthenticationSources(t *testing.T) {
	srv := newTestServer(t)

	token, err := SignToken(testSecret, client, time.Minute)
	require.NoError(t, err)
	status, body := srv.doWithHeaders(t, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, status, string(body))
	me := decode[WhoAmIResponse](t, body)
	assert.Equal(t, client, me.ActorID)
	assert.Equal(t, "jwt", me.Source)
	assert.False(t, me.Owner)

	forged, err := SignToken("other-secret", owner, time.Minute)
	require.NoError(t, err)
	status, _ = srv.doWithHeaders(t, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = srv.do(t, http.MethodPost, "/v1/api-keys", owner, map[string]any{"name": "ci"})
	require.Equal(t, http.StatusCreated, status, string(body))
	created := decode[APIKeyCreatedResponse](t, body)
	require.True(t, strings.HasPrefix(created.Key, "gk_"))

	status, body = srv.doWithHeaders(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": created.Key})
	require.Equal(t, http.StatusOK, status, string(body))
	me = decode[WhoAmIResponse](t, body)
	assert.Equal(t, owner, me.ActorID)
	assert.True(t, me.Owner)

	status, _ = srv.do(t, http.MethodDelete, "/v1/api-keys/"+created.ID, client, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = srv.do(t, http.MethodDelete, "/v1/api-keys/"+created.ID, owner, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = srv.doWithHeaders(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": created.Key})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = srv.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLegacyHeaderDisabled(t *testing.T) {
	srv := newTestServer(t)
	handler, err := New(Config{Engine: srv.engine, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	strict := httptest.NewServer(handler)
	defer strict.Close()

	req, err := http.NewRequest(http.MethodGet, strict.URL+"/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor-Id", owner)
	res, err := strict.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		srv.openJob(t, 10)
	}

	status, body := srv.do(t, http.MethodGet, "/v1/events?type=job.created&limit=2", client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	page := decode[paginatedEvents](t, body)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)
	assert.Equal(t, "job", page.Items[0].EntityKind)
	assert.Equal(t, "open", page.Items[0].Payload["status"])

	status, body = srv.do(t, http.MethodGet, "/v1/events?type=job.created&limit=2&cursor="+page.NextCursor, client, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	next := decode[paginatedEvents](t, body)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)

	status, _ = srv.do(t, http.MethodGet, "/v1/events?cursor=abc", client, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.openJob(t, 10)
	status, body := srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "gigescrow_transitions_total")
	assert.Contains(t, string(body), "gigescrow_http_request_duration_seconds")
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodGet, "/v1/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, status)
	doc := decode[map[string]any](t, body)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/jobs/{job_id}/milestones/{milestone_id}/release")
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var mu sync.Mutex
	var received []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			received = append(received, evt)
			mu.Unlock()
		}
		assert.Equal(t, "s3cret", r.Header.Get("X-Gigescrow-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"job.created"}, Secret: "s3cret"}}
	})
	srv.openJob(t, 10)

	d := newWebhookDispatcher(srv.engine, nil)
	ctx := context.Background()
	d.dispatchAll(ctx)
	mu.Lock()
	assert.Empty(t, received, "events before the first poll are skipped")
	mu.Unlock()

	srv.openJob(t, 20)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "job.created", received[0].Type)
	assert.NotEmpty(t, received[0].JobID)
}
