package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine"
	"gigescrow/internal/engine/auth"
	"gigescrow/internal/logging"
	"gigescrow/internal/metrics"
	"gigescrow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"budget_exceeded"`
	Message string         `json:"message" example:"milestones would exceed the job budget"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// jsonBody is a handler output carrying only a JSON body.
type jsonBody[T any] struct {
	Body T
}

func reply[T any](v T) *jsonBody[T] {
	return &jsonBody[T]{Body: v}
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

// New returns an HTTP handler exposing the escrow API under BasePath and
// Prometheus metrics at /metrics.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are reported as bad requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("gigescrow API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, e)
	registerJobs(group, e)
	registerProposals(group, e)
	registerMilestones(group, e)
	registerPayments(group, e)
	registerReviews(group, e)
	registerAccounts(group, e)
	registerEvents(group, e)
	registerAudit(group, e)
	registerAPIKeys(group, e)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto HTTP statuses by kind. The code is the
// stable name of the sentinel in the chain.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action, "required_role": fe.Role})
	}
	code := domain.Code(err)
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return newAPIError(http.StatusBadRequest, code, err.Error(), nil)
	case domain.KindAuthorization:
		return newAPIError(http.StatusForbidden, code, err.Error(), nil)
	case domain.KindState:
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	errSchema := api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas, errSchema)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI, errSchema *huma.Schema) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>gigescrow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(WhoAmIResponse{
			ActorID: p.ActorID,
			Source:  p.Source,
			Owner:   p.ActorID == e.Config.Deployment.Owner,
		}), nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Post a job",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest
	}) (*jsonBody[domain.Job], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.CreateJob(ctx, engine.CreateJobOptions{
			Client:      actorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Budget:      input.Body.Budget,
			Deadline:    input.Body.Deadline,
			Skills:      input.Body.RequiredSkills,
			Attachments: input.Body.AttachmentHashes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ClientID     string `query:"client_id"`
		FreelancerID string `query:"freelancer_id"`
		Status       string `query:"status" enum:"open,in_progress,completed,cancelled"`
		Limit        int    `query:"limit" default:"50"`
	}) (*jsonBody[[]domain.Job], error) {
		jobs, err := e.ListJobs(ctx, jobFilters(input.ClientID, input.FreelancerID, input.Status, normalizeLimit(input.Limit)))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(jobs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[domain.Job], error) {
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a job and refund funded milestones",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[domain.Job], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.CancelJob(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-escrow",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/escrow",
		Summary:     "Amount held in escrow for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[EscrowBalanceResponse], error) {
		held, err := e.VaultBalance(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(EscrowBalanceResponse{JobID: input.JobID, Held: held}), nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-proposal",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/proposals",
		Summary:       "Bid on an open job",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
		Body  SubmitProposalRequest
	}) (*jsonBody[domain.Proposal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProposal(ctx, engine.SubmitProposalOptions{
			JobID:         input.JobID,
			Freelancer:    actorID,
			Price:         input.Body.Price,
			EstimatedTime: input.Body.EstimatedTime,
			CoverLetter:   input.Body.CoverLetter,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/proposals",
		Summary:     "List proposals in submission order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID  string `path:"job_id"`
		Status string `query:"status" enum:"pending,accepted,rejected"`
	}) (*jsonBody[[]domain.Proposal], error) {
		items, err := e.ListProposals(ctx, input.JobID, domain.ProposalStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-proposal",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/proposals/{proposal_id}/accept",
		Summary:     "Accept a proposal and bind its freelancer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id"`
		ProposalID string `path:"proposal_id"`
	}) (*jsonBody[domain.Job], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.AcceptProposal(ctx, input.JobID, actorID, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-proposal",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/proposals/{proposal_id}/withdraw",
		Summary:     "Withdraw a pending proposal",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id"`
		ProposalID string `path:"proposal_id"`
	}) (*jsonBody[domain.Proposal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.WithdrawProposal(ctx, input.JobID, input.ProposalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

type milestonePath struct {
	JobID       string `path:"job_id"`
	MilestoneID string `path:"milestone_id"`
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/milestones",
		Summary:       "Add a milestone within the job budget",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
		Body  CreateMilestoneRequest
	}) (*jsonBody[domain.Milestone], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMilestone(ctx, engine.CreateMilestoneOptions{
			JobID:       input.JobID,
			Caller:      actorID,
			Description: input.Body.Description,
			Amount:      input.Body.Amount,
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/milestones",
		Summary:     "List milestones",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[[]domain.Milestone], error) {
		items, err := e.ListMilestones(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-milestone",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/fund",
		Summary:     "Deposit the milestone amount into escrow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID       string `path:"job_id"`
		MilestoneID string `path:"milestone_id"`
		Body        *FundMilestoneRequest
	}) (*jsonBody[domain.EscrowPayment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var funds uint64
		if input.Body != nil {
			funds = input.Body.Funds
		}
		p, err := e.FundMilestoneWith(ctx, input.JobID, input.MilestoneID, actorID, funds)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-milestone",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/release",
		Summary:     "Release escrow to the freelancer minus the protocol fee",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *milestonePath) (*jsonBody[domain.Settlement], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReleaseMilestone(ctx, input.JobID, input.MilestoneID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-milestone",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/cancel",
		Summary:     "Cancel a milestone, refunding it when funded",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *milestonePath) (*jsonBody[domain.Milestone], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CancelMilestone(ctx, input.JobID, input.MilestoneID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/payments",
		Summary:     "List escrow payments for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[[]domain.EscrowPayment], error) {
		items, err := e.ListPayments(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{payment_id}",
		Summary:     "Get escrow payment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*jsonBody[domain.EscrowPayment], error) {
		p, err := e.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-review",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/reviews",
		Summary:       "Rate the other party of a completed job",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
		Body  SubmitReviewRequest
	}) (*jsonBody[domain.Review], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.SubmitReview(ctx, engine.SubmitReviewOptions{
			JobID:   input.JobID,
			Caller:  actorID,
			Rating:  input.Body.Rating,
			Comment: input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/reviews",
		Summary:     "List reviews for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*jsonBody[[]domain.Review], error) {
		items, err := e.ListReviews(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reputation",
		Method:      http.MethodGet,
		Path:        "/reputation/{party_id}",
		Summary:     "Aggregate rating for a party",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PartyID string `path:"party_id"`
	}) (*jsonBody[domain.Reputation], error) {
		rep, err := e.GetReputation(ctx, input.PartyID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rep), nil
	})
}

func registerAccounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{party_id}",
		Summary:     "Account balance",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PartyID string `path:"party_id"`
	}) (*jsonBody[domain.Account], error) {
		acct, err := e.Balance(ctx, input.PartyID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(acct), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-account",
		Method:      http.MethodPost,
		Path:        "/accounts/{party_id}/fund",
		Summary:     "Credit an account (deployment owner only)",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PartyID string `path:"party_id"`
		Body    FundAccountRequest
	}) (*jsonBody[domain.Account], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		acct, err := e.FundAccount(ctx, input.PartyID, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(acct), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-ledger",
		Method:      http.MethodGet,
		Path:        "/accounts/{party_id}/ledger",
		Summary:     "Ledger entries for an account in posting order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PartyID string `path:"party_id"`
		JobID   string `query:"job_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*jsonBody[[]domain.LedgerEntry], error) {
		items, err := e.LedgerEntries(ctx, ledgerFilters(input.PartyID, input.JobID, normalizeLimit(input.Limit)))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		JobID      string `query:"job_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"job,proposal,milestone,review,account"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*jsonBody[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListEvents(ctx, eventFilters(input.JobID, input.Type, input.EntityKind, input.EntityID, before, limit+1))
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Cross-check custody, ledger and lifecycle invariants (deployment owner only)",
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*jsonBody[AuditResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireOwner(e.Config.Deployment.Owner, actorID, "audit"); err != nil {
			return nil, handleError(err)
		}
		violations, err := e.Audit(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(AuditResponse{OK: len(violations) == 0, Violations: nonNilSlice(violations)}), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func jobFilters(clientID, freelancerID, status string, limit int) repo.JobFilters {
	return repo.JobFilters{ClientID: clientID, FreelancerID: freelancerID, Status: status, Limit: limit}
}

func ledgerFilters(partyID, jobID string, limit int) repo.LedgerFilters {
	return repo.LedgerFilters{PartyID: partyID, JobID: jobID, Limit: limit}
}

func eventFilters(jobID, evtType, entityKind, entityID string, before int64, limit int) repo.EventFilters {
	return repo.EventFilters{
		JobID:      jobID,
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		Before:     before,
		Limit:      limit,
	}
}
